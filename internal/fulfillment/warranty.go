package fulfillment

import (
	"context"
	"time"

	"github.com/example/ec-fulfillment/internal/audit"
	"github.com/example/ec-fulfillment/internal/domain/catalog"
	"github.com/example/ec-fulfillment/internal/domain/warranty"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/notification"
)

// RegisterWarranty registers manual coverage for a product bought
// elsewhere. The serial number is taken as-is when supplied (and must be
// unique), or generated when empty.
func (e *Engine) RegisterWarranty(ctx context.Context, actor Actor, productID string, purchaseDate time.Time, serial string) (*warranty.Warranty, error) {
	var w *warranty.Warranty
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		p, err := tx.Product(productID)
		if err != nil {
			return err
		}
		if !p.IsActive {
			return catalog.ErrProductNotFound
		}

		if serial != "" {
			taken, err := tx.SerialExists(serial)
			if err != nil {
				return err
			}
			if taken {
				return warranty.ErrDuplicateSerial
			}
		} else {
			serial = e.newSerial()
		}

		w = &warranty.Warranty{
			ID:               e.newID(),
			UserID:           actor.UserID,
			UserEmail:        actor.Email,
			ProductID:        productID,
			PurchaseDate:     purchaseDate,
			ExpiryDate:       warranty.ExpiryDate(purchaseDate, p.WarrantyMonths),
			SerialNumber:     serial,
			RegistrationType: warranty.RegistrationManual,
			CreatedAt:        e.now(),
		}
		_, err = tx.InsertWarranty(w)
		return err
	})
	if err != nil {
		return nil, err
	}

	e.notify(ctx, w.ID, notification.EventWarrantyIssued, notification.WarrantyIssued{
		WarrantyID: w.ID,
		UserID:     w.UserID,
		UserEmail:  w.UserEmail,
		ProductID:  w.ProductID,
		Serial:     w.SerialNumber,
		ExpiresAt:  w.ExpiryDate,
	})
	return w, nil
}

// GetWarranty loads a warranty for its owner. Admins see any warranty.
func (e *Engine) GetWarranty(ctx context.Context, warrantyID, userID string, admin bool) (*warranty.Warranty, error) {
	var w *warranty.Warranty
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		w, err = tx.Warranty(warrantyID)
		if err != nil {
			return err
		}
		if !admin && w.UserID != userID {
			return warranty.ErrWarrantyNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// CreateClaim files a claim against unexpired coverage owned by the actor
func (e *Engine) CreateClaim(ctx context.Context, actor Actor, warrantyID, description string) (*warranty.Claim, error) {
	if err := warranty.ValidateIssueDescription(description); err != nil {
		return nil, err
	}

	var c *warranty.Claim
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		w, err := tx.Warranty(warrantyID)
		if err != nil {
			return err
		}
		// Uniform not-found: do not reveal other users' warranties
		if w.UserID != actor.UserID {
			return warranty.ErrWarrantyNotFound
		}
		if w.Expired(e.now()) {
			return warranty.ErrWarrantyExpired
		}

		now := e.now()
		c = &warranty.Claim{
			ID:               e.newID(),
			WarrantyID:       w.ID,
			UserID:           actor.UserID,
			IssueDescription: description,
			Status:           warranty.ClaimPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		return tx.InsertClaim(c)
	})
	if err != nil {
		return nil, err
	}

	e.notify(ctx, c.ID, notification.EventClaimCreated, notification.ClaimCreated{
		ClaimID:     c.ID,
		WarrantyID:  c.WarrantyID,
		UserID:      c.UserID,
		UserEmail:   actor.Email,
		Description: c.IssueDescription,
	})
	e.recordAudit(ctx, audit.Entry{
		EntityType: "claim",
		EntityID:   c.ID,
		Action:     "created",
		ActorID:    actor.UserID,
		At:         e.now(),
	})
	return c, nil
}

// UpdateClaimStatus sets a claim's status (privileged). Any movement among
// the known statuses is allowed; review outcomes get revisited in practice.
func (e *Engine) UpdateClaimStatus(ctx context.Context, claimID string, status warranty.ClaimStatus, notes, actorID string) (*warranty.Claim, error) {
	if !warranty.ValidClaimStatus(status) {
		return nil, warranty.ErrInvalidClaimStatus
	}

	var c *warranty.Claim
	var ownerEmail string
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		c, err = tx.Claim(claimID)
		if err != nil {
			return err
		}
		c.Status = status
		if notes != "" {
			c.AdminNotes = notes
		}
		c.UpdatedAt = e.now()
		if err := tx.UpdateClaim(c); err != nil {
			return err
		}

		w, err := tx.Warranty(c.WarrantyID)
		if err != nil {
			return err
		}
		ownerEmail = w.UserEmail
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.notify(ctx, c.ID, notification.EventClaimUpdated, notification.ClaimUpdated{
		ClaimID:   c.ID,
		UserID:    c.UserID,
		UserEmail: ownerEmail,
		Status:    string(c.Status),
		Notes:     c.AdminNotes,
	})
	e.recordAudit(ctx, audit.Entry{
		EntityType: "claim",
		EntityID:   c.ID,
		Action:     "status_updated",
		Detail:     string(c.Status),
		ActorID:    actorID,
		At:         e.now(),
	})
	return c, nil
}
