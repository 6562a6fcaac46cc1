package notification

import (
	"context"
	"encoding/json"
	"log"

	"github.com/example/ec-fulfillment/internal/email"
)

// Handler consumes notification events and sends the matching emails.
// It runs in the notifier binary; failures are logged and never retried
// here, because the producing operation has already committed.
type Handler struct {
	emailService *email.Service
	adminEmail   string
}

// NewHandler creates a new notification handler. adminEmail receives
// operational alerts (new claims, low stock).
func NewHandler(emailSvc *email.Service, adminEmail string) *Handler {
	return &Handler{
		emailService: emailSvc,
		adminEmail:   adminEmail,
	}
}

// HandleEvent processes an event from the notifications topic
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var event Event
	if err := json.Unmarshal(value, &event); err != nil {
		log.Printf("[Notifier] Failed to unmarshal event: %v", err)
		return err
	}

	switch event.Type {
	case EventOrderPlaced:
		return h.handleOrderPlaced(event)
	case EventOrderStatusChanged:
		return h.handleOrderStatusChanged(event)
	case EventWarrantyIssued:
		return h.handleWarrantyIssued(event)
	case EventClaimCreated:
		return h.handleClaimCreated(event)
	case EventClaimUpdated:
		return h.handleClaimUpdated(event)
	case EventWarrantyExpiring:
		return h.handleWarrantyExpiring(event)
	case EventLowStock:
		return h.handleLowStock(event)
	}
	return nil
}

func (h *Handler) handleOrderPlaced(event Event) error {
	var e OrderPlaced
	if err := json.Unmarshal(event.Data, &e); err != nil {
		return err
	}
	if e.UserEmail == "" {
		log.Printf("[Notifier] No email for order %s, skipping confirmation", e.OrderID)
		return nil
	}

	items := make([]email.OrderItem, len(e.Items))
	for i, item := range e.Items {
		items[i] = email.OrderItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Price:     item.Price,
		}
	}

	if err := h.emailService.SendOrderConfirmation(e.UserEmail, e.OrderID, e.Total, items); err != nil {
		log.Printf("[Notifier] Failed to send order confirmation to %s: %v", e.UserEmail, err)
		return err
	}
	log.Printf("[Notifier] Order confirmation sent to %s for order %s", e.UserEmail, e.OrderID)
	return nil
}

func (h *Handler) handleOrderStatusChanged(event Event) error {
	var e OrderStatusChanged
	if err := json.Unmarshal(event.Data, &e); err != nil {
		return err
	}
	if e.UserEmail == "" {
		return nil
	}
	if err := h.emailService.SendOrderStatusUpdate(e.UserEmail, e.OrderID, e.NewStatus); err != nil {
		log.Printf("[Notifier] Failed to send status update for order %s: %v", e.OrderID, err)
		return err
	}
	return nil
}

func (h *Handler) handleWarrantyIssued(event Event) error {
	var e WarrantyIssued
	if err := json.Unmarshal(event.Data, &e); err != nil {
		return err
	}
	if e.UserEmail == "" {
		return nil
	}
	if err := h.emailService.SendWarrantyIssued(e.UserEmail, e.Serial, e.ExpiresAt); err != nil {
		log.Printf("[Notifier] Failed to send warranty notice %s: %v", e.WarrantyID, err)
		return err
	}
	return nil
}

func (h *Handler) handleClaimCreated(event Event) error {
	var e ClaimCreated
	if err := json.Unmarshal(event.Data, &e); err != nil {
		return err
	}
	// Admin alert: a new claim needs review
	if h.adminEmail == "" {
		return nil
	}
	if err := h.emailService.SendClaimUpdate(h.adminEmail, e.ClaimID, "pending", e.Description); err != nil {
		log.Printf("[Notifier] Failed to alert admin about claim %s: %v", e.ClaimID, err)
		return err
	}
	return nil
}

func (h *Handler) handleClaimUpdated(event Event) error {
	var e ClaimUpdated
	if err := json.Unmarshal(event.Data, &e); err != nil {
		return err
	}
	if e.UserEmail == "" {
		return nil
	}
	if err := h.emailService.SendClaimUpdate(e.UserEmail, e.ClaimID, e.Status, e.Notes); err != nil {
		log.Printf("[Notifier] Failed to send claim update %s: %v", e.ClaimID, err)
		return err
	}
	return nil
}

func (h *Handler) handleWarrantyExpiring(event Event) error {
	var e WarrantyExpiring
	if err := json.Unmarshal(event.Data, &e); err != nil {
		return err
	}
	if e.UserEmail == "" {
		return nil
	}
	if err := h.emailService.SendExpiryReminder(e.UserEmail, e.Serial, e.ExpiresAt); err != nil {
		log.Printf("[Notifier] Failed to send expiry reminder %s: %v", e.WarrantyID, err)
		return err
	}
	return nil
}

func (h *Handler) handleLowStock(event Event) error {
	var e LowStock
	if err := json.Unmarshal(event.Data, &e); err != nil {
		return err
	}
	log.Printf("[Notifier] Low stock alert: %s (%s) down to %d units", e.Name, e.ProductID, e.Stock)
	return nil
}
