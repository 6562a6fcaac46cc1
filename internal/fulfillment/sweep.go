package fulfillment

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/domain/warranty"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/notification"
)

// NextProgression reports the status a dwelling order should advance to,
// based on how long it has sat in its current status.
func NextProgression(o *order.Order, now time.Time, shipAfter, deliverAfter time.Duration) (order.Status, bool) {
	switch o.Status {
	case order.StatusConfirmed:
		if now.Sub(o.UpdatedAt) >= shipAfter {
			return order.StatusShipped, true
		}
	case order.StatusShipped:
		if now.Sub(o.UpdatedAt) >= deliverAfter {
			return order.StatusDelivered, true
		}
	}
	return "", false
}

// AdvanceStaleOrders moves confirmed orders to shipped, and shipped orders
// to delivered, once they have dwelled past the configured durations. Each
// order advances in its own transaction through the regular status update
// path, so delivery still issues warranties and transitions revalidate
// against concurrent changes.
func (e *Engine) AdvanceStaleOrders(ctx context.Context) (int, error) {
	now := e.now()

	type progression struct {
		orderID string
		target  order.Status
	}
	var due []progression
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		due = due[:0]
		confirmed, err := tx.OrdersInStatusBefore(order.StatusConfirmed, now.Add(-e.cfg.ShipAfter))
		if err != nil {
			return err
		}
		for _, o := range confirmed {
			due = append(due, progression{orderID: o.ID, target: order.StatusShipped})
		}
		shipped, err := tx.OrdersInStatusBefore(order.StatusShipped, now.Add(-e.cfg.DeliverAfter))
		if err != nil {
			return err
		}
		for _, o := range shipped {
			due = append(due, progression{orderID: o.ID, target: order.StatusDelivered})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	advanced := 0
	for _, p := range due {
		target := p.target
		if _, err := e.UpdateOrderStatus(ctx, p.orderID, &target, nil, "sweeper"); err != nil {
			// The order may have moved on (cancelled, already advanced)
			// between the scan and this transaction. Skip, don't abort.
			if errors.Is(err, order.ErrInvalidStatus) || errors.Is(err, order.ErrOrderCancelled) ||
				errors.Is(err, order.ErrOrderDelivered) || errors.Is(err, order.ErrOrderNotFound) {
				log.Printf("[Sweeper] Skipping order %s: %v", p.orderID, err)
				continue
			}
			return advanced, err
		}
		advanced++
	}
	return advanced, nil
}

// ScanLowStock publishes a restock alert for every active product at or
// below the configured threshold.
func (e *Engine) ScanLowStock(ctx context.Context) (int, error) {
	var low []notification.LowStock
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		low = low[:0]
		products, err := tx.LowStockProducts(e.cfg.LowStockThreshold)
		if err != nil {
			return err
		}
		for _, p := range products {
			low = append(low, notification.LowStock{
				ProductID: p.ID,
				Name:      p.Name,
				Stock:     p.Stock,
				Threshold: e.cfg.LowStockThreshold,
			})
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, alert := range low {
		e.notify(ctx, alert.ProductID, notification.EventLowStock, alert)
	}
	return len(low), nil
}

// ReconcileActiveFlags deactivates active products whose stock has reached
// zero. Reactivation on restock is an explicit admin action, not automatic.
func (e *Engine) ReconcileActiveFlags(ctx context.Context) (int, error) {
	deactivated := 0
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		deactivated = 0
		products, err := tx.LowStockProducts(0)
		if err != nil {
			return err
		}
		for _, p := range products {
			if p.Stock > 0 {
				continue
			}
			if err := tx.SetProductActive(p.ID, false); err != nil {
				return err
			}
			deactivated++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if deactivated > 0 {
		log.Printf("[Sweeper] Deactivated %d out-of-stock products", deactivated)
	}
	return deactivated, nil
}

// SendExpiryReminders notifies owners of warranties expiring within the
// reminder window. Each warranty is reminded at most once; the flag is set
// in the same transaction as the scan.
func (e *Engine) SendExpiryReminders(ctx context.Context) (int, error) {
	now := e.now()

	var expiring []*warranty.Warranty
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		expiring = expiring[:0]
		ws, err := tx.WarrantiesExpiringBefore(now.Add(e.cfg.RemindBefore))
		if err != nil {
			return err
		}
		for _, w := range ws {
			// Already-lapsed coverage gets no reminder
			if w.Expired(now) {
				continue
			}
			if err := tx.MarkWarrantyReminded(w.ID); err != nil {
				return err
			}
			expiring = append(expiring, w)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, w := range expiring {
		e.notify(ctx, w.ID, notification.EventWarrantyExpiring, notification.WarrantyExpiring{
			WarrantyID: w.ID,
			UserID:     w.UserID,
			UserEmail:  w.UserEmail,
			Serial:     w.SerialNumber,
			ExpiresAt:  w.ExpiryDate,
		})
	}
	return len(expiring), nil
}
