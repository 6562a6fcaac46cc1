// Package payment adapts gateway results from the payment-events topic to
// engine calls. Delivery is at-least-once, so every path here tolerates
// replays.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/example/ec-fulfillment/internal/domain/order"
)

// Gateway result statuses
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// GatewayEvent is the payload the payment gateway publishes per attempt
type GatewayEvent struct {
	OrderID   string `json:"order_id"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// Confirmer is the slice of the engine the adapter needs
type Confirmer interface {
	ConfirmPayment(ctx context.Context, orderID, paymentRef string) (*order.Order, error)
	MarkPaymentFailed(ctx context.Context, orderID, paymentRef string) error
}

type Handler struct {
	engine Confirmer
}

func NewHandler(engine Confirmer) *Handler {
	return &Handler{engine: engine}
}

// HandleEvent processes one message from the payment-events topic
func (h *Handler) HandleEvent(ctx context.Context, key, value []byte) error {
	var event GatewayEvent
	if err := json.Unmarshal(value, &event); err != nil {
		log.Printf("[Payment] Dropping malformed event %s: %v", string(key), err)
		return nil
	}
	if event.OrderID == "" {
		log.Printf("[Payment] Dropping event without order ID (ref %s)", event.Reference)
		return nil
	}

	switch event.Status {
	case StatusSucceeded:
		_, err := h.engine.ConfirmPayment(ctx, event.OrderID, event.Reference)
		switch {
		case errors.Is(err, order.ErrAlreadyProcessed):
			// redelivery of a settled payment
			log.Printf("[Payment] Order %s already settled, ignoring %s", event.OrderID, event.Reference)
			return nil
		case errors.Is(err, order.ErrOrderNotFound):
			log.Printf("[Payment] Dropping result for unknown order %s", event.OrderID)
			return nil
		case err != nil:
			return err
		}
		log.Printf("[Payment] Confirmed payment %s for order %s", event.Reference, event.OrderID)
		return nil

	case StatusFailed:
		err := h.engine.MarkPaymentFailed(ctx, event.OrderID, event.Reference)
		switch {
		case errors.Is(err, order.ErrAlreadyProcessed):
			return nil
		case errors.Is(err, order.ErrOrderNotFound):
			log.Printf("[Payment] Dropping failure for unknown order %s", event.OrderID)
			return nil
		case err != nil:
			return err
		}
		log.Printf("[Payment] Recorded failed payment %s for order %s", event.Reference, event.OrderID)
		return nil

	default:
		log.Printf("[Payment] Dropping event with unknown status %q for order %s", event.Status, event.OrderID)
		return nil
	}
}
