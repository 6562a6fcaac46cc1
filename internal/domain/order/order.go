package order

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrEmptyCart        = errors.New("cart is empty")
	ErrInvalidAddress   = errors.New("invalid shipping address")
	ErrInvalidStatus    = errors.New("invalid order status transition")
	ErrNotCancellable   = errors.New("order can no longer be cancelled")
	ErrAlreadyProcessed = errors.New("payment already processed")
	ErrOrderDelivered   = errors.New("order has already been delivered")
	ErrOrderCancelled   = errors.New("order is already cancelled")
)

// validTransitions defines allowed order status transitions
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusShipped, StatusCancelled},
	StatusShipped:   {StatusDelivered, StatusCancelled},
	StatusDelivered: {}, // terminal state
	StatusCancelled: {}, // terminal state
}

// validPaymentTransitions defines allowed payment status transitions
var validPaymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentPending:  {PaymentPaid, PaymentFailed},
	PaymentFailed:   {PaymentPaid},
	PaymentPaid:     {PaymentRefunded},
	PaymentRefunded: {}, // terminal state
}

// ValidStatus reports whether s is a known order status
func ValidStatus(s Status) bool {
	_, ok := validTransitions[s]
	return ok
}

// ValidPaymentStatus reports whether s is a known payment status
func ValidPaymentStatus(s PaymentStatus) bool {
	_, ok := validPaymentTransitions[s]
	return ok
}

// ShippingAddress is the destination snapshot stored on the order
type ShippingAddress struct {
	Recipient  string `json:"recipient"`
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
}

// Validate checks that all required address fields are present
func (a ShippingAddress) Validate() error {
	var missing []string
	if strings.TrimSpace(a.Recipient) == "" {
		missing = append(missing, "recipient")
	}
	if strings.TrimSpace(a.Street) == "" {
		missing = append(missing, "street")
	}
	if strings.TrimSpace(a.City) == "" {
		missing = append(missing, "city")
	}
	if strings.TrimSpace(a.PostalCode) == "" {
		missing = append(missing, "postal_code")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidAddress, strings.Join(missing, ", "))
	}
	return nil
}

type Order struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	UserEmail        string          `json:"user_email"`
	Items            []OrderItem     `json:"items"`
	Subtotal         int64           `json:"subtotal"`
	ShippingFee      int64           `json:"shipping_fee"`
	Tax              int64           `json:"tax"`
	TotalPrice       int64           `json:"total_price"`
	Status           Status          `json:"order_status"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	Address          ShippingAddress `json:"shipping_address"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// OrderItem is one product line within an order. PriceAtPurchase is the
// historical price snapshot and never tracks later catalog changes.
type OrderItem struct {
	ID              string `json:"id"`
	OrderID         string `json:"order_id"`
	ProductID       string `json:"product_id"`
	ProductName     string `json:"product_name"`
	Quantity        int    `json:"quantity"`
	PriceAtPurchase int64  `json:"price_at_purchase"`
}

// CanTransitionTo checks if the order can transition to the target status
func (o *Order) CanTransitionTo(target Status) bool {
	allowed, exists := validTransitions[o.Status]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// CanTransitionPaymentTo checks if the payment can move to the target status
func (o *Order) CanTransitionPaymentTo(target PaymentStatus) bool {
	allowed, exists := validPaymentTransitions[o.PaymentStatus]
	if !exists {
		return false
	}
	for _, s := range allowed {
		if s == target {
			return true
		}
	}
	return false
}

// TransitionError returns an appropriate error for an invalid transition
func (o *Order) TransitionError(target Status) error {
	switch {
	case o.Status == StatusCancelled:
		return ErrOrderCancelled
	case o.Status == StatusDelivered:
		return ErrOrderDelivered
	default:
		return fmt.Errorf("%w: cannot transition from %s to %s", ErrInvalidStatus, o.Status, target)
	}
}

// Cancellable reports whether the order may still be cancelled by its owner.
// Delivered and cancelled orders are final; everything earlier can be
// cancelled and restocked.
func (o *Order) Cancellable() bool {
	return o.Status != StatusDelivered && o.Status != StatusCancelled
}
