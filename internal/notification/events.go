package notification

import (
	"encoding/json"
	"time"
)

// Event types carried on the notifications topic
const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventPaymentConfirmed   = "PaymentConfirmed"
	EventPaymentFailed      = "PaymentFailed"
	EventWarrantyIssued     = "WarrantyIssued"
	EventClaimCreated       = "ClaimCreated"
	EventClaimUpdated       = "ClaimUpdated"
	EventLowStock           = "LowStock"
	EventWarrantyExpiring   = "WarrantyExpiring"
)

// Event is the envelope published to the notifications topic
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	OccurredAt time.Time       `json:"occurred_at"`
	Data       json.RawMessage `json:"data"`
}

type OrderLine struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	Price     int64  `json:"price"`
}

type OrderPlaced struct {
	OrderID   string      `json:"order_id"`
	UserID    string      `json:"user_id"`
	UserEmail string      `json:"user_email"`
	Total     int64       `json:"total"`
	Items     []OrderLine `json:"items"`
	PlacedAt  time.Time   `json:"placed_at"`
}

type OrderStatusChanged struct {
	OrderID       string `json:"order_id"`
	UserID        string `json:"user_id"`
	UserEmail     string `json:"user_email"`
	OldStatus     string `json:"old_status"`
	NewStatus     string `json:"new_status"`
	PaymentStatus string `json:"payment_status"`
}

type PaymentConfirmed struct {
	OrderID   string `json:"order_id"`
	UserID    string `json:"user_id"`
	UserEmail string `json:"user_email"`
	Reference string `json:"reference"`
	Total     int64  `json:"total"`
}

type PaymentFailed struct {
	OrderID   string `json:"order_id"`
	UserID    string `json:"user_id"`
	UserEmail string `json:"user_email"`
	Reference string `json:"reference"`
}

type WarrantyIssued struct {
	WarrantyID string    `json:"warranty_id"`
	OrderID    string    `json:"order_id,omitempty"`
	UserID     string    `json:"user_id"`
	UserEmail  string    `json:"user_email"`
	ProductID  string    `json:"product_id"`
	Serial     string    `json:"serial"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type ClaimCreated struct {
	ClaimID     string `json:"claim_id"`
	WarrantyID  string `json:"warranty_id"`
	UserID      string `json:"user_id"`
	UserEmail   string `json:"user_email"`
	Description string `json:"description"`
}

type ClaimUpdated struct {
	ClaimID   string `json:"claim_id"`
	UserID    string `json:"user_id"`
	UserEmail string `json:"user_email"`
	Status    string `json:"status"`
	Notes     string `json:"notes,omitempty"`
}

type LowStock struct {
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Stock     int    `json:"stock"`
	Threshold int    `json:"threshold"`
}

type WarrantyExpiring struct {
	WarrantyID string    `json:"warranty_id"`
	UserID     string    `json:"user_id"`
	UserEmail  string    `json:"user_email"`
	Serial     string    `json:"serial"`
	ExpiresAt  time.Time `json:"expires_at"`
}
