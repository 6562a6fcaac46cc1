package catalog

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrProductNotFound   = errors.New("product not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidQuantity   = errors.New("quantity must be positive")
)

// Product is the catalog record the fulfillment engine reserves stock
// against. Price is in minor currency units.
type Product struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Price          int64     `json:"price"`
	Stock          int       `json:"stock"`
	WarrantyMonths int       `json:"warranty_months"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// CartLine is one (user, product) entry in a cart
type CartLine struct {
	UserID    string    `json:"user_id"`
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
}

// StockError reports a failed stock check. It identifies the product and
// the quantity actually available so callers can surface a useful message.
type StockError struct {
	ProductID string
	Name      string
	Available int
	Requested int
}

func (e *StockError) Error() string {
	name := e.Name
	if name == "" {
		name = e.ProductID
	}
	return fmt.Sprintf("insufficient stock for %s: %d available, %d requested", name, e.Available, e.Requested)
}

// Is makes StockError match ErrInsufficientStock in errors.Is checks
func (e *StockError) Is(target error) bool {
	return target == ErrInsufficientStock
}
