package store

import (
	"context"
	"time"

	"github.com/example/ec-fulfillment/internal/domain/catalog"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/domain/warranty"
)

// Store runs use cases inside atomic transactions. Implementations must
// guarantee that two concurrent transactions touching the same product rows
// cannot both pass a stock check and jointly oversell (serializable
// isolation or row locks).
type Store interface {
	// WithinTx runs fn in a single transaction. If fn returns an error the
	// transaction is rolled back and nothing fn did is visible. Transient
	// serialization conflicts are retried a bounded number of times.
	WithinTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the set of row operations available inside a transaction
type Tx interface {
	// Catalog
	Product(id string) (*catalog.Product, error)
	// ProductForUpdate loads a product and locks its row for the remainder
	// of the transaction.
	ProductForUpdate(id string) (*catalog.Product, error)
	AdjustStock(productID string, delta int) error
	SetProductActive(productID string, active bool) error
	ActiveProducts() ([]*catalog.Product, error)
	LowStockProducts(threshold int) ([]*catalog.Product, error)

	// Cart
	CartLines(userID string) ([]catalog.CartLine, error)
	UpsertCartLine(line catalog.CartLine) error
	RemoveCartLine(userID, productID string) error
	ClearCart(userID string) error

	// Orders
	InsertOrder(o *order.Order) error
	Order(id string) (*order.Order, error)
	UpdateOrderStatus(id string, status order.Status, payment order.PaymentStatus, paymentRef string, at time.Time) error
	OrdersInStatusBefore(status order.Status, cutoff time.Time) ([]*order.Order, error)

	// Warranties
	// InsertWarranty reports false when an auto warranty already exists for
	// the same (order, product, unit) triple; the insert is then a no-op.
	InsertWarranty(w *warranty.Warranty) (bool, error)
	Warranty(id string) (*warranty.Warranty, error)
	SerialExists(serial string) (bool, error)
	WarrantiesExpiringBefore(cutoff time.Time) ([]*warranty.Warranty, error)
	MarkWarrantyReminded(id string) error

	// Claims
	InsertClaim(c *warranty.Claim) error
	Claim(id string) (*warranty.Claim, error)
	UpdateClaim(c *warranty.Claim) error
}
