// Package fulfillment implements the order fulfillment and warranty
// lifecycle engine: cart-to-order conversion with atomic stock
// reservation, payment confirmation, the order status machine, and
// warranty issuance and claims derived from confirmed orders.
package fulfillment

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/example/ec-fulfillment/internal/audit"
	"github.com/example/ec-fulfillment/internal/domain/catalog"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/domain/warranty"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/notification"
	"github.com/google/uuid"
)

// Actor identifies the authenticated user an operation runs on behalf of.
// Email is carried along for best-effort notifications only.
type Actor struct {
	UserID string
	Email  string
}

// ManualItem is one line of an admin-created order
type ManualItem struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// Engine drives every fulfillment use case. Each operation runs in a
// single store transaction; notifications and audit records are emitted
// only after commit and never fail the operation.
type Engine struct {
	store store.Store
	sink  notification.Sink
	audit audit.Log
	cfg   Config

	// injected for deterministic tests
	now   func() time.Time
	newID func() string
}

// NewEngine creates the engine. sink may be nil (no notifications) and
// auditLog may be nil (no audit trail).
func NewEngine(st store.Store, sink notification.Sink, auditLog audit.Log, cfg Config) *Engine {
	if auditLog == nil {
		auditLog = audit.Nop{}
	}
	return &Engine{
		store: st,
		sink:  sink,
		audit: auditLog,
		cfg:   cfg,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

func (e *Engine) notify(ctx context.Context, key, eventType string, payload any) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Publish(ctx, key, eventType, payload); err != nil {
		log.Printf("[Fulfillment] Failed to publish %s for %s: %v", eventType, key, err)
	}
}

func (e *Engine) recordAudit(ctx context.Context, entry audit.Entry) {
	if err := e.audit.Record(ctx, entry); err != nil {
		log.Printf("[Fulfillment] Failed to record audit entry for %s %s: %v", entry.EntityType, entry.EntityID, err)
	}
}

// newSerial generates a warranty serial number
func (e *Engine) newSerial() string {
	return "SN-" + strings.ToUpper(strings.ReplaceAll(e.newID(), "-", "")[:16])
}

// ============================================
// Cart
// ============================================

// AddToCart puts quantity units of a product into the user's cart,
// replacing any existing line for the same product.
func (e *Engine) AddToCart(ctx context.Context, actor Actor, productID string, quantity int) error {
	if quantity < 1 {
		return catalog.ErrInvalidQuantity
	}
	return e.store.WithinTx(ctx, func(tx store.Tx) error {
		p, err := tx.Product(productID)
		if err != nil {
			return err
		}
		if !p.IsActive {
			return catalog.ErrProductNotFound
		}
		return tx.UpsertCartLine(catalog.CartLine{
			UserID:    actor.UserID,
			ProductID: productID,
			Quantity:  quantity,
			AddedAt:   e.now(),
		})
	})
}

// RemoveFromCart deletes a product line from the user's cart
func (e *Engine) RemoveFromCart(ctx context.Context, actor Actor, productID string) error {
	return e.store.WithinTx(ctx, func(tx store.Tx) error {
		return tx.RemoveCartLine(actor.UserID, productID)
	})
}

// CartContents returns the user's current cart lines
func (e *Engine) CartContents(ctx context.Context, actor Actor) ([]catalog.CartLine, error) {
	var lines []catalog.CartLine
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		lines, err = tx.CartLines(actor.UserID)
		return err
	})
	return lines, err
}

// ============================================
// Order creation
// ============================================

// CreateOrder converts the user's cart into an order, snapshotting prices
// and decrementing stock, all in one transaction. The cart is cleared on
// success; on any failure nothing persists.
func (e *Engine) CreateOrder(ctx context.Context, actor Actor, addr order.ShippingAddress) (*order.Order, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}

	var o *order.Order
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		lines, err := tx.CartLines(actor.UserID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return order.ErrEmptyCart
		}

		o, err = e.placeOrder(tx, actor, addr, lines, false, "")
		if err != nil {
			return err
		}
		return tx.ClearCart(actor.UserID)
	})
	if err != nil {
		return nil, err
	}

	e.notify(ctx, o.ID, notification.EventOrderPlaced, e.orderPlacedEvent(o))
	return o, nil
}

// CreateManualOrder creates an order on behalf of a customer with payment
// already settled (e.g. a phone order). It reuses the same stock-guarded
// placement path as CreateOrder and issues warranties synchronously.
func (e *Engine) CreateManualOrder(ctx context.Context, customer Actor, items []ManualItem, addr order.ShippingAddress, paymentRef string) (*order.Order, error) {
	if err := addr.Validate(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, order.ErrEmptyCart
	}

	// Merge duplicate lines so the per-product stock check sees the full
	// requested quantity at once.
	merged := make(map[string]int, len(items))
	for _, item := range items {
		if item.Quantity < 1 {
			return nil, catalog.ErrInvalidQuantity
		}
		merged[item.ProductID] += item.Quantity
	}
	lines := make([]catalog.CartLine, 0, len(merged))
	for productID, qty := range merged {
		lines = append(lines, catalog.CartLine{
			UserID:    customer.UserID,
			ProductID: productID,
			Quantity:  qty,
		})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })

	var o *order.Order
	var issued []*warranty.Warranty
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		issued = nil
		o, err = e.placeOrder(tx, customer, addr, lines, true, paymentRef)
		if err != nil {
			return err
		}
		issued, err = e.issueAutoWarranties(tx, o, e.now())
		return err
	})
	if err != nil {
		return nil, err
	}

	e.notify(ctx, o.ID, notification.EventOrderPlaced, e.orderPlacedEvent(o))
	e.notifyWarranties(ctx, issued)
	return o, nil
}

// placeOrder builds and persists the order and its items, and reserves
// stock. Product rows are locked in line order (lines arrive sorted by
// product ID) so concurrent placements cannot deadlock.
func (e *Engine) placeOrder(tx store.Tx, actor Actor, addr order.ShippingAddress, lines []catalog.CartLine, settled bool, paymentRef string) (*order.Order, error) {
	now := e.now()
	orderID := e.newID()

	var subtotal int64
	items := make([]order.OrderItem, 0, len(lines))
	for _, line := range lines {
		if line.Quantity < 1 {
			return nil, catalog.ErrInvalidQuantity
		}
		p, err := tx.ProductForUpdate(line.ProductID)
		if err != nil {
			return nil, err
		}
		if p.Stock < line.Quantity {
			return nil, &catalog.StockError{
				ProductID: p.ID,
				Name:      p.Name,
				Available: p.Stock,
				Requested: line.Quantity,
			}
		}
		items = append(items, order.OrderItem{
			ID:              e.newID(),
			OrderID:         orderID,
			ProductID:       p.ID,
			ProductName:     p.Name,
			Quantity:        line.Quantity,
			PriceAtPurchase: p.Price,
		})
		subtotal += p.Price * int64(line.Quantity)
	}

	fee := e.cfg.shippingFee(subtotal)
	tax := e.cfg.taxOn(subtotal)

	o := &order.Order{
		ID:            orderID,
		UserID:        actor.UserID,
		UserEmail:     actor.Email,
		Items:         items,
		Subtotal:      subtotal,
		ShippingFee:   fee,
		Tax:           tax,
		TotalPrice:    subtotal + fee + tax,
		Status:        order.StatusPending,
		PaymentStatus: order.PaymentPending,
		Address:       addr,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if settled {
		o.Status = order.StatusConfirmed
		o.PaymentStatus = order.PaymentPaid
		o.PaymentReference = paymentRef
	}

	if err := tx.InsertOrder(o); err != nil {
		return nil, err
	}
	for _, line := range lines {
		if err := tx.AdjustStock(line.ProductID, -line.Quantity); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (e *Engine) orderPlacedEvent(o *order.Order) notification.OrderPlaced {
	items := make([]notification.OrderLine, len(o.Items))
	for i, item := range o.Items {
		items[i] = notification.OrderLine{
			ProductID: item.ProductID,
			Name:      item.ProductName,
			Quantity:  item.Quantity,
			Price:     item.PriceAtPurchase,
		}
	}
	return notification.OrderPlaced{
		OrderID:   o.ID,
		UserID:    o.UserID,
		UserEmail: o.UserEmail,
		Total:     o.TotalPrice,
		Items:     items,
		PlacedAt:  o.CreatedAt,
	}
}

// ============================================
// Payment confirmation
// ============================================

// ConfirmPayment marks the order paid and advances pending orders to
// confirmed. Warranty issuance is keyed on a per-unit uniqueness guard,
// so retried confirmations never create duplicate warranties.
func (e *Engine) ConfirmPayment(ctx context.Context, orderID, paymentRef string) (*order.Order, error) {
	var o *order.Order
	var issued []*warranty.Warranty
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		issued = nil
		o, err = tx.Order(orderID)
		if err != nil {
			return err
		}
		if !o.CanTransitionPaymentTo(order.PaymentPaid) {
			return order.ErrAlreadyProcessed
		}

		o.PaymentStatus = order.PaymentPaid
		o.PaymentReference = paymentRef
		if o.Status == order.StatusPending {
			o.Status = order.StatusConfirmed
		}
		if err := tx.UpdateOrderStatus(o.ID, o.Status, o.PaymentStatus, paymentRef, e.now()); err != nil {
			return err
		}

		// A cancelled order can still settle, but its units were never
		// fulfilled, so no coverage starts.
		if o.Status != order.StatusCancelled {
			issued, err = e.issueAutoWarranties(tx, o, e.now())
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	e.notify(ctx, o.ID, notification.EventPaymentConfirmed, notification.PaymentConfirmed{
		OrderID:   o.ID,
		UserID:    o.UserID,
		UserEmail: o.UserEmail,
		Reference: paymentRef,
		Total:     o.TotalPrice,
	})
	e.notifyWarranties(ctx, issued)
	e.recordAudit(ctx, audit.Entry{
		EntityType: "order",
		EntityID:   o.ID,
		Action:     "payment_confirmed",
		Detail:     paymentRef,
		At:         e.now(),
	})
	return o, nil
}

// MarkPaymentFailed records a failed gateway result for a pending payment
func (e *Engine) MarkPaymentFailed(ctx context.Context, orderID, paymentRef string) error {
	var o *order.Order
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		o, err = tx.Order(orderID)
		if err != nil {
			return err
		}
		if !o.CanTransitionPaymentTo(order.PaymentFailed) {
			return order.ErrAlreadyProcessed
		}
		o.PaymentStatus = order.PaymentFailed
		return tx.UpdateOrderStatus(o.ID, o.Status, o.PaymentStatus, paymentRef, e.now())
	})
	if err != nil {
		return err
	}

	e.notify(ctx, o.ID, notification.EventPaymentFailed, notification.PaymentFailed{
		OrderID:   o.ID,
		UserID:    o.UserID,
		UserEmail: o.UserEmail,
		Reference: paymentRef,
	})
	return nil
}

// ============================================
// Status transitions
// ============================================

// UpdateOrderStatus applies one or both status fields (privileged). A
// transition to delivered issues any warranties not yet issued for the
// order; a transition to cancelled restores stock.
func (e *Engine) UpdateOrderStatus(ctx context.Context, orderID string, newStatus *order.Status, newPayment *order.PaymentStatus, actorID string) (*order.Order, error) {
	if newStatus != nil && !order.ValidStatus(*newStatus) {
		return nil, fmt.Errorf("%w: unknown status %q", order.ErrInvalidStatus, *newStatus)
	}
	if newPayment != nil && !order.ValidPaymentStatus(*newPayment) {
		return nil, fmt.Errorf("%w: unknown payment status %q", order.ErrInvalidStatus, *newPayment)
	}

	var o *order.Order
	var oldStatus order.Status
	var issued []*warranty.Warranty
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		issued = nil
		o, err = tx.Order(orderID)
		if err != nil {
			return err
		}
		oldStatus = o.Status

		if newStatus != nil && *newStatus != o.Status {
			if !o.CanTransitionTo(*newStatus) {
				return o.TransitionError(*newStatus)
			}
			o.Status = *newStatus
		}
		if newPayment != nil && *newPayment != o.PaymentStatus {
			if !o.CanTransitionPaymentTo(*newPayment) {
				return fmt.Errorf("%w: cannot move payment from %s to %s", order.ErrInvalidStatus, o.PaymentStatus, *newPayment)
			}
			o.PaymentStatus = *newPayment
		}

		if err := tx.UpdateOrderStatus(o.ID, o.Status, o.PaymentStatus, "", e.now()); err != nil {
			return err
		}

		if o.Status == order.StatusDelivered && oldStatus != order.StatusDelivered {
			if issued, err = e.issueAutoWarranties(tx, o, e.now()); err != nil {
				return err
			}
		}
		if o.Status == order.StatusCancelled && oldStatus != order.StatusCancelled {
			if err := e.restock(tx, o); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if o.Status != oldStatus {
		e.notify(ctx, o.ID, notification.EventOrderStatusChanged, notification.OrderStatusChanged{
			OrderID:       o.ID,
			UserID:        o.UserID,
			UserEmail:     o.UserEmail,
			OldStatus:     string(oldStatus),
			NewStatus:     string(o.Status),
			PaymentStatus: string(o.PaymentStatus),
		})
	}
	e.notifyWarranties(ctx, issued)
	e.recordAudit(ctx, audit.Entry{
		EntityType: "order",
		EntityID:   o.ID,
		Action:     "status_updated",
		Detail:     fmt.Sprintf("%s/%s", o.Status, o.PaymentStatus),
		ActorID:    actorID,
		At:         e.now(),
	})
	return o, nil
}

// CancelOrder cancels a not-yet-delivered order owned by userID, restoring
// each item's quantity to product stock in the same transaction.
func (e *Engine) CancelOrder(ctx context.Context, orderID, userID string) (*order.Order, error) {
	var o *order.Order
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		o, err = tx.Order(orderID)
		if err != nil {
			return err
		}
		// Uniform not-found: do not reveal other users' orders
		if o.UserID != userID {
			return order.ErrOrderNotFound
		}
		if !o.Cancellable() {
			return order.ErrNotCancellable
		}

		if err := e.restock(tx, o); err != nil {
			return err
		}
		o.Status = order.StatusCancelled
		return tx.UpdateOrderStatus(o.ID, o.Status, o.PaymentStatus, "", e.now())
	})
	if err != nil {
		return nil, err
	}

	e.notify(ctx, o.ID, notification.EventOrderStatusChanged, notification.OrderStatusChanged{
		OrderID:       o.ID,
		UserID:        o.UserID,
		UserEmail:     o.UserEmail,
		NewStatus:     string(order.StatusCancelled),
		PaymentStatus: string(o.PaymentStatus),
	})
	e.recordAudit(ctx, audit.Entry{
		EntityType: "order",
		EntityID:   o.ID,
		Action:     "cancelled",
		ActorID:    userID,
		At:         e.now(),
	})
	return o, nil
}

func (e *Engine) restock(tx store.Tx, o *order.Order) error {
	for _, item := range o.Items {
		if err := tx.AdjustStock(item.ProductID, item.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// GetOrder loads an order for its owner. Admins see any order.
func (e *Engine) GetOrder(ctx context.Context, orderID, userID string, admin bool) (*order.Order, error) {
	var o *order.Order
	err := e.store.WithinTx(ctx, func(tx store.Tx) error {
		var err error
		o, err = tx.Order(orderID)
		if err != nil {
			return err
		}
		if !admin && o.UserID != userID {
			return order.ErrOrderNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

// ============================================
// Warranty issuance
// ============================================

// issueAutoWarranties creates one auto warranty per purchased unit of every
// product that defines a warranty period. The per-unit insert is a no-op
// when coverage already exists, so this is safe to call from any of the
// paths that can finalize an order.
func (e *Engine) issueAutoWarranties(tx store.Tx, o *order.Order, purchaseDate time.Time) ([]*warranty.Warranty, error) {
	// Units are counted per product, not per line, in case an order
	// carries the same product on multiple lines.
	quantities := make(map[string]int)
	var productIDs []string
	for _, item := range o.Items {
		if quantities[item.ProductID] == 0 {
			productIDs = append(productIDs, item.ProductID)
		}
		quantities[item.ProductID] += item.Quantity
	}

	var issued []*warranty.Warranty
	for _, productID := range productIDs {
		p, err := tx.Product(productID)
		if err != nil {
			return nil, err
		}
		if p.WarrantyMonths <= 0 {
			continue
		}
		for unit := 0; unit < quantities[productID]; unit++ {
			w := &warranty.Warranty{
				ID:               e.newID(),
				UserID:           o.UserID,
				UserEmail:        o.UserEmail,
				ProductID:        productID,
				OrderID:          o.ID,
				UnitIndex:        unit,
				PurchaseDate:     purchaseDate,
				ExpiryDate:       warranty.ExpiryDate(purchaseDate, p.WarrantyMonths),
				SerialNumber:     e.newSerial(),
				RegistrationType: warranty.RegistrationAuto,
				CreatedAt:        purchaseDate,
			}
			inserted, err := tx.InsertWarranty(w)
			if err != nil {
				return nil, err
			}
			if inserted {
				issued = append(issued, w)
			}
		}
	}
	return issued, nil
}

func (e *Engine) notifyWarranties(ctx context.Context, issued []*warranty.Warranty) {
	for _, w := range issued {
		e.notify(ctx, w.ID, notification.EventWarrantyIssued, notification.WarrantyIssued{
			WarrantyID: w.ID,
			OrderID:    w.OrderID,
			UserID:     w.UserID,
			UserEmail:  w.UserEmail,
			ProductID:  w.ProductID,
			Serial:     w.SerialNumber,
			ExpiresAt:  w.ExpiryDate,
		})
	}
}
