// Package memstore provides an in-memory store.Store for tests. A single
// mutex is held for the whole transaction and all mutations are applied to
// a copy that only replaces the live state on commit, which gives the same
// serializable, all-or-nothing semantics the engine expects from PostgreSQL.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/ec-fulfillment/internal/domain/catalog"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/domain/warranty"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
)

type state struct {
	products   map[string]*catalog.Product
	cartLines  map[string][]catalog.CartLine // keyed by user ID
	orders     map[string]*order.Order
	warranties map[string]*warranty.Warranty
	claims     map[string]*warranty.Claim
}

func (s *state) clone() *state {
	c := newState()
	for id, p := range s.products {
		cp := *p
		c.products[id] = &cp
	}
	for uid, lines := range s.cartLines {
		c.cartLines[uid] = append([]catalog.CartLine(nil), lines...)
	}
	for id, o := range s.orders {
		co := *o
		co.Items = append([]order.OrderItem(nil), o.Items...)
		c.orders[id] = &co
	}
	for id, w := range s.warranties {
		cw := *w
		c.warranties[id] = &cw
	}
	for id, cl := range s.claims {
		cc := *cl
		c.claims[id] = &cc
	}
	return c
}

func newState() *state {
	return &state{
		products:   make(map[string]*catalog.Product),
		cartLines:  make(map[string][]catalog.CartLine),
		orders:     make(map[string]*order.Order),
		warranties: make(map[string]*warranty.Warranty),
		claims:     make(map[string]*warranty.Claim),
	}
}

// Store is an in-memory store.Store
type Store struct {
	mu sync.Mutex
	st *state
}

// New creates an empty in-memory store
func New() *Store {
	return &Store{st: newState()}
}

// SeedProduct inserts or replaces a product outside any transaction
func (s *Store) SeedProduct(p catalog.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.products[p.ID] = &p
}

// ProductStock returns the current stock of a product, for assertions
func (s *Store) ProductStock(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.st.products[id]; ok {
		return p.Stock
	}
	return -1
}

// Warranties returns all warranty rows, for assertions
func (s *Store) Warranties() []*warranty.Warranty {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*warranty.Warranty
	for _, w := range s.st.warranties {
		cw := *w
		out = append(out, &cw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WithinTx implements store.Store
func (s *Store) WithinTx(ctx context.Context, fn func(store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&memTx{st: work}); err != nil {
		return err
	}
	s.st = work
	return nil
}

type memTx struct {
	st *state
}

func (t *memTx) Product(id string) (*catalog.Product, error) {
	p, ok := t.st.products[id]
	if !ok {
		return nil, catalog.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

// ProductForUpdate is identical to Product here; the store-wide mutex
// already serializes transactions.
func (t *memTx) ProductForUpdate(id string) (*catalog.Product, error) {
	return t.Product(id)
}

func (t *memTx) AdjustStock(productID string, delta int) error {
	p, ok := t.st.products[productID]
	if !ok {
		return catalog.ErrProductNotFound
	}
	p.Stock += delta
	p.UpdatedAt = time.Now()
	return nil
}

func (t *memTx) SetProductActive(productID string, active bool) error {
	p, ok := t.st.products[productID]
	if !ok {
		return catalog.ErrProductNotFound
	}
	p.IsActive = active
	return nil
}

func (t *memTx) ActiveProducts() ([]*catalog.Product, error) {
	var out []*catalog.Product
	for _, p := range t.st.products {
		if p.IsActive {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) LowStockProducts(threshold int) ([]*catalog.Product, error) {
	var out []*catalog.Product
	for _, p := range t.st.products {
		if p.IsActive && p.Stock <= threshold {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stock < out[j].Stock })
	return out, nil
}

func (t *memTx) CartLines(userID string) ([]catalog.CartLine, error) {
	lines := append([]catalog.CartLine(nil), t.st.cartLines[userID]...)
	sort.Slice(lines, func(i, j int) bool { return lines[i].ProductID < lines[j].ProductID })
	return lines, nil
}

func (t *memTx) UpsertCartLine(line catalog.CartLine) error {
	lines := t.st.cartLines[line.UserID]
	for i := range lines {
		if lines[i].ProductID == line.ProductID {
			lines[i].Quantity = line.Quantity
			return nil
		}
	}
	t.st.cartLines[line.UserID] = append(lines, line)
	return nil
}

func (t *memTx) RemoveCartLine(userID, productID string) error {
	lines := t.st.cartLines[userID]
	for i := range lines {
		if lines[i].ProductID == productID {
			t.st.cartLines[userID] = append(lines[:i], lines[i+1:]...)
			return nil
		}
	}
	return nil
}

func (t *memTx) ClearCart(userID string) error {
	delete(t.st.cartLines, userID)
	return nil
}

func (t *memTx) InsertOrder(o *order.Order) error {
	co := *o
	co.Items = append([]order.OrderItem(nil), o.Items...)
	t.st.orders[o.ID] = &co
	return nil
}

func (t *memTx) Order(id string) (*order.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	co := *o
	co.Items = append([]order.OrderItem(nil), o.Items...)
	return &co, nil
}

func (t *memTx) UpdateOrderStatus(id string, status order.Status, payment order.PaymentStatus, paymentRef string, at time.Time) error {
	o, ok := t.st.orders[id]
	if !ok {
		return order.ErrOrderNotFound
	}
	o.Status = status
	o.PaymentStatus = payment
	if paymentRef != "" {
		o.PaymentReference = paymentRef
	}
	o.UpdatedAt = at
	return nil
}

func (t *memTx) OrdersInStatusBefore(status order.Status, cutoff time.Time) ([]*order.Order, error) {
	var out []*order.Order
	for _, o := range t.st.orders {
		if o.Status == status && o.UpdatedAt.Before(cutoff) {
			co := *o
			co.Items = append([]order.OrderItem(nil), o.Items...)
			out = append(out, &co)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (t *memTx) InsertWarranty(w *warranty.Warranty) (bool, error) {
	if w.RegistrationType == warranty.RegistrationAuto {
		for _, existing := range t.st.warranties {
			if existing.RegistrationType == warranty.RegistrationAuto &&
				existing.OrderID == w.OrderID &&
				existing.ProductID == w.ProductID &&
				existing.UnitIndex == w.UnitIndex {
				return false, nil
			}
		}
	}
	if w.SerialNumber != "" {
		for _, existing := range t.st.warranties {
			if existing.SerialNumber == w.SerialNumber {
				return false, warranty.ErrDuplicateSerial
			}
		}
	}
	cw := *w
	t.st.warranties[w.ID] = &cw
	return true, nil
}

func (t *memTx) Warranty(id string) (*warranty.Warranty, error) {
	w, ok := t.st.warranties[id]
	if !ok {
		return nil, warranty.ErrWarrantyNotFound
	}
	cw := *w
	return &cw, nil
}

func (t *memTx) SerialExists(serial string) (bool, error) {
	for _, w := range t.st.warranties {
		if w.SerialNumber == serial {
			return true, nil
		}
	}
	return false, nil
}

func (t *memTx) WarrantiesExpiringBefore(cutoff time.Time) ([]*warranty.Warranty, error) {
	var out []*warranty.Warranty
	for _, w := range t.st.warranties {
		if !w.Reminded && w.ExpiryDate.Before(cutoff) {
			cw := *w
			out = append(out, &cw)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiryDate.Before(out[j].ExpiryDate) })
	return out, nil
}

func (t *memTx) MarkWarrantyReminded(id string) error {
	w, ok := t.st.warranties[id]
	if !ok {
		return warranty.ErrWarrantyNotFound
	}
	w.Reminded = true
	return nil
}

func (t *memTx) InsertClaim(c *warranty.Claim) error {
	cc := *c
	t.st.claims[c.ID] = &cc
	return nil
}

func (t *memTx) Claim(id string) (*warranty.Claim, error) {
	c, ok := t.st.claims[id]
	if !ok {
		return nil, warranty.ErrClaimNotFound
	}
	cc := *c
	return &cc, nil
}

func (t *memTx) UpdateClaim(c *warranty.Claim) error {
	if _, ok := t.st.claims[c.ID]; !ok {
		return warranty.ErrClaimNotFound
	}
	cc := *c
	t.st.claims[c.ID] = &cc
	return nil
}
