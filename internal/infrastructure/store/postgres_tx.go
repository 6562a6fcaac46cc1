package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/example/ec-fulfillment/internal/domain/catalog"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/domain/warranty"
)

// pgTx implements Tx on a live *sql.Tx
type pgTx struct {
	ctx context.Context
	tx  *sql.Tx
}

const productColumns = "id, name, price, stock, warranty_months, is_active, created_at, updated_at"

func (t *pgTx) scanProduct(row *sql.Row) (*catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.WarrantyMonths, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, catalog.ErrProductNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *pgTx) Product(id string) (*catalog.Product, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	return t.scanProduct(row)
}

func (t *pgTx) ProductForUpdate(id string) (*catalog.Product, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1 FOR UPDATE`, id)
	return t.scanProduct(row)
}

func (t *pgTx) AdjustStock(productID string, delta int) error {
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE products SET stock = stock + $2, updated_at = NOW() WHERE id = $1`,
		productID, delta)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return catalog.ErrProductNotFound
	}
	return nil
}

func (t *pgTx) SetProductActive(productID string, active bool) error {
	_, err := t.tx.ExecContext(t.ctx,
		`UPDATE products SET is_active = $2, updated_at = NOW() WHERE id = $1`,
		productID, active)
	return err
}

func (t *pgTx) queryProducts(query string, args ...any) ([]*catalog.Product, error) {
	rows, err := t.tx.QueryContext(t.ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []*catalog.Product
	for rows.Next() {
		var p catalog.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.WarrantyMonths, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		products = append(products, &p)
	}
	return products, rows.Err()
}

func (t *pgTx) ActiveProducts() ([]*catalog.Product, error) {
	return t.queryProducts(
		`SELECT ` + productColumns + ` FROM products WHERE is_active ORDER BY created_at DESC`)
}

func (t *pgTx) LowStockProducts(threshold int) ([]*catalog.Product, error) {
	return t.queryProducts(
		`SELECT `+productColumns+` FROM products WHERE is_active AND stock <= $1 ORDER BY stock ASC`,
		threshold)
}

// Cart operations

func (t *pgTx) CartLines(userID string) ([]catalog.CartLine, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT user_id, product_id, quantity, added_at
		 FROM cart_lines WHERE user_id = $1 ORDER BY product_id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []catalog.CartLine
	for rows.Next() {
		var l catalog.CartLine
		if err := rows.Scan(&l.UserID, &l.ProductID, &l.Quantity, &l.AddedAt); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (t *pgTx) UpsertCartLine(line catalog.CartLine) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO cart_lines (user_id, product_id, quantity, added_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity`,
		line.UserID, line.ProductID, line.Quantity, line.AddedAt)
	return err
}

func (t *pgTx) RemoveCartLine(userID, productID string) error {
	_, err := t.tx.ExecContext(t.ctx,
		`DELETE FROM cart_lines WHERE user_id = $1 AND product_id = $2`, userID, productID)
	return err
}

func (t *pgTx) ClearCart(userID string) error {
	_, err := t.tx.ExecContext(t.ctx, `DELETE FROM cart_lines WHERE user_id = $1`, userID)
	return err
}

// Order operations

func (t *pgTx) InsertOrder(o *order.Order) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO orders (id, user_id, user_email, subtotal, shipping_fee, tax, total_price,
			order_status, payment_status, payment_reference,
			recipient, street, city, postal_code, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		o.ID, o.UserID, o.UserEmail, o.Subtotal, o.ShippingFee, o.Tax, o.TotalPrice,
		o.Status, o.PaymentStatus, o.PaymentReference,
		o.Address.Recipient, o.Address.Street, o.Address.City, o.Address.PostalCode,
		o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}

	for _, item := range o.Items {
		_, err := t.tx.ExecContext(t.ctx,
			`INSERT INTO order_items (id, order_id, product_id, product_name, quantity, price_at_purchase)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			item.ID, item.OrderID, item.ProductID, item.ProductName, item.Quantity, item.PriceAtPurchase)
		if err != nil {
			return err
		}
	}
	return nil
}

const orderColumns = `id, user_id, user_email, subtotal, shipping_fee, tax, total_price,
	order_status, payment_status, payment_reference,
	recipient, street, city, postal_code, created_at, updated_at`

func scanOrder(scan func(...any) error) (*order.Order, error) {
	var o order.Order
	err := scan(&o.ID, &o.UserID, &o.UserEmail, &o.Subtotal, &o.ShippingFee, &o.Tax, &o.TotalPrice,
		&o.Status, &o.PaymentStatus, &o.PaymentReference,
		&o.Address.Recipient, &o.Address.Street, &o.Address.City, &o.Address.PostalCode,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (t *pgTx) orderItems(orderID string) ([]order.OrderItem, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT id, order_id, product_id, product_name, quantity, price_at_purchase
		 FROM order_items WHERE order_id = $1 ORDER BY product_id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []order.OrderItem
	for rows.Next() {
		var it order.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.PriceAtPurchase); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

func (t *pgTx) Order(id string) (*order.Order, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	o, err := scanOrder(row.Scan)
	if err == sql.ErrNoRows {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	o.Items, err = t.orderItems(id)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (t *pgTx) UpdateOrderStatus(id string, status order.Status, payment order.PaymentStatus, paymentRef string, at time.Time) error {
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE orders SET order_status = $2, payment_status = $3,
			payment_reference = CASE WHEN $4 = '' THEN payment_reference ELSE $4 END,
			updated_at = $5
		 WHERE id = $1`,
		id, status, payment, paymentRef, at)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return order.ErrOrderNotFound
	}
	return nil
}

func (t *pgTx) OrdersInStatusBefore(status order.Status, cutoff time.Time) ([]*order.Order, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE order_status = $1 AND updated_at < $2 ORDER BY updated_at ASC`,
		status, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, o := range orders {
		if o.Items, err = t.orderItems(o.ID); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

// Warranty operations

const warrantyColumns = `id, user_id, user_email, product_id, order_id, unit_index,
	purchase_date, expiry_date, serial_number, registration_type, reminded, created_at`

func scanWarranty(scan func(...any) error) (*warranty.Warranty, error) {
	var w warranty.Warranty
	var serial sql.NullString
	err := scan(&w.ID, &w.UserID, &w.UserEmail, &w.ProductID, &w.OrderID, &w.UnitIndex,
		&w.PurchaseDate, &w.ExpiryDate, &serial, &w.RegistrationType, &w.Reminded, &w.CreatedAt)
	if err != nil {
		return nil, err
	}
	w.SerialNumber = serial.String
	return &w, nil
}

func (t *pgTx) InsertWarranty(w *warranty.Warranty) (bool, error) {
	var serial sql.NullString
	if w.SerialNumber != "" {
		serial = sql.NullString{String: w.SerialNumber, Valid: true}
	}
	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO warranties (id, user_id, user_email, product_id, order_id, unit_index,
			purchase_date, expiry_date, serial_number, registration_type, reminded, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (order_id, product_id, unit_index) WHERE registration_type = 'auto' DO NOTHING`,
		w.ID, w.UserID, w.UserEmail, w.ProductID, w.OrderID, w.UnitIndex,
		w.PurchaseDate, w.ExpiryDate, serial, w.RegistrationType, w.Reminded, w.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return false, warranty.ErrDuplicateSerial
		}
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *pgTx) Warranty(id string) (*warranty.Warranty, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT `+warrantyColumns+` FROM warranties WHERE id = $1`, id)
	w, err := scanWarranty(row.Scan)
	if err == sql.ErrNoRows {
		return nil, warranty.ErrWarrantyNotFound
	}
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (t *pgTx) SerialExists(serial string) (bool, error) {
	var exists bool
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT EXISTS (SELECT 1 FROM warranties WHERE serial_number = $1)`, serial).Scan(&exists)
	return exists, err
}

func (t *pgTx) WarrantiesExpiringBefore(cutoff time.Time) ([]*warranty.Warranty, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT `+warrantyColumns+` FROM warranties
		 WHERE NOT reminded AND expiry_date < $1 ORDER BY expiry_date ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var warranties []*warranty.Warranty
	for rows.Next() {
		w, err := scanWarranty(rows.Scan)
		if err != nil {
			return nil, err
		}
		warranties = append(warranties, w)
	}
	return warranties, rows.Err()
}

func (t *pgTx) MarkWarrantyReminded(id string) error {
	_, err := t.tx.ExecContext(t.ctx,
		`UPDATE warranties SET reminded = TRUE WHERE id = $1`, id)
	return err
}

// Claim operations

func (t *pgTx) InsertClaim(c *warranty.Claim) error {
	_, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO claims (id, warranty_id, user_id, issue_description, status, admin_notes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.WarrantyID, c.UserID, c.IssueDescription, c.Status, c.AdminNotes, c.CreatedAt, c.UpdatedAt)
	return err
}

func (t *pgTx) Claim(id string) (*warranty.Claim, error) {
	var c warranty.Claim
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT id, warranty_id, user_id, issue_description, status, admin_notes, created_at, updated_at
		 FROM claims WHERE id = $1 FOR UPDATE`, id).
		Scan(&c.ID, &c.WarrantyID, &c.UserID, &c.IssueDescription, &c.Status, &c.AdminNotes, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, warranty.ErrClaimNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *pgTx) UpdateClaim(c *warranty.Claim) error {
	res, err := t.tx.ExecContext(t.ctx,
		`UPDATE claims SET status = $2, admin_notes = $3, updated_at = $4 WHERE id = $1`,
		c.ID, c.Status, c.AdminNotes, c.UpdatedAt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return warranty.ErrClaimNotFound
	}
	return nil
}
