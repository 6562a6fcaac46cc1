package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/example/ec-fulfillment/internal/api/middleware"
	"github.com/example/ec-fulfillment/internal/domain/catalog"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/domain/warranty"
	"github.com/example/ec-fulfillment/internal/fulfillment"
	"github.com/example/ec-fulfillment/internal/infrastructure/cache"
)

type Handlers struct {
	engine   *fulfillment.Engine
	products *cache.ProductCache
}

func NewHandlers(engine *fulfillment.Engine, products *cache.ProductCache) *Handlers {
	return &Handlers{
		engine:   engine,
		products: products,
	}
}

// Product Handlers

func (h *Handlers) GetProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.products.ListActive(r.Context())
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if products == nil {
		products = []*catalog.Product{}
	}
	respondJSON(w, http.StatusOK, products)
}

// Cart Handlers

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	lines, err := h.engine.CartContents(r.Context(), actorFrom(r))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	if lines == nil {
		lines = []catalog.CartLine{}
	}
	respondJSON(w, http.StatusOK, lines)
}

func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID string `json:"product_id"`
		Quantity  int    `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.engine.AddToCart(r.Context(), actorFrom(r), req.ProductID, req.Quantity); err != nil {
		respondEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	productID := extractPathParam(r.URL.Path, "/cart/items/")
	if err := h.engine.RemoveFromCart(r.Context(), actorFrom(r), productID); err != nil {
		respondEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Order Handlers

func (h *Handlers) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ShippingAddress order.ShippingAddress `json:"shipping_address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	o, err := h.engine.CreateOrder(r.Context(), actorFrom(r), req.ShippingAddress)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	h.products.Invalidate(r.Context())

	respondJSON(w, http.StatusCreated, o)
}

func (h *Handlers) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/orders/")
	id = strings.TrimSuffix(id, "/cancel")

	o, err := h.engine.GetOrder(r.Context(), id, actorFrom(r).UserID, middleware.IsAdmin(r.Context()))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) CancelOrder(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/orders/")
	id := strings.TrimSuffix(path, "/cancel")

	o, err := h.engine.CancelOrder(r.Context(), id, actorFrom(r).UserID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	h.products.Invalidate(r.Context())

	respondJSON(w, http.StatusOK, o)
}

// Warranty Handlers

func (h *Handlers) RegisterWarranty(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ProductID    string    `json:"product_id"`
		PurchaseDate time.Time `json:"purchase_date"`
		SerialNumber string    `json:"serial_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.PurchaseDate.IsZero() {
		respondError(w, "purchase_date is required", http.StatusBadRequest)
		return
	}

	wty, err := h.engine.RegisterWarranty(r.Context(), actorFrom(r), req.ProductID, req.PurchaseDate, req.SerialNumber)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, wty)
}

func (h *Handlers) GetWarranty(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/warranties/")
	id = strings.TrimSuffix(id, "/claims")

	wty, err := h.engine.GetWarranty(r.Context(), id, actorFrom(r).UserID, middleware.IsAdmin(r.Context()))
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, wty)
}

func (h *Handlers) CreateClaim(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/warranties/")
	warrantyID := strings.TrimSuffix(path, "/claims")

	var req struct {
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	c, err := h.engine.CreateClaim(r.Context(), actorFrom(r), warrantyID, req.Description)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, c)
}

// Admin Handlers

func (h *Handlers) CreateManualOrder(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID           string                   `json:"user_id"`
		UserEmail        string                   `json:"user_email"`
		Items            []fulfillment.ManualItem `json:"items"`
		ShippingAddress  order.ShippingAddress    `json:"shipping_address"`
		PaymentReference string                   `json:"payment_reference"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		respondError(w, "user_id is required", http.StatusBadRequest)
		return
	}

	customer := fulfillment.Actor{UserID: req.UserID, Email: req.UserEmail}
	o, err := h.engine.CreateManualOrder(r.Context(), customer, req.Items, req.ShippingAddress, req.PaymentReference)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	h.products.Invalidate(r.Context())

	respondJSON(w, http.StatusCreated, o)
}

func (h *Handlers) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/admin/orders/")
	id := strings.TrimSuffix(path, "/status")

	var req struct {
		Status        *order.Status        `json:"status"`
		PaymentStatus *order.PaymentStatus `json:"payment_status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Status == nil && req.PaymentStatus == nil {
		respondError(w, "status or payment_status is required", http.StatusBadRequest)
		return
	}

	o, err := h.engine.UpdateOrderStatus(r.Context(), id, req.Status, req.PaymentStatus, actorFrom(r).UserID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	h.products.Invalidate(r.Context())

	respondJSON(w, http.StatusOK, o)
}

func (h *Handlers) UpdateClaimStatus(w http.ResponseWriter, r *http.Request) {
	id := extractPathParam(r.URL.Path, "/admin/claims/")

	var req struct {
		Status warranty.ClaimStatus `json:"status"`
		Notes  string               `json:"notes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	c, err := h.engine.UpdateClaimStatus(r.Context(), id, req.Status, req.Notes, actorFrom(r).UserID)
	if err != nil {
		respondEngineError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

// Helper functions

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// respondEngineError maps engine errors onto HTTP statuses: rejected input
// is 400, missing or inaccessible rows are 404, state conflicts are 409,
// everything else is a 500 with the detail kept out of the response.
func respondEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, order.ErrInvalidAddress),
		errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, catalog.ErrInvalidQuantity),
		errors.Is(err, warranty.ErrDescriptionTooShort),
		errors.Is(err, warranty.ErrInvalidClaimStatus):
		respondError(w, err.Error(), http.StatusBadRequest)

	case errors.Is(err, order.ErrOrderNotFound),
		errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, warranty.ErrWarrantyNotFound),
		errors.Is(err, warranty.ErrClaimNotFound):
		respondError(w, err.Error(), http.StatusNotFound)

	case errors.Is(err, catalog.ErrInsufficientStock),
		errors.Is(err, order.ErrAlreadyProcessed),
		errors.Is(err, order.ErrNotCancellable),
		errors.Is(err, order.ErrInvalidStatus),
		errors.Is(err, order.ErrOrderDelivered),
		errors.Is(err, order.ErrOrderCancelled),
		errors.Is(err, warranty.ErrDuplicateSerial),
		errors.Is(err, warranty.ErrWarrantyExpired):
		respondError(w, err.Error(), http.StatusConflict)

	default:
		log.Printf("[API] Internal error: %v", err)
		respondError(w, "internal error", http.StatusInternalServerError)
	}
}

func extractPathParam(path, prefix string) string {
	return strings.TrimPrefix(path, prefix)
}

// actorFrom builds the engine actor from the authenticated JWT claims
func actorFrom(r *http.Request) fulfillment.Actor {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		return fulfillment.Actor{}
	}
	return fulfillment.Actor{UserID: claims.UserID, Email: claims.Email}
}
