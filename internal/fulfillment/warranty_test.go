package fulfillment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ec-fulfillment/internal/domain/catalog"
	"github.com/example/ec-fulfillment/internal/domain/warranty"
	"github.com/example/ec-fulfillment/internal/notification"
)

// ============================================
// Manual registration
// ============================================

func TestRegisterWarranty(t *testing.T) {
	e, st, sink, clk := newTestEngine(testConfig())
	ctx := context.Background()
	seedProduct(st, "p1", 100, 10, 24)

	purchase := clk.Now().AddDate(0, -1, 0)
	w, err := e.RegisterWarranty(ctx, buyer, "p1", purchase, "SERIAL-ABC")
	require.NoError(t, err)

	assert.Equal(t, warranty.RegistrationManual, w.RegistrationType)
	assert.Equal(t, "SERIAL-ABC", w.SerialNumber)
	assert.Equal(t, purchase, w.PurchaseDate)
	assert.Equal(t, purchase.AddDate(0, 24, 0), w.ExpiryDate)
	assert.Empty(t, w.OrderID)
	assert.Len(t, sink.byType(notification.EventWarrantyIssued), 1)
}

func TestRegisterWarrantyGeneratesSerial(t *testing.T) {
	e, st, _, clk := newTestEngine(testConfig())
	seedProduct(st, "p1", 100, 10, 12)

	w, err := e.RegisterWarranty(context.Background(), buyer, "p1", clk.Now(), "")
	require.NoError(t, err)
	assert.NotEmpty(t, w.SerialNumber)
	assert.Contains(t, w.SerialNumber, "SN-")
}

func TestRegisterWarrantyDuplicateSerial(t *testing.T) {
	e, st, _, clk := newTestEngine(testConfig())
	ctx := context.Background()
	seedProduct(st, "p1", 100, 10, 12)

	_, err := e.RegisterWarranty(ctx, buyer, "p1", clk.Now(), "SERIAL-1")
	require.NoError(t, err)

	_, err = e.RegisterWarranty(ctx, Actor{UserID: "user-2"}, "p1", clk.Now(), "SERIAL-1")
	assert.ErrorIs(t, err, warranty.ErrDuplicateSerial)
}

func TestRegisterWarrantyInactiveProduct(t *testing.T) {
	e, st, _, clk := newTestEngine(testConfig())
	st.SeedProduct(catalog.Product{ID: "retired", Price: 100, WarrantyMonths: 12, IsActive: false})

	_, err := e.RegisterWarranty(context.Background(), buyer, "retired", clk.Now(), "")
	assert.ErrorIs(t, err, catalog.ErrProductNotFound)
}

// ============================================
// Claims
// ============================================

func issueWarranty(t *testing.T, e *Engine, actor Actor, productID string) *warranty.Warranty {
	t.Helper()
	w, err := e.RegisterWarranty(context.Background(), actor, productID, e.now(), "")
	require.NoError(t, err)
	return w
}

func TestCreateClaim(t *testing.T) {
	e, st, sink, _ := newTestEngine(testConfig())
	ctx := context.Background()
	seedProduct(st, "p1", 100, 10, 12)
	w := issueWarranty(t, e, buyer, "p1")

	c, err := e.CreateClaim(ctx, buyer, w.ID, "The screen flickers and then goes dark")
	require.NoError(t, err)

	assert.Equal(t, warranty.ClaimPending, c.Status)
	assert.Equal(t, w.ID, c.WarrantyID)
	assert.Equal(t, buyer.UserID, c.UserID)
	assert.Len(t, sink.byType(notification.EventClaimCreated), 1)
}

func TestCreateClaimShortDescription(t *testing.T) {
	e, st, _, _ := newTestEngine(testConfig())
	seedProduct(st, "p1", 100, 10, 12)
	w := issueWarranty(t, e, buyer, "p1")

	_, err := e.CreateClaim(context.Background(), buyer, w.ID, "   broken  ")
	assert.ErrorIs(t, err, warranty.ErrDescriptionTooShort)
}

func TestCreateClaimWrongOwner(t *testing.T) {
	e, st, _, _ := newTestEngine(testConfig())
	seedProduct(st, "p1", 100, 10, 12)
	w := issueWarranty(t, e, buyer, "p1")

	// other users get the same error as a missing warranty
	_, err := e.CreateClaim(context.Background(), Actor{UserID: "user-2"}, w.ID, "The screen flickers and then goes dark")
	assert.ErrorIs(t, err, warranty.ErrWarrantyNotFound)
}

func TestCreateClaimExpiredWarranty(t *testing.T) {
	e, st, _, clk := newTestEngine(testConfig())
	seedProduct(st, "p1", 100, 10, 12)
	w := issueWarranty(t, e, buyer, "p1")

	clk.Advance(366 * 24 * time.Hour)

	_, err := e.CreateClaim(context.Background(), buyer, w.ID, "The screen flickers and then goes dark")
	assert.ErrorIs(t, err, warranty.ErrWarrantyExpired)
}

func TestCreateClaimJustBeforeExpiry(t *testing.T) {
	e, st, _, clk := newTestEngine(testConfig())
	seedProduct(st, "p1", 100, 10, 12)
	w := issueWarranty(t, e, buyer, "p1")

	// the expiry instant itself is still covered
	clk.Advance(w.ExpiryDate.Sub(clk.Now()))

	_, err := e.CreateClaim(context.Background(), buyer, w.ID, "The screen flickers and then goes dark")
	assert.NoError(t, err)
}

func TestUpdateClaimStatus(t *testing.T) {
	e, st, sink, _ := newTestEngine(testConfig())
	ctx := context.Background()
	seedProduct(st, "p1", 100, 10, 12)
	w := issueWarranty(t, e, buyer, "p1")
	c, err := e.CreateClaim(ctx, buyer, w.ID, "The screen flickers and then goes dark")
	require.NoError(t, err)

	got, err := e.UpdateClaimStatus(ctx, c.ID, warranty.ClaimApproved, "replacement unit shipped", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, warranty.ClaimApproved, got.Status)
	assert.Equal(t, "replacement unit shipped", got.AdminNotes)

	// review outcomes may be revisited in any direction
	got, err = e.UpdateClaimStatus(ctx, c.ID, warranty.ClaimRejected, "", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, warranty.ClaimRejected, got.Status)
	assert.Equal(t, "replacement unit shipped", got.AdminNotes, "empty notes keep the previous value")

	got, err = e.UpdateClaimStatus(ctx, c.ID, warranty.ClaimResolved, "goodwill repair", "admin-1")
	require.NoError(t, err)
	assert.Equal(t, warranty.ClaimResolved, got.Status)

	assert.Len(t, sink.byType(notification.EventClaimUpdated), 3)
}

func TestUpdateClaimStatusInvalid(t *testing.T) {
	e, st, _, _ := newTestEngine(testConfig())
	ctx := context.Background()
	seedProduct(st, "p1", 100, 10, 12)
	w := issueWarranty(t, e, buyer, "p1")
	c, err := e.CreateClaim(ctx, buyer, w.ID, "The screen flickers and then goes dark")
	require.NoError(t, err)

	_, err = e.UpdateClaimStatus(ctx, c.ID, warranty.ClaimStatus("escalated"), "", "admin-1")
	assert.ErrorIs(t, err, warranty.ErrInvalidClaimStatus)

	_, err = e.UpdateClaimStatus(ctx, "nope", warranty.ClaimApproved, "", "admin-1")
	assert.ErrorIs(t, err, warranty.ErrClaimNotFound)
}

// ============================================
// Warranty access
// ============================================

func TestGetWarrantyOwnership(t *testing.T) {
	e, st, _, _ := newTestEngine(testConfig())
	ctx := context.Background()
	seedProduct(st, "p1", 100, 10, 12)
	w := issueWarranty(t, e, buyer, "p1")

	got, err := e.GetWarranty(ctx, w.ID, buyer.UserID, false)
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)

	_, err = e.GetWarranty(ctx, w.ID, "user-2", false)
	assert.ErrorIs(t, err, warranty.ErrWarrantyNotFound)

	_, err = e.GetWarranty(ctx, w.ID, "admin-1", true)
	assert.NoError(t, err)
}
