package warranty

import (
	"errors"
	"strings"
	"time"
)

type RegistrationType string

const (
	RegistrationAuto   RegistrationType = "auto"
	RegistrationManual RegistrationType = "manual"
)

type ClaimStatus string

const (
	ClaimPending  ClaimStatus = "pending"
	ClaimApproved ClaimStatus = "approved"
	ClaimRejected ClaimStatus = "rejected"
	ClaimResolved ClaimStatus = "resolved"
)

// MinIssueDescription is the minimum length of a claim's issue description
const MinIssueDescription = 10

var (
	ErrWarrantyNotFound    = errors.New("warranty not found")
	ErrWarrantyExpired     = errors.New("warranty has expired")
	ErrDuplicateSerial     = errors.New("serial number already registered")
	ErrClaimNotFound       = errors.New("claim not found")
	ErrInvalidClaimStatus  = errors.New("invalid claim status")
	ErrDescriptionTooShort = errors.New("issue description is too short")
)

// Warranty is a time-bounded coverage record for one purchased unit.
// Auto warranties carry the (order, product, unit) triple that makes
// issuance idempotent; manual registrations leave OrderID empty.
type Warranty struct {
	ID               string           `json:"id"`
	UserID           string           `json:"user_id"`
	UserEmail        string           `json:"user_email,omitempty"`
	ProductID        string           `json:"product_id"`
	OrderID          string           `json:"order_id,omitempty"`
	UnitIndex        int              `json:"unit_index"`
	PurchaseDate     time.Time        `json:"purchase_date"`
	ExpiryDate       time.Time        `json:"expiry_date"`
	SerialNumber     string           `json:"serial_number,omitempty"`
	RegistrationType RegistrationType `json:"registration_type"`
	Reminded         bool             `json:"reminded"`
	CreatedAt        time.Time        `json:"created_at"`
}

// ExpiryDate computes coverage end as purchase date plus calendar months
func ExpiryDate(purchase time.Time, months int) time.Time {
	return purchase.AddDate(0, months, 0)
}

// Expired reports whether coverage has lapsed at the given instant
func (w *Warranty) Expired(now time.Time) bool {
	return now.After(w.ExpiryDate)
}

type Claim struct {
	ID               string      `json:"id"`
	WarrantyID       string      `json:"warranty_id"`
	UserID           string      `json:"user_id"`
	IssueDescription string      `json:"issue_description"`
	Status           ClaimStatus `json:"status"`
	AdminNotes       string      `json:"admin_notes,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// ValidClaimStatus reports whether s is one of the four claim statuses.
// Transitions between them are deliberately unrestricted.
func ValidClaimStatus(s ClaimStatus) bool {
	switch s {
	case ClaimPending, ClaimApproved, ClaimRejected, ClaimResolved:
		return true
	}
	return false
}

// ValidateIssueDescription enforces the minimum description length
func ValidateIssueDescription(desc string) error {
	if len(strings.TrimSpace(desc)) < MinIssueDescription {
		return ErrDescriptionTooShort
	}
	return nil
}
