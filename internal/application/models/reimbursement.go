package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"iinportal/internal/catalog"
	dErrors "iinportal/pkg/domain-errors"
)

type ReimbursementStatus string

const (
	ReimbursementPending  ReimbursementStatus = "pending"
	ReimbursementVerified ReimbursementStatus = "verified"
	ReimbursementRejected ReimbursementStatus = "rejected"
)

// MaxReimbursementAmount bounds a single claim (Rp 1 billion).
var MaxReimbursementAmount = decimal.NewFromInt(1_000_000_000)

// Reimbursement is the optional expense-proof record of an application.
type Reimbursement struct {
	ApplicationID int64                `json:"application_id"`
	Amount        decimal.Decimal      `json:"amount"`
	Description   string               `json:"description,omitempty"`
	Status        ReimbursementStatus  `json:"status"`
	ReviewNote    string               `json:"review_note,omitempty"`
	Proofs        []ReimbursementProof `json:"proofs"`
	SubmittedBy   int64                `json:"submitted_by"`
	SubmittedAt   time.Time            `json:"submitted_at"`
	ReviewedBy    *int64               `json:"reviewed_by,omitempty"`
	ReviewedAt    *time.Time           `json:"reviewed_at,omitempty"`
}

type ReimbursementProof struct {
	OriginalName string    `json:"original_name"`
	StoredPath   string    `json:"-"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// CanSubmitReimbursement holds from field verification onward, excluding
// rejected applications.
func CanSubmitReimbursement(app *Application) error {
	if app.Status == catalog.StatusDitolak {
		return dErrors.Guard("reimbursement cannot be submitted for a rejected application")
	}
	if catalog.Ordinal(app.Kind, app.Status) < catalog.Ordinal(app.Kind, catalog.StatusVerifikasiLapangan) {
		return dErrors.Guard("reimbursement can only be submitted from verifikasi-lapangan onward")
	}
	return nil
}

// NewReimbursement validates and builds a pending record. A re-upload
// replaces the previous record wholesale.
func NewReimbursement(applicationID int64, amount decimal.Decimal, description string, proofs []ReimbursementProof, by int64, now time.Time) (*Reimbursement, error) {
	if !amount.IsPositive() {
		return nil, dErrors.New(dErrors.CodeValidation, "amount must be positive")
	}
	if amount.GreaterThan(MaxReimbursementAmount) {
		return nil, dErrors.New(dErrors.CodeValidation, "amount exceeds the reimbursement limit")
	}
	if !amount.Equal(amount.Round(2)) {
		return nil, dErrors.New(dErrors.CodeValidation, "amount has more than two decimal places")
	}
	if len(proofs) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "at least one proof file is required")
	}
	return &Reimbursement{
		ApplicationID: applicationID,
		Amount:        amount,
		Description:   strings.TrimSpace(description),
		Status:        ReimbursementPending,
		Proofs:        proofs,
		SubmittedBy:   by,
		SubmittedAt:   now,
	}, nil
}

// CanReview holds only for pending records.
func (r *Reimbursement) CanReview() error {
	if r.Status != ReimbursementPending {
		return dErrors.Guard("reimbursement has already been " + string(r.Status))
	}
	return nil
}

func (r *Reimbursement) ApplyReview(approve bool, note string, by int64, now time.Time) {
	r.Status = ReimbursementRejected
	if approve {
		r.Status = ReimbursementVerified
	}
	r.ReviewNote = note
	r.ReviewedBy = &by
	t := now
	r.ReviewedAt = &t
}
