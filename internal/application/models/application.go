package models

import (
	"fmt"
	"strings"
	"time"

	"iinportal/internal/catalog"
	dErrors "iinportal/pkg/domain-errors"
)

// UserRef is a weak reference to a portal user with the display name cached
// at the time of the reference.
type UserRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Application is the aggregate root of the licensing lifecycle.
//
// Invariants:
//   - Status changes only through the Apply* methods, driven by a Workflow
//   - Number is assigned once and never changes
//   - IssuedNumber is non-empty iff Status is terbit
//   - Milestone timestamps are set once and never rewound
type Application struct {
	ID           int64          `json:"id"`
	Number       string         `json:"application_number"`
	Kind         catalog.Kind   `json:"kind"`
	Status       catalog.Status `json:"status"`
	IssuedNumber string         `json:"issued_number,omitempty"`
	Notes        string         `json:"notes,omitempty"`
	CompanyName  string         `json:"company_name"`
	Owner        UserRef        `json:"owner"`
	Verificator  *UserRef       `json:"verificator,omitempty"`
	Archived     bool           `json:"archived"`

	CreatedAt                    time.Time  `json:"created_at"`
	UpdatedAt                    time.Time  `json:"updated_at"`
	SubmittedAt                  *time.Time `json:"submitted_at,omitempty"`
	PaymentStage1VerifiedAt      *time.Time `json:"payment_stage1_verified_at,omitempty"`
	FieldVerificationCompletedAt *time.Time `json:"field_verification_completed_at,omitempty"`
	PaymentStage2VerifiedAt      *time.Time `json:"payment_stage2_verified_at,omitempty"`
	IssuedAt                     *time.Time `json:"issued_at,omitempty"`
	RejectedAt                   *time.Time `json:"rejected_at,omitempty"`
}

// NewApplication builds a submitted application in pengajuan. The number is
// assigned by AssignNumber once the store has allocated the ID.
func NewApplication(kind catalog.Kind, owner UserRef, companyName string, now time.Time) (*Application, error) {
	if !kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unknown application kind")
	}
	if owner.ID <= 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "application owner is required")
	}
	companyName = strings.TrimSpace(companyName)
	if len(companyName) > 255 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "company name must be 255 characters or less")
	}
	submitted := now
	return &Application{
		Kind:        kind,
		Status:      catalog.StatusPengajuan,
		CompanyName: companyName,
		Owner:       owner,
		CreatedAt:   now,
		UpdatedAt:   now,
		SubmittedAt: &submitted,
	}, nil
}

// FormatNumber renders an application number such as IIN-IN-202610-000042.
func FormatNumber(kind catalog.Kind, id int64, createdAt time.Time) string {
	return fmt.Sprintf("IIN-%s-%s-%06d", kind.NumberPrefix(), createdAt.UTC().Format("200601"), id)
}

// AssignNumber sets the human-readable number from the allocated ID.
func (a *Application) AssignNumber() error {
	if a.Number != "" {
		return dErrors.New(dErrors.CodeInvariantViolation, "application number is already assigned")
	}
	if a.ID <= 0 {
		return dErrors.New(dErrors.CodeInvariantViolation, "application id is not allocated")
	}
	a.Number = FormatNumber(a.Kind, a.ID, a.CreatedAt)
	return nil
}

func (a *Application) IsOwnedBy(userID int64) bool {
	return a.Owner.ID == userID
}

// Workflow returns the transition table for the application's kind.
func (a *Application) Workflow() *Workflow {
	return WorkflowFor(a.Kind)
}

func setOnce(field **time.Time, now time.Time) {
	if *field == nil {
		t := now
		*field = &t
	}
}

// ApplyAdvance moves to the next status and stamps the milestone of the
// status being left. Call Workflow.CanAdvance first.
func (a *Application) ApplyAdvance(to catalog.Status, now time.Time) {
	a.stampExit(a.Status, now)
	a.Status = to
	a.UpdatedAt = now
}

// ApplyIssue moves to terbit. Call Workflow.CanIssue first.
func (a *Application) ApplyIssue(issuedNumber string, now time.Time) {
	a.stampExit(a.Status, now)
	a.Status = catalog.StatusTerbit
	a.IssuedNumber = issuedNumber
	setOnce(&a.IssuedAt, now)
	a.UpdatedAt = now
}

func (a *Application) ApplyReject(note string, now time.Time) {
	a.Status = catalog.StatusDitolak
	a.Notes = note
	setOnce(&a.RejectedAt, now)
	a.UpdatedAt = now
}

func (a *Application) ApplyCorrectionRequest(note string, now time.Time) {
	a.Status = catalog.StatusPerbaikan
	a.Notes = note
	a.UpdatedAt = now
}

// ApplyResubmit returns a corrected application to pengajuan and clears the
// correction note.
func (a *Application) ApplyResubmit(now time.Time) {
	a.Status = catalog.StatusPengajuan
	a.Notes = ""
	a.UpdatedAt = now
}

func (a *Application) ApplyNote(note string, now time.Time) {
	a.Notes = note
	a.UpdatedAt = now
}

func (a *Application) stampExit(from catalog.Status, now time.Time) {
	switch from {
	case catalog.StatusPembayaran:
		setOnce(&a.PaymentStage1VerifiedAt, now)
	case catalog.StatusVerifikasiLapangan:
		setOnce(&a.FieldVerificationCompletedAt, now)
	case catalog.StatusPembayaranTahap2:
		setOnce(&a.PaymentStage2VerifiedAt, now)
	}
}

// Stage1Verified reports whether the stage-1 payment has been verified.
func (a *Application) Stage1Verified() bool {
	return a.PaymentStage1VerifiedAt != nil
}

// CheckInvariants validates the aggregate after a mutation.
func (a *Application) CheckInvariants() error {
	if !catalog.Belongs(a.Kind, a.Status) {
		return dErrors.New(dErrors.CodeInvariantViolation,
			fmt.Sprintf("status %s is not valid for %s", a.Status, a.Kind))
	}
	if (a.IssuedNumber != "") != (a.Status == catalog.StatusTerbit) {
		return dErrors.New(dErrors.CodeInvariantViolation, "issued number must be set iff status is terbit")
	}
	return nil
}
