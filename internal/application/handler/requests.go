package handler

import (
	"strings"

	"iinportal/internal/application/models"
	"iinportal/internal/catalog"
	dErrors "iinportal/pkg/domain-errors"
)

// SubmitRequest is the body of POST /applications.
type SubmitRequest struct {
	Kind        string `json:"kind" validate:"required,max=64"`
	CompanyName string `json:"company_name" validate:"max=255"`
	OwnerName   string `json:"owner_name" validate:"max=255"`

	parsedKind catalog.Kind
}

// Validate parses the kind, which may be a slug or a numeric code.
func (r *SubmitRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	kind, ok := catalog.ParseKind(r.Kind)
	if !ok {
		return dErrors.New(dErrors.CodeValidation, "unknown application kind")
	}
	r.parsedKind = kind
	r.CompanyName = strings.TrimSpace(r.CompanyName)
	r.OwnerName = strings.TrimSpace(r.OwnerName)
	return nil
}

func (r *SubmitRequest) toModel() models.SubmitRequest {
	return models.SubmitRequest{Kind: r.parsedKind, CompanyName: r.CompanyName, OwnerName: r.OwnerName}
}

// NoteRequest carries the note of request-correction, reject and set-note.
// Whether an empty note is accepted is decided per command by the service.
type NoteRequest struct {
	Note string `json:"note" validate:"max=2000"`
}

type IssueRequest struct {
	IssuedNumber string `json:"issued_number" validate:"required,max=64"`
}

func (r *IssueRequest) Validate() error {
	r.IssuedNumber = strings.TrimSpace(r.IssuedNumber)
	if r.IssuedNumber == "" {
		return dErrors.New(dErrors.CodeValidation, "issued_number is required")
	}
	return nil
}

type VerificatorRequest struct {
	UserID int64  `json:"user_id" validate:"required,gt=0"`
	Name   string `json:"name" validate:"max=255"`
}

type VerifyReimbursementRequest struct {
	Approve *bool  `json:"approve" validate:"required"`
	Note    string `json:"note" validate:"max=2000"`
}

// uploadKeys maps multipart field names to slots. Payment proofs carry their
// stage in the field name.
var uploadKeys = map[string]models.SlotKey{
	"application_form":             models.KeyApplicationForm,
	"requirements_archive":         models.KeyRequirementsArchive,
	"payment_proof_stage1":         models.KeyPaymentStage1,
	"payment_proof_stage2":         models.KeyPaymentStage2,
	"field_verification_documents": models.KeyFieldVerification,
	"issuance_documents":           models.KeyIssuance,
	"additional_documents":         models.KeyAdditional,
}

func parseUploadField(name string) (models.SlotKey, bool) {
	key, ok := uploadKeys[strings.ToLower(strings.TrimSpace(name))]
	return key, ok
}

// listQuery is the query string of GET /applications.
type listQuery struct {
	Kind            string `validate:"max=64"`
	Status          string `validate:"max=64"`
	Query           string `validate:"max=200"`
	OwnerID         int64  `validate:"gte=0"`
	IncludeArchived bool
	Limit           int `validate:"gte=0,lte=100"`
	Offset          int `validate:"gte=0"`
}

func (q listQuery) toFilter() (models.ListFilter, error) {
	f := models.ListFilter{
		OwnerID:         q.OwnerID,
		Query:           strings.TrimSpace(q.Query),
		IncludeArchived: q.IncludeArchived,
		Limit:           q.Limit,
		Offset:          q.Offset,
	}
	if q.Kind != "" {
		kind, ok := catalog.ParseKind(q.Kind)
		if !ok {
			return f, dErrors.New(dErrors.CodeValidation, "unknown application kind")
		}
		f.Kind = kind
	}
	if q.Status != "" {
		f.Status = catalog.Normalize(q.Status)
	}
	return f, nil
}
