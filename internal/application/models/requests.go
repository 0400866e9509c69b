package models

import (
	"github.com/shopspring/decimal"

	"iinportal/internal/catalog"
)

// File is one uploaded file as received from the transport.
type File struct {
	Name string
	Data []byte
}

// Upload targets one slot with one or more files.
type Upload struct {
	Key   SlotKey
	Files []File
}

type SubmitRequest struct {
	Kind        catalog.Kind
	CompanyName string
	OwnerName   string
}

type AttachRequest struct {
	ApplicationID int64
	Uploads       []Upload
}

// AttachResult reports what an attach stored and whether it resubmitted.
type AttachResult struct {
	Documents   []Document   `json:"documents"`
	Resubmitted bool         `json:"resubmitted"`
	Application *Application `json:"application"`
}

type ReimbursementRequest struct {
	ApplicationID int64
	Amount        decimal.Decimal
	Description   string
	Files         []File
}

// ListFilter selects applications for the admin and applicant lists.
type ListFilter struct {
	Kind            catalog.Kind
	Status          catalog.Status
	OwnerID         int64
	Query           string
	IncludeArchived bool
	Limit           int
	Offset          int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps pagination.
func (f ListFilter) Normalize() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

type Page struct {
	Items  []*Application `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// Detail is an application with its slots and latest note.
type Detail struct {
	Application   *Application   `json:"application"`
	StatusLabel   catalog.Entry  `json:"status_label"`
	Slots         []SlotView     `json:"slots"`
	LatestNote    string         `json:"latest_note,omitempty"`
	Reimbursement *Reimbursement `json:"reimbursement,omitempty"`
	Certificate   *Document      `json:"certificate,omitempty"`
}
