package models

import "time"

// Document is a file currently held by a slot.
type Document struct {
	ID            int64     `json:"id"`
	ApplicationID int64     `json:"application_id"`
	Slot          Slot      `json:"slot"`
	Stage         int       `json:"stage,omitempty"`
	OriginalName  string    `json:"original_name"`
	StoredPath    string    `json:"-"`
	UploadedBy    int64     `json:"uploaded_by"`
	UploadedAt    time.Time `json:"uploaded_at"`
}

func (d Document) Key() SlotKey {
	return SlotKey{Slot: d.Slot, Stage: d.Stage}
}

// DocumentHistoryEntry records every upload attempt, including the ones a
// later replace has superseded.
type DocumentHistoryEntry struct {
	ID            int64        `json:"id"`
	ApplicationID int64        `json:"application_id"`
	Slot          Slot         `json:"slot"`
	Stage         int          `json:"stage,omitempty"`
	Action        AttachAction `json:"action"`
	OriginalName  string       `json:"original_name"`
	StoredPath    string       `json:"-"`
	UploadedBy    int64        `json:"uploaded_by"`
	CreatedAt     time.Time    `json:"created_at"`
}

// SlotView is a slot with its current documents, as shown on the detail page.
type SlotView struct {
	Slot        Slot        `json:"slot"`
	Stage       int         `json:"stage,omitempty"`
	Cardinality Cardinality `json:"cardinality"`
	Uploader    Uploader    `json:"uploader"`
	Uploadable  bool        `json:"uploadable"`
	Documents   []Document  `json:"documents"`
}
