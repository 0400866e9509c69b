package models

import (
	"time"

	"iinportal/internal/catalog"
)

// StatusLogEntry is one immutable row of the status audit log. From is nil
// for the creation entry; From == To marks a re-affirmation.
type StatusLogEntry struct {
	ID            int64           `json:"id"`
	ApplicationID int64           `json:"application_id"`
	From          *catalog.Status `json:"status_from"`
	To            catalog.Status  `json:"status_to"`
	ChangedBy     int64           `json:"changed_by_user_id"`
	Notes         string          `json:"notes,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// NewLogEntry builds the entry for a status write. Pass a nil from for the
// creation entry.
func NewLogEntry(applicationID int64, from *catalog.Status, to catalog.Status, changedBy int64, notes string, now time.Time) StatusLogEntry {
	var f *catalog.Status
	if from != nil {
		v := *from
		f = &v
	}
	return StatusLogEntry{
		ApplicationID: applicationID,
		From:          f,
		To:            to,
		ChangedBy:     changedBy,
		Notes:         notes,
		CreatedAt:     now,
	}
}

// IsReaffirmation reports whether the entry records no status change.
func (e StatusLogEntry) IsReaffirmation() bool {
	return e.From != nil && *e.From == e.To
}

// IsTransition reports whether the entry records an actual change of status,
// counting creation.
func (e StatusLogEntry) IsTransition() bool {
	return !e.IsReaffirmation()
}
