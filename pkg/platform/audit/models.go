package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events so sinks can route and retain them
// differently.
type EventCategory string

const (
	// CategoryCompliance covers licensing decisions with regulatory weight:
	// issuance, rejection, reimbursement verdicts.
	CategoryCompliance EventCategory = "compliance"
	// CategoryOperations covers routine workflow traffic: uploads, advances,
	// survey completions.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted after a lifecycle command commits. It is the read-only
// feed for notification and report consumers.
type Event struct {
	ID              string
	Category        EventCategory
	Timestamp       time.Time
	UserID          int64 // acting user
	ApplicationID   int64
	ApplicationKind string
	Action          string
	StatusFrom      string
	StatusTo        string
	// Detail carries the slot name, issued number or note depending on Action.
	Detail    string
	RequestID string
}

type AuditEvent string

const (
	EventApplicationSubmitted  AuditEvent = "application_submitted"
	EventStatusChanged         AuditEvent = "status_changed"
	EventCorrectionRequested   AuditEvent = "correction_requested"
	EventResubmitted           AuditEvent = "resubmitted_after_correction"
	EventApplicationIssued     AuditEvent = "application_issued"
	EventApplicationRejected   AuditEvent = "application_rejected"
	EventNoteSet               AuditEvent = "note_set"
	EventDocumentAttached      AuditEvent = "document_attached"
	EventVerificatorAssigned   AuditEvent = "verificator_assigned"
	EventApplicationArchived   AuditEvent = "application_archived"
	EventReimbursementSubmit   AuditEvent = "reimbursement_submitted"
	EventReimbursementVerified AuditEvent = "reimbursement_verified"
	EventReimbursementRejected AuditEvent = "reimbursement_rejected"
	EventSurveyCompleted       AuditEvent = "survey_completed"
	EventCertificateDownloaded AuditEvent = "certificate_downloaded"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventApplicationIssued:     CategoryCompliance,
	EventApplicationRejected:   CategoryCompliance,
	EventReimbursementVerified: CategoryCompliance,
	EventReimbursementRejected: CategoryCompliance,
	EventCertificateDownloaded: CategoryCompliance,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists or forwards audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Emitter is the port services depend on.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}
