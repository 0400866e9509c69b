package models

import (
	"fmt"
	"strings"
	"time"

	dErrors "iinportal/pkg/domain-errors"
)

const maxCertificateTypeLength = 64

// Key identifies the survey obligation of one application instance. The type
// is the numeric application kind code; the pair is opaque to the gate.
type Key struct {
	ApplicationType int   `json:"application_type"`
	ApplicationID   int64 `json:"application_id"`
}

func (k Key) Validate() error {
	if k.ApplicationType <= 0 || k.ApplicationID <= 0 {
		return dErrors.New(dErrors.CodeValidation, "application_type and application_id must be positive")
	}
	return nil
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%d", k.ApplicationType, k.ApplicationID)
}

// Completion is the permanent record that the survey was filled in for Key.
// At most one exists per key.
type Completion struct {
	Key
	CertificateType string    `json:"certificate_type,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
}

// NewCompletion validates the certificate type and stamps the completion.
func NewCompletion(key Key, certificateType string, now time.Time) (*Completion, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	certificateType = strings.TrimSpace(certificateType)
	if len(certificateType) > maxCertificateTypeLength {
		return nil, dErrors.New(dErrors.CodeValidation, "certificate_type must be 64 characters or less")
	}
	return &Completion{Key: key, CertificateType: certificateType, CompletedAt: now}, nil
}

// Session is an open gate dialog. Its age drives the dwell fallback; closing
// the dialog deletes it.
type Session struct {
	ID       string    `json:"id"`
	Key      Key       `json:"key"`
	UserID   int64     `json:"user_id"`
	OpenedAt time.Time `json:"opened_at"`
}

// GateState is the state of one gate dialog.
type GateState string

const (
	GateClosed           GateState = "closed"
	GateChecking         GateState = "checking"
	GateAlreadyCompleted GateState = "already_completed"
	GateAwaitingAction   GateState = "awaiting_action"
	GateDownloadEnabled  GateState = "download_enabled"
)

// CanDownload reports whether the gated document may be fetched.
func (s GateState) CanDownload() bool {
	return s == GateAlreadyCompleted || s == GateDownloadEnabled
}

// GateView is what clients render for an open dialog.
type GateView struct {
	SessionID    string    `json:"session_id"`
	Key          Key       `json:"key"`
	State        GateState `json:"state"`
	SurveyURL    string    `json:"survey_url,omitempty"`
	DwellSeconds int       `json:"dwell_seconds"`
	EnableAt     time.Time `json:"enable_at"`
}

// DownloadRequest asks for the certificate behind a gate. SessionID is
// optional once the survey has been completed.
type DownloadRequest struct {
	Key
	SessionID string
}
