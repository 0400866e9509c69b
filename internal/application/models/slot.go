package models

import (
	"fmt"

	"iinportal/internal/catalog"
)

// Slot names a typed attachment slot on an application.
type Slot string

const (
	SlotApplicationForm     Slot = "application_form"
	SlotRequirementsArchive Slot = "requirements_archive"
	SlotPaymentProof        Slot = "payment_proof"
	SlotFieldVerification   Slot = "field_verification_documents"
	SlotIssuance            Slot = "issuance_documents"
	SlotAdditional          Slot = "additional_documents"
	// SlotCertificate holds the generated certificate; it is never uploaded.
	SlotCertificate Slot = "certificate"
)

func ParseSlot(raw string) (Slot, bool) {
	switch s := Slot(raw); s {
	case SlotApplicationForm, SlotRequirementsArchive, SlotPaymentProof,
		SlotFieldVerification, SlotIssuance, SlotAdditional, SlotCertificate:
		return s, true
	}
	return "", false
}

// SlotKey identifies a slot; Stage is 1 or 2 for payment proofs and 0 otherwise.
type SlotKey struct {
	Slot  Slot
	Stage int
}

func (k SlotKey) String() string {
	if k.Stage > 0 {
		return fmt.Sprintf("%s stage %d", k.Slot, k.Stage)
	}
	return string(k.Slot)
}

var (
	KeyApplicationForm     = SlotKey{Slot: SlotApplicationForm}
	KeyRequirementsArchive = SlotKey{Slot: SlotRequirementsArchive}
	KeyPaymentStage1       = SlotKey{Slot: SlotPaymentProof, Stage: 1}
	KeyPaymentStage2       = SlotKey{Slot: SlotPaymentProof, Stage: 2}
	KeyFieldVerification   = SlotKey{Slot: SlotFieldVerification}
	KeyIssuance            = SlotKey{Slot: SlotIssuance}
	KeyAdditional          = SlotKey{Slot: SlotAdditional}
	KeyCertificate         = SlotKey{Slot: SlotCertificate}
)

// TriggersResubmit reports whether uploading to k during perbaikan sends the
// application back to pengajuan.
func (k SlotKey) TriggersResubmit() bool {
	return k == KeyApplicationForm || k == KeyRequirementsArchive
}

type Cardinality string

const (
	CardinalitySingle Cardinality = "single"
	CardinalityMulti  Cardinality = "multi"
)

type Uploader string

const (
	UploaderOwner  Uploader = "owner"
	UploaderAdmin  Uploader = "admin"
	UploaderEither Uploader = "either"
)

func (u Uploader) allows(isAdmin bool) bool {
	switch u {
	case UploaderEither:
		return true
	case UploaderAdmin:
		return isAdmin
	default:
		return !isAdmin
	}
}

// AttachAction is recorded in document history.
type AttachAction string

const (
	ActionReplace AttachAction = "replace"
	ActionAppend  AttachAction = "append"
)

// SlotRule is the upload policy of one slot for one kind.
type SlotRule struct {
	Key         SlotKey
	Cardinality Cardinality
	Uploader    Uploader
	// AcceptIn lists the statuses that accept uploads. Nil means every
	// non-terminal status.
	AcceptIn []catalog.Status
	// AllowTerbit extends a nil AcceptIn to include terbit.
	AllowTerbit bool
	// RequiresStage1Verified blocks uploads until the stage-1 payment has
	// been verified.
	RequiresStage1Verified bool
}

// Action is the history action for an upload to this slot.
func (r SlotRule) Action() AttachAction {
	if r.Cardinality == CardinalitySingle {
		return ActionReplace
	}
	return ActionAppend
}

func (r SlotRule) accepts(s catalog.Status) bool {
	if r.AcceptIn == nil {
		if s == catalog.StatusTerbit {
			return r.AllowTerbit
		}
		return !s.IsTerminal()
	}
	for _, st := range r.AcceptIn {
		if st == s {
			return true
		}
	}
	return false
}
