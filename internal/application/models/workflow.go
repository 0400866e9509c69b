package models

import (
	"fmt"
	"strings"

	"iinportal/internal/catalog"
	dErrors "iinportal/pkg/domain-errors"
)

// DocumentCounts is the number of current documents per slot.
type DocumentCounts map[SlotKey]int

// exitGuard names the documents that must be present before a status can be
// left on the forward path.
type exitGuard struct {
	requires []SlotKey
	rule     string
}

// Workflow is the transition table of one application kind. All kinds share
// the execution logic below; they differ only in sequence, guards and slots.
type Workflow struct {
	kind     catalog.Kind
	sequence []catalog.Status
	guards   map[catalog.Status]exitGuard
	slots    map[SlotKey]SlotRule
}

var workflows = map[catalog.Kind]*Workflow{}

func init() {
	for _, k := range catalog.Kinds() {
		workflows[k] = newWorkflow(k)
	}
}

// WorkflowFor returns the shared, read-only workflow of kind, or nil for an
// unknown kind.
func WorkflowFor(kind catalog.Kind) *Workflow {
	return workflows[kind]
}

func newWorkflow(kind catalog.Kind) *Workflow {
	w := &Workflow{
		kind:     kind,
		sequence: catalog.Sequence(kind),
		guards: map[catalog.Status]exitGuard{
			catalog.StatusPengajuan: {
				requires: []SlotKey{KeyApplicationForm, KeyRequirementsArchive},
				rule:     "application_form and requirements_archive must be uploaded before leaving pengajuan",
			},
			catalog.StatusPembayaran: {
				requires: []SlotKey{KeyPaymentStage1},
				rule:     "at least one stage-1 payment proof is required before leaving pembayaran",
			},
			catalog.StatusVerifikasiLapangan: {
				requires: []SlotKey{KeyFieldVerification},
				rule:     "at least one field verification document is required before leaving verifikasi-lapangan",
			},
		},
		slots: map[SlotKey]SlotRule{},
	}

	issuanceStates := []catalog.Status{catalog.StatusMenungguTerbit, catalog.StatusTerbit}
	if kind.IsSupervisory() {
		issuanceStates = []catalog.Status{catalog.StatusVerifikasiLapangan, catalog.StatusTerbit}
	}

	rules := []SlotRule{
		{Key: KeyApplicationForm, Cardinality: CardinalitySingle, Uploader: UploaderOwner},
		{Key: KeyRequirementsArchive, Cardinality: CardinalitySingle, Uploader: UploaderOwner},
		{Key: KeyPaymentStage1, Cardinality: CardinalityMulti, Uploader: UploaderOwner,
			AcceptIn: []catalog.Status{catalog.StatusPembayaran}},
		{Key: KeyFieldVerification, Cardinality: CardinalityMulti, Uploader: UploaderAdmin,
			AcceptIn: []catalog.Status{catalog.StatusVerifikasiLapangan}},
		{Key: KeyIssuance, Cardinality: CardinalityMulti, Uploader: UploaderAdmin,
			AcceptIn: issuanceStates},
		{Key: KeyAdditional, Cardinality: CardinalityMulti, Uploader: UploaderEither, AllowTerbit: true},
	}
	if !kind.IsSupervisory() {
		w.guards[catalog.StatusPembayaranTahap2] = exitGuard{
			requires: []SlotKey{KeyPaymentStage2},
			rule:     "at least one stage-2 payment proof is required before leaving pembayaran-tahap-2",
		}
		rules = append(rules, SlotRule{
			Key: KeyPaymentStage2, Cardinality: CardinalityMulti, Uploader: UploaderOwner,
			AcceptIn:               []catalog.Status{catalog.StatusVerifikasiLapangan, catalog.StatusPembayaranTahap2},
			RequiresStage1Verified: true,
		})
	}
	for _, r := range rules {
		w.slots[r.Key] = r
	}
	return w
}

func (w *Workflow) Kind() catalog.Kind { return w.kind }

// PreTerminal is the status from which Issue is allowed.
func (w *Workflow) PreTerminal() catalog.Status {
	return w.sequence[len(w.sequence)-2]
}

// Slots lists the uploadable slots of the kind in declaration order.
func (w *Workflow) Slots() []SlotRule {
	order := []SlotKey{KeyApplicationForm, KeyRequirementsArchive, KeyPaymentStage1, KeyPaymentStage2,
		KeyFieldVerification, KeyIssuance, KeyAdditional}
	out := make([]SlotRule, 0, len(order))
	for _, k := range order {
		if r, ok := w.slots[k]; ok {
			out = append(out, r)
		}
	}
	return out
}

func (w *Workflow) SlotRule(key SlotKey) (SlotRule, bool) {
	r, ok := w.slots[key]
	return r, ok
}

func (w *Workflow) checkExit(from catalog.Status, docs DocumentCounts) error {
	g, ok := w.guards[from]
	if !ok {
		return nil
	}
	for _, key := range g.requires {
		if docs[key] == 0 {
			return dErrors.Guard(g.rule)
		}
	}
	return nil
}

// CanAdvance returns the status an advance from app's current status would
// reach, or the guard it violates. Advance never enters terbit.
func (w *Workflow) CanAdvance(app *Application, docs DocumentCounts) (catalog.Status, error) {
	from := app.Status
	if from.IsTerminal() {
		return "", dErrors.Guard(fmt.Sprintf("application is %s and cannot change status", from))
	}
	if from == catalog.StatusPerbaikan {
		return "", dErrors.Guard("application is awaiting correction; the applicant must re-upload the form or archive")
	}
	to, ok := catalog.Next(w.kind, from)
	if !ok {
		return "", dErrors.Guard(fmt.Sprintf("no forward transition from %s", from))
	}
	if to == catalog.StatusTerbit {
		return "", dErrors.Guard(fmt.Sprintf("advance cannot enter terbit; issue the application from %s", from))
	}
	if err := w.checkExit(from, docs); err != nil {
		return "", err
	}
	return to, nil
}

// CanIssue checks an issue from app's current status.
func (w *Workflow) CanIssue(app *Application, docs DocumentCounts, issuedNumber string) error {
	if app.Status.IsTerminal() {
		return dErrors.Guard(fmt.Sprintf("application is %s and cannot change status", app.Status))
	}
	if app.Status != w.PreTerminal() {
		return dErrors.Guard(fmt.Sprintf("issue is only allowed from %s", w.PreTerminal()))
	}
	if strings.TrimSpace(issuedNumber) == "" {
		return dErrors.New(dErrors.CodeValidation, "issued number is required")
	}
	return w.checkExit(app.Status, docs)
}

func (w *Workflow) CanReject(app *Application) error {
	if app.Status.IsTerminal() {
		return dErrors.Guard(fmt.Sprintf("application is %s and cannot be rejected", app.Status))
	}
	return nil
}

// CanRequestCorrection holds in every non-terminal state. Asking again while
// in perbaikan replaces the reason and is logged as a re-affirmation.
func (w *Workflow) CanRequestCorrection(app *Application) error {
	if app.Status.IsTerminal() {
		return dErrors.Guard(fmt.Sprintf("application is %s and cannot be sent back for correction", app.Status))
	}
	return nil
}

// CanResubmit holds when a corrected form or archive is being uploaded.
func (w *Workflow) CanResubmit(app *Application) error {
	if app.Status != catalog.StatusPerbaikan {
		return dErrors.Guard("only applications awaiting correction can be resubmitted")
	}
	return nil
}

// CanAttach checks one upload against the slot policy. Role violations are
// Forbidden; everything else is a GuardViolation.
func (w *Workflow) CanAttach(app *Application, key SlotKey, isAdmin bool) (SlotRule, error) {
	rule, ok := w.slots[key]
	if !ok {
		if key == KeyPaymentStage2 && w.kind.IsSupervisory() {
			return SlotRule{}, dErrors.Guard("stage-2 payment proof is not part of the pengawasan lifecycle")
		}
		return SlotRule{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s is not an uploadable slot", key))
	}
	if !rule.Uploader.allows(isAdmin) {
		who := "the applicant"
		if rule.Uploader == UploaderAdmin {
			who = "an admin"
		}
		return SlotRule{}, dErrors.New(dErrors.CodeForbidden, fmt.Sprintf("only %s may upload %s", who, key))
	}
	if rule.RequiresStage1Verified && !app.Stage1Verified() {
		return SlotRule{}, dErrors.Guard("stage-2 payment proof requires the stage-1 payment to be verified first")
	}
	if !rule.accepts(app.Status) {
		return SlotRule{}, dErrors.Guard(fmt.Sprintf("%s cannot be uploaded while status is %s", key, app.Status))
	}
	return rule, nil
}
