package service

import (
	"context"
	"strings"

	"iinportal/internal/application/models"
	"iinportal/internal/catalog"
	dErrors "iinportal/pkg/domain-errors"
	"iinportal/pkg/platform/audit"
	"iinportal/pkg/requestcontext"
)

const maxNoteLength = 2000

func normalizeNote(note string, required bool) (string, error) {
	note = strings.TrimSpace(note)
	if required && note == "" {
		return "", dErrors.New(dErrors.CodeValidation, "note is required")
	}
	if len(note) > maxNoteLength {
		return "", dErrors.New(dErrors.CodeValidation, "note must be 2000 characters or less")
	}
	return note, nil
}

// Submit creates an application in pengajuan owned by the caller and writes
// the creation log entry.
func (s *Service) Submit(ctx context.Context, req models.SubmitRequest) (_ *models.Application, err error) {
	ctx, end := s.startSpan(ctx, "submit", 0)
	defer end(&err)

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if actor.Role.IsAdmin() {
		return nil, dErrors.New(dErrors.CodeForbidden, "applications are submitted by applicants")
	}
	now := requestcontext.Now(ctx)

	app, err := models.NewApplication(req.Kind, models.UserRef{ID: actor.UserID, Name: strings.TrimSpace(req.OwnerName)}, req.CompanyName, now)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeInvariantViolation) {
			return nil, dErrors.New(dErrors.CodeValidation, dErrors.MessageOf(err))
		}
		return nil, err
	}

	txErr := s.tx.RunInTx(ctx, 0, func(ctx context.Context, st Store) error {
		if err := st.CreateApplication(ctx, app); err != nil {
			return err
		}
		entry := models.NewLogEntry(app.ID, nil, app.Status, actor.UserID, "", now)
		return st.AppendStatusLog(ctx, &entry)
	})
	if txErr != nil {
		return nil, translateStoreError(txErr, "submit application")
	}

	s.logAudit(ctx, audit.EventApplicationSubmitted, app, "", app.Number)
	if s.metrics != nil {
		s.metrics.IncrementSubmitted(app.Kind.String())
	}
	return app, nil
}

// transitionFunc checks the guard and applies the change to app. It returns
// the log note and the event detail.
type transitionFunc func(ctx context.Context, st Store, app *models.Application) (note, detail string, err error)

// transition runs one admin status command: lock, guard, mutate, and write
// the application together with exactly one log entry.
func (s *Service) transition(ctx context.Context, operation string, id int64, event audit.AuditEvent, apply transitionFunc) (_ *models.Application, err error) {
	ctx, end := s.startSpan(ctx, operation, id)
	defer end(&err)

	actor, err := requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx)

	var (
		app    *models.Application
		from   catalog.Status
		detail string
	)
	txErr := s.tx.RunInTx(ctx, id, func(ctx context.Context, st Store) error {
		var err error
		app, err = loadForUpdate(ctx, st, id)
		if err != nil {
			return err
		}
		from = app.Status
		note, d, err := apply(ctx, st, app)
		if err != nil {
			return err
		}
		detail = d
		app.UpdatedAt = now
		return writeTransition(ctx, st, app, models.NewLogEntry(app.ID, &from, app.Status, actor.UserID, note, now))
	})
	if txErr != nil {
		return nil, translateStoreError(txErr, operation+" application")
	}

	s.logAudit(ctx, event, app, string(from), detail)
	if from != app.Status {
		s.recordTransition(app, string(from))
	}
	return app, nil
}

// RequestCorrection sends the application back to the applicant with a
// mandatory reason.
func (s *Service) RequestCorrection(ctx context.Context, id int64, note string) (*models.Application, error) {
	note, err := normalizeNote(note, true)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, "request_correction", id, audit.EventCorrectionRequested,
		func(ctx context.Context, _ Store, app *models.Application) (string, string, error) {
			if err := app.Workflow().CanRequestCorrection(app); err != nil {
				return "", "", err
			}
			app.ApplyCorrectionRequest(note, requestcontext.Now(ctx))
			return note, note, nil
		})
}

// Advance moves the application exactly one step forward along its kind's
// sequence. The state before terbit is left through Issue only.
func (s *Service) Advance(ctx context.Context, id int64) (*models.Application, error) {
	return s.transition(ctx, "advance", id, audit.EventStatusChanged,
		func(ctx context.Context, st Store, app *models.Application) (string, string, error) {
			docs, err := st.CountDocuments(ctx, app.ID)
			if err != nil {
				return "", "", err
			}
			to, err := app.Workflow().CanAdvance(app, docs)
			if err != nil {
				return "", "", err
			}
			app.ApplyAdvance(to, requestcontext.Now(ctx))
			return "", "", nil
		})
}

// Issue moves the application to terbit with the issued number and stores
// the generated certificate.
func (s *Service) Issue(ctx context.Context, id int64, issuedNumber string) (*models.Application, error) {
	issuedNumber = strings.TrimSpace(issuedNumber)
	var certificatePath string
	app, err := s.transition(ctx, "issue", id, audit.EventApplicationIssued,
		func(ctx context.Context, st Store, app *models.Application) (string, string, error) {
			docs, err := st.CountDocuments(ctx, app.ID)
			if err != nil {
				return "", "", err
			}
			if err := app.Workflow().CanIssue(app, docs, issuedNumber); err != nil {
				return "", "", err
			}
			now := requestcontext.Now(ctx)
			app.ApplyIssue(issuedNumber, now)

			doc, err := s.storeCertificate(ctx, app)
			if err != nil {
				return "", "", err
			}
			certificatePath = doc.StoredPath
			if err := st.AddDocument(ctx, doc, true); err != nil {
				return "", "", err
			}
			return "", issuedNumber, nil
		})
	if err != nil && certificatePath != "" {
		s.deleteOrphans(ctx, []string{certificatePath})
	}
	return app, err
}

// Reject moves any non-terminal application to ditolak. Irreversible.
func (s *Service) Reject(ctx context.Context, id int64, note string) (*models.Application, error) {
	note, err := normalizeNote(note, false)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, "reject", id, audit.EventApplicationRejected,
		func(ctx context.Context, _ Store, app *models.Application) (string, string, error) {
			if err := app.Workflow().CanReject(app); err != nil {
				return "", "", err
			}
			app.ApplyReject(note, requestcontext.Now(ctx))
			return note, note, nil
		})
}

// SetNote replaces the admin remark and records it as a re-affirmation entry.
func (s *Service) SetNote(ctx context.Context, id int64, note string) (*models.Application, error) {
	note, err := normalizeNote(note, false)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, "set_note", id, audit.EventNoteSet,
		func(ctx context.Context, _ Store, app *models.Application) (string, string, error) {
			if app.Status == catalog.StatusDitolak {
				return "", "", dErrors.Guard("the note of a rejected application holds the rejection reason and cannot be changed")
			}
			app.ApplyNote(note, requestcontext.Now(ctx))
			return note, note, nil
		})
}

// resubmit is ResubmitAfterCorrection: perbaikan back to pengajuan. It runs
// inside the attach transaction and writes its own log entry.
func resubmit(ctx context.Context, st Store, app *models.Application, by int64) error {
	if err := app.Workflow().CanResubmit(app); err != nil {
		return err
	}
	from := app.Status
	now := requestcontext.Now(ctx)
	app.ApplyResubmit(now)
	return writeTransition(ctx, st, app, models.NewLogEntry(app.ID, &from, app.Status, by, "", now))
}

// AssignVerificator records the admin responsible for the application.
func (s *Service) AssignVerificator(ctx context.Context, id int64, verificator models.UserRef) (_ *models.Application, err error) {
	ctx, end := s.startSpan(ctx, "assign_verificator", id)
	defer end(&err)

	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if verificator.ID <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "verificator id is required")
	}
	verificator.Name = strings.TrimSpace(verificator.Name)

	var app *models.Application
	txErr := s.tx.RunInTx(ctx, id, func(ctx context.Context, st Store) error {
		var err error
		if app, err = loadForUpdate(ctx, st, id); err != nil {
			return err
		}
		if app.Status.IsTerminal() {
			return dErrors.Guard("verificator cannot be changed once the application is " + string(app.Status))
		}
		app.Verificator = &verificator
		app.UpdatedAt = requestcontext.Now(ctx)
		return st.UpdateApplication(ctx, app, app.Status)
	})
	if txErr != nil {
		return nil, translateStoreError(txErr, "assign verificator")
	}
	s.logAudit(ctx, audit.EventVerificatorAssigned, app, string(app.Status), verificator.Name)
	return app, nil
}

// Archive soft-archives a terminal application. Archived applications are
// hidden from default listings and never deleted.
func (s *Service) Archive(ctx context.Context, id int64) (_ *models.Application, err error) {
	ctx, end := s.startSpan(ctx, "archive", id)
	defer end(&err)

	if _, err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	var app *models.Application
	txErr := s.tx.RunInTx(ctx, id, func(ctx context.Context, st Store) error {
		var err error
		if app, err = loadForUpdate(ctx, st, id); err != nil {
			return err
		}
		if !app.Status.IsTerminal() {
			return dErrors.Guard("only issued or rejected applications can be archived")
		}
		if app.Archived {
			return nil
		}
		app.Archived = true
		app.UpdatedAt = requestcontext.Now(ctx)
		return st.UpdateApplication(ctx, app, app.Status)
	})
	if txErr != nil {
		return nil, translateStoreError(txErr, "archive application")
	}
	s.logAudit(ctx, audit.EventApplicationArchived, app, string(app.Status), "")
	return app, nil
}
