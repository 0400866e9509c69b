package service

import (
	"context"
	"errors"

	"iinportal/internal/application/models"
	dErrors "iinportal/pkg/domain-errors"
	"iinportal/pkg/platform/audit"
	"iinportal/pkg/platform/sentinel"
	"iinportal/pkg/requestcontext"
)

func findReimbursement(ctx context.Context, st Store, applicationID int64) (*models.Reimbursement, error) {
	r, err := st.FindReimbursement(ctx, applicationID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "reimbursement not found")
	}
	return r, err
}

// SubmitReimbursement records the applicant's expense proofs. A re-upload
// replaces the previous record and resets it to pending.
func (s *Service) SubmitReimbursement(ctx context.Context, req models.ReimbursementRequest) (_ *models.Reimbursement, err error) {
	ctx, end := s.startSpan(ctx, "submit_reimbursement", req.ApplicationID)
	defer end(&err)

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	uploads := []models.Upload{{Key: models.KeyAdditional, Files: req.Files}}
	if err := validateUploads(uploads); err != nil {
		return nil, err
	}

	current, err := s.store.FindApplication(ctx, req.ApplicationID)
	if err != nil {
		return nil, translateStoreError(err, "load application")
	}
	if err := canView(actor, current); err != nil {
		return nil, err
	}
	if !current.IsOwnedBy(actor.UserID) {
		return nil, dErrors.New(dErrors.CodeForbidden, "only the applicant may submit a reimbursement")
	}
	if err := models.CanSubmitReimbursement(current); err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	proofs := make([]models.ReimbursementProof, len(req.Files))
	for i, f := range req.Files {
		proofs[i] = models.ReimbursementProof{OriginalName: f.Name, UploadedAt: now}
	}
	reimb, err := models.NewReimbursement(current.ID, req.Amount, req.Description, proofs, actor.UserID, now)
	if err != nil {
		return nil, err
	}

	stored, err := s.storeBlobs(ctx, uploads)
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(stored))
	for i, f := range stored {
		reimb.Proofs[i].OriginalName = f.name
		reimb.Proofs[i].StoredPath = f.path
		paths[i] = f.path
	}

	var app *models.Application
	txErr := s.tx.RunInTx(ctx, req.ApplicationID, func(ctx context.Context, st Store) error {
		var err error
		if app, err = loadForUpdate(ctx, st, req.ApplicationID); err != nil {
			return err
		}
		if err := models.CanSubmitReimbursement(app); err != nil {
			return err
		}
		return st.SaveReimbursement(ctx, reimb)
	})
	if txErr != nil {
		s.deleteOrphans(ctx, paths)
		return nil, translateStoreError(txErr, "submit reimbursement")
	}

	s.logAudit(ctx, audit.EventReimbursementSubmit, app, string(app.Status), reimb.Amount.StringFixed(2))
	return reimb, nil
}

// VerifyReimbursement approves or rejects a pending reimbursement.
func (s *Service) VerifyReimbursement(ctx context.Context, id int64, approve bool, note string) (_ *models.Reimbursement, err error) {
	ctx, end := s.startSpan(ctx, "verify_reimbursement", id)
	defer end(&err)

	actor, err := requireAdmin(ctx)
	if err != nil {
		return nil, err
	}
	note, err = normalizeNote(note, !approve)
	if err != nil {
		return nil, err
	}

	var (
		app   *models.Application
		reimb *models.Reimbursement
	)
	txErr := s.tx.RunInTx(ctx, id, func(ctx context.Context, st Store) error {
		var err error
		if app, err = loadForUpdate(ctx, st, id); err != nil {
			return err
		}
		if reimb, err = findReimbursement(ctx, st, id); err != nil {
			return err
		}
		if err := reimb.CanReview(); err != nil {
			return err
		}
		reimb.ApplyReview(approve, note, actor.UserID, requestcontext.Now(ctx))
		return st.SaveReimbursement(ctx, reimb)
	})
	if txErr != nil {
		return nil, translateStoreError(txErr, "verify reimbursement")
	}

	event := audit.EventReimbursementVerified
	if !approve {
		event = audit.EventReimbursementRejected
	}
	s.logAudit(ctx, event, app, string(app.Status), note)
	return reimb, nil
}

// DownloadReimbursementProof returns one proof file by position.
func (s *Service) DownloadReimbursementProof(ctx context.Context, id int64, index int) (*models.ReimbursementProof, []byte, error) {
	app, err := s.viewable(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	reimb, err := findReimbursement(ctx, s.store, app.ID)
	if err != nil {
		return nil, nil, translateStoreError(err, "load reimbursement")
	}
	if index < 0 || index >= len(reimb.Proofs) {
		return nil, nil, dErrors.New(dErrors.CodeNotFound, "proof not found")
	}
	proof := reimb.Proofs[index]
	data, err := s.retrieve(ctx, proof.StoredPath)
	if err != nil {
		return nil, nil, err
	}
	return &proof, data, nil
}
