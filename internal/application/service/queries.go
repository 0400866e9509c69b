package service

import (
	"context"
	"errors"

	"iinportal/internal/application/models"
	"iinportal/internal/catalog"
	dErrors "iinportal/pkg/domain-errors"
	"iinportal/pkg/platform/sentinel"
	"iinportal/pkg/requestcontext"
)

// viewable loads an application the caller may see.
func (s *Service) viewable(ctx context.Context, id int64) (*models.Application, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	app, err := s.store.FindApplication(ctx, id)
	if err != nil {
		return nil, translateStoreError(err, "load application")
	}
	if err := canView(actor, app); err != nil {
		return nil, err
	}
	return app, nil
}

// FindViewable returns the application when the caller owns it or is an
// admin. Other callers get NotFound.
func (s *Service) FindViewable(ctx context.Context, id int64) (*models.Application, error) {
	return s.viewable(ctx, id)
}

// Get returns the application with its slot listing and latest note.
func (s *Service) Get(ctx context.Context, id int64) (*models.Detail, error) {
	app, err := s.viewable(ctx, id)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.ListDocuments(ctx, app.ID)
	if err != nil {
		return nil, translateStoreError(err, "list documents")
	}

	detail := &models.Detail{
		Application: app,
		StatusLabel: catalog.Describe(app.Kind, app.Status),
		Slots:       slotViews(app, docs, requestcontext.Actor(ctx).Role.IsAdmin()),
		LatestNote:  app.Notes,
	}
	for i := range docs {
		if docs[i].Slot == models.SlotCertificate {
			detail.Certificate = &docs[i]
		}
	}

	reimb, err := s.store.FindReimbursement(ctx, app.ID)
	switch {
	case err == nil:
		detail.Reimbursement = reimb
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, translateStoreError(err, "load reimbursement")
	}
	return detail, nil
}

// slotViews groups current documents by slot in the kind's slot order and
// marks the slots the caller could upload to right now.
func slotViews(app *models.Application, docs []models.Document, isAdmin bool) []models.SlotView {
	wf := app.Workflow()
	rules := wf.Slots()
	views := make([]models.SlotView, 0, len(rules))
	for _, rule := range rules {
		view := models.SlotView{
			Slot:        rule.Key.Slot,
			Stage:       rule.Key.Stage,
			Cardinality: rule.Cardinality,
			Uploader:    rule.Uploader,
			Documents:   []models.Document{},
		}
		_, err := wf.CanAttach(app, rule.Key, isAdmin)
		view.Uploadable = err == nil
		for _, d := range docs {
			if d.Key() == rule.Key {
				view.Documents = append(view.Documents, d)
			}
		}
		views = append(views, view)
	}
	return views
}

// List pages applications. Applicants only ever see their own.
func (s *Service) List(ctx context.Context, filter models.ListFilter) (*models.Page, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if !actor.Role.IsAdmin() {
		filter.OwnerID = actor.UserID
	}
	if filter.Kind != 0 && !filter.Kind.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown application kind")
	}
	if filter.Status == catalog.StatusUnknown {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown status filter")
	}
	filter = filter.Normalize()

	items, total, err := s.store.ListApplications(ctx, filter)
	if err != nil {
		return nil, translateStoreError(err, "list applications")
	}
	return &models.Page{Items: items, Total: total, Limit: filter.Limit, Offset: filter.Offset}, nil
}

// StatusLog lists the status audit log in creation order.
func (s *Service) StatusLog(ctx context.Context, id int64) ([]models.StatusLogEntry, error) {
	app, err := s.viewable(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListStatusLog(ctx, app.ID)
	if err != nil {
		return nil, translateStoreError(err, "list status log")
	}
	return entries, nil
}

// DocumentHistory lists every upload attempt, including superseded ones.
func (s *Service) DocumentHistory(ctx context.Context, id int64) ([]models.DocumentHistoryEntry, error) {
	app, err := s.viewable(ctx, id)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListDocumentHistory(ctx, app.ID)
	if err != nil {
		return nil, translateStoreError(err, "list document history")
	}
	return entries, nil
}
