package service

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"golang.org/x/sync/errgroup"

	"iinportal/internal/application/models"
	"iinportal/internal/catalog"
	dErrors "iinportal/pkg/domain-errors"
	"iinportal/pkg/platform/audit"
	"iinportal/pkg/platform/sentinel"
	"iinportal/pkg/requestcontext"
)

const (
	// MaxFileSize bounds a single uploaded file.
	MaxFileSize = 10 << 20
	maxFiles    = 20
	// MaxRequestSize bounds a whole multipart request.
	MaxRequestSize = maxFiles*MaxFileSize + 1<<20
	// blobConcurrency bounds parallel blob writes per request.
	blobConcurrency = 4
)

func validateUploads(uploads []models.Upload) error {
	if len(uploads) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one upload is required")
	}
	total := 0
	seen := make(map[models.SlotKey]bool, len(uploads))
	for _, u := range uploads {
		if seen[u.Key] {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s is given more than once", u.Key))
		}
		seen[u.Key] = true
		if len(u.Files) == 0 {
			return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("no files for %s", u.Key))
		}
		for _, f := range u.Files {
			if name := path.Base(f.Name); strings.TrimSpace(f.Name) == "" || name == "." || name == "/" {
				return dErrors.New(dErrors.CodeValidation, "file name is required")
			}
			if len(f.Data) == 0 {
				return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s is empty", f.Name))
			}
			if len(f.Data) > MaxFileSize {
				return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s exceeds the 10 MiB limit", f.Name))
			}
		}
		total += len(u.Files)
	}
	if total > maxFiles {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("at most %d files per request", maxFiles))
	}
	return nil
}

// checkAttach applies the slot policy to every upload.
func checkAttach(app *models.Application, uploads []models.Upload, isAdmin bool) ([]models.SlotRule, error) {
	rules := make([]models.SlotRule, len(uploads))
	for i, u := range uploads {
		rule, err := app.Workflow().CanAttach(app, u.Key, isAdmin)
		if err != nil {
			return nil, err
		}
		if rule.Cardinality == models.CardinalitySingle && len(u.Files) > 1 {
			return nil, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("%s takes a single file", u.Key))
		}
		rules[i] = rule
	}
	return rules, nil
}

// storedFile is a blob written ahead of the transaction that records it.
type storedFile struct {
	upload int
	name   string
	path   string
}

// Attach stores the files of every upload in their slots. Single slots are
// replaced and multi slots appended; all rows share one upload time. When the
// application awaits correction and the form or archive is re-uploaded, the
// application is resubmitted once, with one log entry, in the same
// transaction.
func (s *Service) Attach(ctx context.Context, req models.AttachRequest) (_ *models.AttachResult, err error) {
	ctx, end := s.startSpan(ctx, "attach", req.ApplicationID)
	defer end(&err)

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := validateUploads(req.Uploads); err != nil {
		return nil, err
	}

	// Fail fast before any blob is written; the transaction checks again.
	current, err := s.store.FindApplication(ctx, req.ApplicationID)
	if err != nil {
		return nil, translateStoreError(err, "load application")
	}
	if err := canView(actor, current); err != nil {
		return nil, err
	}
	if current.Workflow() == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "application has an unknown kind")
	}
	if _, err := checkAttach(current, req.Uploads, actor.Role.IsAdmin()); err != nil {
		return nil, err
	}

	stored, err := s.storeBlobs(ctx, req.Uploads)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	result := &models.AttachResult{}
	var from catalog.Status
	txErr := s.tx.RunInTx(ctx, req.ApplicationID, func(ctx context.Context, st Store) error {
		app, err := loadForUpdate(ctx, st, req.ApplicationID)
		if err != nil {
			return err
		}
		rules, err := checkAttach(app, req.Uploads, actor.Role.IsAdmin())
		if err != nil {
			return err
		}
		from = app.Status

		docs := make([]models.Document, 0, len(stored))
		for _, f := range stored {
			upload := req.Uploads[f.upload]
			rule := rules[f.upload]
			doc := &models.Document{
				ApplicationID: app.ID,
				Slot:          upload.Key.Slot,
				Stage:         upload.Key.Stage,
				OriginalName:  f.name,
				StoredPath:    f.path,
				UploadedBy:    actor.UserID,
				UploadedAt:    now,
			}
			if err := st.AddDocument(ctx, doc, rule.Cardinality == models.CardinalitySingle); err != nil {
				return err
			}
			if err := st.AppendDocumentHistory(ctx, &models.DocumentHistoryEntry{
				ApplicationID: app.ID,
				Slot:          doc.Slot,
				Stage:         doc.Stage,
				Action:        rule.Action(),
				OriginalName:  doc.OriginalName,
				StoredPath:    doc.StoredPath,
				UploadedBy:    actor.UserID,
				CreatedAt:     now,
			}); err != nil {
				return err
			}
			docs = append(docs, *doc)
		}

		if app.Status == catalog.StatusPerbaikan && triggersResubmit(req.Uploads) {
			if err := resubmit(ctx, st, app, actor.UserID); err != nil {
				return err
			}
			result.Resubmitted = true
		}
		result.Documents = docs
		result.Application = app
		return nil
	})
	if txErr != nil {
		paths := make([]string, len(stored))
		for i, f := range stored {
			paths[i] = f.path
		}
		s.deleteOrphans(ctx, paths)
		return nil, translateStoreError(txErr, "attach documents")
	}

	app := result.Application
	for _, u := range req.Uploads {
		s.logAudit(ctx, audit.EventDocumentAttached, app, string(from), u.Key.String())
		if s.metrics != nil {
			s.metrics.AddDocumentsAttached(string(u.Key.Slot), len(u.Files))
		}
	}
	if result.Resubmitted {
		s.logAudit(ctx, audit.EventResubmitted, app, string(from), "")
		s.recordTransition(app, string(from))
	}
	return result, nil
}

func triggersResubmit(uploads []models.Upload) bool {
	for _, u := range uploads {
		if u.Key.TriggersResubmit() {
			return true
		}
	}
	return false
}

// storeBlobs writes every file in parallel. On failure the blobs already
// written are removed.
func (s *Service) storeBlobs(ctx context.Context, uploads []models.Upload) ([]storedFile, error) {
	var files []storedFile
	for i, u := range uploads {
		for _, f := range u.Files {
			files = append(files, storedFile{upload: i, name: path.Base(f.Name)})
		}
	}

	data := make([][]byte, 0, len(files))
	for _, u := range uploads {
		for _, f := range u.Files {
			data = append(data, f.Data)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(blobConcurrency)
	for i := range files {
		g.Go(func() error {
			p, err := s.blobs.Store(gctx, data[i], files[i].name)
			if err != nil {
				return err
			}
			files[i].path = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		var written []string
		for _, f := range files {
			if f.path != "" {
				written = append(written, f.path)
			}
		}
		s.deleteOrphans(ctx, written)
		return nil, dErrors.Wrap(err, dErrors.CodeStorageFault, "failed to store uploaded files")
	}
	return files, nil
}

// deleteOrphans removes blobs whose rows were never committed.
func (s *Service) deleteOrphans(ctx context.Context, paths []string) {
	ctx = context.WithoutCancel(ctx)
	for _, p := range paths {
		if err := s.blobs.Delete(ctx, p); err != nil && s.logger != nil {
			s.logger.WarnContext(ctx, "failed to delete orphaned blob",
				"path", p,
				"error", err,
			)
		}
	}
}

// ListFor returns the current documents of one slot in upload order.
func (s *Service) ListFor(ctx context.Context, id int64, key models.SlotKey) ([]models.Document, error) {
	app, err := s.viewable(ctx, id)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.ListDocuments(ctx, app.ID)
	if err != nil {
		return nil, translateStoreError(err, "list documents")
	}
	out := make([]models.Document, 0, len(docs))
	for _, d := range docs {
		if d.Key() == key {
			out = append(out, d)
		}
	}
	return out, nil
}

// DownloadDocument returns a current document and its content. Generated
// certificates are served through the survey gate instead.
func (s *Service) DownloadDocument(ctx context.Context, id, documentID int64) (*models.Document, []byte, error) {
	app, err := s.viewable(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	doc, err := s.findDocument(ctx, app.ID, func(d models.Document) bool { return d.ID == documentID })
	if err != nil {
		return nil, nil, err
	}
	if doc.Slot == models.SlotCertificate {
		return nil, nil, dErrors.New(dErrors.CodeForbidden, "certificates are downloaded through the survey gate")
	}
	data, err := s.retrieve(ctx, doc.StoredPath)
	if err != nil {
		return nil, nil, err
	}
	return doc, data, nil
}

// OpenCertificate returns the generated certificate of an issued
// application. Callers must have passed the survey gate.
func (s *Service) OpenCertificate(ctx context.Context, id int64) (*models.Application, *models.Document, []byte, error) {
	app, err := s.viewable(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	if app.Status != catalog.StatusTerbit {
		return nil, nil, nil, dErrors.Guard("the certificate is available once the application is issued")
	}
	doc, err := s.findDocument(ctx, app.ID, func(d models.Document) bool { return d.Slot == models.SlotCertificate })
	if err != nil {
		return nil, nil, nil, err
	}
	data, err := s.retrieve(ctx, doc.StoredPath)
	if err != nil {
		return nil, nil, nil, err
	}
	return app, doc, data, nil
}

func (s *Service) findDocument(ctx context.Context, applicationID int64, match func(models.Document) bool) (*models.Document, error) {
	docs, err := s.store.ListDocuments(ctx, applicationID)
	if err != nil {
		return nil, translateStoreError(err, "list documents")
	}
	for i := len(docs) - 1; i >= 0; i-- {
		if match(docs[i]) {
			return &docs[i], nil
		}
	}
	return nil, dErrors.New(dErrors.CodeNotFound, "document not found")
}

func (s *Service) retrieve(ctx context.Context, storedPath string) ([]byte, error) {
	data, err := s.blobs.Retrieve(ctx, storedPath)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "document content not found")
		}
		return nil, translateStoreError(err, "retrieve document")
	}
	return data, nil
}
