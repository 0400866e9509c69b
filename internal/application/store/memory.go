package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"iinportal/internal/application/models"
	"iinportal/internal/catalog"
	"iinportal/pkg/platform/sentinel"
)

// Error Contract:
// - Return sentinel.ErrNotFound when the requested entity does not exist
// - Return nil for successful operations
// - Postgres wraps infrastructure failures; the in-memory store never fails

type record struct {
	app     models.Application
	logs    []models.StatusLogEntry
	docs    []models.Document
	history []models.DocumentHistoryEntry
	reimb   *models.Reimbursement
}

func (r *record) clone() *record {
	c := &record{
		app:     r.app,
		logs:    slices.Clone(r.logs),
		docs:    slices.Clone(r.docs),
		history: slices.Clone(r.history),
	}
	if r.reimb != nil {
		rb := *r.reimb
		rb.Proofs = slices.Clone(r.reimb.Proofs)
		c.reimb = &rb
	}
	return c
}

// InMemoryStore keeps applications and their satellites in process memory.
// Used for development and tests; the service's sharded transaction runner
// serializes writers per application and restores a checkpoint on failure.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[int64]*record
	nextApp int64
	nextLog int64
	nextDoc int64
	nextHis int64
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{records: make(map[int64]*record)}
}

// Checkpoint captures the state of one application and returns a function
// that restores it. A zero id captures the set of applications so that rows
// created afterwards are dropped on restore.
func (s *InMemoryStore) Checkpoint(applicationID int64) (restore func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if applicationID == 0 {
		high := s.nextApp
		return func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for id := range s.records {
				if id > high {
					delete(s.records, id)
				}
			}
		}
	}

	var saved *record
	if r, ok := s.records[applicationID]; ok {
		saved = r.clone()
	}
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if saved == nil {
			delete(s.records, applicationID)
			return
		}
		s.records[applicationID] = saved
	}
}

func (s *InMemoryStore) CreateApplication(_ context.Context, app *models.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextApp++
	app.ID = s.nextApp
	if err := app.AssignNumber(); err != nil {
		return err
	}
	s.records[app.ID] = &record{app: *app}
	return nil
}

func (s *InMemoryStore) FindApplication(_ context.Context, id int64) (*models.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	app := r.app
	return &app, nil
}

// FindApplicationForUpdate is FindApplication; the caller already holds the
// application's shard lock.
func (s *InMemoryStore) FindApplicationForUpdate(ctx context.Context, id int64) (*models.Application, error) {
	return s.FindApplication(ctx, id)
}

func (s *InMemoryStore) UpdateApplication(_ context.Context, app *models.Application, expected catalog.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[app.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if r.app.Status != expected {
		return fmt.Errorf("application %d is %s, not %s: %w", app.ID, r.app.Status, expected, sentinel.ErrInvalidState)
	}
	r.app = *app
	return nil
}

func (s *InMemoryStore) ListApplications(_ context.Context, filter models.ListFilter) ([]*models.Application, int, error) {
	filter = filter.Normalize()
	query := strings.ToLower(strings.TrimSpace(filter.Query))

	s.mu.RLock()
	matched := make([]*models.Application, 0, len(s.records))
	for _, r := range s.records {
		if !matches(&r.app, filter, query) {
			continue
		}
		app := r.app
		matched = append(matched, &app)
	}
	s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b *models.Application) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	total := len(matched)
	if filter.Offset >= total {
		return []*models.Application{}, total, nil
	}
	end := min(filter.Offset+filter.Limit, total)
	return matched[filter.Offset:end], total, nil
}

func matches(app *models.Application, f models.ListFilter, query string) bool {
	if app.Archived && !f.IncludeArchived {
		return false
	}
	if f.Kind != 0 && app.Kind != f.Kind {
		return false
	}
	if f.Status != "" && app.Status != f.Status {
		return false
	}
	if f.OwnerID != 0 && app.Owner.ID != f.OwnerID {
		return false
	}
	if query == "" {
		return true
	}
	return strings.Contains(strings.ToLower(app.Number), query) ||
		strings.Contains(strings.ToLower(app.CompanyName), query) ||
		strings.Contains(strings.ToLower(app.Owner.Name), query)
}

func (s *InMemoryStore) AppendStatusLog(_ context.Context, entry *models.StatusLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[entry.ApplicationID]
	if !ok {
		return sentinel.ErrNotFound
	}
	s.nextLog++
	entry.ID = s.nextLog
	r.logs = append(r.logs, *entry)
	return nil
}

func (s *InMemoryStore) ListStatusLog(_ context.Context, applicationID int64) ([]models.StatusLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[applicationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return slices.Clone(r.logs), nil
}

// AddDocument stores doc; replace drops the slot's current documents first.
func (s *InMemoryStore) AddDocument(_ context.Context, doc *models.Document, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[doc.ApplicationID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if replace {
		key := doc.Key()
		r.docs = slices.DeleteFunc(r.docs, func(d models.Document) bool { return d.Key() == key })
	}
	s.nextDoc++
	doc.ID = s.nextDoc
	r.docs = append(r.docs, *doc)
	return nil
}

func (s *InMemoryStore) ListDocuments(_ context.Context, applicationID int64) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[applicationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	docs := slices.Clone(r.docs)
	slices.SortStableFunc(docs, func(a, b models.Document) int {
		return a.UploadedAt.Compare(b.UploadedAt)
	})
	return docs, nil
}

func (s *InMemoryStore) CountDocuments(_ context.Context, applicationID int64) (models.DocumentCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[applicationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	counts := models.DocumentCounts{}
	for _, d := range r.docs {
		counts[d.Key()]++
	}
	return counts, nil
}

func (s *InMemoryStore) AppendDocumentHistory(_ context.Context, entry *models.DocumentHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[entry.ApplicationID]
	if !ok {
		return sentinel.ErrNotFound
	}
	s.nextHis++
	entry.ID = s.nextHis
	r.history = append(r.history, *entry)
	return nil
}

func (s *InMemoryStore) ListDocumentHistory(_ context.Context, applicationID int64) ([]models.DocumentHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[applicationID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return slices.Clone(r.history), nil
}

// SaveReimbursement inserts or replaces the application's reimbursement.
func (s *InMemoryStore) SaveReimbursement(_ context.Context, reimb *models.Reimbursement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[reimb.ApplicationID]
	if !ok {
		return sentinel.ErrNotFound
	}
	c := *reimb
	c.Proofs = slices.Clone(reimb.Proofs)
	r.reimb = &c
	return nil
}

func (s *InMemoryStore) FindReimbursement(_ context.Context, applicationID int64) (*models.Reimbursement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[applicationID]
	if !ok || r.reimb == nil {
		return nil, sentinel.ErrNotFound
	}
	c := *r.reimb
	c.Proofs = slices.Clone(r.reimb.Proofs)
	return &c, nil
}
