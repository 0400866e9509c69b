package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"iinportal/internal/application/metrics"
	"iinportal/internal/application/models"
	"iinportal/internal/catalog"
	dErrors "iinportal/pkg/domain-errors"
	"iinportal/pkg/platform/audit"
	"iinportal/pkg/platform/sentinel"
	"iinportal/pkg/requestcontext"
)

// Store persists applications and their satellites. Implementations return
// sentinel.ErrNotFound for missing rows.
type Store interface {
	// CreateApplication allocates the ID and assigns the application number.
	CreateApplication(ctx context.Context, app *models.Application) error
	FindApplication(ctx context.Context, id int64) (*models.Application, error)
	// FindApplicationForUpdate loads the application for a write within RunInTx.
	FindApplicationForUpdate(ctx context.Context, id int64) (*models.Application, error)
	// UpdateApplication writes app when the stored status is still expected and
	// returns sentinel.ErrInvalidState otherwise.
	UpdateApplication(ctx context.Context, app *models.Application, expected catalog.Status) error
	ListApplications(ctx context.Context, filter models.ListFilter) ([]*models.Application, int, error)

	AppendStatusLog(ctx context.Context, entry *models.StatusLogEntry) error
	ListStatusLog(ctx context.Context, applicationID int64) ([]models.StatusLogEntry, error)

	AddDocument(ctx context.Context, doc *models.Document, replace bool) error
	ListDocuments(ctx context.Context, applicationID int64) ([]models.Document, error)
	CountDocuments(ctx context.Context, applicationID int64) (models.DocumentCounts, error)
	AppendDocumentHistory(ctx context.Context, entry *models.DocumentHistoryEntry) error
	ListDocumentHistory(ctx context.Context, applicationID int64) ([]models.DocumentHistoryEntry, error)

	SaveReimbursement(ctx context.Context, r *models.Reimbursement) error
	FindReimbursement(ctx context.Context, applicationID int64) (*models.Reimbursement, error)
}

// TxRunner runs fn atomically. At most one transaction per application id is
// in flight; fn must use the ctx and store it is given.
type TxRunner interface {
	RunInTx(ctx context.Context, applicationID int64, fn func(ctx context.Context, store Store) error) error
}

// BlobStore holds uploaded files and generated certificates.
type BlobStore interface {
	Store(ctx context.Context, data []byte, suggestedName string) (string, error)
	Retrieve(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service runs the application lifecycle: one parametrized state machine
// over the per-kind Workflow tables.
type Service struct {
	store          Store
	tx             TxRunner
	blobs          BlobStore
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
	certificates   *certificateRenderer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// New constructs a Service. A nil tx runs every transaction through a
// sharded in-memory runner over store.
func New(store Store, tx TxRunner, blobs BlobStore, opts ...Option) *Service {
	s := &Service{
		store:        store,
		tx:           tx,
		blobs:        blobs,
		tracer:       otel.Tracer("iinportal/application"),
		certificates: newCertificateRenderer(),
	}
	if s.tx == nil {
		s.tx = NewShardedTx(store)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// startSpan opens a span and a duration observation for a command.
func (s *Service) startSpan(ctx context.Context, operation string, applicationID int64) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "application."+operation,
		trace.WithAttributes(attribute.Int64("application.id", applicationID)))
	return ctx, func(errp *error) {
		if s.metrics != nil {
			s.metrics.ObserveCommand(operation, start)
		}
		if errp != nil && *errp != nil {
			err := *errp
			span.RecordError(err)
			span.SetStatus(codes.Error, dErrors.MessageOf(err))
			s.countFailure(operation, err)
		}
		span.End()
	}
}

func (s *Service) countFailure(operation string, err error) {
	if s.metrics == nil {
		return
	}
	switch dErrors.CodeOf(err) {
	case dErrors.CodeGuardViolation:
		s.metrics.IncrementGuardViolation(operation)
	case dErrors.CodeStorageFault:
		s.metrics.IncrementStorageFault(operation)
	}
}

// requireAdmin returns the acting admin or Forbidden.
func requireAdmin(ctx context.Context) (requestcontext.Principal, error) {
	actor := requestcontext.Actor(ctx)
	if actor.IsZero() {
		return actor, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if !actor.Role.IsAdmin() {
		return actor, dErrors.New(dErrors.CodeForbidden, "admin role required")
	}
	return actor, nil
}

func requireActor(ctx context.Context) (requestcontext.Principal, error) {
	actor := requestcontext.Actor(ctx)
	if actor.IsZero() {
		return actor, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	return actor, nil
}

// canView hides applications of other applicants behind NotFound.
func canView(actor requestcontext.Principal, app *models.Application) error {
	if actor.Role.IsAdmin() || app.IsOwnedBy(actor.UserID) {
		return nil
	}
	return dErrors.New(dErrors.CodeNotFound, "application not found")
}

// translateStoreError maps store failures to domain errors. Domain errors
// raised inside a transaction pass through unchanged.
func translateStoreError(err error, action string) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "application not found")
	}
	if errors.Is(err, sentinel.ErrInvalidState) {
		return dErrors.Wrap(err, dErrors.CodeConflict, "application changed while it was being updated, retry")
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "failed to "+action)
	}
	return dErrors.Wrap(err, dErrors.CodeStorageFault, "failed to "+action)
}

// loadForUpdate loads the application inside a transaction.
func loadForUpdate(ctx context.Context, st Store, id int64) (*models.Application, error) {
	app, err := st.FindApplicationForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if app.Workflow() == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "application has an unknown kind")
	}
	return app, nil
}

// writeTransition persists app and its log entry. Both writes share the
// caller's transaction.
func writeTransition(ctx context.Context, st Store, app *models.Application, entry models.StatusLogEntry) error {
	if err := app.CheckInvariants(); err != nil {
		return err
	}
	expected := app.Status
	if entry.From != nil {
		expected = *entry.From
	}
	if err := st.UpdateApplication(ctx, app, expected); err != nil {
		return err
	}
	return st.AppendStatusLog(ctx, &entry)
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, app *models.Application, from, detail string) {
	requestID := requestcontext.RequestID(ctx)
	actor := requestcontext.UserID(ctx)
	if s.logger != nil {
		args := []any{
			"event", string(event),
			"log_type", "audit",
			"application_id", app.ID,
			"kind", app.Kind.String(),
			"status", string(app.Status),
			"user_id", actor,
		}
		if requestID != "" {
			args = append(args, "request_id", requestID)
		}
		s.logger.InfoContext(ctx, string(event), args...)
	}
	if s.auditPublisher == nil {
		return
	}
	err := s.auditPublisher.Emit(ctx, audit.Event{
		UserID:          actor,
		ApplicationID:   app.ID,
		ApplicationKind: app.Kind.String(),
		Action:          string(event),
		StatusFrom:      from,
		StatusTo:        string(app.Status),
		Detail:          detail,
		RequestID:       requestID,
	})
	if err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to publish audit event",
			"event", string(event),
			"application_id", app.ID,
			"error", err,
		)
	}
}

func (s *Service) recordTransition(app *models.Application, from string) {
	if s.metrics != nil {
		s.metrics.IncrementTransition(app.Kind.String(), from, string(app.Status))
	}
}
