package service

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	appmodels "iinportal/internal/application/models"
	"iinportal/internal/catalog"
	"iinportal/internal/survey/metrics"
	"iinportal/internal/survey/models"
	dErrors "iinportal/pkg/domain-errors"
	"iinportal/pkg/platform/audit"
	"iinportal/pkg/platform/circuit"
	"iinportal/pkg/platform/sentinel"
	"iinportal/pkg/requestcontext"
)

const (
	DefaultDwell      = 10 * time.Second
	DefaultSessionTTL = 30 * time.Minute
)

// CompletionStore persists survey completions. FindCompletion returns
// sentinel.ErrNotFound when the key has none; RecordCompletion reports
// whether a row was created.
type CompletionStore interface {
	FindCompletion(ctx context.Context, key models.Key) (*models.Completion, error)
	RecordCompletion(ctx context.Context, c *models.Completion) (bool, error)
}

// SessionStore holds open gate dialogs. FindSession returns
// sentinel.ErrNotFound for unknown or expired sessions.
type SessionStore interface {
	SaveSession(ctx context.Context, session *models.Session, ttl time.Duration) error
	FindSession(ctx context.Context, id string) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
}

// CompletionCache remembers positive checks. Misses fall through to the store.
type CompletionCache interface {
	IsCompleted(ctx context.Context, key models.Key) (bool, error)
	MarkCompleted(ctx context.Context, key models.Key) error
}

// CertificateSource authorizes keys and loads the certificate behind a gate.
// FindViewable reports applications the caller may not see as NotFound.
type CertificateSource interface {
	FindViewable(ctx context.Context, id int64) (*appmodels.Application, error)
	OpenCertificate(ctx context.Context, id int64) (*appmodels.Application, *appmodels.Document, []byte, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Service decides whether a gated download may proceed: either the survey was
// completed for the key, or the dialog has been open for the dwell period.
// Dwell never writes a completion.
type Service struct {
	completions    CompletionStore
	sessions       SessionStore
	cache          CompletionCache
	certificates   CertificateSource
	breaker        *circuit.Breaker
	group          singleflight.Group
	waiters        *waiters
	dwell          time.Duration
	sessionTTL     time.Duration
	surveyURL      string
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	after          func(time.Duration) <-chan time.Time
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

func WithCache(cache CompletionCache) Option {
	return func(s *Service) {
		s.cache = cache
	}
}

func WithDwell(d time.Duration) Option {
	return func(s *Service) {
		if d >= 0 {
			s.dwell = d
		}
	}
}

func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.sessionTTL = ttl
		}
	}
}

// WithSurveyURL sets the external survey form. The application key is added
// as query parameters.
func WithSurveyURL(raw string) Option {
	return func(s *Service) {
		s.surveyURL = raw
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Service) {
		if b != nil {
			s.breaker = b
		}
	}
}

// WithTimer overrides time.After for the long-poll dwell timer.
func WithTimer(after func(time.Duration) <-chan time.Time) Option {
	return func(s *Service) {
		s.after = after
	}
}

func New(completions CompletionStore, sessions SessionStore, certificates CertificateSource, opts ...Option) *Service {
	s := &Service{
		completions:  completions,
		sessions:     sessions,
		certificates: certificates,
		breaker:      circuit.New("survey-completions", circuit.WithFailureThreshold(3), circuit.WithCooldown(15*time.Second)),
		waiters:      newWaiters(),
		dwell:        DefaultDwell,
		sessionTTL:   DefaultSessionTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckCompletion reports whether the survey was completed for key. Backend
// failures are logged and read as false.
func (s *Service) CheckCompletion(ctx context.Context, key models.Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	return s.checkCompletion(ctx, key), nil
}

func (s *Service) checkCompletion(ctx context.Context, key models.Key) bool {
	if s.cache != nil {
		hit, err := s.cache.IsCompleted(ctx, key)
		if err != nil {
			s.warn(ctx, "survey completion cache unavailable", key, err)
		} else if hit {
			s.countCheck("completed")
			return true
		}
	}
	if !s.breaker.Allow() {
		s.countCheck("degraded")
		return false
	}

	v, err, _ := s.group.Do(key.String(), func() (any, error) {
		_, err := s.completions.FindCompletion(ctx, key)
		if errors.Is(err, sentinel.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		s.recordFailure(ctx)
		s.warn(ctx, "survey completion check failed", key, err)
		s.countCheck("degraded")
		return false
	}
	s.recordSuccess(ctx)

	completed, _ := v.(bool)
	if !completed {
		s.countCheck("pending")
		return false
	}
	s.countCheck("completed")
	s.markCached(ctx, key)
	return true
}

// RecordCompletion stores the completion of key. Recording an existing key
// succeeds without changing it. A key naming an application kind must belong
// to an application the caller may see.
func (s *Service) RecordCompletion(ctx context.Context, key models.Key, certificateType string) error {
	if _, err := requireActor(ctx); err != nil {
		return err
	}
	completion, err := models.NewCompletion(key, certificateType, requestcontext.Now(ctx).UTC())
	if err != nil {
		return err
	}
	if _, err := s.resolveKey(ctx, key); err != nil {
		return err
	}
	created, err := s.completions.RecordCompletion(ctx, completion)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorageFault, "failed to record survey completion")
	}
	s.markCached(ctx, key)
	s.waiters.notify(key)

	if !created {
		if s.metrics != nil {
			s.metrics.IncrementCompletion("duplicate")
		}
		return nil
	}
	if s.metrics != nil {
		s.metrics.IncrementCompletion("created")
	}
	s.logAudit(ctx, audit.EventSurveyCompleted, key, completion.CertificateType)
	return nil
}

// OpenGate starts a dialog for key. The dwell period counts from now.
func (s *Service) OpenGate(ctx context.Context, key models.Key) (*models.GateView, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx).UTC()
	session := &models.Session{
		ID:       uuid.NewString(),
		Key:      key,
		UserID:   actor.UserID,
		OpenedAt: now,
	}
	if err := s.sessions.SaveSession(ctx, session, s.sessionTTL); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageFault, "failed to open survey gate")
	}
	return s.evaluate(ctx, session, now), nil
}

// GateStatus re-evaluates an open dialog at request time.
func (s *Service) GateStatus(ctx context.Context, sessionID string) (*models.GateView, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return s.evaluate(ctx, session, requestcontext.Now(ctx).UTC()), nil
}

// AwaitGate blocks until the dialog allows the download: the completion check
// succeeds, the remaining dwell elapses or a completion is recorded for the
// key in this process. It returns a Timeout error when ctx ends first.
func (s *Service) AwaitGate(ctx context.Context, sessionID string) (*models.GateView, error) {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := requestcontext.Now(ctx).UTC()
	remaining := session.OpenedAt.Add(s.dwell).Sub(now)
	if remaining <= 0 {
		return s.evaluate(ctx, session, now), nil
	}

	recorded, stop := s.waiters.subscribe(session.Key)
	defer stop()

	gate := NewGate(s.after)
	state := gate.Run(ctx, func(ctx context.Context) bool {
		return s.checkCompletion(ctx, session.Key)
	}, remaining, recorded)
	if !state.CanDownload() {
		return nil, dErrors.Wrap(ctx.Err(), dErrors.CodeTimeout, "survey gate wait ended")
	}
	return s.view(session, state), nil
}

// CloseGate cancels a dialog. Reopening starts a fresh dwell period.
func (s *Service) CloseGate(ctx context.Context, sessionID string) error {
	session, err := s.loadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := s.sessions.DeleteSession(ctx, session.ID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStorageFault, "failed to close survey gate")
	}
	return nil
}

// DownloadCertificate returns the certificate of an issued application once
// the gate for its key is open, through a completion or an expired dwell on
// req.SessionID.
func (s *Service) DownloadCertificate(ctx context.Context, req models.DownloadRequest) (*appmodels.Document, []byte, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, nil, err
	}
	if err := req.Key.Validate(); err != nil {
		return nil, nil, err
	}
	app, err := s.resolveKey(ctx, req.Key)
	if err != nil {
		return nil, nil, err
	}
	if app == nil {
		return nil, nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
	}
	if app.Status != catalog.StatusTerbit {
		return nil, nil, dErrors.Guard("the certificate is available once the application is issued")
	}

	via, err := s.passedVia(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	if via == "" {
		return nil, nil, dErrors.Guard("complete the survey or wait until the download is enabled")
	}
	_, doc, data, err := s.certificates.OpenCertificate(ctx, app.ID)
	if err != nil {
		return nil, nil, err
	}
	if s.metrics != nil {
		s.metrics.IncrementDownload(via)
	}
	s.logAudit(ctx, audit.EventCertificateDownloaded, req.Key, "via "+via)
	return doc, data, nil
}

// resolveKey returns the application behind key when the caller may see it.
// Keys whose type is not an application kind have no application and resolve
// to nil.
func (s *Service) resolveKey(ctx context.Context, key models.Key) (*appmodels.Application, error) {
	if !catalog.Kind(key.ApplicationType).IsValid() {
		return nil, nil
	}
	app, err := s.certificates.FindViewable(ctx, key.ApplicationID)
	if err != nil {
		return nil, err
	}
	if app.Kind.Code() != key.ApplicationType {
		return nil, dErrors.New(dErrors.CodeNotFound, "application not found")
	}
	return app, nil
}

func (s *Service) passedVia(ctx context.Context, req models.DownloadRequest) (string, error) {
	if s.checkCompletion(ctx, req.Key) {
		return "completion", nil
	}
	if req.SessionID == "" {
		return "", nil
	}
	session, err := s.loadSession(ctx, req.SessionID)
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if session.Key != req.Key {
		return "", nil
	}
	if requestcontext.Now(ctx).Sub(session.OpenedAt) < s.dwell {
		return "", nil
	}
	return "dwell", nil
}

// evaluate replays the dialog signals at now: the check result first, then
// dwell expiry.
func (s *Service) evaluate(ctx context.Context, session *models.Session, now time.Time) *models.GateView {
	gate := NewGate(s.after)
	gen := gate.Open()
	gate.Resolve(gen, s.checkCompletion(ctx, session.Key))
	if now.Sub(session.OpenedAt) >= s.dwell {
		gate.DwellElapsed(gen)
	}
	return s.view(session, gate.State())
}

func (s *Service) view(session *models.Session, state models.GateState) *models.GateView {
	return &models.GateView{
		SessionID:    session.ID,
		Key:          session.Key,
		State:        state,
		SurveyURL:    s.surveyLink(session.Key),
		DwellSeconds: int(s.dwell / time.Second),
		EnableAt:     session.OpenedAt.Add(s.dwell),
	}
}

func (s *Service) surveyLink(key models.Key) string {
	if s.surveyURL == "" {
		return ""
	}
	u, err := url.Parse(s.surveyURL)
	if err != nil {
		return s.surveyURL
	}
	q := u.Query()
	q.Set("application_type", strconv.Itoa(key.ApplicationType))
	q.Set("application_id", strconv.FormatInt(key.ApplicationID, 10))
	u.RawQuery = q.Encode()
	return u.String()
}

// loadSession returns the caller's session; sessions of other users are
// reported as missing.
func (s *Service) loadSession(ctx context.Context, id string) (*models.Session, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, dErrors.New(dErrors.CodeNotFound, "survey gate not found")
	}
	session, err := s.sessions.FindSession(ctx, id)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "survey gate not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeStorageFault, "failed to load survey gate")
	}
	if session.UserID != actor.UserID {
		return nil, dErrors.New(dErrors.CodeNotFound, "survey gate not found")
	}
	return session, nil
}

func (s *Service) markCached(ctx context.Context, key models.Key) {
	if s.cache == nil {
		return
	}
	if err := s.cache.MarkCompleted(ctx, key); err != nil {
		s.warn(ctx, "failed to cache survey completion", key, err)
	}
}

func (s *Service) recordFailure(ctx context.Context) {
	_, change := s.breaker.RecordFailure()
	if !change.Opened {
		return
	}
	if s.logger != nil {
		s.logger.WarnContext(ctx, "survey completion circuit opened", "breaker", s.breaker.Name())
	}
	if s.metrics != nil {
		s.metrics.SetBreakerOpen(true)
	}
}

func (s *Service) recordSuccess(ctx context.Context) {
	_, change := s.breaker.RecordSuccess()
	if !change.Closed {
		return
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "survey completion circuit closed", "breaker", s.breaker.Name())
	}
	if s.metrics != nil {
		s.metrics.SetBreakerOpen(false)
	}
}

func (s *Service) countCheck(result string) {
	if s.metrics != nil {
		s.metrics.IncrementCheck(result)
	}
}

func (s *Service) warn(ctx context.Context, msg string, key models.Key, err error) {
	if s.logger == nil {
		return
	}
	s.logger.WarnContext(ctx, msg,
		"application_type", key.ApplicationType,
		"application_id", key.ApplicationID,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
}

func (s *Service) logAudit(ctx context.Context, event audit.AuditEvent, key models.Key, detail string) {
	requestID := requestcontext.RequestID(ctx)
	actor := requestcontext.UserID(ctx)
	kind := catalog.Kind(key.ApplicationType).String()
	if s.logger != nil {
		args := []any{
			"event", string(event),
			"log_type", "audit",
			"application_type", key.ApplicationType,
			"application_id", key.ApplicationID,
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
		Category:        event.Category(),
		Timestamp:       requestcontext.Now(ctx),
		UserID:          actor,
		ApplicationID:   key.ApplicationID,
		ApplicationKind: kind,
		Action:          string(event),
		Detail:          detail,
		RequestID:       requestID,
	})
	if err != nil && s.logger != nil {
		s.logger.WarnContext(ctx, "failed to publish audit event",
			"event", string(event),
			"application_id", key.ApplicationID,
			"error", err,
		)
	}
}

func requireActor(ctx context.Context) (requestcontext.Principal, error) {
	actor := requestcontext.Actor(ctx)
	if actor.IsZero() {
		return actor, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	return actor, nil
}
