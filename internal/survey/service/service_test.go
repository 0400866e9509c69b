package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	appmodels "iinportal/internal/application/models"
	"iinportal/internal/catalog"
	"iinportal/internal/survey/models"
	"iinportal/internal/survey/store"
	dErrors "iinportal/pkg/domain-errors"
	"iinportal/pkg/platform/audit"
	"iinportal/pkg/platform/circuit"
	"iinportal/pkg/platform/sentinel"
	"iinportal/pkg/requestcontext"
)

const (
	applicantID = int64(7)
	otherID     = int64(8)
)

type fakeCertificates struct {
	app        *appmodels.Application
	err        error
	contentErr error
	opened     int
}

func (f *fakeCertificates) FindViewable(ctx context.Context, id int64) (*appmodels.Application, error) {
	if f.err != nil {
		return nil, f.err
	}
	actor := requestcontext.Actor(ctx)
	if f.app == nil || f.app.ID != id || !(actor.Role.IsAdmin() || f.app.IsOwnedBy(actor.UserID)) {
		return nil, dErrors.New(dErrors.CodeNotFound, "application not found")
	}
	return f.app, nil
}

func (f *fakeCertificates) OpenCertificate(ctx context.Context, id int64) (*appmodels.Application, *appmodels.Document, []byte, error) {
	f.opened++
	app, err := f.FindViewable(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	if f.contentErr != nil {
		return nil, nil, nil, f.contentErr
	}
	doc := &appmodels.Document{ApplicationID: id, Slot: appmodels.SlotCertificate, OriginalName: "sertifikat.txt"}
	return app, doc, []byte("SERTIFIKAT"), nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []audit.Event
}

func (p *recordingPublisher) Emit(_ context.Context, e audit.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) actions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Action)
	}
	return out
}

type failingCompletions struct {
	calls int
}

func (f *failingCompletions) FindCompletion(context.Context, models.Key) (*models.Completion, error) {
	f.calls++
	return nil, errors.New("dial tcp: connection refused")
}

func (f *failingCompletions) RecordCompletion(context.Context, *models.Completion) (bool, error) {
	return false, errors.New("dial tcp: connection refused")
}

type SurveySuite struct {
	suite.Suite
	completions  *store.InMemoryCompletionStore
	certificates *fakeCertificates
	publisher    *recordingPublisher
	svc          *Service
	clock        time.Time
}

func TestSurveySuite(t *testing.T) {
	suite.Run(t, new(SurveySuite))
}

func (s *SurveySuite) SetupTest() {
	s.completions = store.NewInMemoryCompletions()
	s.certificates = &fakeCertificates{app: &appmodels.Application{
		ID:     42,
		Kind:   catalog.KindIinNasional,
		Status: catalog.StatusTerbit,
		Owner:  appmodels.UserRef{ID: applicantID},
	}}
	s.publisher = &recordingPublisher{}
	s.svc = New(s.completions, store.NewInMemorySessions(), s.certificates,
		WithAuditPublisher(s.publisher),
		WithSurveyURL("https://survey.example.id/form?lang=id"),
	)
	s.clock = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
}

func (s *SurveySuite) as(userID int64, at time.Time) context.Context {
	ctx := requestcontext.WithTime(context.Background(), at)
	return requestcontext.WithActor(ctx, userID, requestcontext.RoleApplicant)
}

func (s *SurveySuite) ctx() context.Context {
	return s.as(applicantID, s.clock)
}

func (s *SurveySuite) later(d time.Duration) context.Context {
	return s.as(applicantID, s.clock.Add(d))
}

func (s *SurveySuite) TestDwellFallbackOnFreshKey() {
	key := models.Key{ApplicationType: 5, ApplicationID: 5}

	completed, err := s.svc.CheckCompletion(s.ctx(), key)
	s.Require().NoError(err)
	s.False(completed)

	view, err := s.svc.OpenGate(s.ctx(), key)
	s.Require().NoError(err)
	s.Equal(models.GateAwaitingAction, view.State)
	s.Equal(10, view.DwellSeconds)
	s.Equal(s.clock.Add(10*time.Second), view.EnableAt)
	s.Contains(view.SurveyURL, "application_type=5")
	s.Contains(view.SurveyURL, "lang=id")

	view, err = s.svc.GateStatus(s.later(9*time.Second), view.SessionID)
	s.Require().NoError(err)
	s.Equal(models.GateAwaitingAction, view.State)

	view, err = s.svc.GateStatus(s.later(10*time.Second), view.SessionID)
	s.Require().NoError(err)
	s.Equal(models.GateDownloadEnabled, view.State)

	completed, err = s.svc.CheckCompletion(s.later(11*time.Second), key)
	s.Require().NoError(err)
	s.False(completed, "dwell never records a completion")
}

func (s *SurveySuite) TestRecordCompletionIsIdempotent() {
	key := models.Key{ApplicationType: 1, ApplicationID: 42}

	s.Require().NoError(s.svc.RecordCompletion(s.ctx(), key, "iin-nasional"))
	s.Require().NoError(s.svc.RecordCompletion(s.later(time.Hour), key, "other"))

	c, err := s.completions.FindCompletion(context.Background(), key)
	s.Require().NoError(err)
	s.Equal("iin-nasional", c.CertificateType)
	s.Equal(s.clock, c.CompletedAt)
	s.Equal([]string{string(audit.EventSurveyCompleted)}, s.publisher.actions())

	completed, err := s.svc.CheckCompletion(s.ctx(), key)
	s.Require().NoError(err)
	s.True(completed)

	view, err := s.svc.OpenGate(s.ctx(), key)
	s.Require().NoError(err)
	s.Equal(models.GateAlreadyCompleted, view.State)
}

func (s *SurveySuite) TestValidation() {
	_, err := s.svc.CheckCompletion(s.ctx(), models.Key{ApplicationType: 0, ApplicationID: 3})
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	long := make([]byte, 65)
	for i := range long {
		long[i] = 'x'
	}
	err = s.svc.RecordCompletion(s.ctx(), models.Key{ApplicationType: 1, ApplicationID: 1}, string(long))
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))

	err = s.svc.RecordCompletion(context.Background(), models.Key{ApplicationType: 1, ApplicationID: 1}, "")
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *SurveySuite) TestCloseAndReopen() {
	key := models.Key{ApplicationType: 1, ApplicationID: 42}
	view, err := s.svc.OpenGate(s.ctx(), key)
	s.Require().NoError(err)

	s.Require().NoError(s.svc.CloseGate(s.later(8*time.Second), view.SessionID))
	_, err = s.svc.GateStatus(s.later(12*time.Second), view.SessionID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	reopened, err := s.svc.OpenGate(s.later(9*time.Second), key)
	s.Require().NoError(err)
	s.NotEqual(view.SessionID, reopened.SessionID)

	status, err := s.svc.GateStatus(s.later(12*time.Second), reopened.SessionID)
	s.Require().NoError(err)
	s.Equal(models.GateAwaitingAction, status.State, "dwell restarts on reopen")
}

func (s *SurveySuite) TestSessionsArePrivate() {
	view, err := s.svc.OpenGate(s.ctx(), models.Key{ApplicationType: 1, ApplicationID: 42})
	s.Require().NoError(err)

	_, err = s.svc.GateStatus(s.as(otherID, s.clock), view.SessionID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

	_, err = s.svc.GateStatus(s.ctx(), "not-a-session")
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *SurveySuite) TestDownloadCertificate() {
	key := models.Key{ApplicationType: catalog.KindIinNasional.Code(), ApplicationID: 42}

	s.Run("closed gate", func() {
		_, _, err := s.svc.DownloadCertificate(s.ctx(), models.DownloadRequest{Key: key})
		s.True(dErrors.HasCode(err, dErrors.CodeGuardViolation))
	})

	s.Run("dwell not elapsed", func() {
		view, err := s.svc.OpenGate(s.ctx(), key)
		s.Require().NoError(err)
		_, _, err = s.svc.DownloadCertificate(s.later(5*time.Second), models.DownloadRequest{Key: key, SessionID: view.SessionID})
		s.True(dErrors.HasCode(err, dErrors.CodeGuardViolation))

		doc, data, err := s.svc.DownloadCertificate(s.later(10*time.Second), models.DownloadRequest{Key: key, SessionID: view.SessionID})
		s.Require().NoError(err)
		s.Equal("sertifikat.txt", doc.OriginalName)
		s.Equal("SERTIFIKAT", string(data))

		_, err = s.completions.FindCompletion(context.Background(), key)
		s.Error(err, "dwell download leaves no completion behind")
	})

	s.Run("session for another key", func() {
		view, err := s.svc.OpenGate(s.ctx(), models.Key{ApplicationType: 1, ApplicationID: 43})
		s.Require().NoError(err)
		_, _, err = s.svc.DownloadCertificate(s.later(time.Minute), models.DownloadRequest{Key: key, SessionID: view.SessionID})
		s.True(dErrors.HasCode(err, dErrors.CodeGuardViolation))
	})

	s.Run("kind mismatch", func() {
		_, _, err := s.svc.DownloadCertificate(s.ctx(), models.DownloadRequest{Key: models.Key{ApplicationType: 2, ApplicationID: 42}})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("certificate source errors pass through", func() {
		_, _, err := s.svc.DownloadCertificate(s.ctx(), models.DownloadRequest{Key: models.Key{ApplicationType: 1, ApplicationID: 99}})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("completed survey", func() {
		s.Require().NoError(s.svc.RecordCompletion(s.ctx(), key, "iin-nasional"))
		_, data, err := s.svc.DownloadCertificate(s.ctx(), models.DownloadRequest{Key: key})
		s.Require().NoError(err)
		s.NotEmpty(data)
		s.Contains(s.publisher.actions(), string(audit.EventCertificateDownloaded))
	})
}

func (s *SurveySuite) TestRecordCompletionNeedsAccessToTheApplication() {
	key := models.Key{ApplicationType: catalog.KindIinNasional.Code(), ApplicationID: 42}

	s.Run("another applicant", func() {
		err := s.svc.RecordCompletion(s.as(otherID, s.clock), key, "iin-nasional")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		_, err = s.completions.FindCompletion(context.Background(), key)
		s.ErrorIs(err, sentinel.ErrNotFound)
		_, _, err = s.svc.DownloadCertificate(s.ctx(), models.DownloadRequest{Key: key})
		s.True(dErrors.HasCode(err, dErrors.CodeGuardViolation), "owner's gate stays closed")
	})

	s.Run("unknown application", func() {
		err := s.svc.RecordCompletion(s.ctx(), models.Key{ApplicationType: 1, ApplicationID: 99}, "")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("kind does not match", func() {
		err := s.svc.RecordCompletion(s.ctx(), models.Key{ApplicationType: 3, ApplicationID: 42}, "")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("admin", func() {
		ctx := requestcontext.WithActor(requestcontext.WithTime(context.Background(), s.clock), 1, requestcontext.RoleAdmin)
		s.Require().NoError(s.svc.RecordCompletion(ctx, key, ""))
		completed, err := s.svc.CheckCompletion(s.ctx(), key)
		s.Require().NoError(err)
		s.True(completed)
	})

	s.Run("key without an application kind", func() {
		s.NoError(s.svc.RecordCompletion(s.as(otherID, s.clock), models.Key{ApplicationType: 5, ApplicationID: 5}, ""))
	})
}

func (s *SurveySuite) TestRefusedDownloadDoesNotReadTheCertificate() {
	key := models.Key{ApplicationType: catalog.KindIinNasional.Code(), ApplicationID: 42}
	s.certificates.contentErr = dErrors.New(dErrors.CodeStorageFault, "blob store unavailable")

	_, _, err := s.svc.DownloadCertificate(s.ctx(), models.DownloadRequest{Key: key})
	s.True(dErrors.HasCode(err, dErrors.CodeGuardViolation))
	s.Zero(s.certificates.opened)

	s.Require().NoError(s.svc.RecordCompletion(s.ctx(), key, ""))
	_, _, err = s.svc.DownloadCertificate(s.ctx(), models.DownloadRequest{Key: key})
	s.True(dErrors.HasCode(err, dErrors.CodeStorageFault))
	s.Equal(1, s.certificates.opened)
}

func (s *SurveySuite) TestDownloadNeedsIssuedApplication() {
	s.certificates.app.Status = catalog.StatusMenungguTerbit
	key := models.Key{ApplicationType: catalog.KindIinNasional.Code(), ApplicationID: 42}
	s.Require().NoError(s.svc.RecordCompletion(s.ctx(), key, ""))

	_, _, err := s.svc.DownloadCertificate(s.ctx(), models.DownloadRequest{Key: key})
	s.True(dErrors.HasCode(err, dErrors.CodeGuardViolation))
	s.Zero(s.certificates.opened)
}

func (s *SurveySuite) TestBackendFailureDegradesToPending() {
	failing := &failingCompletions{}
	breaker := circuit.New("test", circuit.WithFailureThreshold(2), circuit.WithCooldown(time.Hour))
	svc := New(failing, store.NewInMemorySessions(), s.certificates, WithBreaker(breaker))
	key := models.Key{ApplicationType: 1, ApplicationID: 42}

	for range 3 {
		completed, err := svc.CheckCompletion(s.ctx(), key)
		s.Require().NoError(err)
		s.False(completed)
	}
	s.Equal(2, failing.calls, "open breaker skips the store")
	s.True(breaker.IsOpen())

	view, err := svc.OpenGate(s.ctx(), key)
	s.Require().NoError(err)
	s.Equal(models.GateAwaitingAction, view.State)

	err = svc.RecordCompletion(s.ctx(), key, "")
	s.True(dErrors.HasCode(err, dErrors.CodeStorageFault))
}

func (s *SurveySuite) TestAwaitGate() {
	key := models.Key{ApplicationType: 1, ApplicationID: 42}

	s.Run("dwell timer", func() {
		timer := make(chan time.Time, 1)
		svc := New(s.completions, store.NewInMemorySessions(), s.certificates, WithTimer(fakeTimer(timer)))
		view, err := svc.OpenGate(s.ctx(), key)
		s.Require().NoError(err)

		timer <- s.clock
		got, err := svc.AwaitGate(s.later(3*time.Second), view.SessionID)
		s.Require().NoError(err)
		s.Equal(models.GateDownloadEnabled, got.State)
	})

	s.Run("elapsed dwell returns at once", func() {
		view, err := s.svc.OpenGate(s.ctx(), key)
		s.Require().NoError(err)
		got, err := s.svc.AwaitGate(s.later(time.Minute), view.SessionID)
		s.Require().NoError(err)
		s.Equal(models.GateDownloadEnabled, got.State)
	})

	s.Run("woken by a recorded completion", func() {
		svc := New(store.NewInMemoryCompletions(), store.NewInMemorySessions(), s.certificates,
			WithTimer(fakeTimer(make(chan time.Time))))
		view, err := svc.OpenGate(s.ctx(), key)
		s.Require().NoError(err)

		done := make(chan *models.GateView, 1)
		go func() {
			got, _ := svc.AwaitGate(s.later(time.Second), view.SessionID)
			done <- got
		}()
		s.Eventually(func() bool {
			svc.waiters.mu.Lock()
			defer svc.waiters.mu.Unlock()
			return len(svc.waiters.subs[key]) == 1
		}, time.Second, 5*time.Millisecond)

		s.Require().NoError(svc.RecordCompletion(s.later(2*time.Second), key, ""))
		select {
		case got := <-done:
			s.Require().NotNil(got)
			s.True(got.State.CanDownload())
		case <-time.After(2 * time.Second):
			s.Fail("await did not return after completion")
		}
	})

	s.Run("cancelled wait", func() {
		svc := New(store.NewInMemoryCompletions(), store.NewInMemorySessions(), s.certificates,
			WithTimer(fakeTimer(make(chan time.Time))))
		view, err := svc.OpenGate(s.ctx(), key)
		s.Require().NoError(err)

		ctx, cancel := context.WithCancel(s.later(time.Second))
		cancel()
		_, err = svc.AwaitGate(ctx, view.SessionID)
		s.True(dErrors.HasCode(err, dErrors.CodeTimeout))
	})
}
