package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	appmodels "iinportal/internal/application/models"
	"iinportal/internal/catalog"
	"iinportal/internal/survey/models"
	"iinportal/internal/survey/service"
	"iinportal/internal/survey/store"
	dErrors "iinportal/pkg/domain-errors"
	"iinportal/pkg/requestcontext"
	"iinportal/pkg/testutil"
)

const applicantID = int64(7)

type issuedCertificate struct{}

func (issuedCertificate) FindViewable(ctx context.Context, id int64) (*appmodels.Application, error) {
	if id != 42 || requestcontext.UserID(ctx) != applicantID {
		return nil, dErrors.New(dErrors.CodeNotFound, "application not found")
	}
	return &appmodels.Application{
		ID:     id,
		Kind:   catalog.KindSingleIinBlockholder,
		Status: catalog.StatusTerbit,
		Owner:  appmodels.UserRef{ID: applicantID},
	}, nil
}

func (c issuedCertificate) OpenCertificate(ctx context.Context, id int64) (*appmodels.Application, *appmodels.Document, []byte, error) {
	app, err := c.FindViewable(ctx, id)
	if err != nil {
		return nil, nil, nil, err
	}
	return app, &appmodels.Document{OriginalName: "sertifikat-IIN-SB-202610-000001.txt"}, []byte("SERTIFIKAT"), nil
}

type HandlerSuite struct {
	suite.Suite
	router http.Handler
	clock  time.Time
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	svc := service.New(store.NewInMemoryCompletions(), store.NewInMemorySessions(), issuedCertificate{})
	r := chi.NewRouter()
	New(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	s.router = r
	s.clock = time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)
}

func (s *HandlerSuite) do(req *http.Request, at time.Duration) *httptest.ResponseRecorder {
	req = testutil.AtTime(req, s.clock.Add(at))
	req = testutil.AsApplicant(req, applicantID)
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) TestCheckAndRecord() {
	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/survey/completions/5/5"), 0)
	s.Require().Equal(http.StatusOK, rr.Code)
	testutil.AssertJSONContains(s.T(), rr, "completed", false)

	rr = s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/survey/completions", map[string]any{
		"application_type": 5,
		"application_id":   5,
		"certificate_type": "iin-nasional",
	}), 0)
	s.Require().Equal(http.StatusNoContent, rr.Code, rr.Body.String())

	rr = s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/survey/completions", map[string]any{
		"application_type": 5,
		"application_id":   5,
	}), time.Second)
	s.Require().Equal(http.StatusNoContent, rr.Code, "recording twice is a no-op")

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/survey/completions/5/5"), 0)
	testutil.AssertJSONContains(s.T(), rr, "completed", true)
}

func (s *HandlerSuite) TestBadInput() {
	rr := s.do(testutil.NewRequest(s.T(), http.MethodGet, "/survey/completions/x/5"), 0)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "bad_request")

	rr = s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/survey/completions", map[string]any{
		"application_type": 0,
		"application_id":   5,
	}), 0)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusBadRequest, "validation_error")

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/survey/gates/unknown"), 0)
	testutil.AssertStatus(s.T(), rr, http.StatusNotFound)
}

func (s *HandlerSuite) TestGatedDownload() {
	rr := s.do(testutil.NewJSONRequest(s.T(), http.MethodPost, "/survey/gates", map[string]any{
		"application_type": 2,
		"application_id":   42,
	}), 0)
	s.Require().Equal(http.StatusCreated, rr.Code, rr.Body.String())
	view := testutil.UnmarshalResponse[models.GateView](s.T(), rr)
	s.Equal(models.GateAwaitingAction, view.State)

	target := "/survey/certificates/2/42?session=" + view.SessionID
	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, target), 3*time.Second)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "guard_violation")

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/survey/gates/"+view.SessionID), 10*time.Second)
	s.Require().Equal(http.StatusOK, rr.Code)
	testutil.AssertJSONContains(s.T(), rr, "state", "download_enabled")

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, target), 10*time.Second)
	s.Require().Equal(http.StatusOK, rr.Code, rr.Body.String())
	s.Equal("SERTIFIKAT", rr.Body.String())
	s.Contains(rr.Header().Get("Content-Disposition"), "sertifikat-IIN-SB-202610-000001.txt")

	rr = s.do(testutil.NewRequest(s.T(), http.MethodDelete, "/survey/gates/"+view.SessionID), 11*time.Second)
	s.Require().Equal(http.StatusNoContent, rr.Code)
	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, target), 12*time.Second)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusConflict, "guard_violation")
}

func (s *HandlerSuite) TestRecordForAnotherApplicantsApplication() {
	req := testutil.NewJSONRequest(s.T(), http.MethodPost, "/survey/completions", map[string]any{
		"application_type": 2,
		"application_id":   42,
	})
	req = testutil.AsApplicant(testutil.AtTime(req, s.clock), 8)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatusAndError(s.T(), rr, http.StatusNotFound, "not_found")

	rr = s.do(testutil.NewRequest(s.T(), http.MethodGet, "/survey/completions/2/42"), 0)
	testutil.AssertJSONContains(s.T(), rr, "completed", false)
}

func (s *HandlerSuite) TestUnauthenticated() {
	req := testutil.AtTime(testutil.NewRequest(s.T(), http.MethodGet, "/survey/certificates/2/42"), s.clock)
	rr := testutil.DoRequest(s.router, req)
	testutil.AssertStatus(s.T(), rr, http.StatusUnauthorized)
}
