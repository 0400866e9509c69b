package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	appmodels "iinportal/internal/application/models"
	"iinportal/internal/survey/models"
	dErrors "iinportal/pkg/domain-errors"
	"iinportal/pkg/platform/httputil"
	"iinportal/pkg/requestcontext"
)

// maxWait bounds a long-poll request beyond the dwell period.
const maxWait = time.Minute

// Service defines the survey gate operations exposed over HTTP.
type Service interface {
	CheckCompletion(ctx context.Context, key models.Key) (bool, error)
	RecordCompletion(ctx context.Context, key models.Key, certificateType string) error
	OpenGate(ctx context.Context, key models.Key) (*models.GateView, error)
	GateStatus(ctx context.Context, sessionID string) (*models.GateView, error)
	AwaitGate(ctx context.Context, sessionID string) (*models.GateView, error)
	CloseGate(ctx context.Context, sessionID string) error
	DownloadCertificate(ctx context.Context, req models.DownloadRequest) (*appmodels.Document, []byte, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the survey routes behind auth.RequireAuth.
func (h *Handler) Register(r chi.Router) {
	r.Route("/survey", func(r chi.Router) {
		r.Get("/completions/{type}/{id}", h.HandleCheck)
		r.Post("/completions", h.HandleRecord)
		r.Post("/gates", h.HandleOpenGate)
		r.Get("/gates/{session}", h.HandleGateStatus)
		r.Get("/gates/{session}/wait", h.HandleAwaitGate)
		r.Delete("/gates/{session}", h.HandleCloseGate)
		r.Get("/certificates/{type}/{id}", h.HandleDownloadCertificate)
	})
}

// HandleCheck handles GET /survey/completions/{type}/{id}.
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	completed, err := h.service.CheckCompletion(r.Context(), key)
	if err != nil {
		h.fail(r.Context(), w, "survey check failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"completed": completed})
}

// HandleRecord handles POST /survey/completions.
func (h *Handler) HandleRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[RecordRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.service.RecordCompletion(ctx, req.key(), req.CertificateType); err != nil {
		h.fail(ctx, w, "record survey completion failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleOpenGate handles POST /survey/gates.
func (h *Handler) HandleOpenGate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[OpenGateRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	view, err := h.service.OpenGate(ctx, req.key())
	if err != nil {
		h.fail(ctx, w, "open survey gate failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, view)
}

func (h *Handler) HandleGateStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.GateStatus(r.Context(), chi.URLParam(r, "session"))
	if err != nil {
		h.fail(r.Context(), w, "survey gate status failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

// HandleAwaitGate handles GET /survey/gates/{session}/wait. It returns once
// the download is enabled.
func (h *Handler) HandleAwaitGate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), maxWait)
	defer cancel()
	view, err := h.service.AwaitGate(ctx, chi.URLParam(r, "session"))
	if err != nil {
		h.fail(ctx, w, "survey gate wait failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (h *Handler) HandleCloseGate(w http.ResponseWriter, r *http.Request) {
	if err := h.service.CloseGate(r.Context(), chi.URLParam(r, "session")); err != nil {
		h.fail(r.Context(), w, "close survey gate failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleDownloadCertificate handles GET /survey/certificates/{type}/{id}.
// The session query parameter names the dialog whose dwell enables the
// download when the survey was not completed.
func (h *Handler) HandleDownloadCertificate(w http.ResponseWriter, r *http.Request) {
	key, ok := pathKey(w, r)
	if !ok {
		return
	}
	doc, data, err := h.service.DownloadCertificate(r.Context(), models.DownloadRequest{
		Key:       key,
		SessionID: strings.TrimSpace(r.URL.Query().Get("session")),
	})
	if err != nil {
		h.fail(r.Context(), w, "certificate download failed", err)
		return
	}
	httputil.WriteAttachment(w, doc.OriginalName, data)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	attrs := []any{
		"request_id", requestcontext.RequestID(ctx),
		"user_id", requestcontext.UserID(ctx),
		"error", err,
	}
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg, attrs...)
	} else {
		h.logger.WarnContext(ctx, msg, attrs...)
	}
	httputil.WriteError(w, err)
}

func pathKey(w http.ResponseWriter, r *http.Request) (models.Key, bool) {
	applicationType, err := strconv.Atoi(chi.URLParam(r, "type"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid application type"))
		return models.Key{}, false
	}
	applicationID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid application id"))
		return models.Key{}, false
	}
	return models.Key{ApplicationType: applicationType, ApplicationID: applicationID}, true
}
