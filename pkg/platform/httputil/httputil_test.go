package httputil

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "iinportal/pkg/domain-errors"
)

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInternal, "db failed"))

		require.Equal(t, http.StatusInternalServerError, w.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "internal_error", body["error"])
		_, ok := body["error_description"]
		assert.False(t, ok, "expected error_description to be omitted for internal errors")
	})

	t.Run("bad request includes description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid input"))

		require.Equal(t, http.StatusBadRequest, w.Code)
		var body map[string]string
		require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
		assert.Equal(t, "bad_request", body["error"])
		assert.Equal(t, "invalid input", body["error_description"])
	})

	t.Run("guard violation is a conflict", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.Guard("stage-1 payment proof required"))
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("storage fault is retryable", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeStorageFault, "blob store unavailable"))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.NotEmpty(t, w.Header().Get("Retry-After"))
	})

	t.Run("plain error is internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, assert.AnError)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}

type noteRequest struct {
	Note string `json:"note" validate:"required,max=2000"`
}

func (r *noteRequest) Validate() error {
	r.Note = strings.TrimSpace(r.Note)
	if r.Note == "" {
		return dErrors.New(dErrors.CodeValidation, "note is required")
	}
	return nil
}

func TestDecodeAndPrepare(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	ctx := context.Background()

	t.Run("decodes and trims", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"note":"  fix the form  "}`))
		req, ok := DecodeAndPrepare[noteRequest](w, r, logger, ctx, "req-1")
		require.True(t, ok)
		assert.Equal(t, "fix the form", req.Note)
	})

	t.Run("rejects malformed JSON", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"note":`))
		_, ok := DecodeAndPrepare[noteRequest](w, r, logger, ctx, "req-2")
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects missing required field", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
		_, ok := DecodeAndPrepare[noteRequest](w, r, logger, ctx, "req-3")
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "validation_error")
	})

	t.Run("rejects whitespace note", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"note":"   "}`))
		_, ok := DecodeAndPrepare[noteRequest](w, r, logger, ctx, "req-4")
		assert.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
