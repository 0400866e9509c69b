// Package httputil holds the JSON response and request helpers shared by all
// handlers.
package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	dErrors "iinportal/pkg/domain-errors"
)

const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validatable requests run their own semantic checks after decoding.
type Validatable interface {
	Validate() error
}

// ErrorResponse is the error envelope written by WriteError.
type ErrorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps err to a status and error envelope. Internal errors never
// leak their message.
func WriteError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	status := StatusFor(code)
	resp := ErrorResponse{Error: string(code)}
	if code != dErrors.CodeInternal {
		resp.Description = dErrors.MessageOf(err)
	}
	if code == dErrors.CodeStorageFault {
		w.Header().Set("Retry-After", "5")
	}
	WriteJSON(w, status, resp)
}

// WriteAttachment sends data as a download named after the original upload.
func WriteAttachment(w http.ResponseWriter, name string, data []byte) {
	name = path.Base(name)
	contentType := mime.TypeByExtension(path.Ext(name))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// StatusFor maps a domain error code to an HTTP status.
func StatusFor(code dErrors.Code) int {
	switch code {
	case dErrors.CodeBadRequest, dErrors.CodeValidation, dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeConflict, dErrors.CodeGuardViolation:
		return http.StatusConflict
	case dErrors.CodeInvariantViolation:
		return http.StatusUnprocessableEntity
	case dErrors.CodeStorageFault:
		return http.StatusServiceUnavailable
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// DecodeAndPrepare decodes a JSON body into T, runs struct-tag validation and
// then T's Validate method when it has one. On failure it writes the error
// response and returns ok=false.
func DecodeAndPrepare[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger, ctx context.Context, requestID string) (*T, bool) {
	var req T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		logger.WarnContext(ctx, "failed to decode request body",
			"error", err,
			"request_id", requestID,
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid JSON body"))
		return nil, false
	}

	if err := validate.StructCtx(ctx, &req); err != nil {
		WriteError(w, validationError(err))
		return nil, false
	}

	if v, ok := any(&req).(Validatable); ok {
		if err := v.Validate(); err != nil {
			logger.WarnContext(ctx, "request validation failed",
				"error", err,
				"request_id", requestID,
			)
			WriteError(w, err)
			return nil, false
		}
	}
	return &req, true
}

// ValidateStruct runs struct-tag validation outside of DecodeAndPrepare, for
// multipart forms decoded by hand.
func ValidateStruct(ctx context.Context, v any) error {
	if err := validate.StructCtx(ctx, v); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid request")
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
	}
	return dErrors.New(dErrors.CodeValidation, "invalid fields: "+strings.Join(fields, ", "))
}
