package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"iinportal/internal/application/models"
	"iinportal/internal/application/service"
	"iinportal/internal/catalog"
	dErrors "iinportal/pkg/domain-errors"
	"iinportal/pkg/platform/httputil"
	"iinportal/pkg/platform/middleware/admin"
	"iinportal/pkg/requestcontext"
)

// multipartMemory is the part of a multipart body kept in memory; the rest
// spills to temporary files.
const multipartMemory = 32 << 20

// Service defines the application operations exposed over HTTP.
type Service interface {
	Submit(ctx context.Context, req models.SubmitRequest) (*models.Application, error)
	Get(ctx context.Context, id int64) (*models.Detail, error)
	List(ctx context.Context, filter models.ListFilter) (*models.Page, error)
	StatusLog(ctx context.Context, id int64) ([]models.StatusLogEntry, error)
	DocumentHistory(ctx context.Context, id int64) ([]models.DocumentHistoryEntry, error)
	Attach(ctx context.Context, req models.AttachRequest) (*models.AttachResult, error)
	DownloadDocument(ctx context.Context, id, documentID int64) (*models.Document, []byte, error)

	RequestCorrection(ctx context.Context, id int64, note string) (*models.Application, error)
	Advance(ctx context.Context, id int64) (*models.Application, error)
	Issue(ctx context.Context, id int64, issuedNumber string) (*models.Application, error)
	Reject(ctx context.Context, id int64, note string) (*models.Application, error)
	SetNote(ctx context.Context, id int64, note string) (*models.Application, error)
	AssignVerificator(ctx context.Context, id int64, verificator models.UserRef) (*models.Application, error)
	Archive(ctx context.Context, id int64) (*models.Application, error)

	SubmitReimbursement(ctx context.Context, req models.ReimbursementRequest) (*models.Reimbursement, error)
	VerifyReimbursement(ctx context.Context, id int64, approve bool, note string) (*models.Reimbursement, error)
	DownloadReimbursementProof(ctx context.Context, id int64, index int) (*models.ReimbursementProof, []byte, error)
}

// Handler wires application endpoints to the lifecycle service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an application handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Register mounts the application routes. The router must already run
// auth.RequireAuth; admin routes add the admin role gate.
func (h *Handler) Register(r chi.Router) {
	r.Get("/kinds/{kind}/statuses", h.HandleStatusCatalog)

	r.Route("/applications", func(r chi.Router) {
		r.Post("/", h.HandleSubmit)
		r.Get("/", h.HandleList)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Get("/status-log", h.HandleStatusLog)
			r.Get("/document-history", h.HandleDocumentHistory)
			r.Post("/documents", h.HandleAttach)
			r.Get("/documents/{documentID}", h.HandleDownloadDocument)
			r.Post("/reimbursement", h.HandleSubmitReimbursement)
			r.Get("/reimbursement/proofs/{index}", h.HandleDownloadProof)

			r.Group(func(r chi.Router) {
				r.Use(admin.RequireAdmin(h.logger))
				r.Post("/advance", h.HandleAdvance)
				r.Post("/issue", h.HandleIssue)
				r.Post("/reject", h.HandleReject)
				r.Post("/request-correction", h.HandleRequestCorrection)
				r.Put("/note", h.HandleSetNote)
				r.Put("/verificator", h.HandleAssignVerificator)
				r.Post("/archive", h.HandleArchive)
				r.Post("/reimbursement/verify", h.HandleVerifyReimbursement)
			})
		})
	})
}

// HandleSubmit handles POST /applications.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[SubmitRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	app, err := h.service.Submit(ctx, req.toModel())
	if err != nil {
		h.fail(ctx, w, "submit application failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, app)
}

// HandleStatusCatalog handles GET /kinds/{kind}/statuses: the ordered status
// labels of one kind, for progress displays.
func (h *Handler) HandleStatusCatalog(w http.ResponseWriter, r *http.Request) {
	kind, ok := catalog.ParseKind(chi.URLParam(r, "kind"))
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "unknown application kind"))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"kind":     kind,
		"statuses": catalog.DescribeAll(kind),
	})
}

// HandleList handles GET /applications.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q, err := parseListQuery(r.URL.Query())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := httputil.ValidateStruct(ctx, q); err != nil {
		httputil.WriteError(w, err)
		return
	}
	filter, err := q.toFilter()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	page, err := h.service.List(ctx, filter)
	if err != nil {
		h.fail(ctx, w, "list applications failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, page)
}

// HandleGet handles GET /applications/{id}.
func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	detail, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(r.Context(), w, "get application failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, detail)
}

func (h *Handler) HandleStatusLog(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	entries, err := h.service.StatusLog(r.Context(), id)
	if err != nil {
		h.fail(r.Context(), w, "status log failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) HandleDocumentHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	entries, err := h.service.DocumentHistory(r.Context(), id)
	if err != nil {
		h.fail(r.Context(), w, "document history failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

// HandleAttach handles POST /applications/{id}/documents. Each multipart file
// field names its slot, e.g. application_form or payment_proof_stage2.
func (h *Handler) HandleAttach(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	form, ok := h.parseMultipart(w, r)
	if !ok {
		return
	}

	var uploads []models.Upload
	for field, headers := range form.File {
		key, known := parseUploadField(field)
		if !known {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "unknown document slot "+strconv.Quote(field)))
			return
		}
		files, err := readFiles(headers)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		uploads = append(uploads, models.Upload{Key: key, Files: files})
	}

	res, err := h.service.Attach(ctx, models.AttachRequest{ApplicationID: id, Uploads: uploads})
	if err != nil {
		h.fail(ctx, w, "attach documents failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, res)
}

func (h *Handler) HandleDownloadDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	documentID, ok := pathID(w, r, "documentID")
	if !ok {
		return
	}
	doc, data, err := h.service.DownloadDocument(r.Context(), id, documentID)
	if err != nil {
		h.fail(r.Context(), w, "download document failed", err)
		return
	}
	httputil.WriteAttachment(w, doc.OriginalName, data)
}

func (h *Handler) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	h.writeApplication(w, r, "advance failed")(h.service.Advance(r.Context(), id))
}

func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[IssueRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	h.writeApplication(w, r, "issue failed")(h.service.Issue(ctx, id, req.IssuedNumber))
}

func (h *Handler) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.handleNote(w, r, "reject failed", h.service.Reject)
}

func (h *Handler) HandleRequestCorrection(w http.ResponseWriter, r *http.Request) {
	h.handleNote(w, r, "request correction failed", h.service.RequestCorrection)
}

func (h *Handler) HandleSetNote(w http.ResponseWriter, r *http.Request) {
	h.handleNote(w, r, "set note failed", h.service.SetNote)
}

func (h *Handler) handleNote(w http.ResponseWriter, r *http.Request, msg string, cmd func(context.Context, int64, string) (*models.Application, error)) {
	ctx := r.Context()
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[NoteRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	h.writeApplication(w, r, msg)(cmd(ctx, id, req.Note))
}

func (h *Handler) HandleAssignVerificator(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[VerificatorRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	ref := models.UserRef{ID: req.UserID, Name: strings.TrimSpace(req.Name)}
	h.writeApplication(w, r, "assign verificator failed")(h.service.AssignVerificator(ctx, id, ref))
}

func (h *Handler) HandleArchive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	h.writeApplication(w, r, "archive failed")(h.service.Archive(r.Context(), id))
}

// HandleSubmitReimbursement handles POST /applications/{id}/reimbursement with
// multipart fields amount, description and one or more proofs files.
func (h *Handler) HandleSubmitReimbursement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	form, ok := h.parseMultipart(w, r)
	if !ok {
		return
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(formValue(form, "amount")))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "amount must be a decimal number"))
		return
	}
	files, err := readFiles(form.File["proofs"])
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	reimb, err := h.service.SubmitReimbursement(ctx, models.ReimbursementRequest{
		ApplicationID: id,
		Amount:        amount,
		Description:   formValue(form, "description"),
		Files:         files,
	})
	if err != nil {
		h.fail(ctx, w, "submit reimbursement failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, reimb)
}

func (h *Handler) HandleVerifyReimbursement(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[VerifyReimbursementRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	reimb, err := h.service.VerifyReimbursement(ctx, id, *req.Approve, req.Note)
	if err != nil {
		h.fail(ctx, w, "verify reimbursement failed", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, reimb)
}

func (h *Handler) HandleDownloadProof(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid proof index"))
		return
	}
	proof, data, err := h.service.DownloadReimbursementProof(r.Context(), id, index)
	if err != nil {
		h.fail(r.Context(), w, "download reimbursement proof failed", err)
		return
	}
	httputil.WriteAttachment(w, proof.OriginalName, data)
}

func (h *Handler) writeApplication(w http.ResponseWriter, r *http.Request, msg string) func(*models.Application, error) {
	return func(app *models.Application, err error) {
		if err != nil {
			h.fail(r.Context(), w, msg, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, app)
	}
}

// fail logs client errors at Warn and everything else at Error, then writes
// the error response.
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

func (h *Handler) parseMultipart(w http.ResponseWriter, r *http.Request) (*multipart.Form, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, service.MaxRequestSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "request body is too large"))
			return nil, false
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid multipart body"))
		return nil, false
	}
	return r.MultipartForm, true
}

func readFiles(headers []*multipart.FileHeader) ([]models.File, error) {
	files := make([]models.File, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > service.MaxFileSize {
			return nil, dErrors.New(dErrors.CodeValidation, "file "+strconv.Quote(fh.Filename)+" exceeds the size limit")
		}
		f, err := fh.Open()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "unreadable upload")
		}
		data, err := io.ReadAll(io.LimitReader(f, service.MaxFileSize+1))
		_ = f.Close()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "unreadable upload")
		}
		files = append(files, models.File{Name: fh.Filename, Data: data})
	}
	return files, nil
}

func formValue(form *multipart.Form, key string) string {
	if v := form.Value[key]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func pathID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid "+param))
		return 0, false
	}
	return id, true
}

func parseListQuery(values url.Values) (listQuery, error) {
	q := listQuery{
		Kind:   values.Get("kind"),
		Status: values.Get("status"),
		Query:  values.Get("q"),
	}
	var err error
	if q.OwnerID, err = queryInt64(values.Get("owner_id")); err != nil {
		return q, err
	}
	if q.Limit, err = queryInt(values.Get("limit")); err != nil {
		return q, err
	}
	if q.Offset, err = queryInt(values.Get("offset")); err != nil {
		return q, err
	}
	q.IncludeArchived, _ = strconv.ParseBool(values.Get("include_archived"))
	return q, nil
}

func queryInt64(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeBadRequest, "invalid numeric query parameter")
	}
	return n, nil
}

func queryInt(raw string) (int, error) {
	n, err := queryInt64(raw)
	return int(n), err
}
