package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"iinportal/internal/application/models"
	"iinportal/internal/catalog"
	"iinportal/pkg/platform/sentinel"
	txcontext "iinportal/pkg/platform/tx"
)

const pqUniqueViolation = "23505"

// PostgresStore persists applications in PostgreSQL. Every method runs on
// the transaction carried by ctx when there is one.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) exec(ctx context.Context) txcontext.Executor {
	return txcontext.ExecutorFrom(ctx, s.db)
}

const applicationColumns = `
	id, COALESCE(application_number, ''), kind, status, COALESCE(issued_number, ''), notes,
	company_name, owner_id, owner_name, verificator_id, verificator_name, archived,
	created_at, updated_at, submitted_at, payment_stage1_verified_at,
	field_verification_completed_at, payment_stage2_verified_at, issued_at, rejected_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApplication(row rowScanner) (*models.Application, error) {
	var (
		app             models.Application
		kind, status    string
		verificatorID   sql.NullInt64
		verificatorName string
		submitted       sql.NullTime
		stage1          sql.NullTime
		field           sql.NullTime
		stage2          sql.NullTime
		issued          sql.NullTime
		rejected        sql.NullTime
	)
	err := row.Scan(
		&app.ID, &app.Number, &kind, &status, &app.IssuedNumber, &app.Notes,
		&app.CompanyName, &app.Owner.ID, &app.Owner.Name, &verificatorID, &verificatorName, &app.Archived,
		&app.CreatedAt, &app.UpdatedAt, &submitted, &stage1,
		&field, &stage2, &issued, &rejected,
	)
	if err != nil {
		return nil, err
	}
	k, ok := catalog.ParseKind(kind)
	if !ok {
		return nil, fmt.Errorf("application %d has unknown kind %q", app.ID, kind)
	}
	app.Kind = k
	app.Status = catalog.Normalize(status)
	if verificatorID.Valid {
		app.Verificator = &models.UserRef{ID: verificatorID.Int64, Name: verificatorName}
	}
	app.SubmittedAt = timePtr(submitted)
	app.PaymentStage1VerifiedAt = timePtr(stage1)
	app.FieldVerificationCompletedAt = timePtr(field)
	app.PaymentStage2VerifiedAt = timePtr(stage2)
	app.IssuedAt = timePtr(issued)
	app.RejectedAt = timePtr(rejected)
	return &app, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (s *PostgresStore) CreateApplication(ctx context.Context, app *models.Application) error {
	err := s.exec(ctx).QueryRowContext(ctx, `
		INSERT INTO applications (kind, status, notes, company_name, owner_id, owner_name,
			created_at, updated_at, submitted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		app.Kind.String(), string(app.Status), app.Notes, app.CompanyName, app.Owner.ID, app.Owner.Name,
		app.CreatedAt, app.UpdatedAt, nullTime(app.SubmittedAt),
	).Scan(&app.ID)
	if err != nil {
		return fmt.Errorf("insert application: %w", err)
	}
	if err := app.AssignNumber(); err != nil {
		return err
	}
	_, err = s.exec(ctx).ExecContext(ctx,
		`UPDATE applications SET application_number = $1 WHERE id = $2`, app.Number, app.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return fmt.Errorf("application number %s: %w", app.Number, sentinel.ErrConflict)
		}
		return fmt.Errorf("assign application number: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindApplication(ctx context.Context, id int64) (*models.Application, error) {
	row := s.exec(ctx).QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1`, id)
	app, err := scanApplication(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find application: %w", err)
	}
	return app, nil
}

// FindApplicationForUpdate locks the application row until the surrounding
// transaction ends.
func (s *PostgresStore) FindApplicationForUpdate(ctx context.Context, id int64) (*models.Application, error) {
	row := s.exec(ctx).QueryRowContext(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE id = $1 FOR UPDATE`, id)
	app, err := scanApplication(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("lock application: %w", err)
	}
	return app, nil
}

func (s *PostgresStore) UpdateApplication(ctx context.Context, app *models.Application, expected catalog.Status) error {
	var verificatorID sql.NullInt64
	verificatorName := ""
	if app.Verificator != nil {
		verificatorID = sql.NullInt64{Int64: app.Verificator.ID, Valid: true}
		verificatorName = app.Verificator.Name
	}
	res, err := s.exec(ctx).ExecContext(ctx, `
		UPDATE applications SET
			status = $2, issued_number = $3, notes = $4, company_name = $5,
			verificator_id = $6, verificator_name = $7, archived = $8, updated_at = $9,
			payment_stage1_verified_at = $10, field_verification_completed_at = $11,
			payment_stage2_verified_at = $12, issued_at = $13, rejected_at = $14
		WHERE id = $1 AND status = $15`,
		app.ID, string(app.Status), nullString(app.IssuedNumber), app.Notes, app.CompanyName,
		verificatorID, verificatorName, app.Archived, app.UpdatedAt,
		nullTime(app.PaymentStage1VerifiedAt), nullTime(app.FieldVerificationCompletedAt),
		nullTime(app.PaymentStage2VerifiedAt), nullTime(app.IssuedAt), nullTime(app.RejectedAt),
		string(expected),
	)
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	if n > 0 {
		return nil
	}
	var exists bool
	if err := s.exec(ctx).QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM applications WHERE id = $1)`, app.ID).Scan(&exists); err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	if !exists {
		return sentinel.ErrNotFound
	}
	return fmt.Errorf("application %d is no longer %s: %w", app.ID, expected, sentinel.ErrInvalidState)
}

func (s *PostgresStore) ListApplications(ctx context.Context, filter models.ListFilter) ([]*models.Application, int, error) {
	filter = filter.Normalize()

	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if !filter.IncludeArchived {
		where = append(where, "NOT archived")
	}
	if filter.Kind != 0 {
		where = append(where, "kind = "+arg(filter.Kind.String()))
	}
	if filter.Status != "" {
		where = append(where, "status = "+arg(string(filter.Status)))
	}
	if filter.OwnerID != 0 {
		where = append(where, "owner_id = "+arg(filter.OwnerID))
	}
	if q := strings.TrimSpace(filter.Query); q != "" {
		p := arg("%" + q + "%")
		where = append(where, fmt.Sprintf("(application_number ILIKE %s OR company_name ILIKE %s OR owner_name ILIKE %s)", p, p, p))
	}

	from := " FROM applications"
	if len(where) > 0 {
		from += " WHERE " + strings.Join(where, " AND ")
	}
	filterArgs := len(args)
	query := `SELECT ` + applicationColumns + `, COUNT(*) OVER ()` + from +
		" ORDER BY created_at DESC, id DESC LIMIT " + arg(filter.Limit) + " OFFSET " + arg(filter.Offset)

	rows, err := s.exec(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	items := []*models.Application{}
	total := 0
	for rows.Next() {
		app, err := scanApplication(withTotal{rows, &total})
		if err != nil {
			return nil, 0, fmt.Errorf("scan application: %w", err)
		}
		items = append(items, app)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list applications: %w", err)
	}

	// An empty page past the end carries no window count.
	if len(items) == 0 && filter.Offset > 0 {
		err := s.exec(ctx).QueryRowContext(ctx, `SELECT COUNT(*)`+from, args[:filterArgs]...).Scan(&total)
		if err != nil {
			return nil, 0, fmt.Errorf("count applications: %w", err)
		}
	}
	return items, total, nil
}

// withTotal appends the window count column to an application scan.
type withTotal struct {
	rows  *sql.Rows
	total *int
}

func (w withTotal) Scan(dest ...any) error {
	return w.rows.Scan(append(dest, w.total)...)
}

func (s *PostgresStore) AppendStatusLog(ctx context.Context, entry *models.StatusLogEntry) error {
	var from sql.NullString
	if entry.From != nil {
		from = sql.NullString{String: string(*entry.From), Valid: true}
	}
	err := s.exec(ctx).QueryRowContext(ctx, `
		INSERT INTO status_logs (application_id, status_from, status_to, changed_by, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		entry.ApplicationID, from, string(entry.To), entry.ChangedBy, nullString(entry.Notes), entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("append status log: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListStatusLog(ctx context.Context, applicationID int64) ([]models.StatusLogEntry, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, `
		SELECT id, application_id, status_from, status_to, changed_by, COALESCE(notes, ''), created_at
		FROM status_logs
		WHERE application_id = $1
		ORDER BY created_at, id`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list status log: %w", err)
	}
	defer rows.Close()

	entries := []models.StatusLogEntry{}
	for rows.Next() {
		var (
			e    models.StatusLogEntry
			from sql.NullString
			to   string
		)
		if err := rows.Scan(&e.ID, &e.ApplicationID, &from, &to, &e.ChangedBy, &e.Notes, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status log: %w", err)
		}
		if from.Valid {
			f := catalog.Normalize(from.String)
			e.From = &f
		}
		e.To = catalog.Normalize(to)
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AddDocument stores doc; replace marks the slot's current documents as
// superseded first.
func (s *PostgresStore) AddDocument(ctx context.Context, doc *models.Document, replace bool) error {
	if replace {
		_, err := s.exec(ctx).ExecContext(ctx, `
			UPDATE application_documents SET superseded = TRUE
			WHERE application_id = $1 AND slot = $2 AND stage = $3 AND NOT superseded`,
			doc.ApplicationID, string(doc.Slot), doc.Stage)
		if err != nil {
			return fmt.Errorf("supersede documents: %w", err)
		}
	}
	err := s.exec(ctx).QueryRowContext(ctx, `
		INSERT INTO application_documents (application_id, slot, stage, original_name, stored_path, uploaded_by, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		doc.ApplicationID, string(doc.Slot), doc.Stage, doc.OriginalName, doc.StoredPath, doc.UploadedBy, doc.UploadedAt,
	).Scan(&doc.ID)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDocuments(ctx context.Context, applicationID int64) ([]models.Document, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, `
		SELECT id, application_id, slot, stage, original_name, stored_path, uploaded_by, uploaded_at
		FROM application_documents
		WHERE application_id = $1 AND NOT superseded
		ORDER BY uploaded_at, id`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []models.Document{}
	for rows.Next() {
		var (
			d    models.Document
			slot string
		)
		if err := rows.Scan(&d.ID, &d.ApplicationID, &slot, &d.Stage, &d.OriginalName, &d.StoredPath, &d.UploadedBy, &d.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.Slot = models.Slot(slot)
		d.UploadedAt = d.UploadedAt.UTC()
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *PostgresStore) CountDocuments(ctx context.Context, applicationID int64) (models.DocumentCounts, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, `
		SELECT slot, stage, COUNT(*)
		FROM application_documents
		WHERE application_id = $1 AND NOT superseded
		GROUP BY slot, stage`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}
	defer rows.Close()

	counts := models.DocumentCounts{}
	for rows.Next() {
		var (
			slot  string
			stage int
			n     int
		)
		if err := rows.Scan(&slot, &stage, &n); err != nil {
			return nil, fmt.Errorf("scan document count: %w", err)
		}
		counts[models.SlotKey{Slot: models.Slot(slot), Stage: stage}] = n
	}
	return counts, rows.Err()
}

func (s *PostgresStore) AppendDocumentHistory(ctx context.Context, entry *models.DocumentHistoryEntry) error {
	err := s.exec(ctx).QueryRowContext(ctx, `
		INSERT INTO document_history (application_id, slot, stage, action, original_name, stored_path, uploaded_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		entry.ApplicationID, string(entry.Slot), entry.Stage, string(entry.Action),
		entry.OriginalName, entry.StoredPath, entry.UploadedBy, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("append document history: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListDocumentHistory(ctx context.Context, applicationID int64) ([]models.DocumentHistoryEntry, error) {
	rows, err := s.exec(ctx).QueryContext(ctx, `
		SELECT id, application_id, slot, stage, action, original_name, stored_path, uploaded_by, created_at
		FROM document_history
		WHERE application_id = $1
		ORDER BY created_at, id`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list document history: %w", err)
	}
	defer rows.Close()

	entries := []models.DocumentHistoryEntry{}
	for rows.Next() {
		var (
			e            models.DocumentHistoryEntry
			slot, action string
		)
		if err := rows.Scan(&e.ID, &e.ApplicationID, &slot, &e.Stage, &action, &e.OriginalName, &e.StoredPath, &e.UploadedBy, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan document history: %w", err)
		}
		e.Slot = models.Slot(slot)
		e.Action = models.AttachAction(action)
		e.CreatedAt = e.CreatedAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// SaveReimbursement upserts the record and replaces its proofs.
func (s *PostgresStore) SaveReimbursement(ctx context.Context, r *models.Reimbursement) error {
	var reviewedBy sql.NullInt64
	if r.ReviewedBy != nil {
		reviewedBy = sql.NullInt64{Int64: *r.ReviewedBy, Valid: true}
	}
	_, err := s.exec(ctx).ExecContext(ctx, `
		INSERT INTO reimbursements (application_id, amount, description, status, review_note,
			submitted_by, submitted_at, reviewed_by, reviewed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (application_id) DO UPDATE SET
			amount = EXCLUDED.amount,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			review_note = EXCLUDED.review_note,
			submitted_by = EXCLUDED.submitted_by,
			submitted_at = EXCLUDED.submitted_at,
			reviewed_by = EXCLUDED.reviewed_by,
			reviewed_at = EXCLUDED.reviewed_at`,
		r.ApplicationID, r.Amount.StringFixed(2), r.Description, string(r.Status), r.ReviewNote,
		r.SubmittedBy, r.SubmittedAt, reviewedBy, nullTime(r.ReviewedAt),
	)
	if err != nil {
		return fmt.Errorf("save reimbursement: %w", err)
	}

	if _, err := s.exec(ctx).ExecContext(ctx,
		`DELETE FROM reimbursement_proofs WHERE application_id = $1`, r.ApplicationID); err != nil {
		return fmt.Errorf("clear reimbursement proofs: %w", err)
	}
	for _, p := range r.Proofs {
		_, err := s.exec(ctx).ExecContext(ctx, `
			INSERT INTO reimbursement_proofs (application_id, original_name, stored_path, uploaded_at)
			VALUES ($1, $2, $3, $4)`,
			r.ApplicationID, p.OriginalName, p.StoredPath, p.UploadedAt)
		if err != nil {
			return fmt.Errorf("insert reimbursement proof: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) FindReimbursement(ctx context.Context, applicationID int64) (*models.Reimbursement, error) {
	var (
		r          models.Reimbursement
		amount     string
		status     string
		reviewedBy sql.NullInt64
		reviewedAt sql.NullTime
	)
	err := s.exec(ctx).QueryRowContext(ctx, `
		SELECT application_id, amount::TEXT, description, status, review_note,
			submitted_by, submitted_at, reviewed_by, reviewed_at
		FROM reimbursements WHERE application_id = $1`, applicationID,
	).Scan(&r.ApplicationID, &amount, &r.Description, &status, &r.ReviewNote,
		&r.SubmittedBy, &r.SubmittedAt, &reviewedBy, &reviewedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find reimbursement: %w", err)
	}
	if r.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("parse reimbursement amount: %w", err)
	}
	r.Status = models.ReimbursementStatus(status)
	r.SubmittedAt = r.SubmittedAt.UTC()
	if reviewedBy.Valid {
		by := reviewedBy.Int64
		r.ReviewedBy = &by
	}
	r.ReviewedAt = timePtr(reviewedAt)

	rows, err := s.exec(ctx).QueryContext(ctx, `
		SELECT original_name, stored_path, uploaded_at
		FROM reimbursement_proofs WHERE application_id = $1 ORDER BY id`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("list reimbursement proofs: %w", err)
	}
	defer rows.Close()
	r.Proofs = []models.ReimbursementProof{}
	for rows.Next() {
		var p models.ReimbursementProof
		if err := rows.Scan(&p.OriginalName, &p.StoredPath, &p.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan reimbursement proof: %w", err)
		}
		p.UploadedAt = p.UploadedAt.UTC()
		r.Proofs = append(r.Proofs, p)
	}
	return &r, rows.Err()
}
