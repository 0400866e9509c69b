package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"iinportal/internal/survey/models"
	"iinportal/pkg/platform/sentinel"
)

// PostgresCompletionStore persists completions in survey_completions. The
// primary key on (application_type, application_id) makes recording
// idempotent across instances.
type PostgresCompletionStore struct {
	db *sql.DB
}

func NewPostgresCompletions(db *sql.DB) *PostgresCompletionStore {
	return &PostgresCompletionStore{db: db}
}

func (s *PostgresCompletionStore) FindCompletion(ctx context.Context, key models.Key) (*models.Completion, error) {
	c := models.Completion{Key: key}
	err := s.db.QueryRowContext(ctx, `
		SELECT certificate_type, completed_at
		FROM survey_completions
		WHERE application_type = $1 AND application_id = $2`,
		key.ApplicationType, key.ApplicationID,
	).Scan(&c.CertificateType, &c.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find survey completion: %w", err)
	}
	c.CompletedAt = c.CompletedAt.UTC()
	return &c, nil
}

func (s *PostgresCompletionStore) RecordCompletion(ctx context.Context, c *models.Completion) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO survey_completions (application_type, application_id, certificate_type, completed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (application_type, application_id) DO NOTHING`,
		c.ApplicationType, c.ApplicationID, c.CertificateType, c.CompletedAt,
	)
	if err != nil {
		return false, fmt.Errorf("record survey completion: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record survey completion: %w", err)
	}
	return n == 1, nil
}
