package main

import (
	"context"
	"database/sql"
	"time"

	"iinportal/internal/application/service"
	dErrors "iinportal/pkg/domain-errors"
	txcontext "iinportal/pkg/platform/tx"
)

const defaultApplicationTxTimeout = 5 * time.Second

// applicationPostgresTx runs each command in one SQL transaction. The store
// picks the transaction up from the context, and FindApplicationForUpdate
// takes the row lock that serializes writers of one application.
type applicationPostgresTx struct {
	db      *sql.DB
	store   service.Store
	timeout time.Duration
}

func newApplicationPostgresTx(db *sql.DB, store service.Store) *applicationPostgresTx {
	return &applicationPostgresTx{db: db, store: store}
}

func (t *applicationPostgresTx) RunInTx(ctx context.Context, _ int64, fn func(ctx context.Context, store service.Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultApplicationTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx), t.store); err != nil {
		return err
	}
	return tx.Commit()
}
