package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	dErrors "iinportal/pkg/domain-errors"
)

// numShards spreads applications over independent locks so that different
// applications proceed in parallel.
const numShards = 128

const defaultTxTimeout = 5 * time.Second

// checkpointer is implemented by in-memory stores that can undo a failed
// transaction for one application.
type checkpointer interface {
	Checkpoint(applicationID int64) (restore func())
}

// ShardedTx serializes transactions per application id over an in-memory
// store. Postgres deployments use a database transaction runner instead.
type ShardedTx struct {
	shards  [numShards]sync.Mutex
	store   Store
	timeout time.Duration
}

func NewShardedTx(store Store) *ShardedTx {
	return &ShardedTx{store: store, timeout: defaultTxTimeout}
}

func (t *ShardedTx) RunInTx(ctx context.Context, applicationID int64, fn func(ctx context.Context, store Store) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	shard := shardFor(applicationID)
	t.shards[shard].Lock()
	defer t.shards[shard].Unlock()

	// Check again after acquiring lock
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	var restore func()
	if cp, ok := t.store.(checkpointer); ok {
		restore = cp.Checkpoint(applicationID)
	}
	if err := fn(ctx, t.store); err != nil {
		if restore != nil {
			restore()
		}
		return err
	}
	return nil
}

func shardFor(applicationID int64) int {
	return int(hashString(strconv.FormatInt(applicationID, 10)) % numShards)
}

// hashString is FNV-1a.
func hashString(s string) uint32 {
	const (
		fnvOffset = 2166136261
		fnvPrime  = 16777619
	)
	h := uint32(fnvOffset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime
	}
	return h
}
