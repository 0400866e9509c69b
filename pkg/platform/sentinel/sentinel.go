package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores and infrastructure layers return
// these (optionally wrapped) so services can translate them into domain errors.
//
//   - ErrNotFound: record does not exist in the store
//   - ErrConflict: a uniqueness constraint rejected the write
//   - ErrAlreadyUsed: an idempotent write found its key already present
//   - ErrInvalidState: the row changed status under a guarded update
//   - ErrUnavailable: backend temporarily unreachable (blob, cache, broker)
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrAlreadyUsed  = errors.New("already used")
	ErrInvalidState = errors.New("invalid state")
	ErrUnavailable  = errors.New("unavailable")
)
