// Package blob stores uploaded and generated documents. Callers get back an
// opaque path and never assume a particular backend.
package blob

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store is the blob storage port.
type Store interface {
	Store(ctx context.Context, data []byte, suggestedName string) (string, error)
	Retrieve(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
	Delete(ctx context.Context, path string) error
}

// NewKey derives a collision-free object key that keeps the suggested file
// extension, grouped by upload month.
func NewKey(prefix, suggestedName string, now time.Time) string {
	ext := strings.ToLower(path.Ext(sanitizeName(suggestedName)))
	if len(ext) > 10 {
		ext = ""
	}
	key := now.UTC().Format("2006/01") + "/" + uuid.NewString() + ext
	if prefix != "" {
		key = strings.Trim(prefix, "/") + "/" + key
	}
	return key
}

func sanitizeName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	return path.Base(name)
}

// validKey rejects paths that would escape the store root.
func validKey(key string) bool {
	if key == "" || strings.HasPrefix(key, "/") {
		return false
	}
	for part := range strings.SplitSeq(key, "/") {
		if part == ".." || part == "" {
			return false
		}
	}
	return true
}
