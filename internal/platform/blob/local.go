package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"iinportal/pkg/platform/sentinel"
)

// LocalStore keeps blobs under a directory on local disk.
type LocalStore struct {
	root string
	now  func() time.Time
}

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &LocalStore{root: root, now: time.Now}, nil
}

func (s *LocalStore) Store(ctx context.Context, data []byte, suggestedName string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	key := NewKey("", suggestedName, s.now())
	full := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}

	tmp := full + ".part"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("commit blob: %w", err)
	}
	return key, nil
}

func (s *LocalStore) Retrieve(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validKey(key) {
		return nil, sentinel.ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.root, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

func (s *LocalStore) Exists(_ context.Context, key string) (bool, error) {
	if !validKey(key) {
		return false, nil
	}
	_, err := os.Stat(filepath.Join(s.root, filepath.FromSlash(key)))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat blob: %w", err)
	}
	return true, nil
}

func (s *LocalStore) Delete(_ context.Context, key string) error {
	if !validKey(key) {
		return nil
	}
	err := os.Remove(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}
