package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"iinportal/internal/survey/models"
	"iinportal/pkg/platform/sentinel"
)

const (
	sessionKeyPrefix   = "survey:session:"
	completedKeyPrefix = "survey:completed:"
)

// RedisStore holds gate sessions with their TTL and caches positive
// completion checks for cacheTTL. Completions are permanent; the TTL only
// bounds memory. Zero keeps cached keys forever.
type RedisStore struct {
	client   *redis.Client
	cacheTTL time.Duration
}

func NewRedis(client *redis.Client, cacheTTL time.Duration) *RedisStore {
	return &RedisStore{client: client, cacheTTL: cacheTTL}
}

func (s *RedisStore) SaveSession(ctx context.Context, session *models.Session, ttl time.Duration) error {
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode survey session: %w", err)
	}
	return s.client.Set(ctx, sessionKeyPrefix+session.ID, payload, ttl).Err()
}

func (s *RedisStore) FindSession(ctx context.Context, id string) (*models.Session, error) {
	payload, err := s.client.Get(ctx, sessionKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get survey session: %w", err)
	}
	var session models.Session
	if err := json.Unmarshal(payload, &session); err != nil {
		return nil, fmt.Errorf("decode survey session: %w", err)
	}
	return &session, nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, id string) error {
	return s.client.Del(ctx, sessionKeyPrefix+id).Err()
}

// IsCompleted reports a cached completion; a miss means "ask the store".
func (s *RedisStore) IsCompleted(ctx context.Context, key models.Key) (bool, error) {
	n, err := s.client.Exists(ctx, completedKeyPrefix+key.String()).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisStore) MarkCompleted(ctx context.Context, key models.Key) error {
	return s.client.Set(ctx, completedKeyPrefix+key.String(), "1", s.cacheTTL).Err()
}
