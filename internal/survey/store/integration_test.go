//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"iinportal/internal/survey/models"
	"iinportal/internal/survey/store"
	"iinportal/pkg/platform/sentinel"
	"iinportal/pkg/testutil/containers"
)

type PostgresCompletionSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresCompletionStore
}

func TestPostgresCompletionSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresCompletionSuite))
}

func (s *PostgresCompletionSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgresCompletions(s.postgres.DB)
}

func (s *PostgresCompletionSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "survey_completions"))
}

func (s *PostgresCompletionSuite) TestRecordOnce() {
	ctx := context.Background()
	key := models.Key{ApplicationType: 5, ApplicationID: 5}
	at := time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)

	_, err := s.store.FindCompletion(ctx, key)
	s.ErrorIs(err, sentinel.ErrNotFound)

	created, err := s.store.RecordCompletion(ctx, &models.Completion{Key: key, CertificateType: "iin-nasional", CompletedAt: at})
	s.Require().NoError(err)
	s.True(created)

	created, err = s.store.RecordCompletion(ctx, &models.Completion{Key: key, CertificateType: "other", CompletedAt: at.Add(time.Hour)})
	s.Require().NoError(err)
	s.False(created)

	got, err := s.store.FindCompletion(ctx, key)
	s.Require().NoError(err)
	s.Equal("iin-nasional", got.CertificateType)
	s.True(at.Equal(got.CompletedAt))
}

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *store.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = store.NewRedis(s.redis.Client, time.Hour)
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisStoreSuite) TestSessions() {
	ctx := context.Background()
	session := &models.Session{
		ID:       "0b7e5d0e-3f57-4a53-9d43-2f1f0f7c9a11",
		Key:      models.Key{ApplicationType: 1, ApplicationID: 42},
		UserID:   7,
		OpenedAt: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC),
	}
	s.Require().NoError(s.store.SaveSession(ctx, session, time.Minute))

	got, err := s.store.FindSession(ctx, session.ID)
	s.Require().NoError(err)
	s.Equal(session.Key, got.Key)
	s.Equal(session.UserID, got.UserID)
	s.True(session.OpenedAt.Equal(got.OpenedAt))

	ttl, err := s.redis.Client.TTL(ctx, "survey:session:"+session.ID).Result()
	s.Require().NoError(err)
	s.Greater(ttl, time.Duration(0))

	s.Require().NoError(s.store.DeleteSession(ctx, session.ID))
	_, err = s.store.FindSession(ctx, session.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *RedisStoreSuite) TestCompletionCache() {
	ctx := context.Background()
	key := models.Key{ApplicationType: 5, ApplicationID: 5}

	hit, err := s.store.IsCompleted(ctx, key)
	s.Require().NoError(err)
	s.False(hit)

	s.Require().NoError(s.store.MarkCompleted(ctx, key))
	hit, err = s.store.IsCompleted(ctx, key)
	s.Require().NoError(err)
	s.True(hit)
}
