package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	apphandler "iinportal/internal/application/handler"
	appmetrics "iinportal/internal/application/metrics"
	appservice "iinportal/internal/application/service"
	appstore "iinportal/internal/application/store"
	jwttoken "iinportal/internal/jwt_token"
	"iinportal/internal/platform/blob"
	"iinportal/internal/platform/config"
	"iinportal/internal/platform/database"
	"iinportal/internal/platform/httpserver"
	"iinportal/internal/platform/kafka/producer"
	"iinportal/internal/platform/logger"
	"iinportal/internal/platform/metrics"
	"iinportal/internal/platform/redis"
	surveyhandler "iinportal/internal/survey/handler"
	surveymetrics "iinportal/internal/survey/metrics"
	surveyservice "iinportal/internal/survey/service"
	surveystore "iinportal/internal/survey/store"
	"iinportal/pkg/platform/audit"
	"iinportal/pkg/platform/audit/publisher"
	kafkastore "iinportal/pkg/platform/audit/store/kafka"
	auditmemory "iinportal/pkg/platform/audit/store/memory"
	"iinportal/pkg/platform/circuit"
	"iinportal/pkg/platform/httputil"
	authmw "iinportal/pkg/platform/middleware/auth"
	"iinportal/pkg/platform/middleware/metadata"
	"iinportal/pkg/platform/middleware/requesttime"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("iin portal stopped", "error", err)
		os.Exit(1)
	}
}

// infra holds the optional backends. Nil fields select in-memory fallbacks.
type infra struct {
	db       *sql.DB
	redis    *redis.Client
	producer *producer.Producer
}

func (i *infra) close() {
	if i.producer != nil {
		i.producer.Close()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
	if i.db != nil {
		_ = i.db.Close()
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	inf, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer inf.close()

	blobs, err := newBlobStore(cfg.Blob)
	if err != nil {
		return err
	}
	auditPublisher := newAuditPublisher(ctx, cfg, inf, log)
	defer func() {
		_ = auditPublisher.Close()
	}()

	applications := newApplicationService(inf, blobs, auditPublisher, log)
	surveys := newSurveyService(cfg.Survey, inf, applications, auditPublisher, log)

	router := newRouter(cfg, inf, log, applications, surveys)
	srv := httpserver.New(cfg.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting iin portal", "addr", cfg.Addr, "blob_backend", cfg.Blob.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down iin portal")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func connect(ctx context.Context, cfg config.Server, log *slog.Logger) (*infra, error) {
	inf := &infra{}
	if cfg.DatabaseURL != "" {
		db, err := database.Open(ctx, cfg.DatabaseURL, database.Options{})
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		inf.db = db
		log.Info("postgres connected")
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		inf.close()
		return nil, err
	}
	inf.redis = rc

	if cfg.Kafka.Enabled() {
		p, err := producer.New(producer.Config{
			Brokers:           cfg.Kafka.Brokers,
			Topic:             cfg.Kafka.Topic,
			ClientID:          cfg.Kafka.ClientID,
			Partitions:        cfg.Kafka.Partitions,
			ReplicationFactor: cfg.Kafka.ReplicationFactor,
		}, log)
		if err != nil {
			inf.close()
			return nil, err
		}
		if err := p.EnsureTopic(ctx, cfg.Kafka.Partitions, cfg.Kafka.ReplicationFactor); err != nil {
			p.Close()
			inf.close()
			return nil, err
		}
		inf.producer = p
	}
	return inf, nil
}

func newBlobStore(cfg config.BlobConfig) (appservice.BlobStore, error) {
	switch cfg.Backend {
	case "oss":
		st, err := blob.NewOSSStore(blob.OSSConfig{
			Endpoint:        cfg.OSSEndpoint,
			AccessKeyID:     cfg.OSSAccessKey,
			AccessKeySecret: cfg.OSSAccessSecret,
			Bucket:          cfg.OSSBucket,
			Prefix:          cfg.OSSPrefix,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	case "memory":
		return blob.NewMemoryStore(), nil
	case "local", "":
		st, err := blob.NewLocalStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown BLOB_BACKEND %q", cfg.Backend)
	}
}

// newAuditPublisher sends events to Kafka when brokers are configured and
// keeps them in memory otherwise.
func newAuditPublisher(ctx context.Context, cfg config.Server, inf *infra, log *slog.Logger) *publisher.Publisher {
	var sink audit.Store = auditmemory.NewInMemoryStore()
	if inf.producer != nil {
		sink = kafkastore.New(inf.producer)
		log.InfoContext(ctx, "audit events go to kafka", "topic", cfg.Kafka.Topic)
	}
	return publisher.NewPublisher(sink,
		publisher.WithAsyncBuffer(1024),
		publisher.WithLogger(log),
		publisher.WithBreaker(circuit.New("audit-sink")),
		publisher.WithMetrics(publisher.NewMetrics()),
	)
}

func newApplicationService(inf *infra, blobs appservice.BlobStore, events *publisher.Publisher, log *slog.Logger) *appservice.Service {
	opts := []appservice.Option{
		appservice.WithLogger(log),
		appservice.WithAuditPublisher(events),
		appservice.WithMetrics(appmetrics.New()),
	}
	if inf.db != nil {
		st := appstore.NewPostgres(inf.db)
		return appservice.New(st, newApplicationPostgresTx(inf.db, st), blobs, opts...)
	}
	return appservice.New(appstore.NewInMemory(), nil, blobs, opts...)
}

func newSurveyService(cfg config.SurveyConfig, inf *infra, certificates surveyservice.CertificateSource, events *publisher.Publisher, log *slog.Logger) *surveyservice.Service {
	opts := []surveyservice.Option{
		surveyservice.WithLogger(log),
		surveyservice.WithAuditPublisher(events),
		surveyservice.WithMetrics(surveymetrics.New()),
		surveyservice.WithDwell(cfg.Dwell),
		surveyservice.WithSessionTTL(cfg.SessionTTL),
		surveyservice.WithSurveyURL(cfg.URL),
	}

	var completions surveyservice.CompletionStore = surveystore.NewInMemoryCompletions()
	if inf.db != nil {
		completions = surveystore.NewPostgresCompletions(inf.db)
	}
	var sessions surveyservice.SessionStore = surveystore.NewInMemorySessions()
	if inf.redis != nil {
		rs := surveystore.NewRedis(inf.redis.Client, cfg.CacheTTL)
		sessions = rs
		opts = append(opts, surveyservice.WithCache(rs))
	}
	return surveyservice.New(completions, sessions, certificates, opts...)
}

func newRouter(cfg config.Server, inf *infra, log *slog.Logger, applications *appservice.Service, surveys *surveyservice.Service) http.Handler {
	httpMetrics := metrics.NewHTTP()
	jwt := jwttoken.NewJWTServiceAdapter(jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience))

	r := chi.NewRouter()
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(httpMetrics.Middleware)

	r.Handle("/metrics", metrics.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := inf.health(r.Context()); err != nil {
			log.WarnContext(r.Context(), "health check failed", "error", err)
			httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(authmw.RequireAuth(jwt, log))
		apphandler.New(applications, log).Register(r)
		surveyhandler.New(surveys, log).Register(r)
	})
	return r
}

func (i *infra) health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if i.db != nil {
		if err := i.db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if i.redis != nil {
		if err := i.redis.Health(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	if i.producer != nil {
		if err := i.producer.Ping(ctx); err != nil {
			return fmt.Errorf("kafka: %w", err)
		}
	}
	return nil
}
