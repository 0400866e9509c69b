// Package publisher fans audit events out to a Store, either inline or
// through a bounded buffer drained by one goroutine.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	audit "iinportal/pkg/platform/audit"
	"iinportal/pkg/platform/circuit"
)

var errBufferFull = errors.New("audit buffer full")

// Lister is implemented by stores that can read events back.
type Lister interface {
	ListByApplication(ctx context.Context, applicationID int64) ([]audit.Event, error)
}

type Publisher struct {
	store   audit.Store
	logger  *slog.Logger
	breaker *circuit.Breaker
	metrics *Metrics

	buffer chan audit.Event
	wg     sync.WaitGroup
	once   sync.Once
}

type Option func(*Publisher)

// WithAsyncBuffer makes Emit non-blocking; events beyond size are rejected.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.buffer = make(chan audit.Event, size)
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithBreaker drops events while the store keeps failing instead of piling
// up timeouts on every command.
func WithBreaker(b *circuit.Breaker) Option {
	return func(p *Publisher) {
		p.breaker = b
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.buffer != nil {
		p.wg.Add(1)
		go p.drain()
	}
	return p
}

// Emit stamps and forwards event. In async mode it only enqueues.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Category == "" {
		event.Category = audit.AuditEvent(event.Action).Category()
	}

	if p.buffer == nil {
		return p.write(ctx, event)
	}

	select {
	case p.buffer <- event:
		return nil
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p.metrics.incDropped()
	return errBufferFull
}

func (p *Publisher) write(ctx context.Context, event audit.Event) error {
	if p.breaker != nil && !p.breaker.Allow() {
		p.metrics.incDropped()
		return nil
	}

	err := p.store.Append(ctx, event)
	if err != nil {
		p.metrics.incFailures()
		if p.breaker != nil {
			if _, change := p.breaker.RecordFailure(); change.Opened {
				p.metrics.setBreakerOpen(true)
				p.log(ctx, slog.LevelWarn, "audit sink circuit opened", "breaker", p.breaker.Name())
			}
		}
		return fmt.Errorf("append audit event: %w", err)
	}

	p.metrics.incEmitted()
	if p.breaker != nil {
		if _, change := p.breaker.RecordSuccess(); change.Closed {
			p.metrics.setBreakerOpen(false)
			p.log(ctx, slog.LevelInfo, "audit sink circuit closed", "breaker", p.breaker.Name())
		}
	}
	return nil
}

func (p *Publisher) drain() {
	defer p.wg.Done()
	for event := range p.buffer {
		if err := p.write(context.Background(), event); err != nil {
			p.log(context.Background(), slog.LevelError, "failed to persist audit event",
				"action", event.Action,
				"application_id", event.ApplicationID,
				"error", err,
			)
		}
	}
}

func (p *Publisher) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if p.logger != nil {
		p.logger.Log(ctx, level, msg, args...)
	}
}

// List reads events back when the store supports it.
func (p *Publisher) List(ctx context.Context, applicationID int64) ([]audit.Event, error) {
	lister, ok := p.store.(Lister)
	if !ok {
		return nil, errors.New("audit store does not support listing")
	}
	return lister.ListByApplication(ctx, applicationID)
}

// Close stops accepting async events and waits for the buffer to drain.
func (p *Publisher) Close() error {
	p.once.Do(func() {
		if p.buffer != nil {
			close(p.buffer)
			p.wg.Wait()
		}
	})
	return nil
}
