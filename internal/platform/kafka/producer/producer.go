// Package producer wraps a franz-go client for synchronous publishing to a
// single topic.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is a keyed record with string headers.
type Message struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

type Config struct {
	Brokers           []string
	Topic             string
	ClientID          string
	Partitions        int32
	ReplicationFactor int16
	ProduceTimeout    time.Duration
}

type Producer struct {
	client  *kgo.Client
	topic   string
	timeout time.Duration
	logger  *slog.Logger
}

// New connects to the brokers. It does not create the topic; call EnsureTopic.
func New(cfg Config, logger *slog.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka: topic is required")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5 * time.Millisecond),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka: create client: %w", err)
	}
	timeout := cfg.ProduceTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Producer{client: client, topic: cfg.Topic, timeout: timeout, logger: logger}, nil
}

// EnsureTopic creates the topic when it is missing.
func (p *Producer) EnsureTopic(ctx context.Context, partitions int32, replicationFactor int16) error {
	if partitions <= 0 {
		partitions = 1
	}
	if replicationFactor <= 0 {
		replicationFactor = 1
	}
	admin := kadm.NewClient(p.client)
	resp, err := admin.CreateTopic(ctx, partitions, replicationFactor, nil, p.topic)
	if err != nil {
		return fmt.Errorf("kafka: create topic %s: %w", p.topic, err)
	}
	if resp.Err != nil && !errors.Is(resp.Err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("kafka: create topic %s: %w", p.topic, resp.Err)
	}
	if p.logger != nil {
		p.logger.InfoContext(ctx, "kafka topic ready", "topic", p.topic)
	}
	return nil
}

// Publish produces msg and waits for the broker acknowledgement.
func (p *Producer) Publish(ctx context.Context, msg Message) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	record := &kgo.Record{Topic: p.topic, Key: msg.Key, Value: msg.Value}
	for k, v := range msg.Headers {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("kafka: produce to %s: %w", p.topic, err)
	}
	return nil
}

// Ping checks broker connectivity.
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *Producer) Close() {
	p.client.Close()
}
