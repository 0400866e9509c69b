// Package kafka forwards audit events to a Kafka topic keyed by application
// id, so consumers see each application's events in order.
package kafka

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"iinportal/internal/platform/kafka/producer"
	audit "iinportal/pkg/platform/audit"
)

// Publisher is the producer port used by the store.
type Publisher interface {
	Publish(ctx context.Context, msg producer.Message) error
}

type Store struct {
	producer Publisher
}

func New(p Publisher) *Store {
	return &Store{producer: p}
}

type payload struct {
	ID              string `json:"id"`
	Category        string `json:"category"`
	Timestamp       string `json:"timestamp"`
	UserID          int64  `json:"user_id"`
	ApplicationID   int64  `json:"application_id"`
	ApplicationKind string `json:"application_kind,omitempty"`
	Action          string `json:"action"`
	StatusFrom      string `json:"status_from,omitempty"`
	StatusTo        string `json:"status_to,omitempty"`
	Detail          string `json:"detail,omitempty"`
	RequestID       string `json:"request_id,omitempty"`
}

func (s *Store) Append(ctx context.Context, event audit.Event) error {
	body, err := json.Marshal(payload{
		ID:              event.ID,
		Category:        string(event.Category),
		Timestamp:       event.Timestamp.UTC().Format(time.RFC3339Nano),
		UserID:          event.UserID,
		ApplicationID:   event.ApplicationID,
		ApplicationKind: event.ApplicationKind,
		Action:          event.Action,
		StatusFrom:      event.StatusFrom,
		StatusTo:        event.StatusTo,
		Detail:          event.Detail,
		RequestID:       event.RequestID,
	})
	if err != nil {
		return err
	}
	return s.producer.Publish(ctx, producer.Message{
		Key:   []byte(strconv.FormatInt(event.ApplicationID, 10)),
		Value: body,
		Headers: map[string]string{
			"event_type": event.Action,
			"category":   string(event.Category),
		},
	})
}
