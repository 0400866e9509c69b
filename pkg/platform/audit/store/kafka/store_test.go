package kafka

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"iinportal/internal/platform/kafka/producer"
	audit "iinportal/pkg/platform/audit"
)

type capturePublisher struct {
	msgs []producer.Message
}

func (c *capturePublisher) Publish(_ context.Context, msg producer.Message) error {
	c.msgs = append(c.msgs, msg)
	return nil
}

func TestStore_AppendKeysByApplication(t *testing.T) {
	pub := &capturePublisher{}
	store := New(pub)

	err := store.Append(context.Background(), audit.Event{
		ID:            "evt-1",
		Category:      audit.CategoryOperations,
		Timestamp:     time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC),
		UserID:        9,
		ApplicationID: 1234,
		Action:        string(audit.EventStatusChanged),
		StatusFrom:    "pembayaran",
		StatusTo:      "verifikasi-lapangan",
	})
	require.NoError(t, err)
	require.Len(t, pub.msgs, 1)

	msg := pub.msgs[0]
	assert.Equal(t, "1234", string(msg.Key))
	assert.Equal(t, "status_changed", msg.Headers["event_type"])

	var body map[string]any
	require.NoError(t, json.Unmarshal(msg.Value, &body))
	assert.Equal(t, "verifikasi-lapangan", body["status_to"])
	assert.Equal(t, "2026-05-04T03:02:01Z", body["timestamp"])
}
