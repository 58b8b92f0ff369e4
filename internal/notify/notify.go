// Package notify delivers appointment notifications to the channel that
// fans them out to patients, doctors and admins.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Dispatcher sends one notification to a set of recipients.
type Dispatcher interface {
	Notify(ctx context.Context, eventType string, recipients []uuid.UUID, payload map[string]any) error
}

// RedisStream appends every notification to a Redis stream. Delivery
// workers outside this service consume the stream.
type RedisStream struct {
	client *redis.Client
	stream string
	maxLen int64
	now    func() time.Time
}

func NewRedisStream(client *redis.Client, stream string) *RedisStream {
	return &RedisStream{
		client: client,
		stream: stream,
		maxLen: 100000,
		now:    time.Now,
	}
}

func (s *RedisStream) Notify(ctx context.Context, eventType string, recipients []uuid.UUID, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}

	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{
			"event":      eventType,
			"recipients": joinIDs(recipients),
			"payload":    string(body),
			"created_at": s.now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

// Log writes notifications to the process log. Used when no Redis stream
// is configured.
type Log struct {
	log zerolog.Logger
}

func NewLog(l zerolog.Logger) *Log {
	return &Log{log: l}
}

func (l *Log) Notify(_ context.Context, eventType string, recipients []uuid.UUID, payload map[string]any) error {
	l.log.Info().
		Str("event", eventType).
		Str("recipients", joinIDs(recipients)).
		Interface("payload", payload).
		Msg("notification")
	return nil
}

func joinIDs(ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}
