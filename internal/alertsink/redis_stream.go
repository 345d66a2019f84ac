package alertsink

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"

	"github.com/wilsonzlin/aero/proxy/patient-monitor-relay/internal/config"
)

// RedisStream appends alert events to a Redis stream with XADD, trimming it to
// roughly maxLen entries.
type RedisStream struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisStream(cfg config.RedisConfig) *RedisStream {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewRedisStreamFromClient(client, cfg.AlertStream, cfg.StreamMaxLen)
}

func NewRedisStreamFromClient(client *redis.Client, stream string, maxLen int64) *RedisStream {
	if stream == "" {
		stream = config.DefaultRedisAlertStream
	}
	return &RedisStream{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStream) Stream() string { return s.stream }

// Ping checks connectivity; used at startup and by /readyz.
func (s *RedisStream) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStream) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev.Alert)
	if err != nil {
		return fmt.Errorf("encode alert %s: %w", ev.Alert.ID, err)
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"event":        string(ev.Kind),
			"alert_id":     ev.Alert.ID,
			"patient_id":   ev.Alert.PatientID,
			"urgency":      ev.Alert.Urgency,
			"acknowledged": strconv.FormatBool(ev.Alert.Acknowledged),
			"data":         string(data),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

func (s *RedisStream) Close() error {
	return s.client.Close()
}
