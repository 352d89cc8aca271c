package relay

import (
	"context"
	"errors"
	"fmt"

	"NeuroVault/internal/event"

	"github.com/redis/go-redis/v9"
)

const RedisStream = "vault:events"

type RedisConfig struct {
	Address  string
	Password string
	DB       int
	Stream   string
	// MaxLen trims the stream approximately; 0 keeps everything.
	MaxLen int64
}

// RedisSink appends each envelope to a Redis stream with the fields
// sequence, topic, id, state_hash and payload.
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

func NewRedisSink(ctx context.Context, cfg RedisConfig) (*RedisSink, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisSinkFromClient(client, cfg.Stream, cfg.MaxLen), nil
}

func NewRedisSinkFromClient(client *redis.Client, stream string, maxLen int64) *RedisSink {
	if stream == "" {
		stream = RedisStream
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Publish(ctx context.Context, env event.Envelope) error {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"sequence":   env.Sequence,
			"topic":      env.Topic(),
			"id":         env.ID.String(),
			"state_hash": fmt.Sprintf("%x", env.StateHash),
			"payload":    string(env.Payload),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("redis xadd: %w", err)
	}
	return nil
}

func (s *RedisSink) Close() error { return s.client.Close() }
