package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisAPI is the subset of *redis.Client used by RedisChunkStore.
type redisAPI interface {
	LPop(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	TxPipelined(ctx context.Context, fn func(redis.Pipeliner) error) ([]redis.Cmder, error)
}

// RedisChunkStore keeps each sender's pending chunks in a Redis list. LPOP is
// atomic, so concurrent pops never hand out the same chunk.
type RedisChunkStore struct {
	client redisAPI
	prefix string
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedisChunkStore(client redisAPI, prefix string, ttl time.Duration, logger *slog.Logger) (*RedisChunkStore, error) {
	if client == nil {
		return nil, errors.New("repository: redis client must not be nil")
	}
	if prefix == "" {
		prefix = "continuation:"
	}
	if ttl <= 0 {
		ttl = ttlDuration
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisChunkStore{client: client, prefix: prefix, ttl: ttl, logger: logger}, nil
}

func (s *RedisChunkStore) key(sender string) string {
	return s.prefix + sender
}

// Put replaces the sender's list in one MULTI/EXEC.
func (s *RedisChunkStore) Put(ctx context.Context, sender string, chunks []string) error {
	if sender == "" {
		return errors.New("repository: Put: sender is required")
	}
	if len(chunks) == 0 {
		return s.Clear(ctx, sender)
	}

	key := s.key(sender)
	values := make([]any, len(chunks))
	for i, c := range chunks {
		values[i] = c
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.RPush(ctx, key, values...)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("repository: redis Put: %w", err)
	}
	s.logger.DebugContext(ctx, "stored continuation", "key", key, "pending", len(chunks))
	return nil
}

// TakeNext pops the head of the sender's list. Redis removes the key once the
// last element is popped.
func (s *RedisChunkStore) TakeNext(ctx context.Context, sender string) (string, bool, error) {
	next, err := s.client.LPop(ctx, s.key(sender)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("repository: redis TakeNext: %w", err)
	}
	return next, true, nil
}

func (s *RedisChunkStore) Clear(ctx context.Context, sender string) error {
	if err := s.client.Del(ctx, s.key(sender)).Err(); err != nil {
		return fmt.Errorf("repository: redis Clear: %w", err)
	}
	return nil
}
