package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"reward-anomaly-engine/internal/anomaly"
	"reward-anomaly-engine/internal/config"
)

// RedisBackend shares computed reports between replicas.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend connects to the configured Redis and verifies it answers.
func NewRedisBackend(ctx context.Context, cfg config.RedisConfig) (*RedisBackend, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is empty")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return &RedisBackend{client: client, prefix: cfg.KeyPrefix}, nil
}

// Load returns the stored entry for tf. A missing key is not an error.
func (b *RedisBackend) Load(ctx context.Context, tf anomaly.Timeframe) (Entry, bool, error) {
	raw, err := b.client.Get(ctx, b.key(tf)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis get: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return Entry{}, false, fmt.Errorf("decode cached report: %w", err)
	}
	if entry.Report == nil || entry.Report.Timeframe != tf {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Store writes entry with the given expiry.
func (b *RedisBackend) Store(ctx context.Context, entry Entry, ttl time.Duration) error {
	if entry.Report == nil {
		return errors.New("nil report")
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if err := b.client.Set(ctx, b.key(entry.Report.Timeframe), raw, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Close releases the connection pool.
func (b *RedisBackend) Close() error {
	return b.client.Close()
}

func (b *RedisBackend) key(tf anomaly.Timeframe) string {
	return b.prefix + string(tf)
}
