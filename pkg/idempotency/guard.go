// Package idempotency short-circuits webhook redeliveries across API
// replicas before they reach the activity store.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dukex/inbox/pkg/models"
)

const (
	DefaultTTL    = 10 * time.Minute
	DefaultPrefix = "inbox:delivery:"
)

// Guard claims a delivery by its natural key. The first claimant owns the
// delivery; later claimants get the activity ID recorded by the owner, or ""
// while the owner is still processing.
type Guard interface {
	Claim(ctx context.Context, platform models.Platform, sourceKey string) (claimed bool, activityID string, err error)
	Remember(ctx context.Context, platform models.Platform, sourceKey, activityID string) error
	Release(ctx context.Context, platform models.Platform, sourceKey string) error
}

type RedisGuard struct {
	client redis.Cmdable
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

type Option func(*RedisGuard)

func WithTTL(ttl time.Duration) Option {
	return func(g *RedisGuard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(g *RedisGuard) {
		if prefix != "" {
			g.prefix = prefix
		}
	}
}

func NewRedisGuard(client redis.Cmdable, logger *slog.Logger, opts ...Option) *RedisGuard {
	g := &RedisGuard{
		client: client,
		ttl:    DefaultTTL,
		prefix: DefaultPrefix,
		logger: logger.With("module", "idempotency"),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Connect parses a redis:// URL and verifies the server is reachable.
func Connect(ctx context.Context, rawURL string) (*redis.Client, error) {
	options, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// Key returns the redis key of a delivery.
func (g *RedisGuard) Key(platform models.Platform, sourceKey string) string {
	return g.prefix + string(platform) + ":" + sourceKey
}

func (g *RedisGuard) Claim(ctx context.Context, platform models.Platform, sourceKey string) (bool, string, error) {
	key := g.Key(platform, sourceKey)

	claimed, err := g.client.SetNX(ctx, key, "", g.ttl).Result()
	if err != nil {
		return false, "", fmt.Errorf("failed to claim delivery: %w", err)
	}

	if claimed {
		return true, "", nil
	}

	activityID, err := g.client.Get(ctx, key).Result()

	switch {
	case errors.Is(err, redis.Nil):
		// expired between SETNX and GET
		return g.Claim(ctx, platform, sourceKey)
	case err != nil:
		return false, "", fmt.Errorf("failed to read delivery claim: %w", err)
	}

	g.logger.DebugContext(ctx, "Delivery already claimed", "key", key, "activity_id", activityID)

	return false, activityID, nil
}

func (g *RedisGuard) Remember(ctx context.Context, platform models.Platform, sourceKey, activityID string) error {
	if err := g.client.Set(ctx, g.Key(platform, sourceKey), activityID, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}

	return nil
}

// Release drops a claim so the next redelivery is processed again.
func (g *RedisGuard) Release(ctx context.Context, platform models.Platform, sourceKey string) error {
	if err := g.client.Del(ctx, g.Key(platform, sourceKey)).Err(); err != nil {
		return fmt.Errorf("failed to release delivery: %w", err)
	}

	return nil
}
