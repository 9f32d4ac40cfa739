package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/dukex/inbox/pkg/idempotency"
)

// NewGuard connects the delivery guard. An empty URL disables it and
// returns a nil client.
func NewGuard(ctx context.Context, redisURL string, logger *slog.Logger) (idempotency.Guard, *redis.Client, error) {
	if redisURL == "" {
		return nil, nil, nil
	}

	client, err := idempotency.Connect(ctx, redisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect delivery guard: %w", err)
	}

	logger.InfoContext(ctx, "Delivery guard enabled")

	return idempotency.NewRedisGuard(client, logger), client, nil
}
