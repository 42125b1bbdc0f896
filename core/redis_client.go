// Package core provides the shared interfaces and infrastructure for the
// reminder engine: logging, configuration, clock, error taxonomy, and the
// Redis client wrapper used by the repository.
package core

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// NewRedisClient parses a Redis URL, applies the DB override and verifies
// connectivity with a bounded Ping. Every Redis-backed component goes through
// this helper so connection behavior stays uniform.
func NewRedisClient(redisURL string, db int, logger Logger) (*redis.Client, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("redis URL is required: %w", ErrMissingConfiguration)
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL %s: %w", redisURL, ErrInvalidConfiguration)
	}
	opts.DB = db

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w: %v (check REDIS_URL and Redis connectivity)", redisURL, ErrConnectionFailed, err)
	}

	if logger != nil {
		logger.Debug("Redis client initialized", map[string]interface{}{
			"redis_url": redisURL,
			"db":        db,
		})
	}

	return client, nil
}
