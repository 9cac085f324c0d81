// SPDX-License-Identifier: MIT

package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/EmilynnJ/ccodeseer/internal/log"
	"github.com/EmilynnJ/ccodeseer/internal/metrics"
)

// RedisPublisher publishes events through Redis pub/sub.
type RedisPublisher struct {
	client *redis.Client
	logger zerolog.Logger
}

// RedisConfig holds connection configuration for the pub/sub backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisPublisher connects to Redis and verifies the connection.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("bus: redis connection failed: %w", err)
	}

	logger := log.WithComponent("bus")
	logger.Info().Str("addr", cfg.Addr).Int("db", cfg.DB).Msg("connected to pub/sub backend")

	return &RedisPublisher{client: client, logger: logger}, nil
}

// Publish marshals the event and publishes it, retrying transient failures
// with exponential backoff (250 ms base, doubling, 5 retries). Each attempt
// is bounded by a 10 s timeout.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, event Event) error {
	if event.At == 0 {
		event.At = time.Now().UnixMilli()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("bus: marshal event %q: %w", event.Name, err)
	}

	backoff := retryBase
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			metrics.PublishAttempts.WithLabelValues("retry").Inc()
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}

		attemptCtx, cancel := context.WithTimeout(ctx, attemptTTL)
		err := p.client.Publish(attemptCtx, channel, payload).Err()
		cancel()
		if err == nil {
			metrics.PublishAttempts.WithLabelValues("ok").Inc()
			return nil
		}
		lastErr = err
		p.logger.Warn().Err(err).
			Str(log.FieldChannel, channel).
			Str(log.FieldEvent, event.Name).
			Int("attempt", attempt+1).
			Msg("publish failed")
	}

	metrics.PublishAttempts.WithLabelValues("failed").Inc()
	return fmt.Errorf("bus: publish %q on %s failed after %d retries: %w",
		event.Name, channel, maxRetries, lastErr)
}

// Close releases the underlying connection pool.
func (p *RedisPublisher) Close() error { return p.client.Close() }
