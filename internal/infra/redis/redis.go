// Package redis publishes batch progress over Redis so operators can
// follow a long run from another process.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mbergkamp/ratchet/internal/engine"
)

// Config holds Redis connection configuration.
type Config struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
}

// Client wraps the Redis connection used by the progress sink.
type Client struct {
	rdb *redis.Client
}

// NewClient connects and verifies the connection.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

func sessionKey(sessionID string) string {
	return fmt.Sprintf("ratchet:session:%s", sessionID)
}

const progressChannel = "ratchet:progress"

// ProgressSink mirrors per-item status into a session hash and publishes
// every transition on a pub/sub channel. Writes are best-effort: progress
// display must never fail the batch.
type ProgressSink struct {
	client *Client
	log    *slog.Logger
}

// NewProgressSink creates a sink on an established client.
func NewProgressSink(client *Client, log *slog.Logger) *ProgressSink {
	if log == nil {
		log = slog.Default()
	}
	return &ProgressSink{client: client, log: log}
}

// OnTransition implements engine.ProgressSink.
func (s *ProgressSink) OnTransition(ctx context.Context, p engine.Progress) {
	rdb := s.client.rdb

	if err := rdb.HSet(ctx, sessionKey(p.SessionID), p.ItemKey, string(p.Status)).Err(); err != nil {
		s.log.Debug("progress hash write failed", "error", err)
	}

	payload, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := rdb.Publish(ctx, progressChannel, payload).Err(); err != nil {
		s.log.Debug("progress publish failed", "error", err)
	}
}
