// Package backoff decides whether and when a failed attempt is retried.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/mbergkamp/ratchet/internal/engine/classify"
)

// Jitter band applied around the computed delay so that many items failing
// at once do not retry in lockstep.
const (
	jitterLow  = 0.8
	jitterHigh = 1.2
)

// Config holds the retry/backoff shape for one session.
type Config struct {
	// MaxRetries is the retry budget per item. Zero means unset and takes
	// the default; a negative value disables retries entirely, so every
	// failure is terminal on its first attempt.
	MaxRetries      int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
	DisableJitter   bool

	// FailOpenOnUnknown retries errors the classifier does not recognize.
	// Off by default: an unrecognized failure is assumed permanent.
	FailOpenOnUnknown bool
}

// DefaultConfig returns sensible defaults: 2s, 4s, 8s capped at 60s.
func DefaultConfig() Config {
	return Config{
		MaxRetries:      3,
		BaseDelay:       2 * time.Second,
		MaxDelay:        60 * time.Second,
		ExponentialBase: 2.0,
	}
}

// Policy computes retry decisions and delays. Each session owns its own
// instance; there is no shared state between sessions.
type Policy struct {
	cfg Config
}

// New creates a policy, filling zero config fields from DefaultConfig.
func New(cfg Config) *Policy {
	def := DefaultConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.ExponentialBase <= 1 {
		cfg.ExponentialBase = def.ExponentialBase
	}
	return &Policy{cfg: cfg}
}

// ShouldRetry reports whether the given attempt (0-indexed) should be
// retried after err. Attempts at or past MaxRetries are never retried,
// regardless of classification.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.cfg.MaxRetries {
		return false
	}

	switch classify.Classify(err) {
	case classify.Retryable:
		return true
	case classify.NonRetryable:
		return false
	default:
		return p.cfg.FailOpenOnUnknown
	}
}

// DelayFor computes the delay before retrying attempt (0-indexed):
// BaseDelay * ExponentialBase^attempt, clamped to [0, MaxDelay], with a
// uniform jitter factor unless jitter is disabled. The result never exceeds
// MaxDelay even with jitter applied.
func (p *Policy) DelayFor(attempt int) time.Duration {
	d := float64(p.cfg.BaseDelay) * math.Pow(p.cfg.ExponentialBase, float64(attempt))

	if !p.cfg.DisableJitter {
		d *= jitterLow + (jitterHigh-jitterLow)*rand.Float64()
	}

	if d > float64(p.cfg.MaxDelay) {
		d = float64(p.cfg.MaxDelay)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

// Sleep blocks for DelayFor(attempt) or until ctx is cancelled, in which
// case it returns the context error without waiting out the delay.
func (p *Policy) Sleep(ctx context.Context, attempt int) error {
	timer := time.NewTimer(p.DelayFor(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// MaxRetries exposes the configured retry ceiling.
func (p *Policy) MaxRetries() int {
	return p.cfg.MaxRetries
}
