// Package timeout adapts the per-operation deadline to the resource's
// observed behavior instead of a fixed guess.
package timeout

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Config holds the adaptive controller shape for one session.
type Config struct {
	// WindowSize is the capacity of the rolling window of successful-call
	// durations. Oldest samples are evicted first.
	WindowSize int

	// BaseTimeout applies while the window is empty.
	BaseTimeout time.Duration

	// MinTimeout and MaxTimeout clamp every computed timeout.
	MinTimeout time.Duration
	MaxTimeout time.Duration

	// BufferFloor is the minimum safety margin added on top of the
	// statistical estimate, so the timeout never tracks the mean too
	// tightly when variance is near zero.
	BufferFloor time.Duration
}

// DefaultConfig returns sensible defaults for a slow remote automation
// session.
func DefaultConfig() Config {
	return Config{
		WindowSize:  50,
		BaseTimeout: 30 * time.Second,
		MinTimeout:  5 * time.Second,
		MaxTimeout:  180 * time.Second,
		BufferFloor: 2 * time.Second,
	}
}

// Stats is a snapshot of the controller's observed behavior, computed on
// demand from the window and counters.
type Stats struct {
	Count          int           `json:"count"`
	Mean           time.Duration `json:"mean"`
	Median         time.Duration `json:"median"`
	Min            time.Duration `json:"min"`
	Max            time.Duration `json:"max"`
	StdDev         time.Duration `json:"std_dev"`
	CurrentTimeout time.Duration `json:"current_timeout"`
	Successes      uint64        `json:"successes"`
	Failures       uint64        `json:"failures"`
	SuccessRate    float64       `json:"success_rate"`
}

// Controller maintains a rolling window of successful-call durations and
// lifetime success/failure counters. Each session owns its own instance;
// timing statistics from one resource are meaningless for another.
type Controller struct {
	mu  sync.Mutex
	cfg Config

	// Ring buffer of successful-call durations. head is the next write
	// position; count saturates at len(window).
	window []time.Duration
	head   int
	count  int

	// Lifetime counters, not windowed. Used for health, not for sizing.
	successes uint64
	failures  uint64

	base time.Duration
}

// NewController creates a controller, filling zero config fields from
// DefaultConfig.
func NewController(cfg Config) *Controller {
	def := DefaultConfig()
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.BaseTimeout <= 0 {
		cfg.BaseTimeout = def.BaseTimeout
	}
	if cfg.MinTimeout <= 0 {
		cfg.MinTimeout = def.MinTimeout
	}
	if cfg.MaxTimeout <= 0 {
		cfg.MaxTimeout = def.MaxTimeout
	}
	if cfg.BufferFloor <= 0 {
		cfg.BufferFloor = def.BufferFloor
	}
	return &Controller{
		cfg:    cfg,
		window: make([]time.Duration, cfg.WindowSize),
		base:   cfg.BaseTimeout,
	}
}

// RecordOutcome feeds one attempt's duration and result into the
// controller. Failed calls count toward the failure counter but are not
// added to the duration window: how long a failed call took says nothing
// about how long a successful one takes.
func (c *Controller) RecordOutcome(d time.Duration, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !success {
		c.failures++
		return
	}

	c.successes++
	c.window[c.head] = d
	c.head = (c.head + 1) % len(c.window)
	if c.count < len(c.window) {
		c.count++
	}
}

// CurrentTimeout returns the timeout to apply to the next operation. With
// an empty window it returns the working base; otherwise
// mean + 2*stddev + buffer, where buffer = max(0.2*estimate, BufferFloor),
// clamped to [MinTimeout, MaxTimeout]. Two standard deviations cover the
// bulk of normal variance without a full distribution model.
func (c *Controller) CurrentTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentTimeoutLocked()
}

func (c *Controller) currentTimeoutLocked() time.Duration {
	if c.count == 0 {
		return c.clamp(c.base)
	}

	mean, stddev := c.meanStdDevLocked()
	estimate := mean + 2*stddev
	buffer := estimate * 0.2
	if buffer < float64(c.cfg.BufferFloor) {
		buffer = float64(c.cfg.BufferFloor)
	}

	return c.clamp(time.Duration(estimate + buffer))
}

func (c *Controller) clamp(d time.Duration) time.Duration {
	if d < c.cfg.MinTimeout {
		return c.cfg.MinTimeout
	}
	if d > c.cfg.MaxTimeout {
		return c.cfg.MaxTimeout
	}
	return d
}

func (c *Controller) meanStdDevLocked() (mean, stddev float64) {
	var sum float64
	for _, d := range c.samplesLocked() {
		sum += float64(d)
	}
	mean = sum / float64(c.count)

	var sq float64
	for _, d := range c.samplesLocked() {
		diff := float64(d) - mean
		sq += diff * diff
	}
	stddev = math.Sqrt(sq / float64(c.count))
	return mean, stddev
}

// samplesLocked returns the window contents oldest-first.
func (c *Controller) samplesLocked() []time.Duration {
	out := make([]time.Duration, 0, c.count)
	start := c.head - c.count
	if start < 0 {
		start += len(c.window)
	}
	for i := 0; i < c.count; i++ {
		out = append(out, c.window[(start+i)%len(c.window)])
	}
	return out
}

// Samples returns the recorded successful durations, oldest first.
func (c *Controller) Samples() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.samplesLocked()
}

// IsHealthy reports whether the lifetime success rate is at or above
// threshold. With no recorded outcomes it returns true: absent evidence,
// the resource is assumed healthy to avoid false alarms before any data
// exists.
func (c *Controller) IsHealthy(threshold float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.successes + c.failures
	if total == 0 {
		return true
	}
	return float64(c.successes)/float64(total) >= threshold
}

// ShouldLengthenTimeout reports whether the failure rate exceeds threshold.
// This signals the coordinator that the timeout itself, not just backoff,
// should be raised: the resource has become globally slower, not just
// noisy.
func (c *Controller) ShouldLengthenTimeout(threshold float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.successes + c.failures
	if total == 0 {
		return false
	}
	return float64(c.failures)/float64(total) > threshold
}

// Lengthen raises the working base by half again, clamped to MaxTimeout,
// and evicts the sample window. Applied by the coordinator when
// ShouldLengthenTimeout fires. The eviction matters as much as the raise:
// failures are never sampled, so a window full of fast pre-slowdown
// successes would otherwise keep the applied timeout pinned low and the
// raised base would never take effect. Fresh successes recorded after the
// raise reflect the slowed resource and re-seed the window.
func (c *Controller) Lengthen() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	raised := time.Duration(float64(c.base) * 1.5)
	if raised > c.cfg.MaxTimeout {
		raised = c.cfg.MaxTimeout
	}
	c.base = raised
	c.head = 0
	c.count = 0
	return raised
}

// Reset clears the window and counters. Used at the start of a new session
// or after recovery, so stale statistics do not contaminate a freshly
// recovered resource.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.head = 0
	c.count = 0
	c.successes = 0
	c.failures = 0
	c.base = c.cfg.BaseTimeout
}

// Stats computes an observability snapshot from the window and counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Count:          c.count,
		CurrentTimeout: c.currentTimeoutLocked(),
		Successes:      c.successes,
		Failures:       c.failures,
	}

	if total := c.successes + c.failures; total > 0 {
		s.SuccessRate = float64(c.successes) / float64(total)
	}

	if c.count == 0 {
		return s
	}

	samples := c.samplesLocked()
	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	s.Min = sorted[0]
	s.Max = sorted[len(sorted)-1]
	if n := len(sorted); n%2 == 1 {
		s.Median = sorted[n/2]
	} else {
		s.Median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	mean, stddev := c.meanStdDevLocked()
	s.Mean = time.Duration(mean)
	s.StdDev = time.Duration(stddev)
	return s
}
