// Package health diagnoses the remote automation resource itself. It
// answers "is the resource dead", which is a different question from "should
// this operation be retried" even though the two share vocabulary.
package health

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mbergkamp/ratchet/internal/engine"
)

// DefaultProbeTimeout bounds the liveness probe. Deliberately short and
// fixed, independent of the adaptive operation timeout: health checks must
// not be starved by slow-operation tuning.
const DefaultProbeTimeout = 10 * time.Second

// Status is the result of a liveness probe. Err preserves the probe's error
// text for diagnostics when unhealthy.
type Status struct {
	Healthy bool   `json:"healthy"`
	Err     string `json:"error,omitempty"`
}

// Monitor probes resource handles for liveness.
type Monitor struct {
	probeTimeout time.Duration
}

// NewMonitor creates a monitor. A zero probeTimeout falls back to
// DefaultProbeTimeout.
func NewMonitor(probeTimeout time.Duration) *Monitor {
	if probeTimeout <= 0 {
		probeTimeout = DefaultProbeTimeout
	}
	return &Monitor{probeTimeout: probeTimeout}
}

// CheckHealth runs the cheapest possible liveness probe against the handle
// under the monitor's own timeout. A probe that errors, times out, or has no
// handle to probe is unhealthy.
func (m *Monitor) CheckHealth(ctx context.Context, h engine.Handle) Status {
	if h == nil {
		return Status{Healthy: false, Err: "no resource handle"}
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	if err := h.Ping(probeCtx); err != nil {
		return Status{Healthy: false, Err: err.Error()}
	}
	return Status{Healthy: true}
}

// Crash-like failures mean the session process itself died; network-like
// failures mean the path to it is flaky. Recovery only helps with the
// former.
var (
	crashPatterns = []string{
		"session terminated",
		"session deleted",
		"session not created",
		"invalid session",
		"execution context was destroyed",
		"target closed",
		"target crashed",
		"browser has been closed",
		"disconnected",
		"protocol error",
	}

	networkPatterns = []string{
		"timeout",
		"timed out",
		"deadline exceeded",
		"connection refused",
		"connection reset",
		"broken pipe",
		"no such host",
		"network is unreachable",
		"i/o timeout",
		"eof",
	}
)

// IsCrashIndicator reports whether err looks like the resource itself died.
func IsCrashIndicator(err error) bool {
	return matchesAny(err, crashPatterns)
}

// IsNetworkIndicator reports whether err looks like a transient transport
// failure.
func IsNetworkIndicator(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return matchesAny(err, networkPatterns)
}

// IsRetryable reports whether err is either crash-like or network-like:
// both are worth retrying, the former after recovery.
func IsRetryable(err error) bool {
	return IsCrashIndicator(err) || IsNetworkIndicator(err)
}

func matchesAny(err error, patterns []string) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
