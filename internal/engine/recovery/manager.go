// Package recovery replaces a dead resource handle with a healthy one,
// within a bounded budget of consecutive failed attempts.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mbergkamp/ratchet/internal/engine"
	"github.com/mbergkamp/ratchet/internal/engine/health"
)

// DefaultMaxAttempts is the consecutive-failure budget when none is
// configured.
const DefaultMaxAttempts = 3

// State tracks where the manager is in its recovery lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateAttempting State = "attempting"
	StateRecovered  State = "recovered"
	StateExhausted  State = "exhausted"
)

// Manager attempts to obtain a fresh healthy handle after a crash. The
// budget counts consecutive failed attempts, not lifetime attempts: any
// success resets it. Each session owns its own manager.
type Manager struct {
	maxAttempts int
	monitor     *health.Monitor

	attempts int
	state    State
	log      *slog.Logger
}

// NewManager creates a manager. A non-positive maxAttempts falls back to
// DefaultMaxAttempts.
func NewManager(maxAttempts int, monitor *health.Monitor, log *slog.Logger) *Manager {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		maxAttempts: maxAttempts,
		monitor:     monitor,
		state:       StateIdle,
		log:         log,
	}
}

// AttemptRecovery tries to obtain a fresh healthy handle from the provider.
// Once the consecutive-failure budget is spent it returns
// engine.ErrRecoveryExhausted immediately, without contacting the provider,
// so the engine never retries recovery forever. A successful recovery
// resets the budget.
func (m *Manager) AttemptRecovery(ctx context.Context, provider engine.ResourceProvider) (engine.Handle, error) {
	if m.attempts >= m.maxAttempts {
		m.state = StateExhausted
		return nil, engine.ErrRecoveryExhausted
	}

	m.attempts++
	m.state = StateAttempting
	m.log.Info("attempting resource recovery", "attempt", m.attempts, "max", m.maxAttempts)

	// No point fabricating a handle against a dead provider.
	if !provider.Reachable(ctx) {
		return nil, fmt.Errorf("resource provider unreachable (attempt %d/%d)", m.attempts, m.maxAttempts)
	}

	h, err := provider.GetHandle(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtain fresh handle (attempt %d/%d): %w", m.attempts, m.maxAttempts, err)
	}

	if st := m.monitor.CheckHealth(ctx, h); !st.Healthy {
		return nil, fmt.Errorf("fresh handle failed health check (attempt %d/%d): %s", m.attempts, m.maxAttempts, st.Err)
	}

	m.attempts = 0
	m.state = StateRecovered
	m.log.Info("resource recovered")
	return h, nil
}

// Attempts returns the consecutive failed attempts since the last success.
func (m *Manager) Attempts() int {
	return m.attempts
}

// CurrentState returns the manager's lifecycle state.
func (m *Manager) CurrentState() State {
	return m.state
}

// Exhausted reports whether the budget is spent.
func (m *Manager) Exhausted() bool {
	return m.attempts >= m.maxAttempts
}
