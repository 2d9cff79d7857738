// Package coordinator drives a session's items, one at a time, through the
// retry, adaptive-timeout, and recovery machinery. The remote resource is
// single-session in this domain, so the resource itself is the
// serialization point; the coordinator never runs two operations against
// one handle concurrently.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mbergkamp/ratchet/internal/core/domain"
	"github.com/mbergkamp/ratchet/internal/engine"
	"github.com/mbergkamp/ratchet/internal/engine/backoff"
	"github.com/mbergkamp/ratchet/internal/engine/classify"
	"github.com/mbergkamp/ratchet/internal/engine/health"
	"github.com/mbergkamp/ratchet/internal/engine/metrics"
	"github.com/mbergkamp/ratchet/internal/engine/recovery"
	"github.com/mbergkamp/ratchet/internal/engine/session"
	"github.com/mbergkamp/ratchet/internal/engine/timeout"
	"github.com/mbergkamp/ratchet/internal/infra/storage"
)

// Config holds the per-session engine tuning.
type Config struct {
	Backoff             backoff.Config
	Timeout             timeout.Config
	MaxRecoveryAttempts int
	HealthCheckTimeout  time.Duration

	// FailureRateThreshold is the lifetime failure rate above which the
	// coordinator lengthens the operation timeout itself, not just the
	// backoff. Defaults to 0.5.
	FailureRateThreshold float64
}

// Deps are the session and collaborators the coordinator drives. Validator,
// Sink, and Journal are optional.
type Deps struct {
	Session   *session.Session
	Operation engine.Operation
	Provider  engine.ResourceProvider
	Validator engine.Validator
	Sink      engine.ProgressSink
	Journal   storage.Journal
	Logger    *slog.Logger
}

// Coordinator owns one session's run. The backoff policy, timeout
// controller, and recovery manager are constructed here, per session: timing
// and retry state from one remote resource is meaningless for another.
type Coordinator struct {
	sess      *session.Session
	op        engine.Operation
	provider  engine.ResourceProvider
	validator engine.Validator
	sink      engine.ProgressSink
	journal   storage.Journal
	log       *slog.Logger

	policy     *backoff.Policy
	controller *timeout.Controller
	monitor    *health.Monitor
	recoverer  *recovery.Manager

	failureRateThreshold float64
	handle               engine.Handle
}

// New assembles a coordinator and its per-session engine state.
func New(deps Deps, cfg Config) *Coordinator {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("session", deps.Session.Name())

	if cfg.FailureRateThreshold <= 0 {
		cfg.FailureRateThreshold = 0.5
	}

	monitor := health.NewMonitor(cfg.HealthCheckTimeout)

	return &Coordinator{
		sess:                 deps.Session,
		op:                   deps.Operation,
		provider:             deps.Provider,
		validator:            deps.Validator,
		sink:                 deps.Sink,
		journal:              deps.Journal,
		log:                  log,
		policy:               backoff.New(cfg.Backoff),
		controller:           timeout.NewController(cfg.Timeout),
		monitor:              monitor,
		recoverer:            recovery.NewManager(cfg.MaxRecoveryAttempts, monitor, log),
		failureRateThreshold: cfg.FailureRateThreshold,
	}
}

// TimingStats exposes the adaptive controller's snapshot for operators.
func (c *Coordinator) TimingStats() timeout.Stats {
	return c.controller.Stats()
}

// Run processes queued items in session order until none remain, the
// resource is latched unusable, or ctx is cancelled. Cancellation aborts
// the in-flight operation and any pending backoff sleep, leaving the
// current item InProgress so an operator can see the batch was interrupted
// rather than that the item failed.
func (c *Coordinator) Run(ctx context.Context) error {
	c.controller.Reset()

	if err := c.acquireHandle(ctx); err != nil {
		return err
	}

	c.log.Info("session started", "items", c.sess.Len())

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.sess.ResourceUnusable() {
			return engine.ErrResourceUnusable
		}

		idx, ok := c.sess.NextQueued()
		if !ok {
			break
		}
		_ = c.sess.SetCursor(idx)

		if err := c.processItem(ctx, idx); err != nil {
			return err
		}
	}

	counts := c.sess.Counts()
	c.log.Info("session finished",
		"complete", counts.Complete,
		"failed", counts.Failed,
		"needs_review", counts.NeedsReview)
	return nil
}

// acquireHandle obtains the initial resource handle, treating a failed
// first acquisition like a recovery situation.
func (c *Coordinator) acquireHandle(ctx context.Context) error {
	if c.handle != nil {
		return nil
	}

	h, err := c.provider.GetHandle(ctx)
	if err == nil {
		if st := c.monitor.CheckHealth(ctx, h); st.Healthy {
			c.handle = h
			return nil
		}
	} else {
		c.log.Warn("initial handle acquisition failed", "error", err)
	}

	for attempt := 0; ; attempt++ {
		h, rerr := c.recoverer.AttemptRecovery(ctx, c.provider)
		if rerr == nil {
			c.handle = h
			return nil
		}
		if errors.Is(rerr, engine.ErrRecoveryExhausted) {
			c.sess.MarkResourceUnusable()
			return engine.ErrResourceUnusable
		}
		if serr := c.policy.Sleep(ctx, attempt); serr != nil {
			return serr
		}
	}
}

// processItem drives one item to a rest state. It returns an error only for
// conditions that abort the whole run (cancellation); per-item failures are
// absorbed so one bad item does not abort the session.
func (c *Coordinator) processItem(ctx context.Context, idx int) error {
	item, err := c.sess.Item(idx)
	if err != nil {
		return err
	}

	if err := c.sess.Start(idx); err != nil {
		return err
	}
	c.recordTransition(ctx, item.Key, domain.StatusQueued, domain.StatusInProgress, "")
	c.notify(ctx, idx)

	work := domain.WorkItem{Key: item.Key, Params: item.Params}

	for attempt := 0; ; {
		opTimeout := c.controller.CurrentTimeout()
		metrics.AdaptiveTimeout.WithLabelValues(c.sess.Name()).Set(opTimeout.Seconds())

		// The timeout is read once per attempt; a concurrent RecordOutcome
		// never shortens an operation already in flight.
		opCtx, cancel := context.WithTimeout(ctx, opTimeout)
		start := time.Now()
		outcome, opErr := c.op.Perform(opCtx, work, c.handle)
		duration := time.Since(start)
		cancel()

		c.controller.RecordOutcome(duration, opErr == nil)
		c.recordAttempt(ctx, item.Key, attempt, duration, opErr)

		if opErr == nil {
			metrics.OperationLatency.WithLabelValues(c.sess.Name(), "success").Observe(duration.Seconds())
			c.settle(ctx, idx, item.Key, outcome)
			return nil
		}
		metrics.OperationLatency.WithLabelValues(c.sess.Name(), "failure").Observe(duration.Seconds())

		// Session-level cancellation: abort with the item InProgress.
		if err := ctx.Err(); err != nil {
			c.log.Info("run interrupted mid-item", "item", item.Key)
			return err
		}

		c.log.Warn("operation attempt failed",
			"item", item.Key,
			"attempt", attempt,
			"duration", duration,
			"error", opErr)

		if health.IsCrashIndicator(opErr) {
			if fatal := c.handleCrash(ctx, idx, item.Key, opErr); fatal {
				return nil
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		if !c.policy.ShouldRetry(opErr, attempt) {
			c.failItem(ctx, idx, item.Key, opErr.Error())
			return nil
		}

		if c.controller.ShouldLengthenTimeout(c.failureRateThreshold) {
			raised := c.controller.Lengthen()
			c.log.Info("failure rate high, lengthening operation timeout", "timeout", raised)
		}

		if err := c.policy.Sleep(ctx, attempt); err != nil {
			return err
		}

		attempt++
		if err := c.sess.IncrementRetry(idx); err != nil {
			return err
		}
		metrics.RetriesTotal.WithLabelValues(c.sess.Name()).Inc()
	}
}

// settle finishes a successful attempt: Complete, or NeedsReview when the
// operation or the validator flags the result incomplete.
func (c *Coordinator) settle(ctx context.Context, idx int, key string, outcome domain.Outcome) {
	needsReview := outcome.NeedsReview
	if !needsReview && c.validator != nil {
		needsReview = !c.validator.IsComplete(outcome.Payload)
	}

	if needsReview {
		if err := c.sess.MarkNeedsReview(idx, outcome.Payload, "result flagged incomplete"); err != nil {
			c.log.Error("needs-review transition failed", "item", key, "error", err)
			return
		}
		c.recordTransition(ctx, key, domain.StatusInProgress, domain.StatusNeedsReview, "result flagged incomplete")
		c.notify(ctx, idx)
		return
	}

	if err := c.sess.Complete(idx, outcome.Payload); err != nil {
		c.log.Error("complete transition failed", "item", key, "error", err)
		return
	}
	metrics.ItemsProcessed.WithLabelValues(c.sess.Name(), string(domain.StatusComplete)).Inc()
	c.recordTransition(ctx, key, domain.StatusInProgress, domain.StatusComplete, "")
	c.notify(ctx, idx)
}

// handleCrash confirms a crash-looking failure against the health monitor
// and, when the resource really is dead, tries to recover it. Returns true
// when recovery is exhausted: the item is failed and the session latched.
func (c *Coordinator) handleCrash(ctx context.Context, idx int, key string, opErr error) bool {
	st := c.monitor.CheckHealth(ctx, c.handle)
	if st.Healthy {
		// The error looked like a crash but the resource answers probes;
		// let the normal retry path handle it.
		return false
	}
	c.log.Warn("resource confirmed unhealthy", "item", key, "probe_error", st.Err)

	newHandle, rerr := c.recoverer.AttemptRecovery(ctx, c.provider)
	switch {
	case rerr == nil:
		c.handle = newHandle
		// Fresh resource: stale statistics would contaminate its tuning.
		c.controller.Reset()
		metrics.RecoveriesTotal.WithLabelValues(c.sess.Name(), "recovered").Inc()
		return false

	case errors.Is(rerr, engine.ErrRecoveryExhausted):
		metrics.RecoveriesTotal.WithLabelValues(c.sess.Name(), "exhausted").Inc()
		c.failItem(ctx, idx, key, fmt.Sprintf("resource recovery exhausted: %s", opErr))
		c.sess.MarkResourceUnusable()
		c.log.Error("resource recovery exhausted, session latched unusable", "item", key)
		return true

	default:
		metrics.RecoveriesTotal.WithLabelValues(c.sess.Name(), "failed").Inc()
		c.log.Warn("recovery attempt failed", "error", rerr)
		return false
	}
}

func (c *Coordinator) failItem(ctx context.Context, idx int, key, errMsg string) {
	if err := c.sess.Fail(idx, errMsg); err != nil {
		c.log.Error("fail transition failed", "item", key, "error", err)
		return
	}
	metrics.ItemsProcessed.WithLabelValues(c.sess.Name(), string(domain.StatusFailed)).Inc()
	c.recordTransition(ctx, key, domain.StatusInProgress, domain.StatusFailed, errMsg)
	c.notify(ctx, idx)
}

// notify invokes the progress sink with fresh counts. Every transition is
// reported, including failures, so a long session never appears to stall.
func (c *Coordinator) notify(ctx context.Context, idx int) {
	if c.sink == nil {
		return
	}
	item, err := c.sess.Item(idx)
	if err != nil {
		return
	}
	counts := c.sess.Counts()
	c.sink.OnTransition(ctx, engine.Progress{
		SessionID: c.sess.ID(),
		ItemKey:   item.Key,
		Status:    item.Status,
		Completed: counts.Done(),
		Total:     counts.Total,
	})
}

// Journal writes are best-effort: losing an audit row is not worth failing
// the batch over.
func (c *Coordinator) recordAttempt(ctx context.Context, key string, attempt int, d time.Duration, opErr error) {
	if c.journal == nil {
		return
	}
	rec := &storage.AttemptRecord{
		ID:        uuid.New().String(),
		SessionID: c.sess.ID(),
		ItemKey:   key,
		Attempt:   attempt,
		Duration:  d,
		Success:   opErr == nil,
		At:        time.Now(),
	}
	if opErr != nil {
		rec.Classification = classify.Classify(opErr).String()
		rec.Error = opErr.Error()
	}
	if err := c.journal.RecordAttempt(ctx, rec); err != nil {
		c.log.Debug("journal attempt write failed", "error", err)
	}
}

func (c *Coordinator) recordTransition(ctx context.Context, key string, from, to domain.ItemStatus, errMsg string) {
	if c.journal == nil {
		return
	}
	rec := &storage.TransitionRecord{
		ID:        uuid.New().String(),
		SessionID: c.sess.ID(),
		ItemKey:   key,
		From:      from,
		To:        to,
		Error:     errMsg,
		At:        time.Now(),
	}
	if err := c.journal.RecordTransition(ctx, rec); err != nil {
		c.log.Debug("journal transition write failed", "error", err)
	}
}
