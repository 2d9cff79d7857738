package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mbergkamp/ratchet/internal/core/domain"
	"github.com/mbergkamp/ratchet/internal/engine"
	"github.com/mbergkamp/ratchet/internal/engine/backoff"
	"github.com/mbergkamp/ratchet/internal/engine/session"
	"github.com/mbergkamp/ratchet/internal/engine/timeout"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeHandle struct {
	mu      sync.Mutex
	pingErr error
}

func (h *fakeHandle) Ping(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pingErr
}

func (h *fakeHandle) setPingErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pingErr = err
}

type fakeProvider struct {
	mu        sync.Mutex
	reachable bool
	calls     int
}

func (p *fakeProvider) Reachable(ctx context.Context) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.reachable
}

func (p *fakeProvider) GetHandle(ctx context.Context) (engine.Handle, error) {
	return &fakeHandle{}, nil
}

// scriptedOp runs a per-key script of errors; nil means success.
type scriptedOp struct {
	mu      sync.Mutex
	scripts map[string][]error
	calls   map[string]int
	review  map[string]bool
	block   bool
}

func (o *scriptedOp) Perform(ctx context.Context, item domain.WorkItem, h engine.Handle) (domain.Outcome, error) {
	if o.block {
		<-ctx.Done()
		return domain.Outcome{}, ctx.Err()
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.calls == nil {
		o.calls = make(map[string]int)
	}
	n := o.calls[item.Key]
	o.calls[item.Key] = n + 1

	script := o.scripts[item.Key]
	if n < len(script) && script[n] != nil {
		return domain.Outcome{}, script[n]
	}
	return domain.Outcome{Payload: "done:" + item.Key, NeedsReview: o.review[item.Key]}, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []engine.Progress
}

func (s *recordingSink) OnTransition(ctx context.Context, p engine.Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, p)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func fastConfig() Config {
	return Config{
		Backoff: backoff.Config{
			MaxRetries:      3,
			BaseDelay:       time.Millisecond,
			MaxDelay:        5 * time.Millisecond,
			ExponentialBase: 2.0,
			DisableJitter:   true,
		},
		Timeout: timeout.Config{
			WindowSize:  10,
			BaseTimeout: 200 * time.Millisecond,
			MinTimeout:  50 * time.Millisecond,
			MaxTimeout:  time.Second,
			BufferFloor: 10 * time.Millisecond,
		},
		MaxRecoveryAttempts: 2,
		HealthCheckTimeout:  50 * time.Millisecond,
	}
}

func keys(n int) []domain.WorkItem {
	items := make([]domain.WorkItem, n)
	for i := range items {
		items[i] = domain.WorkItem{Key: string(rune('a' + i))}
	}
	return items
}

// =============================================================================
// End-to-end scenarios
// =============================================================================

// Item "c" crashes twice then succeeds; the other four are untouched by its
// trouble.
func TestRun_CrashThenRecoverThenComplete(t *testing.T) {
	sess, _ := session.New("batch", keys(5))
	crash := errors.New("session terminated")
	op := &scriptedOp{scripts: map[string][]error{
		"c": {crash, crash},
	}}
	provider := &fakeProvider{reachable: true}

	c := New(Deps{
		Session:   sess,
		Operation: op,
		Provider:  provider,
	}, fastConfig())

	// The shared handle dies when "c" crashes, so the probe confirms the
	// crash and recovery replaces it.
	c.handle = &fakeHandle{pingErr: errors.New("session terminated")}

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	it, _ := sess.ItemByKey("c")
	if it.Status != domain.StatusComplete {
		t.Errorf("item c status = %s, want complete (%s)", it.Status, it.ErrorMsg)
	}
	if it.RetryCount != 2 {
		t.Errorf("item c retry count = %d, want 2", it.RetryCount)
	}

	for _, k := range []string{"a", "b", "d", "e"} {
		it, _ := sess.ItemByKey(k)
		if it.Status != domain.StatusComplete {
			t.Errorf("item %s status = %s, want complete", k, it.Status)
		}
		if it.RetryCount != 0 {
			t.Errorf("item %s retried %d times, want 0", k, it.RetryCount)
		}
	}
}

// Every operation hits a not-found error: all items fail immediately with
// no retries and the error text preserved verbatim.
func TestRun_NonRetryableFailsEverything(t *testing.T) {
	sess, _ := session.New("batch", keys(3))
	notFound := errors.New("memorial does not exist")
	op := &scriptedOp{scripts: map[string][]error{
		"a": {notFound, notFound, notFound, notFound},
		"b": {notFound, notFound, notFound, notFound},
		"c": {notFound, notFound, notFound, notFound},
	}}

	c := New(Deps{Session: sess, Operation: op, Provider: &fakeProvider{reachable: true}}, fastConfig())
	c.handle = &fakeHandle{}

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	snap := sess.Snapshot()
	for _, it := range snap.Items {
		if it.Status != domain.StatusFailed {
			t.Errorf("item %s status = %s, want failed", it.Key, it.Status)
		}
		if it.RetryCount != 0 {
			t.Errorf("item %s retried %d times, want 0", it.Key, it.RetryCount)
		}
		if it.ErrorMsg != "memorial does not exist" {
			t.Errorf("item %s error text = %q, not preserved", it.Key, it.ErrorMsg)
		}
	}
}

// The resource dies and the provider never comes back: recovery exhausts
// its budget, the current item fails, the session latches unusable, and
// the remaining items are not driven against the dead resource.
func TestRun_RecoveryExhaustionLatchesSession(t *testing.T) {
	sess, _ := session.New("batch", keys(4))
	crash := errors.New("execution context was destroyed")
	op := &scriptedOp{scripts: map[string][]error{
		"a": {crash, crash, crash, crash, crash},
	}}
	provider := &fakeProvider{reachable: false}

	c := New(Deps{Session: sess, Operation: op, Provider: provider}, fastConfig())
	c.handle = &fakeHandle{pingErr: errors.New("target crashed")}

	err := c.Run(context.Background())
	if !errors.Is(err, engine.ErrResourceUnusable) {
		t.Fatalf("Run error = %v, want ErrResourceUnusable", err)
	}

	if !sess.ResourceUnusable() {
		t.Error("resource unusable latch not set")
	}

	it, _ := sess.ItemByKey("a")
	if it.Status != domain.StatusFailed {
		t.Errorf("item a status = %s, want failed", it.Status)
	}

	// The rest of the batch must still be queued, not failed one by one.
	for _, k := range []string{"b", "c", "d"} {
		it, _ := sess.ItemByKey(k)
		if it.Status != domain.StatusQueued {
			t.Errorf("item %s status = %s, want queued", k, it.Status)
		}
	}

	// Budget of 2, so the provider was contacted exactly twice.
	if provider.calls != 2 {
		t.Errorf("provider contacted %d times, want 2", provider.calls)
	}
}

func TestRun_CancellationLeavesItemInProgress(t *testing.T) {
	sess, _ := session.New("batch", keys(2))
	op := &scriptedOp{block: true}

	c := New(Deps{Session: sess, Operation: op, Provider: &fakeProvider{reachable: true}}, fastConfig())
	c.handle = &fakeHandle{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	// The interrupted item is visibly InProgress, not silently Failed.
	it, _ := sess.ItemByKey("a")
	if it.Status != domain.StatusInProgress {
		t.Errorf("interrupted item status = %s, want in_progress", it.Status)
	}
}

func TestRun_NeedsReviewPaths(t *testing.T) {
	sess, _ := session.New("batch", keys(2))
	op := &scriptedOp{review: map[string]bool{"a": true}}

	// A validator that rejects item b's payload as incomplete.
	c := New(Deps{
		Session:   sess,
		Operation: op,
		Provider:  &fakeProvider{reachable: true},
		Validator: validatorFunc(func(payload any) bool { return payload != "done:b" }),
	}, fastConfig())
	c.handle = &fakeHandle{}

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for _, k := range []string{"a", "b"} {
		it, _ := sess.ItemByKey(k)
		if it.Status != domain.StatusNeedsReview {
			t.Errorf("item %s status = %s, want needs_review", k, it.Status)
		}
	}
}

type validatorFunc func(payload any) bool

func (f validatorFunc) IsComplete(payload any) bool { return f(payload) }

func TestRun_ProgressSinkSeesEveryTransition(t *testing.T) {
	sess, _ := session.New("batch", keys(2))
	boom := errors.New("page does not exist")
	op := &scriptedOp{scripts: map[string][]error{"b": {boom, boom, boom, boom}}}
	sink := &recordingSink{}

	c := New(Deps{
		Session:   sess,
		Operation: op,
		Provider:  &fakeProvider{reachable: true},
		Sink:      sink,
	}, fastConfig())
	c.handle = &fakeHandle{}

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// Two items, each with a start and a terminal transition.
	if sink.count() != 4 {
		t.Errorf("sink saw %d transitions, want 4", sink.count())
	}

	last := sink.events[len(sink.events)-1]
	if last.Completed != 2 || last.Total != 2 {
		t.Errorf("final progress = %d/%d, want 2/2", last.Completed, last.Total)
	}
	if last.Status != domain.StatusFailed {
		t.Errorf("final transition status = %s, want failed (failures must be reported)", last.Status)
	}
}

func TestRun_AcquiresHandleWhenMissing(t *testing.T) {
	sess, _ := session.New("batch", keys(1))
	op := &scriptedOp{}

	c := New(Deps{Session: sess, Operation: op, Provider: &fakeProvider{reachable: true}}, fastConfig())

	if err := c.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	it, _ := sess.ItemByKey("a")
	if it.Status != domain.StatusComplete {
		t.Errorf("item status = %s, want complete", it.Status)
	}
}
