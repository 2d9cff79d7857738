package timeout

import (
	"testing"
	"time"
)

func testConfig() Config {
	return Config{
		WindowSize:  10,
		BaseTimeout: 30 * time.Second,
		MinTimeout:  5 * time.Second,
		MaxTimeout:  120 * time.Second,
		BufferFloor: 2 * time.Second,
	}
}

func TestCurrentTimeout_EmptyWindow(t *testing.T) {
	c := NewController(testConfig())
	if got := c.CurrentTimeout(); got != 30*time.Second {
		t.Errorf("empty window timeout = %v, want base 30s", got)
	}
}

func TestCurrentTimeout_Bounds(t *testing.T) {
	c := NewController(testConfig())

	// All-zero durations clamp up to MinTimeout.
	for i := 0; i < 20; i++ {
		c.RecordOutcome(0, true)
	}
	if got := c.CurrentTimeout(); got != 5*time.Second {
		t.Errorf("all-zero window timeout = %v, want MinTimeout 5s", got)
	}

	// Extreme outliers clamp down to MaxTimeout.
	c.Reset()
	for i := 0; i < 20; i++ {
		c.RecordOutcome(10*time.Minute, true)
	}
	if got := c.CurrentTimeout(); got != 120*time.Second {
		t.Errorf("outlier window timeout = %v, want MaxTimeout 120s", got)
	}
}

func TestCurrentTimeout_Adapts(t *testing.T) {
	c := NewController(testConfig())

	// Uniform 10s calls: stddev 0, so timeout = 10s + buffer,
	// buffer = max(0.2*10s, 2s) = 2s.
	for i := 0; i < 10; i++ {
		c.RecordOutcome(10*time.Second, true)
	}
	if got := c.CurrentTimeout(); got != 12*time.Second {
		t.Errorf("uniform 10s window timeout = %v, want 12s", got)
	}
}

func TestWindow_Capacity(t *testing.T) {
	cfg := testConfig()
	cfg.WindowSize = 5
	c := NewController(cfg)

	// Insert 3x capacity and assert only the newest survive, in order.
	for i := 1; i <= 15; i++ {
		c.RecordOutcome(time.Duration(i)*time.Second, true)
	}

	samples := c.Samples()
	if len(samples) != 5 {
		t.Fatalf("window length = %d, want capacity 5", len(samples))
	}
	for i, want := range []time.Duration{11, 12, 13, 14, 15} {
		if samples[i] != want*time.Second {
			t.Errorf("samples[%d] = %v, want %vs", i, samples[i], want)
		}
	}
}

func TestWindow_FailuresNotSampled(t *testing.T) {
	c := NewController(testConfig())

	c.RecordOutcome(10*time.Second, true)
	c.RecordOutcome(10*time.Minute, false)
	c.RecordOutcome(10*time.Minute, false)

	if got := len(c.Samples()); got != 1 {
		t.Errorf("failed calls leaked into the window: %d samples", got)
	}

	stats := c.Stats()
	if stats.Failures != 2 || stats.Successes != 1 {
		t.Errorf("counters = %d/%d, want 1 success, 2 failures", stats.Successes, stats.Failures)
	}
}

func TestIsHealthy(t *testing.T) {
	c := NewController(testConfig())

	// No data: assume healthy.
	if !c.IsHealthy(0.9) {
		t.Error("expected healthy with no recorded outcomes")
	}

	// 3 successes, 1 failure: 75% success rate.
	for i := 0; i < 3; i++ {
		c.RecordOutcome(time.Second, true)
	}
	c.RecordOutcome(time.Second, false)

	if !c.IsHealthy(0.7) {
		t.Error("75%% success rate should pass 0.7 threshold")
	}
	if c.IsHealthy(0.8) {
		t.Error("75%% success rate should fail 0.8 threshold")
	}
}

func TestShouldLengthenTimeout(t *testing.T) {
	c := NewController(testConfig())

	if c.ShouldLengthenTimeout(0.3) {
		t.Error("no data should not trigger lengthening")
	}

	c.RecordOutcome(time.Second, true)
	c.RecordOutcome(time.Second, false)

	if !c.ShouldLengthenTimeout(0.3) {
		t.Error("50%% failure rate should exceed 0.3 threshold")
	}
	if c.ShouldLengthenTimeout(0.5) {
		t.Error("50%% failure rate does not exceed 0.5 threshold")
	}
}

func TestLengthen(t *testing.T) {
	c := NewController(testConfig())

	if got := c.Lengthen(); got != 45*time.Second {
		t.Errorf("Lengthen = %v, want 45s", got)
	}

	// Repeated lengthening clamps at MaxTimeout.
	for i := 0; i < 10; i++ {
		c.Lengthen()
	}
	if got := c.CurrentTimeout(); got != 120*time.Second {
		t.Errorf("lengthened empty-window timeout = %v, want MaxTimeout", got)
	}
}

func TestLengthen_EvictsStaleWindow(t *testing.T) {
	c := NewController(testConfig())

	// Fast successes from before the resource slowed down, then nothing
	// but failures. Failures are not sampled, so only the eviction in
	// Lengthen can unpin the applied timeout from the stale samples.
	for i := 0; i < 10; i++ {
		c.RecordOutcome(2*time.Second, true)
	}
	for i := 0; i < 20; i++ {
		c.RecordOutcome(time.Second, false)
	}

	before := c.CurrentTimeout()
	if before != 5*time.Second {
		t.Fatalf("pre-lengthen timeout = %v, want MinTimeout clamp of fast samples", before)
	}

	c.Lengthen()

	if got := len(c.Samples()); got != 0 {
		t.Errorf("window not evicted: %d samples", got)
	}
	if got := c.CurrentTimeout(); got != 45*time.Second {
		t.Errorf("post-lengthen timeout = %v, want raised base 45s", got)
	}

	for i := 0; i < 4; i++ {
		c.Lengthen()
	}
	if got := c.CurrentTimeout(); got <= before {
		t.Errorf("repeated lengthening left timeout at %v, never above %v", got, before)
	}

	// Fresh successes observed after the raise re-seed the window and the
	// timeout adapts to them again.
	for i := 0; i < 10; i++ {
		c.RecordOutcome(40*time.Second, true)
	}
	if got := c.CurrentTimeout(); got <= 40*time.Second {
		t.Errorf("timeout %v does not cover the slowed resource's 40s calls", got)
	}
}

func TestReset(t *testing.T) {
	c := NewController(testConfig())
	for i := 0; i < 5; i++ {
		c.RecordOutcome(time.Second, true)
		c.RecordOutcome(time.Second, false)
	}
	c.Lengthen()

	c.Reset()

	if got := len(c.Samples()); got != 0 {
		t.Errorf("window not cleared: %d samples", got)
	}
	if !c.IsHealthy(1.0) {
		t.Error("counters not cleared")
	}
	if got := c.CurrentTimeout(); got != 30*time.Second {
		t.Errorf("base timeout not restored: %v", got)
	}
}

func TestStats(t *testing.T) {
	c := NewController(testConfig())
	for _, d := range []time.Duration{
		2 * time.Second,
		4 * time.Second,
		6 * time.Second,
		8 * time.Second,
	} {
		c.RecordOutcome(d, true)
	}
	c.RecordOutcome(time.Second, false)

	s := c.Stats()
	if s.Count != 4 {
		t.Errorf("Count = %d, want 4", s.Count)
	}
	if s.Mean != 5*time.Second {
		t.Errorf("Mean = %v, want 5s", s.Mean)
	}
	if s.Median != 5*time.Second {
		t.Errorf("Median = %v, want 5s", s.Median)
	}
	if s.Min != 2*time.Second || s.Max != 8*time.Second {
		t.Errorf("Min/Max = %v/%v, want 2s/8s", s.Min, s.Max)
	}
	if s.SuccessRate != 0.8 {
		t.Errorf("SuccessRate = %v, want 0.8", s.SuccessRate)
	}
}
