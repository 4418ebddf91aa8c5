package breaker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/cataloger/internal/core/config"
)

func newTestBreaker(onPause func()) (*Breaker, *fakeClock, *[]time.Duration) {
	cfg := config.BreakerConfig{
		FailWindow:     180 * time.Second,
		FailThreshold:  5,
		Pause:          120 * time.Second,
		CooldownFactor: 0.5,
	}
	b := New(cfg, onPause)

	clock := &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	b.now = clock.Now

	var sleeps []time.Duration
	b.sleep = func(ctx context.Context, d time.Duration) {
		sleeps = append(sleeps, d)
	}
	return b, clock, &sleeps
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestFifthFailureTripsPause(t *testing.T) {
	ctx := context.Background()
	pauseFired := false
	b, clock, sleeps := newTestBreaker(func() { pauseFired = true })

	for i := 0; i < 4; i++ {
		b.RegisterFailure(ctx, "network")
		clock.Advance(time.Second)
	}
	if len(*sleeps) != 0 {
		t.Fatalf("expected no pause after 4 failures, got %d", len(*sleeps))
	}
	if b.IsHealthy() {
		t.Log("window below threshold, still healthy")
	}

	b.RegisterFailure(ctx, "network")
	if len(*sleeps) != 1 || (*sleeps)[0] != 120*time.Second {
		t.Fatalf("expected one 120s pause after 5th failure, got %v", *sleeps)
	}
	if !pauseFired {
		t.Error("expected pause callback to fire")
	}
}

func TestCooldownSuppressesSecondPause(t *testing.T) {
	ctx := context.Background()
	b, clock, sleeps := newTestBreaker(nil)

	for i := 0; i < 5; i++ {
		b.RegisterFailure(ctx, "network")
	}
	if len(*sleeps) != 1 {
		t.Fatalf("expected one pause, got %d", len(*sleeps))
	}

	// A 6th failure inside the cooldown (pause * factor = 60s) must not trip
	// again.
	clock.Advance(30 * time.Second)
	b.RegisterFailure(ctx, "network")
	if len(*sleeps) != 1 {
		t.Fatalf("expected cooldown to suppress pause, got %d pauses", len(*sleeps))
	}

	// Past the cooldown, a clustered failure trips once more.
	clock.Advance(31 * time.Second)
	b.RegisterFailure(ctx, "network")
	if len(*sleeps) != 2 {
		t.Fatalf("expected second pause after cooldown, got %d", len(*sleeps))
	}
}

func TestSuccessTrimsButDoesNotReset(t *testing.T) {
	ctx := context.Background()
	b, clock, _ := newTestBreaker(nil)

	for i := 0; i < 4; i++ {
		b.RegisterFailure(ctx, "network")
	}
	b.RegisterSuccess()

	stats := b.GetStats()
	if stats.FailuresInWindow != 4 {
		t.Errorf("success must not clear the window, got %d failures", stats.FailuresInWindow)
	}

	// Entries older than the window do get trimmed.
	clock.Advance(181 * time.Second)
	b.RegisterSuccess()
	stats = b.GetStats()
	if stats.FailuresInWindow != 0 {
		t.Errorf("expected expired entries trimmed, got %d", stats.FailuresInWindow)
	}
	if !b.IsHealthy() {
		t.Error("expected healthy after window expiry")
	}
}

func TestIsHealthyReflectsWindow(t *testing.T) {
	ctx := context.Background()
	b, clock, _ := newTestBreaker(nil)

	if !b.IsHealthy() {
		t.Fatal("expected healthy with empty window")
	}
	for i := 0; i < 5; i++ {
		b.RegisterFailure(ctx, "network")
	}
	if b.IsHealthy() {
		t.Error("expected unhealthy at threshold")
	}
	clock.Advance(181 * time.Second)
	if !b.IsHealthy() {
		t.Error("expected healthy after window slides past failures")
	}
}
