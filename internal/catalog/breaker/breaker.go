package breaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/cataloger/internal/core/config"
)

// Breaker is a sliding-window failure-rate monitor shared by every fetch
// path in a run. When failures cluster past the threshold it pauses the
// calling goroutine for the configured duration; a cooldown after each pause
// prevents back-to-back trips. Construction is explicit and the handle is
// passed into the coordinator, never a package-level singleton.
type Breaker struct {
	cfg     config.BreakerConfig
	onPause func()

	mu        sync.Mutex
	failures  []time.Time
	lastPause time.Time

	totalFailures  int64
	totalSuccesses int64
	totalPauses    int64

	// Overridable for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration)
}

// Stats is a point-in-time view of breaker activity.
type Stats struct {
	TotalFailures    int64
	TotalSuccesses   int64
	TotalPauses      int64
	FailuresInWindow int
	LastPause        time.Time
}

// New creates a breaker with an optional pause callback, fired before each
// pause begins.
func New(cfg config.BreakerConfig, onPause func()) *Breaker {
	return &Breaker{
		cfg:     cfg,
		onPause: onPause,
		now:     time.Now,
		sleep: func(ctx context.Context, d time.Duration) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-ctx.Done():
			case <-timer.C:
			}
		},
	}
}

// trim drops window entries older than the failure window. Callers hold mu.
func (b *Breaker) trim(now time.Time) {
	cutoff := now.Add(-b.cfg.FailWindow)
	i := 0
	for i < len(b.failures) && b.failures[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.failures = append(b.failures[:0], b.failures[i:]...)
	}
}

// RegisterFailure records one failure and, if the window count reaches the
// threshold outside the cooldown period, pauses the caller for the configured
// duration. The pause is cooperative: ctx cancellation ends it early.
func (b *Breaker) RegisterFailure(ctx context.Context, kind string) {
	now := b.now()

	b.mu.Lock()
	b.trim(now)
	b.failures = append(b.failures, now)
	b.totalFailures++

	cooldown := time.Duration(float64(b.cfg.Pause) * b.cfg.CooldownFactor)
	inCooldown := !b.lastPause.IsZero() && now.Sub(b.lastPause) < cooldown
	tripped := !inCooldown && len(b.failures) >= b.cfg.FailThreshold
	if tripped {
		b.totalPauses++
		b.lastPause = now
		slog.Warn("Circuit breaker tripped",
			"failures_in_window", len(b.failures),
			"window", b.cfg.FailWindow,
			"pause", b.cfg.Pause,
			"kind", kind,
		)
	}
	b.mu.Unlock()

	if !tripped {
		return
	}
	if b.onPause != nil {
		b.onPause()
	}
	// Sleep outside the lock so other callers can keep recording outcomes.
	b.sleep(ctx, b.cfg.Pause)
}

// RegisterSuccess trims expired entries. It deliberately does not clear the
// window: a single success must not erase accumulated risk signal.
func (b *Breaker) RegisterSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trim(b.now())
	b.totalSuccesses++
}

// IsHealthy reports whether the current window count is below the threshold.
func (b *Breaker) IsHealthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trim(b.now())
	return len(b.failures) < b.cfg.FailThreshold
}

// GetStats returns cumulative counters for status reporting.
func (b *Breaker) GetStats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trim(b.now())
	return Stats{
		TotalFailures:    b.totalFailures,
		TotalSuccesses:   b.totalSuccesses,
		TotalPauses:      b.totalPauses,
		FailuresInWindow: len(b.failures),
		LastPause:        b.lastPause,
	}
}
