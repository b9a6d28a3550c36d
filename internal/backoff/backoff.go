// Package backoff computes exponentially growing, jittered, network-aware
// retry delays per (service, failure kind).
package backoff

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/quantfabric/kalshi-core/internal/health"
)

// MinDelay is the floor applied after jitter.
const MinDelay = 100 * time.Millisecond

// DefaultStateMaxAge is the age after which idle failure state is
// garbage-collected.
const DefaultStateMaxAge = time.Hour

// state tracks failures for one (service, kind).
type state struct {
	attempts            int
	consecutiveFailures int
	lastFailure         time.Time
}

// Status is a read-only snapshot of retry state for one (service, kind).
type Status struct {
	Attempt             int
	ConsecutiveFailures int
	LastFailure         time.Time
	MaxAttempts         int
	CanRetry            bool
	NextDelay           time.Duration
}

// Engine owns backoff state for all services sharing a process.
// All methods are safe for concurrent use; attempt counts advance
// monotonically under the engine mutex.
type Engine struct {
	mu      sync.Mutex
	configs map[Kind]Config
	states  map[string]map[Kind]*state

	probe  health.Probe // optional
	logger *slog.Logger
	now    func() time.Time
	randFn func() float64 // uniform [0,1)
}

// Option configures an Engine.
type Option func(*Engine)

// WithProbe sets the network probe used for the degraded multiplier.
func WithProbe(p health.Probe) Option {
	return func(e *Engine) { e.probe = p }
}

// WithConfig overrides the schedule for one kind.
func WithConfig(kind Kind, cfg Config) Option {
	return func(e *Engine) { e.configs[kind] = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// withClock fixes the time source (tests).
func withClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// withRand fixes the jitter source (tests).
func withRand(fn func() float64) Option {
	return func(e *Engine) { e.randFn = fn }
}

// NewEngine creates a backoff engine with per-kind default schedules.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		configs: DefaultConfigs(),
		states:  make(map[string]map[Kind]*state),
		logger:  slog.Default(),
		now:     time.Now,
		randFn:  rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CalculateDelay records a failure for (service, kind) and returns the
// delay before the next attempt. The attempt counter, consecutive
// failure count, and last-failure time all advance.
func (e *Engine) CalculateDelay(ctx context.Context, service string, kind Kind) time.Duration {
	e.mu.Lock()
	st := e.stateLocked(service, kind)
	st.attempts++
	st.consecutiveFailures++
	st.lastFailure = e.now()
	attempt := st.attempts
	e.mu.Unlock()

	d := e.delayFor(ctx, kind, attempt)
	e.logger.Debug("backoff delay computed",
		"backoff_service", service,
		"kind", kind,
		"attempt", attempt,
		"delay", d,
	)
	return d
}

// PreviewDelay returns the delay a given attempt ordinal would produce
// without recording a failure.
func (e *Engine) PreviewDelay(ctx context.Context, service string, kind Kind, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := e.delayFor(ctx, kind, attempt)
	e.logger.Debug("backoff delay preview",
		"backoff_service", service,
		"kind", kind,
		"attempt", attempt,
		"delay", d,
	)
	return d
}

// delayFor computes base × degraded ± jitter, clamped to [MinDelay, ∞).
func (e *Engine) delayFor(ctx context.Context, kind Kind, attempt int) time.Duration {
	cfg, ok := e.configs[kind]
	if !ok {
		cfg = e.configs[KindGeneral]
	}

	base := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if base > float64(cfg.MaxDelay) {
		base = float64(cfg.MaxDelay)
	}

	if e.probe != nil && cfg.DegradedMultiplier > 1 {
		if status := e.probe.NetworkStatus(ctx); status != health.NetworkOnline {
			base *= cfg.DegradedMultiplier
		}
	}

	// jitter ∈ [-fraction·base, +fraction·base]
	jitter := (e.randFn()*2 - 1) * cfg.JitterFraction * base
	final := time.Duration(base + jitter)
	if final < MinDelay {
		final = MinDelay
	}
	return final
}

// ShouldRetry reports whether (service, kind) still has retry budget.
func (e *Engine) ShouldRetry(service string, kind Kind) bool {
	cfg, ok := e.configs[kind]
	if !ok {
		cfg = e.configs[KindGeneral]
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	kinds, ok := e.states[service]
	if !ok {
		return true
	}
	st, ok := kinds[kind]
	if !ok {
		return true
	}
	return st.attempts < cfg.MaxAttempts
}

// Reset clears all failure state for a service.
func (e *Engine) Reset(service string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, service)
}

// ResetKind clears failure state for one (service, kind).
func (e *Engine) ResetKind(service string, kind Kind) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if kinds, ok := e.states[service]; ok {
		delete(kinds, kind)
		if len(kinds) == 0 {
			delete(e.states, service)
		}
	}
}

// Status snapshots retry state for (service, kind). NextDelay previews
// the delay the next recorded failure would produce (jitter included).
func (e *Engine) Status(ctx context.Context, service string, kind Kind) Status {
	cfg, ok := e.configs[kind]
	if !ok {
		cfg = e.configs[KindGeneral]
	}

	e.mu.Lock()
	var snapshot state
	if kinds, ok := e.states[service]; ok {
		if st, ok := kinds[kind]; ok {
			snapshot = *st
		}
	}
	e.mu.Unlock()

	return Status{
		Attempt:             snapshot.attempts,
		ConsecutiveFailures: snapshot.consecutiveFailures,
		LastFailure:         snapshot.lastFailure,
		MaxAttempts:         cfg.MaxAttempts,
		CanRetry:            snapshot.attempts < cfg.MaxAttempts,
		NextDelay:           e.delayFor(ctx, kind, snapshot.attempts+1),
	}
}

// CleanupOldState drops services whose every kind last failed before
// now − maxAge. Returns the number of services removed.
func (e *Engine) CleanupOldState(maxAge time.Duration) int {
	if maxAge <= 0 {
		maxAge = DefaultStateMaxAge
	}
	cutoff := e.now().Add(-maxAge)

	e.mu.Lock()
	defer e.mu.Unlock()

	removed := 0
	for service, kinds := range e.states {
		stale := true
		for _, st := range kinds {
			if st.lastFailure.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(e.states, service)
			removed++
		}
	}
	return removed
}

// stateLocked returns the state for (service, kind), creating it lazily.
// Caller must hold e.mu.
func (e *Engine) stateLocked(service string, kind Kind) *state {
	kinds, ok := e.states[service]
	if !ok {
		kinds = make(map[Kind]*state)
		e.states[service] = kinds
	}
	st, ok := kinds[kind]
	if !ok {
		st = &state{}
		kinds[kind] = st
	}
	return st
}
