package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quantfabric/kalshi-core/internal/backoff"
	"github.com/quantfabric/kalshi-core/internal/config"
	"github.com/quantfabric/kalshi-core/internal/health"
)

// ErrRetriesExhausted is returned by Start when the retry budget for
// the network kind runs out before a connection is established.
var ErrRetriesExhausted = errors.New("connection retries exhausted")

// cleanupTimeout bounds protocol cleanup during shutdown.
const cleanupTimeout = 5 * time.Second

// Handler supplies the protocol-specific lifecycle hooks.
type Handler interface {
	// Establish opens the protocol session.
	Establish(ctx context.Context) error

	// CheckHealth verifies the session is still serviceable.
	CheckHealth(ctx context.Context) health.Result

	// Cleanup releases the session's resources.
	Cleanup(ctx context.Context) error
}

// Manager drives one protocol connection through its lifecycle.
type Manager struct {
	service string
	handler Handler
	engine  *backoff.Engine
	cfg     config.ConnectionsConfig
	logger  *slog.Logger
	tracker *SessionTracker // optional

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	state       State
	failures    int // consecutive health-check failures
	lastErr     string
	connectedAt time.Time
	sessionID   string
	subscribers []chan Transition
	started     bool
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithSessionTracker registers sessions with the leak-diagnostics
// tracker.
func WithSessionTracker(t *SessionTracker) ManagerOption {
	return func(m *Manager) { m.tracker = t }
}

// NewManager creates a lifecycle manager for one protocol connection.
func NewManager(service string, handler Handler, engine *backoff.Engine, cfg config.ConnectionsConfig, opts ...ManagerOption) *Manager {
	m := &Manager{
		service: service,
		handler: handler,
		engine:  engine,
		cfg:     cfg,
		logger:  slog.Default(),
		state:   StateDisconnected,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("connection", service)
	return m
}

// Start connects with retry and, on success, spawns the health
// monitor. Returns ErrRetriesExhausted when the budget runs out.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("connection %s already started", m.service)
	}
	m.started = true
	m.mu.Unlock()

	m.ctx, m.cancel = context.WithCancel(ctx)

	if !m.connectWithRetry(m.ctx) {
		return ErrRetriesExhausted
	}

	m.wg.Add(1)
	go m.healthMonitor()

	return nil
}

// Stop shuts the connection down, waiting out the grace period before
// forcing cleanup. The ctx deadline bounds the grace wait. ShuttingDown
// is terminal; a stopped manager is not restarted.
func (m *Manager) Stop(ctx context.Context) error {
	m.transition(StateShuttingDown, nil)

	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown grace period expired, forcing cleanup")
	}

	cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	err := m.handler.Cleanup(cleanupCtx)

	m.releaseSession()
	m.closeSubscribers()

	if err != nil {
		return fmt.Errorf("cleanup %s: %w", m.service, err)
	}
	return nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Status returns a diagnostic snapshot.
func (m *Manager) Status() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := map[string]any{
		"service":              m.service,
		"state":                m.state.String(),
		"consecutive_failures": m.failures,
	}
	if m.lastErr != "" {
		status["last_error"] = m.lastErr
	}
	if !m.connectedAt.IsZero() {
		status["connected_at"] = m.connectedAt.Format(time.RFC3339)
		status["uptime_seconds"] = int(time.Since(m.connectedAt).Seconds())
	}
	return status
}

// Subscribe returns a channel of state transitions. Slow subscribers
// miss transitions rather than blocking the state machine.
func (m *Manager) Subscribe() <-chan Transition {
	ch := make(chan Transition, 16)
	m.mu.Lock()
	m.subscribers = append(m.subscribers, ch)
	m.mu.Unlock()
	return ch
}

// transition is the sole mutator of the lifecycle state.
func (m *Manager) transition(to State, cause error) {
	m.mu.Lock()
	from := m.state
	if from == to {
		m.mu.Unlock()
		return
	}
	m.state = to

	t := Transition{
		Service: m.service,
		From:    from,
		To:      to,
		At:      time.Now(),
	}
	if cause != nil {
		t.Err = cause.Error()
		m.lastErr = t.Err
	}
	if to == StateConnected {
		m.connectedAt = t.At
	}
	subs := make([]chan Transition, len(m.subscribers))
	copy(subs, m.subscribers)
	m.mu.Unlock()

	m.logger.Info("state transition",
		"from", from.String(),
		"to", to.String(),
		"error", t.Err,
	)

	for _, ch := range subs {
		select {
		case ch <- t:
		default:
		}
	}
}

func (m *Manager) closeSubscribers() {
	m.mu.Lock()
	subs := m.subscribers
	m.subscribers = nil
	m.mu.Unlock()

	for _, ch := range subs {
		close(ch)
	}
}

// connectWithRetry attempts Establish under the network backoff
// schedule until success or retry exhaustion.
func (m *Manager) connectWithRetry(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		default:
		}

		m.transition(StateConnecting, nil)

		establishCtx := ctx
		cancel := context.CancelFunc(func() {})
		if m.cfg.ConnectionTimeout > 0 {
			establishCtx, cancel = context.WithTimeout(ctx, m.cfg.ConnectionTimeout)
		}

		err := m.handler.Establish(establishCtx)
		cancel()
		if err == nil {
			m.engine.ResetKind(m.service, backoff.KindNetwork)
			m.mu.Lock()
			m.failures = 0
			m.mu.Unlock()
			m.registerSession()
			m.transition(StateConnected, nil)
			return true
		}

		m.logger.Warn("establish failed", "error", err)

		if !m.engine.ShouldRetry(m.service, backoff.KindNetwork) {
			m.transition(StateFailed, err)
			return false
		}

		delay := m.engine.CalculateDelay(ctx, m.service, backoff.KindNetwork)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
	}
}

// healthMonitor periodically checks connection health and triggers
// reconnection after the consecutive-failure threshold.
func (m *Manager) healthMonitor() {
	defer m.wg.Done()

	interval := m.cfg.HealthCheckInterval
	if interval <= 0 {
		interval = config.DefaultHealthCheckInterval
	}
	threshold := m.cfg.MaxConsecutiveFailures
	if threshold <= 0 {
		threshold = config.DefaultMaxConsecutiveFailures
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			if m.State() != StateConnected {
				continue
			}

			checkCtx := m.ctx
			cancel := context.CancelFunc(func() {})
			if m.cfg.RequestTimeout > 0 {
				checkCtx, cancel = context.WithTimeout(m.ctx, m.cfg.RequestTimeout)
			}
			result := m.handler.CheckHealth(checkCtx)
			cancel()
			m.handleHealthResult(result, threshold)
		}
	}
}

func (m *Manager) handleHealthResult(result health.Result, threshold int) {
	if result.Healthy {
		m.mu.Lock()
		m.failures = 0
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.failures++
	failures := m.failures
	m.mu.Unlock()

	m.logger.Warn("health check failed",
		"consecutive_failures", failures,
		"threshold", threshold,
		"error", result.Err,
	)

	if failures < threshold {
		return
	}

	m.transition(StateReconnecting, fmt.Errorf("%d consecutive health failures: %s", failures, result.Err))
	m.releaseSession()

	cleanupCtx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	if err := m.handler.Cleanup(cleanupCtx); err != nil {
		m.logger.Warn("cleanup before reconnect failed", "error", err)
	}
	cancel()

	if !m.connectWithRetry(m.ctx) {
		select {
		case <-m.ctx.Done():
		default:
			m.logger.Error("reconnection abandoned, retries exhausted")
		}
	}
}

func (m *Manager) registerSession() {
	if m.tracker == nil {
		return
	}
	id := m.tracker.Register(m.service, "transport")
	m.mu.Lock()
	m.sessionID = id
	m.mu.Unlock()
}

func (m *Manager) releaseSession() {
	if m.tracker == nil {
		return
	}
	m.mu.Lock()
	id := m.sessionID
	m.sessionID = ""
	m.mu.Unlock()
	if id != "" {
		m.tracker.Release(id)
	}
}
