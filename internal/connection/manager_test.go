package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quantfabric/kalshi-core/internal/backoff"
	"github.com/quantfabric/kalshi-core/internal/config"
	"github.com/quantfabric/kalshi-core/internal/health"
)

// fakeHandler scripts establish outcomes and health results.
type fakeHandler struct {
	mu            sync.Mutex
	establishErrs []error // consumed in order; empty means success
	healthResults []health.Result
	establishN    int
	cleanupN      int
}

func (f *fakeHandler) Establish(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.establishN++
	if len(f.establishErrs) == 0 {
		return nil
	}
	err := f.establishErrs[0]
	f.establishErrs = f.establishErrs[1:]
	return err
}

func (f *fakeHandler) CheckHealth(ctx context.Context) health.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.healthResults) == 0 {
		return health.Healthy(nil)
	}
	r := f.healthResults[0]
	f.healthResults = f.healthResults[1:]
	return r
}

func (f *fakeHandler) Cleanup(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanupN++
	return nil
}

func (f *fakeHandler) counts() (establish, cleanup int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.establishN, f.cleanupN
}

func fastEngine(maxAttempts int) *backoff.Engine {
	return backoff.NewEngine(backoff.WithConfig(backoff.KindNetwork, backoff.Config{
		InitialDelay:   time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		Multiplier:     2.0,
		JitterFraction: 0,
		MaxAttempts:    maxAttempts,
	}))
}

func testConnCfg() config.ConnectionsConfig {
	return config.ConnectionsConfig{
		ConnectionTimeout:      time.Second,
		RequestTimeout:         time.Second,
		MaxConsecutiveFailures: 2,
		HealthCheckInterval:    10 * time.Millisecond,
	}
}

func drainUntil(t *testing.T, ch <-chan Transition, want State, timeout time.Duration) Transition {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case tr, ok := <-ch:
			if !ok {
				t.Fatalf("transition channel closed before reaching %v", want)
			}
			if tr.To == want {
				return tr
			}
		case <-deadline:
			t.Fatalf("timed out waiting for transition to %v", want)
		}
	}
}

func TestManager_StartSuccess(t *testing.T) {
	handler := &fakeHandler{}
	m := NewManager("rest", handler, fastEngine(5), testConnCfg())
	transitions := m.Subscribe()

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	tr := drainUntil(t, transitions, StateConnected, time.Second)
	if tr.From != StateConnecting {
		t.Errorf("connected from %v, want connecting", tr.From)
	}
	if m.State() != StateConnected {
		t.Errorf("state = %v, want connected", m.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Errorf("Stop: %v", err)
	}
	// ShuttingDown is terminal; Stop must not roll back to disconnected.
	if m.State() != StateShuttingDown {
		t.Errorf("state after stop = %v, want shutting_down", m.State())
	}

	_, cleanups := handler.counts()
	if cleanups != 1 {
		t.Errorf("cleanups = %d, want 1", cleanups)
	}
}

func TestManager_RetriesThenConnects(t *testing.T) {
	handler := &fakeHandler{
		establishErrs: []error{errors.New("refused"), errors.New("refused")},
	}
	m := NewManager("rest", handler, fastEngine(5), testConnCfg())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start after retries: %v", err)
	}
	defer stopManager(t, m)

	establishes, _ := handler.counts()
	if establishes != 3 {
		t.Errorf("establish attempts = %d, want 3", establishes)
	}
}

func TestManager_RetriesExhausted(t *testing.T) {
	handler := &fakeHandler{
		establishErrs: []error{
			errors.New("e1"), errors.New("e2"), errors.New("e3"), errors.New("e4"),
		},
	}
	m := NewManager("rest", handler, fastEngine(3), testConnCfg())
	transitions := m.Subscribe()

	err := m.Start(context.Background())
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Start = %v, want ErrRetriesExhausted", err)
	}

	tr := drainUntil(t, transitions, StateFailed, time.Second)
	if tr.Err == "" {
		t.Error("failed transition should carry error context")
	}
	if m.State() != StateFailed {
		t.Errorf("state = %v, want failed", m.State())
	}
}

func TestManager_HealthFailureTriggersReconnect(t *testing.T) {
	handler := &fakeHandler{
		healthResults: []health.Result{
			health.Unhealthy(errors.New("timeout"), nil),
			health.Unhealthy(errors.New("timeout"), nil),
		},
	}
	m := NewManager("ws", handler, fastEngine(5), testConnCfg())
	transitions := m.Subscribe()

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopManager(t, m)

	// Two consecutive failures hit the threshold of 2.
	drainUntil(t, transitions, StateReconnecting, 2*time.Second)
	drainUntil(t, transitions, StateConnected, 2*time.Second)

	establishes, cleanups := handler.counts()
	if establishes < 2 {
		t.Errorf("establishes = %d, want re-establish after reconnect", establishes)
	}
	if cleanups < 1 {
		t.Errorf("cleanups = %d, want cleanup before reconnect", cleanups)
	}
}

func TestManager_SingleHealthFailureBelowThreshold(t *testing.T) {
	handler := &fakeHandler{
		healthResults: []health.Result{
			health.Unhealthy(errors.New("blip"), nil),
			// Healthy afterwards; counter resets.
		},
	}
	m := NewManager("ws", handler, fastEngine(5), testConnCfg())

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopManager(t, m)

	time.Sleep(50 * time.Millisecond)

	if m.State() != StateConnected {
		t.Errorf("state = %v, want connected after single blip", m.State())
	}
	establishes, _ := handler.counts()
	if establishes != 1 {
		t.Errorf("establishes = %d, want 1", establishes)
	}
}

func TestManager_DoubleStart(t *testing.T) {
	m := NewManager("rest", &fakeHandler{}, fastEngine(5), testConnCfg())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopManager(t, m)

	if err := m.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}
}

func TestManager_StatusSnapshot(t *testing.T) {
	m := NewManager("rest", &fakeHandler{}, fastEngine(5), testConnCfg())
	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer stopManager(t, m)

	status := m.Status()
	if status["service"] != "rest" {
		t.Errorf("service = %v", status["service"])
	}
	if status["state"] != "connected" {
		t.Errorf("state = %v", status["state"])
	}
	if _, ok := status["connected_at"]; !ok {
		t.Error("connected_at missing")
	}
}

func TestManager_SessionTracking(t *testing.T) {
	tracker := NewSessionTracker(nil)
	m := NewManager("rest", &fakeHandler{}, fastEngine(5), testConnCfg(),
		WithSessionTracker(tracker))

	if err := m.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if tracker.Count() != 1 {
		t.Errorf("sessions = %d, want 1 while connected", tracker.Count())
	}

	stopManager(t, m)
	if tracker.Count() != 0 {
		t.Errorf("sessions = %d, want 0 after stop", tracker.Count())
	}
}

func stopManager(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := m.Stop(ctx); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
