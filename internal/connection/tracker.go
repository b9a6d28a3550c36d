package connection

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionInfo describes one outstanding transport session.
type SessionInfo struct {
	ID       string
	Service  string
	Kind     string
	OpenedAt time.Time
}

// SessionTracker is a registry of outstanding transport sessions used
// for leak diagnostics. Sessions are registered on establish and
// released on cleanup; anything left over points at a leak.
type SessionTracker struct {
	logger *slog.Logger

	mu       sync.Mutex
	sessions map[string]SessionInfo
}

// NewSessionTracker creates an empty tracker.
func NewSessionTracker(logger *slog.Logger) *SessionTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionTracker{
		logger:   logger,
		sessions: make(map[string]SessionInfo),
	}
}

// Register records a new session and returns its ID.
func (t *SessionTracker) Register(service, kind string) string {
	id := uuid.NewString()

	t.mu.Lock()
	t.sessions[id] = SessionInfo{
		ID:       id,
		Service:  service,
		Kind:     kind,
		OpenedAt: time.Now(),
	}
	t.mu.Unlock()

	return id
}

// Release removes a session. Releasing an unknown ID is a no-op.
func (t *SessionTracker) Release(id string) {
	t.mu.Lock()
	delete(t.sessions, id)
	t.mu.Unlock()
}

// Count returns the number of outstanding sessions.
func (t *SessionTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Active returns outstanding sessions ordered by age, oldest first.
func (t *SessionTracker) Active() []SessionInfo {
	t.mu.Lock()
	out := make([]SessionInfo, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, s)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].OpenedAt.Before(out[j].OpenedAt)
	})
	return out
}

// ReportLeaks logs a warning for every session older than maxAge and
// returns how many were flagged.
func (t *SessionTracker) ReportLeaks(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	leaked := 0
	for _, s := range t.Active() {
		if s.OpenedAt.After(cutoff) {
			continue
		}
		leaked++
		t.logger.Warn("long-lived session, possible leak",
			"session_id", s.ID,
			"session_service", s.Service,
			"kind", s.Kind,
			"age", time.Since(s.OpenedAt).Round(time.Second),
		)
	}
	return leaked
}
