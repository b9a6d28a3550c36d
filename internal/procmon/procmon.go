// Package procmon maintains a cached view of host processes for
// service and Redis discovery. Scans are offloaded with a bounded
// timeout since process iteration is a blocking system call.
package procmon

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/quantfabric/kalshi-core/internal/config"
)

const (
	// scanTimeout bounds one full process iteration.
	scanTimeout = 5 * time.Second

	// stopGrace is how long Stop waits for the scan loop to drain.
	stopGrace = 2 * time.Second

	// fullScanDeadFraction triggers a full rescan when an incremental
	// pass finds this share of cached pids dead.
	fullScanDeadFraction = 0.10
)

// ProcessRecord is one cached process observation.
type ProcessRecord struct {
	PID      int32
	Name     string
	Cmdline  []string
	LastSeen time.Time
}

// matches reports whether the record's name or cmdline contains the
// pattern.
func (r ProcessRecord) matches(pattern string) bool {
	p := strings.ToLower(pattern)
	if strings.Contains(strings.ToLower(r.Name), p) {
		return true
	}
	for _, arg := range r.Cmdline {
		if strings.Contains(strings.ToLower(arg), p) {
			return true
		}
	}
	return false
}

// Monitor caches process scans. Construct one per process and pass it
// by pointer; there is no package-level instance.
type Monitor struct {
	cacheTTL     time.Duration
	scanInterval time.Duration
	logger       *slog.Logger

	mu           sync.Mutex
	cache        map[int32]ProcessRecord
	lastFullScan time.Time

	cancel context.CancelFunc
	done   chan struct{}

	// test hooks
	listProcesses func(ctx context.Context) ([]ProcessRecord, error)
	pidAlive      func(ctx context.Context, pid int32) bool
	now           func() time.Time
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) { m.logger = logger }
}

func withLister(fn func(ctx context.Context) ([]ProcessRecord, error)) Option {
	return func(m *Monitor) { m.listProcesses = fn }
}

func withPidCheck(fn func(ctx context.Context, pid int32) bool) Option {
	return func(m *Monitor) { m.pidAlive = fn }
}

func withClock(fn func() time.Time) Option {
	return func(m *Monitor) { m.now = fn }
}

// NewMonitor creates a process monitor. Zero durations use defaults
// (cache TTL 300s, scan interval 60s).
func NewMonitor(cacheTTL, scanInterval time.Duration, opts ...Option) *Monitor {
	if cacheTTL <= 0 {
		cacheTTL = config.DefaultProcessCacheTTL
	}
	if scanInterval <= 0 {
		scanInterval = config.DefaultProcessScanInterval
	}

	m := &Monitor{
		cacheTTL:      cacheTTL,
		scanInterval:  scanInterval,
		logger:        slog.Default(),
		cache:         make(map[int32]ProcessRecord),
		listProcesses: listHostProcesses,
		pidAlive:      hostPidAlive,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start runs the background scan loop until Stop or ctx cancellation.
func (m *Monitor) Start(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)

		if err := m.FullScan(loopCtx); err != nil {
			m.logger.Warn("initial process scan failed", "error", err)
		}

		ticker := time.NewTicker(m.scanInterval)
		defer ticker.Stop()

		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				if err := m.IncrementalScan(loopCtx); err != nil {
					m.logger.Warn("process scan failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts the scan loop, waiting briefly before giving up.
func (m *Monitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()

	select {
	case <-m.done:
	case <-time.After(stopGrace):
		m.logger.Warn("process scan loop did not stop within grace period")
	}
}

// FullScan rebuilds the cache from a complete process iteration.
func (m *Monitor) FullScan(ctx context.Context) error {
	scanCtx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	records, err := m.listProcesses(scanCtx)
	if err != nil {
		return err
	}

	now := m.now()
	fresh := make(map[int32]ProcessRecord, len(records))
	for _, r := range records {
		r.LastSeen = now
		fresh[r.PID] = r
	}

	m.mu.Lock()
	m.cache = fresh
	m.lastFullScan = now
	m.mu.Unlock()

	m.logger.Debug("full process scan", "processes", len(fresh))
	return nil
}

// IncrementalScan refreshes liveness of cached pids; too many dead
// pids escalate to a full scan.
func (m *Monitor) IncrementalScan(ctx context.Context) error {
	m.mu.Lock()
	pids := make([]int32, 0, len(m.cache))
	for pid := range m.cache {
		pids = append(pids, pid)
	}
	m.mu.Unlock()

	if len(pids) == 0 {
		return m.FullScan(ctx)
	}

	scanCtx, cancel := context.WithTimeout(ctx, scanTimeout)
	defer cancel()

	now := m.now()
	dead := 0
	m.mu.Lock()
	for _, pid := range pids {
		if m.pidAlive(scanCtx, pid) {
			r := m.cache[pid]
			r.LastSeen = now
			m.cache[pid] = r
		} else {
			delete(m.cache, pid)
			dead++
		}
	}
	m.mu.Unlock()

	if float64(dead) > fullScanDeadFraction*float64(len(pids)) {
		m.logger.Debug("incremental scan found many dead pids, rescanning",
			"dead", dead,
			"checked", len(pids),
		)
		return m.FullScan(ctx)
	}
	return nil
}

// ensureFresh triggers an incremental scan when the cache has not seen
// a full scan within the scan interval.
func (m *Monitor) ensureFresh(ctx context.Context) {
	m.mu.Lock()
	stale := m.now().Sub(m.lastFullScan) > m.scanInterval
	m.mu.Unlock()

	if stale {
		if err := m.IncrementalScan(ctx); err != nil {
			m.logger.Warn("freshness scan failed", "error", err)
		}
	}
}

// snapshot returns non-stale cached records.
func (m *Monitor) snapshot() []ProcessRecord {
	cutoff := m.now().Add(-m.cacheTTL)

	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]ProcessRecord, 0, len(m.cache))
	for _, r := range m.cache {
		if r.LastSeen.After(cutoff) {
			out = append(out, r)
		}
	}
	return out
}

// GetServiceProcesses returns processes whose cmdline matches the
// service name.
func (m *Monitor) GetServiceProcesses(ctx context.Context, service string) []ProcessRecord {
	m.ensureFresh(ctx)

	var out []ProcessRecord
	for _, r := range m.snapshot() {
		if r.matches(service) {
			out = append(out, r)
		}
	}
	return out
}

// GetRedisProcesses returns redis-server processes.
func (m *Monitor) GetRedisProcesses(ctx context.Context) []ProcessRecord {
	m.ensureFresh(ctx)

	var out []ProcessRecord
	for _, r := range m.snapshot() {
		if strings.Contains(strings.ToLower(r.Name), "redis-server") || r.matches("redis") {
			out = append(out, r)
		}
	}
	return out
}

// GetProcessByPID returns one cached process, if fresh.
func (m *Monitor) GetProcessByPID(ctx context.Context, pid int32) (ProcessRecord, bool) {
	m.ensureFresh(ctx)

	for _, r := range m.snapshot() {
		if r.PID == pid {
			return r, true
		}
	}
	return ProcessRecord{}, false
}

// FindProcessesByKeywords returns processes matching every keyword.
func (m *Monitor) FindProcessesByKeywords(ctx context.Context, keywords ...string) []ProcessRecord {
	m.ensureFresh(ctx)

	var out []ProcessRecord
	for _, r := range m.snapshot() {
		all := true
		for _, kw := range keywords {
			if !r.matches(kw) {
				all = false
				break
			}
		}
		if all && len(keywords) > 0 {
			out = append(out, r)
		}
	}
	return out
}

// listHostProcesses iterates real host processes via gopsutil.
func listHostProcesses(ctx context.Context) ([]ProcessRecord, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]ProcessRecord, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue // process exited mid-scan
		}
		cmdline, _ := p.CmdlineSliceWithContext(ctx)
		records = append(records, ProcessRecord{
			PID:     p.Pid,
			Name:    name,
			Cmdline: cmdline,
		})
	}
	return records, nil
}

func hostPidAlive(ctx context.Context, pid int32) bool {
	alive, err := process.PidExistsWithContext(ctx, pid)
	return err == nil && alive
}
