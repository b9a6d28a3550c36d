package procmon

import (
	"context"
	"os"
	"testing"
	"time"
)

func fixedRecords(records ...ProcessRecord) func(ctx context.Context) ([]ProcessRecord, error) {
	return func(ctx context.Context) ([]ProcessRecord, error) {
		return records, nil
	}
}

func aliveSet(pids ...int32) func(ctx context.Context, pid int32) bool {
	set := make(map[int32]bool, len(pids))
	for _, pid := range pids {
		set[pid] = true
	}
	return func(ctx context.Context, pid int32) bool { return set[pid] }
}

func TestFindsOwnProcess(t *testing.T) {
	m := NewMonitor(0, 0)

	if err := m.FullScan(context.Background()); err != nil {
		t.Fatalf("FullScan: %v", err)
	}

	self := int32(os.Getpid())
	r, ok := m.GetProcessByPID(context.Background(), self)
	if !ok {
		t.Fatalf("own pid %d not found in scan", self)
	}
	if r.Name == "" {
		t.Error("own process has empty name")
	}
}

func TestServiceAndKeywordQueries(t *testing.T) {
	records := []ProcessRecord{
		{PID: 10, Name: "redis-server", Cmdline: []string{"redis-server", "*:6379"}},
		{PID: 20, Name: "python3", Cmdline: []string{"python3", "kalshi_connector.py", "--env", "prod"}},
		{PID: 30, Name: "sshd", Cmdline: []string{"sshd: root"}},
	}
	m := NewMonitor(time.Minute, time.Minute,
		withLister(fixedRecords(records...)),
		withPidCheck(aliveSet(10, 20, 30)),
	)
	ctx := context.Background()
	if err := m.FullScan(ctx); err != nil {
		t.Fatalf("FullScan: %v", err)
	}

	if got := m.GetServiceProcesses(ctx, "kalshi_connector"); len(got) != 1 || got[0].PID != 20 {
		t.Errorf("GetServiceProcesses = %+v, want pid 20", got)
	}
	if got := m.GetRedisProcesses(ctx); len(got) != 1 || got[0].PID != 10 {
		t.Errorf("GetRedisProcesses = %+v, want pid 10", got)
	}
	if got := m.FindProcessesByKeywords(ctx, "python", "prod"); len(got) != 1 || got[0].PID != 20 {
		t.Errorf("FindProcessesByKeywords = %+v, want pid 20", got)
	}
	if got := m.FindProcessesByKeywords(ctx, "python", "redis"); len(got) != 0 {
		t.Errorf("conflicting keywords matched %+v", got)
	}
	if got := m.FindProcessesByKeywords(ctx); len(got) != 0 {
		t.Errorf("no keywords matched %+v", got)
	}
}

func TestIncrementalScanDropsDeadPids(t *testing.T) {
	records := []ProcessRecord{
		{PID: 1, Name: "a"}, {PID: 2, Name: "b"}, {PID: 3, Name: "c"},
		{PID: 4, Name: "d"}, {PID: 5, Name: "e"}, {PID: 6, Name: "f"},
		{PID: 7, Name: "g"}, {PID: 8, Name: "h"}, {PID: 9, Name: "i"},
		{PID: 10, Name: "j"}, {PID: 11, Name: "k"}, {PID: 12, Name: "l"},
	}
	fullScans := 0
	m := NewMonitor(time.Minute, time.Minute,
		withLister(func(ctx context.Context) ([]ProcessRecord, error) {
			fullScans++
			return records, nil
		}),
		// One of twelve dead: under the 10% escalation threshold.
		withPidCheck(aliveSet(1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11)),
	)
	ctx := context.Background()
	if err := m.FullScan(ctx); err != nil {
		t.Fatalf("FullScan: %v", err)
	}
	if err := m.IncrementalScan(ctx); err != nil {
		t.Fatalf("IncrementalScan: %v", err)
	}

	if fullScans != 1 {
		t.Errorf("fullScans = %d, want 1 (no escalation)", fullScans)
	}
	if _, ok := m.GetProcessByPID(ctx, 12); ok {
		t.Error("dead pid 12 still cached")
	}
	if _, ok := m.GetProcessByPID(ctx, 11); !ok {
		t.Error("live pid 11 evicted")
	}
}

func TestIncrementalScanEscalatesToFull(t *testing.T) {
	fullScans := 0
	m := NewMonitor(time.Minute, time.Minute,
		withLister(func(ctx context.Context) ([]ProcessRecord, error) {
			fullScans++
			return []ProcessRecord{{PID: 1, Name: "a"}, {PID: 2, Name: "b"}}, nil
		}),
		// Half the cached pids dead: over the 10% threshold.
		withPidCheck(aliveSet(1)),
	)
	ctx := context.Background()
	if err := m.FullScan(ctx); err != nil {
		t.Fatalf("FullScan: %v", err)
	}
	if err := m.IncrementalScan(ctx); err != nil {
		t.Fatalf("IncrementalScan: %v", err)
	}

	if fullScans != 2 {
		t.Errorf("fullScans = %d, want 2 (escalation)", fullScans)
	}
}

func TestStaleRecordsFiltered(t *testing.T) {
	now := time.Now()
	clock := now
	m := NewMonitor(time.Minute, time.Hour,
		withLister(fixedRecords(ProcessRecord{PID: 1, Name: "a"})),
		withPidCheck(aliveSet(1)),
		withClock(func() time.Time { return clock }),
	)
	ctx := context.Background()
	if err := m.FullScan(ctx); err != nil {
		t.Fatalf("FullScan: %v", err)
	}

	if _, ok := m.GetProcessByPID(ctx, 1); !ok {
		t.Fatal("fresh record not visible")
	}

	// Beyond the cache TTL the record is invisible even though cached.
	// The hour scan interval keeps ensureFresh from re-scanning here.
	clock = now.Add(2 * time.Minute)
	if _, ok := m.GetProcessByPID(ctx, 1); ok {
		t.Error("stale record still visible")
	}
}

func TestStartStop(t *testing.T) {
	scans := make(chan struct{}, 16)
	m := NewMonitor(time.Minute, 5*time.Millisecond,
		withLister(func(ctx context.Context) ([]ProcessRecord, error) {
			select {
			case scans <- struct{}{}:
			default:
			}
			return []ProcessRecord{{PID: 1, Name: "a"}}, nil
		}),
		withPidCheck(aliveSet(1)),
	)

	m.Start(context.Background())

	select {
	case <-scans:
	case <-time.After(time.Second):
		t.Fatal("no scan observed after Start")
	}

	m.Stop()

	select {
	case <-m.done:
	default:
		t.Error("scan loop still running after Stop")
	}
}
