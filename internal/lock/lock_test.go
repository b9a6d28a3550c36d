package lock

import (
	"context"
	"errors"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func testClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestDistributedLock_MutualExclusion(t *testing.T) {
	client, _ := testClient(t)
	ctx := context.Background()

	first := NewDistributedLock(client, "discovery", "kalshi", 30*time.Second, nil)
	second := NewDistributedLock(client, "discovery", "kalshi", 30*time.Second, nil)

	if err := first.Acquire(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if err := second.Acquire(ctx); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("second acquire = %v, want ErrNotAcquired", err)
	}

	if err := first.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	third := NewDistributedLock(client, "discovery", "kalshi", 30*time.Second, nil)
	if err := third.Acquire(ctx); err != nil {
		t.Fatalf("third acquire after release: %v", err)
	}
}

func TestDistributedLock_ReleaseNotOwned(t *testing.T) {
	client, _ := testClient(t)
	ctx := context.Background()

	owner := NewDistributedLock(client, "write", "BTC", 30*time.Second, nil)
	if err := owner.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	thief := NewDistributedLock(client, "write", "BTC", 30*time.Second, nil)
	if err := thief.Release(ctx); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("foreign release = %v, want ErrNotAcquired", err)
	}

	// The owner's value must be untouched.
	if v, _ := client.Get(ctx, "write_lock:BTC").Result(); v == "" {
		t.Error("foreign release mutated the lock")
	}
	if err := owner.Release(ctx); err != nil {
		t.Errorf("owner release after foreign attempt: %v", err)
	}
}

func TestDistributedLock_ReleaseExpired(t *testing.T) {
	client, mr := testClient(t)
	ctx := context.Background()

	l := NewDistributedLock(client, "write", "BTC", time.Second, nil)
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	mr.FastForward(2 * time.Second)

	if err := l.Release(ctx); !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("release after expiry = %v, want ErrNotAcquired", err)
	}
	if l.Held() {
		t.Error("lock still marked held after expiry")
	}
}

func TestDistributedLock_TTL(t *testing.T) {
	client, mr := testClient(t)
	ctx := context.Background()

	l := NewDistributedLock(client, "discovery", "kalshi", 30*time.Second, nil)
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ttl := mr.TTL("discovery_lock:kalshi")
	if ttl <= 0 || ttl > 30*time.Second {
		t.Errorf("ttl = %v, want (0, 30s]", ttl)
	}
}

func TestWithLock(t *testing.T) {
	client, _ := testClient(t)
	ctx := context.Background()

	l := NewDistributedLock(client, "job", "x", 30*time.Second, nil)

	ran := false
	err := l.WithLock(ctx, func(ctx context.Context) error {
		ran = true
		if !l.Held() {
			t.Error("lock not held inside callback")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock: %v", err)
	}
	if !ran {
		t.Fatal("callback never ran")
	}
	if n, _ := client.Exists(ctx, "job_lock:x").Result(); n != 0 {
		t.Error("lock survives WithLock")
	}

	// Callback error still releases and is surfaced.
	wantErr := errors.New("boom")
	err = l.WithLock(ctx, func(ctx context.Context) error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want callback error", err)
	}
	if n, _ := client.Exists(ctx, "job_lock:x").Result(); n != 0 {
		t.Error("lock survives failed callback")
	}
}

func TestFileLock(t *testing.T) {
	dir := t.TempDir()

	first := NewFileLock(dir, "connector")
	if err := first.Acquire(); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	body, err := os.ReadFile(first.Path())
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	if pid, _ := strconv.Atoi(string(body)); pid != os.Getpid() {
		t.Errorf("lock body = %q, want own pid", body)
	}

	if err := first.Release(); err != nil {
		t.Errorf("release: %v", err)
	}
	if _, err := os.Stat(first.Path()); !os.IsNotExist(err) {
		t.Error("lock file survives release")
	}

	// Reacquirable after release.
	second := NewFileLock(dir, "connector")
	if err := second.Acquire(); err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	second.Release()
}
