package persistence

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeConfigClient records CONFIG SET calls and serves canned values.
type fakeConfigClient struct {
	config   map[string]string
	info     string
	bgsaves  int
	lastSave int64
	setErr   error
}

func newFakeClient() *fakeConfigClient {
	return &fakeConfigClient{
		config: map[string]string{
			"appendonly":  "no",
			"appendfsync": "no",
			"save":        "",
		},
		info:     "# Persistence\r\nrdb_last_bgsave_status:ok\r\naof_enabled:1\r\n",
		lastSave: 1700000000,
	}
}

func (f *fakeConfigClient) ConfigGet(ctx context.Context, parameter string) *redis.MapStringStringCmd {
	return redis.NewMapStringStringResult(map[string]string{parameter: f.config[parameter]}, nil)
}

func (f *fakeConfigClient) ConfigSet(ctx context.Context, parameter, value string) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	f.config[parameter] = value
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeConfigClient) BgSave(ctx context.Context) *redis.StatusCmd {
	f.bgsaves++
	return redis.NewStatusResult("Background saving started", nil)
}

func (f *fakeConfigClient) LastSave(ctx context.Context) *redis.IntCmd {
	return redis.NewIntResult(f.lastSave, nil)
}

func (f *fakeConfigClient) Info(ctx context.Context, section ...string) *redis.StringCmd {
	return redis.NewStringResult(f.info, nil)
}

func TestEnsurePersistence(t *testing.T) {
	client := newFakeClient()
	m := NewManager(client, "", nil)

	if err := m.EnsurePersistence(context.Background()); err != nil {
		t.Fatalf("EnsurePersistence: %v", err)
	}

	if client.config["appendonly"] != "yes" {
		t.Errorf("appendonly = %q", client.config["appendonly"])
	}
	if client.config["appendfsync"] != "everysec" {
		t.Errorf("appendfsync = %q", client.config["appendfsync"])
	}
	if client.config["save"] != DefaultSavePoints {
		t.Errorf("save = %q, want %q", client.config["save"], DefaultSavePoints)
	}
	if client.bgsaves != 1 {
		t.Errorf("bgsaves = %d, want 1", client.bgsaves)
	}
}

func TestValidatePersistence_Misconfigured(t *testing.T) {
	client := newFakeClient()
	m := NewManager(client, "", nil)

	ok, msg := m.ValidatePersistence(context.Background())
	if ok {
		t.Fatal("unconfigured instance validated as persistent")
	}
	if !strings.Contains(msg, "appendonly") {
		t.Errorf("message %q should name appendonly", msg)
	}
	if !strings.Contains(msg, "save points") {
		t.Errorf("message %q should name the RDB schedule", msg)
	}
}

func TestValidatePersistence_BadBgsaveStatus(t *testing.T) {
	client := newFakeClient()
	client.config["appendonly"] = "yes"
	client.config["appendfsync"] = "everysec"
	client.config["save"] = DefaultSavePoints
	client.info = "# Persistence\r\nrdb_last_bgsave_status:err\r\n"

	m := NewManager(client, "", nil)
	ok, msg := m.ValidatePersistence(context.Background())
	if ok {
		t.Fatal("failed bgsave validated as persistent")
	}
	if !strings.Contains(msg, "bgsave") {
		t.Errorf("message %q should name bgsave", msg)
	}
}

func TestEnableAOF_SurfacesError(t *testing.T) {
	client := newFakeClient()
	client.setErr = errors.New("config rejected")

	m := NewManager(client, "", nil)
	err := m.EnableAOF(context.Background())
	if err == nil || !strings.Contains(err.Error(), "appendonly") {
		t.Errorf("err = %v, want appendonly named", err)
	}
}

func TestCheckPersistenceStatus(t *testing.T) {
	client := newFakeClient()
	client.config["appendonly"] = "yes"
	m := NewManager(client, "", nil)

	status, err := m.CheckPersistenceStatus(context.Background())
	if err != nil {
		t.Fatalf("CheckPersistenceStatus: %v", err)
	}
	if status["appendonly"] != "yes" {
		t.Errorf("appendonly = %q", status["appendonly"])
	}
	if status["rdb_last_bgsave_status"] != "ok" {
		t.Errorf("rdb_last_bgsave_status = %q", status["rdb_last_bgsave_status"])
	}
}

func TestLastSaveTime(t *testing.T) {
	m := NewManager(newFakeClient(), "", nil)

	ts, err := m.LastSaveTime(context.Background())
	if err != nil {
		t.Fatalf("LastSaveTime: %v", err)
	}
	if !ts.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("ts = %v", ts)
	}
}
