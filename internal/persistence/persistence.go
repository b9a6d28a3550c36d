// Package persistence configures and validates Redis durability: AOF
// with everysec fsync plus RDB save points.
package persistence

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultSavePoints is the RDB schedule applied when none is given:
// save after 1 change in 900s, 10 in 300s, 10000 in 60s.
const DefaultSavePoints = "900 1 300 10 60 10000"

// ConfigClient is the slice of the Redis client the manager needs.
// *redis.Client satisfies it.
type ConfigClient interface {
	ConfigGet(ctx context.Context, parameter string) *redis.MapStringStringCmd
	ConfigSet(ctx context.Context, parameter, value string) *redis.StatusCmd
	BgSave(ctx context.Context) *redis.StatusCmd
	LastSave(ctx context.Context) *redis.IntCmd
	Info(ctx context.Context, section ...string) *redis.StringCmd
}

// Manager drives Redis persistence configuration.
type Manager struct {
	client     ConfigClient
	savePoints string
	logger     *slog.Logger
}

// NewManager creates a persistence manager. Empty savePoints uses the
// default schedule.
func NewManager(client ConfigClient, savePoints string, logger *slog.Logger) *Manager {
	if savePoints == "" {
		savePoints = DefaultSavePoints
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{client: client, savePoints: savePoints, logger: logger}
}

// EnableAOF turns on append-only persistence with everysec fsync.
func (m *Manager) EnableAOF(ctx context.Context) error {
	if err := m.client.ConfigSet(ctx, "appendonly", "yes").Err(); err != nil {
		return fmt.Errorf("enable appendonly: %w", err)
	}
	if err := m.client.ConfigSet(ctx, "appendfsync", "everysec").Err(); err != nil {
		return fmt.Errorf("set appendfsync everysec: %w", err)
	}
	m.logger.Info("AOF persistence enabled", "appendfsync", "everysec")
	return nil
}

// ConfigureRDB applies the RDB save-point schedule.
func (m *Manager) ConfigureRDB(ctx context.Context) error {
	if err := m.client.ConfigSet(ctx, "save", m.savePoints).Err(); err != nil {
		return fmt.Errorf("set RDB save points %q: %w", m.savePoints, err)
	}
	m.logger.Info("RDB save points configured", "save", m.savePoints)
	return nil
}

// TriggerSave issues a background RDB save.
func (m *Manager) TriggerSave(ctx context.Context) error {
	if err := m.client.BgSave(ctx).Err(); err != nil {
		// Redis rejects BGSAVE while another save is running; that
		// still means a save is happening.
		if strings.Contains(err.Error(), "in progress") {
			m.logger.Debug("background save already in progress")
			return nil
		}
		return fmt.Errorf("bgsave: %w", err)
	}
	return nil
}

// LastSaveTime returns the time of the last successful RDB save.
func (m *Manager) LastSaveTime(ctx context.Context) (time.Time, error) {
	unix, err := m.client.LastSave(ctx).Result()
	if err != nil {
		return time.Time{}, fmt.Errorf("lastsave: %w", err)
	}
	return time.Unix(unix, 0), nil
}

// CheckPersistenceStatus aggregates config values and the persistence
// info section.
func (m *Manager) CheckPersistenceStatus(ctx context.Context) (map[string]string, error) {
	status := make(map[string]string)

	for _, param := range []string{"appendonly", "appendfsync", "save"} {
		values, err := m.client.ConfigGet(ctx, param).Result()
		if err != nil {
			return nil, fmt.Errorf("config get %s: %w", param, err)
		}
		status[param] = values[param]
	}

	info, err := m.client.Info(ctx, "persistence").Result()
	if err != nil {
		return nil, fmt.Errorf("info persistence: %w", err)
	}
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if key, value, found := strings.Cut(line, ":"); found {
			status[key] = value
		}
	}
	return status, nil
}

// ValidatePersistence reports whether both AOF and RDB are active,
// with a message naming any misconfiguration.
func (m *Manager) ValidatePersistence(ctx context.Context) (bool, string) {
	status, err := m.CheckPersistenceStatus(ctx)
	if err != nil {
		return false, fmt.Sprintf("persistence status unavailable: %v", err)
	}

	var problems []string
	if status["appendonly"] != "yes" {
		problems = append(problems, fmt.Sprintf("appendonly is %q, want yes", status["appendonly"]))
	}
	if status["appendfsync"] != "everysec" {
		problems = append(problems, fmt.Sprintf("appendfsync is %q, want everysec", status["appendfsync"]))
	}
	if status["save"] == "" {
		problems = append(problems, "no RDB save points configured")
	}
	if bgsave := status["rdb_last_bgsave_status"]; bgsave != "" && bgsave != "ok" {
		problems = append(problems, fmt.Sprintf("last bgsave status %q", bgsave))
	}

	if len(problems) > 0 {
		return false, strings.Join(problems, "; ")
	}
	return true, "AOF and RDB persistence active"
}

// EnsurePersistence applies the full durability configuration and
// validates it, failing fast on any misconfiguration.
func (m *Manager) EnsurePersistence(ctx context.Context) error {
	if err := m.EnableAOF(ctx); err != nil {
		return err
	}
	if err := m.ConfigureRDB(ctx); err != nil {
		return err
	}
	if err := m.TriggerSave(ctx); err != nil {
		return err
	}

	ok, msg := m.ValidatePersistence(ctx)
	if !ok {
		return fmt.Errorf("persistence validation failed: %s", msg)
	}
	m.logger.Info("persistence validated", "detail", msg)
	return nil
}
