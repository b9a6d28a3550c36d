package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "service.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalConfig = `
instance:
  service: rest
  id: rest-1
redis:
  host: localhost
`

func TestLoadAndValidate_Defaults(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	cfg, err := LoadAndValidate(path)
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}

	if cfg.API.RestURL != DefaultRestURL {
		t.Errorf("RestURL = %s, want default", cfg.API.RestURL)
	}
	if cfg.Redis.Port != DefaultRedisPort {
		t.Errorf("Redis.Port = %d, want %d", cfg.Redis.Port, DefaultRedisPort)
	}
	if cfg.Redis.MaxConnections != 120 {
		t.Errorf("Redis.MaxConnections = %d, want 120", cfg.Redis.MaxConnections)
	}
	if cfg.Connections.HealthCheckInterval != DefaultHealthCheckInterval {
		t.Errorf("HealthCheckInterval = %v, want %v", cfg.Connections.HealthCheckInterval, DefaultHealthCheckInterval)
	}
	if cfg.Discovery.MinMarketsPerEvent != 2 {
		t.Errorf("MinMarketsPerEvent = %d, want 2", cfg.Discovery.MinMarketsPerEvent)
	}
}

func TestLoadAndValidate_EnvOverlay(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("HEALTH_CHECK_INTERVAL_SECONDS", "45")
	t.Setenv("RECONNECTION_INITIAL_DELAY_SECONDS", "2.5")

	cfg, err := LoadAndValidate(path)
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}

	if cfg.Redis.Host != "redis.internal" {
		t.Errorf("Redis.Host = %s, want redis.internal", cfg.Redis.Host)
	}
	if cfg.Redis.Port != 6380 {
		t.Errorf("Redis.Port = %d, want 6380", cfg.Redis.Port)
	}
	if cfg.Connections.HealthCheckInterval != 45*time.Second {
		t.Errorf("HealthCheckInterval = %v, want 45s", cfg.Connections.HealthCheckInterval)
	}
	if cfg.Connections.ReconnectInitialDelay != 2500*time.Millisecond {
		t.Errorf("ReconnectInitialDelay = %v, want 2.5s", cfg.Connections.ReconnectInitialDelay)
	}
}

func TestLoad_ExpandsEnvInYAML(t *testing.T) {
	t.Setenv("TEST_ACCESS_KEY", "key-from-env")
	path := writeConfig(t, minimalConfig+`
api:
  access_key: ${TEST_ACCESS_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.AccessKey != "key-from-env" {
		t.Errorf("AccessKey = %s, want key-from-env", cfg.API.AccessKey)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ServiceConfig)
	}{
		{"missing service", func(c *ServiceConfig) { c.Instance.Service = "" }},
		{"bad redis port", func(c *ServiceConfig) { c.Redis.Port = 70000 }},
		{"bad multiplier", func(c *ServiceConfig) { c.Connections.ReconnectMultiplier = 0.5 }},
		{"archive without name", func(c *ServiceConfig) { c.Archive.Host = "db"; c.Archive.Name = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &ServiceConfig{}
			cfg.Instance.Service = "rest"
			cfg.applyDefaults()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}
