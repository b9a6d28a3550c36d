package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*ServiceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// Expand ${VAR} environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg ServiceConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &cfg, nil
}

// LoadAndValidate loads config, applies the environment overlay and
// defaults, and validates.
func LoadAndValidate(path string) (*ServiceConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables (REDIS_*, CONNECTION_*,
// SERVICE_RUNTIME_DIR, ...) onto the loaded config. Duration variables
// named *_SECONDS accept a bare number of seconds.
func (c *ServiceConfig) ApplyEnv() error {
	opts := env.Options{
		FuncMap: map[reflect.Type]env.ParserFunc{
			reflect.TypeOf(time.Duration(0)): parseSecondsOrDuration,
		},
	}

	if err := env.ParseWithOptions(c, opts); err != nil {
		return fmt.Errorf("apply environment overrides: %w", err)
	}
	return nil
}

// parseSecondsOrDuration parses "15" as 15s and otherwise defers to
// time.ParseDuration ("15s", "2m").
func parseSecondsOrDuration(v string) (any, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return nil, fmt.Errorf("invalid duration %q: %w", v, err)
	}
	return d, nil
}
