package config

import "time"

// ServiceConfig is the root configuration for a connectivity service.
type ServiceConfig struct {
	Instance    InstanceConfig    `yaml:"instance"`
	API         APIConfig         `yaml:"api"`
	Redis       RedisConfig       `yaml:"redis"`
	Connections ConnectionsConfig `yaml:"connections"`
	Discovery   DiscoveryConfig   `yaml:"discovery"`
	Scraper     ScraperConfig     `yaml:"scraper"`
	Archive     ArchiveConfig     `yaml:"archive"`
	Runtime     RuntimeConfig     `yaml:"runtime"`
	Metrics     MetricsConfig     `yaml:"metrics"`
}

// InstanceConfig identifies this service instance.
type InstanceConfig struct {
	// Service is the logical service name ("rest", "ws", "scraper").
	// It doubles as the subscription prefix in the shared store.
	Service string `yaml:"service"`
	ID      string `yaml:"id"`
}

// APIConfig holds exchange API settings.
type APIConfig struct {
	RestURL        string        `yaml:"rest_url"`
	WSURL          string        `yaml:"ws_url"`
	AccessKey      string        `yaml:"access_key"`       // key ID for the ACCESS-KEY header
	PrivateKeyPath string        `yaml:"private_key_path"` // RSA private key PEM file
	Timeout        time.Duration `yaml:"timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	BackoffMax     time.Duration `yaml:"backoff_max"`
}

// RedisConfig holds the shared-state store connection.
// Environment variables (REDIS_HOST, REDIS_PORT, REDIS_DB,
// REDIS_PASSWORD, REDIS_SSL) override file values.
type RedisConfig struct {
	Host           string `yaml:"host" env:"REDIS_HOST"`
	Port           int    `yaml:"port" env:"REDIS_PORT"`
	DB             int    `yaml:"db" env:"REDIS_DB"`
	Password       string `yaml:"password" env:"REDIS_PASSWORD"`
	SSL            bool   `yaml:"ssl" env:"REDIS_SSL"`
	MaxConnections int    `yaml:"max_connections"`
}

// ConnectionsConfig holds connection-lifecycle settings shared by the
// REST, WebSocket and scraper managers.
type ConnectionsConfig struct {
	ConnectionTimeout      time.Duration `yaml:"connection_timeout" env:"CONNECTION_TIMEOUT_SECONDS"`
	RequestTimeout         time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT_SECONDS"`
	ReconnectInitialDelay  time.Duration `yaml:"reconnect_initial_delay" env:"RECONNECTION_INITIAL_DELAY_SECONDS"`
	ReconnectMaxDelay      time.Duration `yaml:"reconnect_max_delay" env:"RECONNECTION_MAX_DELAY_SECONDS"`
	ReconnectMultiplier    float64       `yaml:"reconnect_multiplier" env:"RECONNECTION_BACKOFF_MULTIPLIER"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures" env:"MAX_CONSECUTIVE_FAILURES"`
	HealthCheckInterval    time.Duration `yaml:"health_check_interval" env:"HEALTH_CHECK_INTERVAL_SECONDS"`
	SubscriptionTimeout    time.Duration `yaml:"subscription_timeout" env:"SUBSCRIPTION_TIMEOUT_SECONDS"`
	PingInterval           time.Duration `yaml:"ping_interval"`
	PongTimeout            time.Duration `yaml:"pong_timeout"`
}

// DiscoveryConfig holds market catalog pipeline settings.
type DiscoveryConfig struct {
	ExpiryWindow       time.Duration `yaml:"expiry_window"`
	MinMarketsPerEvent int           `yaml:"min_markets_per_event"`
	PageLimit          int           `yaml:"page_limit"`
	EventBatchSize     int           `yaml:"event_batch_size"`
	EventConcurrency   int           `yaml:"event_concurrency"`
	StationMapPath     string        `yaml:"station_map_path"` // weather station whitelist JSON
}

// ScraperConfig holds scraper client settings.
type ScraperConfig struct {
	URLs      []string      `yaml:"urls"`
	UserAgent string        `yaml:"user_agent"`
	Timeout   time.Duration `yaml:"timeout"`
}

// ArchiveConfig holds the optional Postgres transition archive.
// The archive is disabled when Host is empty.
type ArchiveConfig struct {
	Host          string        `yaml:"host"`
	Port          int           `yaml:"port"`
	Name          string        `yaml:"name"`
	User          string        `yaml:"user"`
	Password      string        `yaml:"password"`
	SSLMode       string        `yaml:"ssl_mode"`
	MaxConns      int           `yaml:"max_conns"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// RuntimeConfig holds process-level settings.
type RuntimeConfig struct {
	// Dir holds lock files for single-instance enforcement.
	Dir string `yaml:"dir" env:"SERVICE_RUNTIME_DIR"`

	ProcessCacheTTL     time.Duration `yaml:"process_cache_ttl"`
	ProcessScanInterval time.Duration `yaml:"process_scan_interval"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
}
