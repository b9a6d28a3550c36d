package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultRestURL        = "https://api.elections.kalshi.com"
	DefaultWSURL          = "wss://api.elections.kalshi.com/trade-api/ws/v2"
	DefaultAPITimeout     = 30 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultReadTimeout    = 20 * time.Second
	DefaultMaxRetries     = 3
	DefaultBackoffBase    = 1 * time.Second
	DefaultBackoffMax     = 30 * time.Second

	DefaultRedisHost    = "localhost"
	DefaultRedisPort    = 6379
	DefaultRedisMaxConn = 120

	DefaultConnectionTimeout      = 10 * time.Second
	DefaultRequestTimeout         = 30 * time.Second
	DefaultReconnectInitialDelay  = 1 * time.Second
	DefaultReconnectMaxDelay      = 60 * time.Second
	DefaultReconnectMultiplier    = 2.0
	DefaultMaxConsecutiveFailures = 3
	DefaultHealthCheckInterval    = 30 * time.Second
	DefaultSubscriptionTimeout    = 10 * time.Second
	DefaultPingInterval           = 15 * time.Second
	DefaultPongTimeout            = 10 * time.Second

	DefaultExpiryWindow       = 24 * time.Hour
	DefaultMinMarketsPerEvent = 2
	DefaultPageLimit          = 100
	DefaultEventBatchSize     = 100
	DefaultEventConcurrency   = 10

	DefaultScraperTimeout = 30 * time.Second
	DefaultUserAgent      = "kalshi-core/1.0"

	DefaultDBPort        = 5432
	DefaultDBSSLMode     = "prefer"
	DefaultDBMaxConns    = 10
	DefaultBatchSize     = 500
	DefaultFlushInterval = 1 * time.Second

	DefaultRuntimeDir          = "/tmp/kalshi-core"
	DefaultProcessCacheTTL     = 300 * time.Second
	DefaultProcessScanInterval = 60 * time.Second

	DefaultMetricsPort = 9090
	DefaultMetricsPath = "/metrics"
)

func (c *ServiceConfig) applyDefaults() {
	if c.API.RestURL == "" {
		c.API.RestURL = DefaultRestURL
	}
	if c.API.WSURL == "" {
		c.API.WSURL = DefaultWSURL
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = DefaultAPITimeout
	}
	if c.API.ConnectTimeout == 0 {
		c.API.ConnectTimeout = DefaultConnectTimeout
	}
	if c.API.ReadTimeout == 0 {
		c.API.ReadTimeout = DefaultReadTimeout
	}
	if c.API.MaxRetries == 0 {
		c.API.MaxRetries = DefaultMaxRetries
	}
	if c.API.BackoffBase == 0 {
		c.API.BackoffBase = DefaultBackoffBase
	}
	if c.API.BackoffMax == 0 {
		c.API.BackoffMax = DefaultBackoffMax
	}

	if c.Redis.Host == "" {
		c.Redis.Host = DefaultRedisHost
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = DefaultRedisPort
	}
	if c.Redis.MaxConnections == 0 {
		c.Redis.MaxConnections = DefaultRedisMaxConn
	}

	if c.Connections.ConnectionTimeout == 0 {
		c.Connections.ConnectionTimeout = DefaultConnectionTimeout
	}
	if c.Connections.RequestTimeout == 0 {
		c.Connections.RequestTimeout = DefaultRequestTimeout
	}
	if c.Connections.ReconnectInitialDelay == 0 {
		c.Connections.ReconnectInitialDelay = DefaultReconnectInitialDelay
	}
	if c.Connections.ReconnectMaxDelay == 0 {
		c.Connections.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connections.ReconnectMultiplier == 0 {
		c.Connections.ReconnectMultiplier = DefaultReconnectMultiplier
	}
	if c.Connections.MaxConsecutiveFailures == 0 {
		c.Connections.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if c.Connections.HealthCheckInterval == 0 {
		c.Connections.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.Connections.SubscriptionTimeout == 0 {
		c.Connections.SubscriptionTimeout = DefaultSubscriptionTimeout
	}
	if c.Connections.PingInterval == 0 {
		c.Connections.PingInterval = DefaultPingInterval
	}
	if c.Connections.PongTimeout == 0 {
		c.Connections.PongTimeout = DefaultPongTimeout
	}

	if c.Discovery.ExpiryWindow == 0 {
		c.Discovery.ExpiryWindow = DefaultExpiryWindow
	}
	if c.Discovery.MinMarketsPerEvent == 0 {
		c.Discovery.MinMarketsPerEvent = DefaultMinMarketsPerEvent
	}
	if c.Discovery.PageLimit == 0 {
		c.Discovery.PageLimit = DefaultPageLimit
	}
	if c.Discovery.EventBatchSize == 0 {
		c.Discovery.EventBatchSize = DefaultEventBatchSize
	}
	if c.Discovery.EventConcurrency == 0 {
		c.Discovery.EventConcurrency = DefaultEventConcurrency
	}

	if c.Scraper.Timeout == 0 {
		c.Scraper.Timeout = DefaultScraperTimeout
	}
	if c.Scraper.UserAgent == "" {
		c.Scraper.UserAgent = DefaultUserAgent
	}

	if c.Archive.Host != "" {
		if c.Archive.Port == 0 {
			c.Archive.Port = DefaultDBPort
		}
		if c.Archive.SSLMode == "" {
			c.Archive.SSLMode = DefaultDBSSLMode
		}
		if c.Archive.MaxConns == 0 {
			c.Archive.MaxConns = DefaultDBMaxConns
		}
		if c.Archive.BatchSize == 0 {
			c.Archive.BatchSize = DefaultBatchSize
		}
		if c.Archive.FlushInterval == 0 {
			c.Archive.FlushInterval = DefaultFlushInterval
		}
	}

	if c.Runtime.Dir == "" {
		c.Runtime.Dir = DefaultRuntimeDir
	}
	if c.Runtime.ProcessCacheTTL == 0 {
		c.Runtime.ProcessCacheTTL = DefaultProcessCacheTTL
	}
	if c.Runtime.ProcessScanInterval == 0 {
		c.Runtime.ProcessScanInterval = DefaultProcessScanInterval
	}

	if c.Metrics.Port == 0 {
		c.Metrics.Port = DefaultMetricsPort
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}
}
