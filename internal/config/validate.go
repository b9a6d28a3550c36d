package config

import (
	"errors"
	"fmt"
)

// Validate checks that all required fields are set and values are valid.
func (c *ServiceConfig) Validate() error {
	if c.Instance.Service == "" {
		return errors.New("instance.service is required")
	}

	if c.API.RestURL == "" {
		return errors.New("api.rest_url is required")
	}
	if c.API.MaxRetries < 0 {
		return errors.New("api.max_retries must be >= 0")
	}

	if c.Redis.Host == "" {
		return errors.New("redis.host is required")
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		return fmt.Errorf("redis.port must be between 1 and 65535, got %d", c.Redis.Port)
	}
	if c.Redis.MaxConnections < 1 {
		return errors.New("redis.max_connections must be >= 1")
	}

	if c.Connections.ReconnectMultiplier < 1 {
		return fmt.Errorf("connections.reconnect_multiplier must be >= 1, got %g", c.Connections.ReconnectMultiplier)
	}
	if c.Connections.MaxConsecutiveFailures < 1 {
		return errors.New("connections.max_consecutive_failures must be >= 1")
	}

	if c.Discovery.MinMarketsPerEvent < 1 {
		return errors.New("discovery.min_markets_per_event must be >= 1")
	}
	if c.Discovery.PageLimit < 1 {
		return errors.New("discovery.page_limit must be >= 1")
	}
	if c.Discovery.EventConcurrency < 1 {
		return errors.New("discovery.event_concurrency must be >= 1")
	}

	if c.Archive.Host != "" {
		if c.Archive.Name == "" {
			return errors.New("archive.name is required when archive.host is set")
		}
		if c.Archive.User == "" {
			return errors.New("archive.user is required when archive.host is set")
		}
		if c.Archive.BatchSize < 1 {
			return errors.New("archive.batch_size must be >= 1")
		}
	}

	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return fmt.Errorf("metrics.port must be between 1 and 65535, got %d", c.Metrics.Port)
	}

	return nil
}
