// Package store is the Redis-backed shared-state layer: the dual-
// encoding probability catalog, cross-service subscription tracking,
// and connection diagnostics.
package store

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/quantfabric/kalshi-core/internal/config"
)

// StoreError is a failed store operation with its key context.
type StoreError struct {
	Op  string
	Key string
	Err error
}

func (e *StoreError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op, key string, err error) *StoreError {
	return &StoreError{Op: op, Key: key, Err: err}
}

// NewPool builds the single per-process Redis client.
func NewPool(cfg config.RedisConfig) *redis.Client {
	opts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		DB:       cfg.DB,
		Password: cfg.Password,
		PoolSize: cfg.MaxConnections,
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = config.DefaultRedisMaxConn
	}
	if cfg.SSL {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return redis.NewClient(opts)
}

// probeConnectivity round-trips a set/get/del on a dedicated probe key
// to distinguish a store inconsistency from a dead connection.
func probeConnectivity(ctx context.Context, client *redis.Client) error {
	const probeKey = "kalshi:connectivity_probe"

	if err := client.Set(ctx, probeKey, "1", 0).Err(); err != nil {
		return fmt.Errorf("connectivity probe set: %w", err)
	}
	if _, err := client.Get(ctx, probeKey).Result(); err != nil {
		return fmt.Errorf("connectivity probe get: %w", err)
	}
	if err := client.Del(ctx, probeKey).Err(); err != nil {
		return fmt.Errorf("connectivity probe del: %w", err)
	}
	return nil
}
