// Package archive persists connection transitions and discovery run
// summaries to Postgres. The archive is optional; services run without
// it when no host is configured.
package archive

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfabric/kalshi-core/internal/config"
)

// Enabled reports whether the archive is configured.
func Enabled(cfg config.ArchiveConfig) bool {
	return cfg.Host != ""
}

// BuildConnString builds a PostgreSQL connection string from config.
func BuildConnString(cfg config.ArchiveConfig) string {
	// URL-encode password to handle special characters
	escapedPassword := url.QueryEscape(cfg.Password)

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}

	port := cfg.Port
	if port == 0 {
		port = config.DefaultDBPort
	}

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User,
		escapedPassword,
		cfg.Host,
		port,
		cfg.Name,
		sslMode,
	)
}

// Connect creates a connection pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.ArchiveConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns == 0 {
		maxConns = config.DefaultDBMaxConns
	}
	poolCfg.MaxConns = int32(maxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping archive database: %w", err)
	}

	return pool, nil
}
