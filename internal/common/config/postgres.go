package config

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresPoolConfig builds the pool configuration without connecting.
// DATABASE_URL parameters win over the DB_* settings for application_name
// and statement_timeout, so operators can still override per deployment.
func (c *Config) PostgresPoolConfig() (*pgxpool.Config, error) {
	poolConfig, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing database URL: %w", err)
	}

	poolConfig.MaxConns = int32(c.DBMaxConns)
	poolConfig.MinConns = int32(c.DBMinConns)
	poolConfig.MaxConnLifetime = time.Duration(c.DBMaxConnLifetime) * time.Minute
	poolConfig.MaxConnIdleTime = time.Duration(c.DBMaxConnIdleTime) * time.Minute
	if c.DBHealthCheck > 0 {
		poolConfig.HealthCheckPeriod = c.DBHealthCheck
	}

	params := poolConfig.ConnConfig.RuntimeParams
	if _, ok := params["application_name"]; !ok && c.DBApplicationName != "" {
		params["application_name"] = c.DBApplicationName
	}
	if _, ok := params["statement_timeout"]; !ok && c.DBStatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(c.DBStatementTimeout.Milliseconds(), 10)
	}

	return poolConfig, nil
}

// NewPostgresPool opens the pool and pings the database once.
// The caller owns the pool and must Close it.
func (c *Config) NewPostgresPool(ctx context.Context) (*pgxpool.Pool, error) {
	poolConfig, err := c.PostgresPoolConfig()
	if err != nil {
		return nil, err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}
