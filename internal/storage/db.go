package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"tenant_gateway/internal/config"
)

// DB wraps the database connection and provides health checks
type DB struct {
	conn *sqlx.DB
}

// NewDB connects to Postgres and configures the pool
func NewDB(cfg config.DatabaseConfig) (*DB, error) {
	if !cfg.Enabled() {
		return nil, ErrDatabaseDisabled
	}

	conn, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return &DB{conn: conn}, nil
}

// NewDBFromConn wraps an existing connection
func NewDBFromConn(conn *sqlx.DB) *DB {
	return &DB{conn: conn}
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping checks if the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Health returns the health status of the database
func (db *DB) Health(ctx context.Context) error {
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	if err := db.conn.GetContext(ctx, &result, "SELECT 1"); err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}

	return nil
}

const usageSchema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id                UUID PRIMARY KEY,
	request_id        TEXT NOT NULL UNIQUE,
	tenant_id         TEXT NOT NULL,
	agent_id          TEXT NOT NULL DEFAULT '',
	model_name        TEXT NOT NULL,
	request_type      TEXT NOT NULL,
	prompt_tokens     INTEGER NOT NULL DEFAULT 0,
	completion_tokens INTEGER NOT NULL DEFAULT 0,
	total_tokens      INTEGER NOT NULL DEFAULT 0,
	cost_usd          NUMERIC(18, 6) NOT NULL DEFAULT 0,
	duration_ms       BIGINT NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_usage_records_tenant_created ON usage_records (tenant_id, created_at);
`

// Migrate creates the usage tables when they do not exist
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, usageSchema); err != nil {
		return fmt.Errorf("failed to create usage schema: %w", err)
	}
	return nil
}

// PoolStats summarises a connection pool for the admin stats endpoint.
// Fields that a pool does not track stay zero.
type PoolStats struct {
	Open         int           `json:"open"`
	InUse        int           `json:"in_use"`
	Idle         int           `json:"idle"`
	Waits        int64         `json:"waits,omitempty"`
	WaitDuration time.Duration `json:"wait_duration,omitempty"`
	Timeouts     int64         `json:"timeouts,omitempty"`
	Hits         int64         `json:"hits,omitempty"`
	Misses       int64         `json:"misses,omitempty"`
}

// PoolStats reports the Postgres pool
func (db *DB) PoolStats() PoolStats {
	st := db.conn.Stats()
	return PoolStats{
		Open:         st.OpenConnections,
		InUse:        st.InUse,
		Idle:         st.Idle,
		Waits:        st.WaitCount,
		WaitDuration: st.WaitDuration,
	}
}

// BeginTx starts a transaction used by multi-row writes
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	tx, err := db.conn.BeginTxx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// Conn returns the underlying sqlx connection
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// NewUsageRepository creates a new usage repository
func (db *DB) NewUsageRepository() *UsageRepository {
	return NewUsageRepository(db)
}
