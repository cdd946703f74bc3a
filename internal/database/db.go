// Package database is the durable store for decisions, ledgers, campaigns,
// goal targets, and realized trades, backed by PostgreSQL.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool.
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config holds database configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection pool and verifies connectivity.
func NewDB(cfg Config, logger zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log := logger.With().Str("component", "database").Logger()
	log.Info().Str("database", cfg.Database).Msg("connected to PostgreSQL")

	return &DB{Pool: pool, logger: log}, nil
}

// HealthCheck verifies the database connection is alive.
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Close closes the database connection pool.
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("database connection closed")
	}
}

// RunMigrations creates the schema if it does not exist.
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Msg("running database migrations")

	migrations := []string{
		// Append-only decision log.
		`CREATE TABLE IF NOT EXISTS decisions (
			id UUID PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			pair VARCHAR(20) NOT NULL,
			signal JSONB NOT NULL,
			portfolio_ref VARCHAR(64),
			outcome VARCHAR(10) NOT NULL,
			reason_code VARCHAR(32) NOT NULL,
			reason TEXT NOT NULL,
			risk_level VARCHAR(10),
			risk_description TEXT,
			approved_amount DECIMAL(20, 8),
			confidence DECIMAL(6, 4) NOT NULL,
			execution_status VARCHAR(20),
			order_id VARCHAR(64),
			campaign_id VARCHAR(64),
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_ts ON decisions(ts DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_pair ON decisions(pair)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_campaign ON decisions(campaign_id)`,

		// Budget ledger counters, keyed by scope (main or campaign id) and date.
		`CREATE TABLE IF NOT EXISTS ledger_states (
			scope VARCHAR(64) NOT NULL,
			date VARCHAR(10) NOT NULL,
			state JSONB NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (scope, date)
		)`,

		// Campaign records with embedded sub-ledger counters.
		`CREATE TABLE IF NOT EXISTS campaigns (
			id UUID PRIMARY KEY,
			allocated_capital DECIMAL(20, 8) NOT NULL,
			profit_target DECIMAL(20, 8) NOT NULL,
			timeframe_days INT NOT NULL,
			risk_level VARCHAR(10),
			pairs JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			status VARCHAR(10) NOT NULL,
			realized_profit DECIMAL(20, 8) NOT NULL DEFAULT 0,
			sub_ledger JSONB NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status)`,

		// Goal targets, one row per period.
		`CREATE TABLE IF NOT EXISTS goal_targets (
			period VARCHAR(10) PRIMARY KEY,
			target_amount DECIMAL(20, 8) NOT NULL,
			current_progress DECIMAL(20, 8) NOT NULL DEFAULT 0,
			probability DECIMAL(6, 4) NOT NULL DEFAULT 0.5,
			confidence_level VARCHAR(10) NOT NULL DEFAULT 'low',
			updated_at TIMESTAMPTZ DEFAULT NOW()
		)`,

		// Realized trade outcomes feeding goals and risk metrics.
		`CREATE TABLE IF NOT EXISTS realized_trades (
			id BIGSERIAL PRIMARY KEY,
			pair VARCHAR(20) NOT NULL,
			pnl DECIMAL(20, 8) NOT NULL,
			closed_at TIMESTAMPTZ NOT NULL,
			decision_id UUID,
			created_at TIMESTAMPTZ DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_realized_trades_closed_at ON realized_trades(closed_at)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Msg("database migrations completed")
	return nil
}
