// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// CurrentSchemaVersion is stamped into every snapshot row so old rows can be
// migrated in place when the shape changes.
const CurrentSchemaVersion = 1

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS rebalance_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			cycle_number INTEGER NOT NULL,
			cycle_id VARCHAR(64) NOT NULL,
			schema_version INTEGER NOT NULL DEFAULT 1,
			snapshot_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,

			-- Pre-action state
			initial_info JSONB NOT NULL,

			-- The plan
			actions JSONB,
			rebalanced BOOLEAN NOT NULL DEFAULT FALSE,

			-- The outcome
			final_info JSONB NOT NULL,
			equity_drift_bps TEXT NOT NULL DEFAULT '0',
			reinvested_lp TEXT NOT NULL DEFAULT '0'
		);
		CREATE INDEX IF NOT EXISTS idx_rebalance_snapshots_timestamp ON rebalance_snapshots(snapshot_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_rebalance_snapshots_cycle ON rebalance_snapshots(cycle_number DESC);

		CREATE TABLE IF NOT EXISTS kill_receipts (
			receipt_id SERIAL PRIMARY KEY,
			vault_name VARCHAR(64) NOT NULL,
			position_id BIGINT NOT NULL,
			caller VARCHAR(255) NOT NULL,
			proceeds TEXT NOT NULL,
			debt TEXT NOT NULL,
			prize TEXT NOT NULL,
			treasury_fee TEXT NOT NULL,
			bad_debt TEXT NOT NULL,
			leftover TEXT NOT NULL,
			kill_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_kill_receipts_timestamp ON kill_receipts(kill_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_kill_receipts_vault ON kill_receipts(vault_name);

		CREATE TABLE IF NOT EXISTS risk_parameters (
			params_id SERIAL PRIMARY KEY,
			config_name VARCHAR(64) NOT NULL,
			version INTEGER NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			activated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			params JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_risk_parameters_active ON risk_parameters(config_name, is_active);

		-- Cycle counter table for persistent global cycle tracking
		CREATE TABLE IF NOT EXISTS cycle_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_cycle INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		-- Insert initial row if it doesn't exist
		INSERT INTO cycle_counter (id, current_cycle)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}

	if err := migrateSnapshots(); err != nil {
		return err
	}

	log.Info().Msg("Database schema ensured.")
	return nil
}

// migrateSnapshots upgrades snapshot rows written by older versions. Safe to
// run multiple times.
func migrateSnapshots() error {
	migrationSQL := `
		-- Migration: early builds had no cycle_id or schema_version
		ALTER TABLE rebalance_snapshots ADD COLUMN IF NOT EXISTS cycle_id VARCHAR(64) DEFAULT '';
		ALTER TABLE rebalance_snapshots ADD COLUMN IF NOT EXISTS schema_version INTEGER DEFAULT 0;
		UPDATE rebalance_snapshots SET schema_version = 1 WHERE schema_version = 0;
		ALTER TABLE rebalance_snapshots ALTER COLUMN schema_version SET NOT NULL;
	`
	if _, err := DB.Exec(migrationSQL); err != nil {
		return fmt.Errorf("failed to migrate rebalance_snapshots: %w", err)
	}
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
