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

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
// Integer token amounts are stored as NUMERIC(78, 0): wide enough for any
// 256-bit value, exact, and sortable.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS accounting_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			run_id UUID NOT NULL,
			cycle_number INTEGER NOT NULL,
			snapshot_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			cellar_address VARCHAR(42) NOT NULL,
			cellar_name VARCHAR(255) NOT NULL,

			total_assets NUMERIC(78, 0) NOT NULL,
			share_supply NUMERIC(78, 0) NOT NULL,
			share_price DECIMAL(40, 18) NOT NULL,

			-- Fee module state at snapshot time
			fees_owed NUMERIC(78, 0),
			fees_ready NUMERIC(78, 0),
			reserves NUMERIC(78, 0),
			high_watermark DECIMAL(40, 18)
		);
		CREATE INDEX IF NOT EXISTS idx_accounting_snapshots_timestamp ON accounting_snapshots(snapshot_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_accounting_snapshots_cellar ON accounting_snapshots(cellar_address, snapshot_timestamp DESC);

		CREATE TABLE IF NOT EXISTS solve_receipts (
			receipt_id SERIAL PRIMARY KEY,
			run_id UUID NOT NULL,
			solve_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			offer_asset VARCHAR(42) NOT NULL,
			want_asset VARCHAR(42) NOT NULL,
			solver_address VARCHAR(42) NOT NULL,
			user_count INTEGER NOT NULL,
			total_offer NUMERIC(78, 0) NOT NULL,
			total_want NUMERIC(78, 0) NOT NULL,
			success BOOLEAN NOT NULL,
			message TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_solve_receipts_timestamp ON solve_receipts(solve_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_solve_receipts_pair ON solve_receipts(offer_asset, want_asset);

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
	log.Info().Msg("Database schema ensured.")
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
