// ./internal/state/cycle_counter.go
package state

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// The upkeep cycle counter lives in the database so cycle numbers stay
// monotonic across engine restarts. It is a single-row table; the CHECK
// constraint keeps it that way.

func ensureCycleCounterTable() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	ddl := `
		CREATE TABLE IF NOT EXISTS cycle_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_cycle INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		INSERT INTO cycle_counter (id, current_cycle)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`

	if _, err := DB.Exec(ddl); err != nil {
		return fmt.Errorf("failed to create cycle_counter table: %w", err)
	}
	return nil
}

// GetCurrentCycleNumber returns the last upkeep cycle number recorded, zero
// on a fresh database.
func GetCurrentCycleNumber() (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}
	if err := ensureCycleCounterTable(); err != nil {
		return 0, err
	}

	var current int
	err := DB.QueryRow(`SELECT current_cycle FROM cycle_counter WHERE id = 1;`).Scan(&current)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Warn().Msg("No cycle counter row found, starting from 0")
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read cycle number: %w", err)
	}
	return current, nil
}

// IncrementCycleNumber advances the upkeep cycle counter and returns the new
// number. Called once at the top of each engine cycle.
func IncrementCycleNumber() (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}
	if err := ensureCycleCounterTable(); err != nil {
		return 0, err
	}

	query := `
		UPDATE cycle_counter
		SET current_cycle = current_cycle + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
		RETURNING current_cycle;`

	var next int
	if err := DB.QueryRow(query).Scan(&next); err != nil {
		return 0, fmt.Errorf("failed to advance cycle number: %w", err)
	}

	log.Debug().Int("cycle", next).Msg("Upkeep cycle counter advanced")
	return next, nil
}

// ResetCycleNumber forces the counter to a specific value. Maintenance use
// only; the engine never calls this.
func ResetCycleNumber(cycleNumber int) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if cycleNumber < 0 {
		return fmt.Errorf("cycle number cannot be negative: %d", cycleNumber)
	}
	if err := ensureCycleCounterTable(); err != nil {
		return err
	}

	query := `
		UPDATE cycle_counter
		SET current_cycle = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1;`

	result, err := DB.Exec(query, cycleNumber)
	if err != nil {
		return fmt.Errorf("failed to reset cycle number to %d: %w", cycleNumber, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("no rows updated when resetting cycle number")
	}

	log.Warn().Int("cycle", cycleNumber).Msg("Upkeep cycle counter reset")
	return nil
}
