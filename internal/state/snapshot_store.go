// ./internal/state/snapshot_store.go
package state

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// AccountingSnapshot is one cellar's accounting state at the end of an engine
// cycle. Amount fields are decimal strings of smallest-unit integers.
type AccountingSnapshot struct {
	RunID         uuid.UUID
	CycleNumber   int
	Timestamp     time.Time
	CellarAddress string
	CellarName    string
	TotalAssets   string
	ShareSupply   string
	SharePrice    string
	FeesOwed      string
	FeesReady     string
	Reserves      string
	HighWatermark string
}

// SaveAccountingSnapshot persists one snapshot and returns its row ID.
func SaveAccountingSnapshot(snapshot AccountingSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO accounting_snapshots (
			run_id, cycle_number, snapshot_timestamp, cellar_address, cellar_name,
			total_assets, share_supply, share_price,
			fees_owed, fees_ready, reserves, high_watermark
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err := DB.QueryRow(
		query,
		snapshot.RunID, snapshot.CycleNumber, snapshot.Timestamp, snapshot.CellarAddress, snapshot.CellarName,
		snapshot.TotalAssets, snapshot.ShareSupply, snapshot.SharePrice,
		nullable(snapshot.FeesOwed), nullable(snapshot.FeesReady), nullable(snapshot.Reserves), nullable(snapshot.HighWatermark),
	).Scan(&snapshotID)

	if err != nil {
		return 0, fmt.Errorf("failed to save accounting snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Int("cycle_number", snapshot.CycleNumber).
		Str("cellar", snapshot.CellarName).
		Str("total_assets", snapshot.TotalAssets).
		Msg("Accounting snapshot saved to database")

	return snapshotID, nil
}

// LoadLatestSnapshot returns the most recent snapshot for a cellar, or nil if
// none exists yet.
func LoadLatestSnapshot(cellarAddress string) (*AccountingSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT run_id, cycle_number, snapshot_timestamp, cellar_address, cellar_name,
		       total_assets, share_supply, share_price,
		       COALESCE(fees_owed::text, ''), COALESCE(fees_ready::text, ''),
		       COALESCE(reserves::text, ''), COALESCE(high_watermark::text, '')
		FROM accounting_snapshots
		WHERE cellar_address = $1
		ORDER BY snapshot_timestamp DESC
		LIMIT 1;
	`

	var snapshot AccountingSnapshot
	err := DB.QueryRow(query, cellarAddress).Scan(
		&snapshot.RunID, &snapshot.CycleNumber, &snapshot.Timestamp, &snapshot.CellarAddress, &snapshot.CellarName,
		&snapshot.TotalAssets, &snapshot.ShareSupply, &snapshot.SharePrice,
		&snapshot.FeesOwed, &snapshot.FeesReady, &snapshot.Reserves, &snapshot.HighWatermark,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest snapshot: %w", err)
	}
	return &snapshot, nil
}

// SolveReceipt records one atomic-queue settlement attempt.
type SolveReceipt struct {
	RunID         uuid.UUID
	Timestamp     time.Time
	OfferAsset    string
	WantAsset     string
	SolverAddress string
	UserCount     int
	TotalOffer    string
	TotalWant     string
	Success       bool
	Message       string
}

// SaveSolveReceipt persists one settlement receipt.
func SaveSolveReceipt(receipt SolveReceipt) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO solve_receipts (
			run_id, solve_timestamp, offer_asset, want_asset, solver_address,
			user_count, total_offer, total_want, success, message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING receipt_id;
	`

	var receiptID int64
	err := DB.QueryRow(
		query,
		receipt.RunID, receipt.Timestamp, receipt.OfferAsset, receipt.WantAsset, receipt.SolverAddress,
		receipt.UserCount, receipt.TotalOffer, receipt.TotalWant, receipt.Success, receipt.Message,
	).Scan(&receiptID)

	if err != nil {
		return 0, fmt.Errorf("failed to save solve receipt: %w", err)
	}

	log.Info().
		Int64("receipt_id", receiptID).
		Str("offer_asset", receipt.OfferAsset).
		Str("want_asset", receipt.WantAsset).
		Bool("success", receipt.Success).
		Msg("Solve receipt saved to database")

	return receiptID, nil
}

// nullable maps an empty string to SQL NULL so optional numeric columns stay
// NULL instead of failing the NUMERIC cast.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
