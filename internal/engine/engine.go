// Package engine runs the periodic upkeep loop: share-price observations for
// the circuit breaker, fee accrual when due, and accounting snapshots to the
// state store. One engine instance drives one cellar.
package engine

import (
	"context"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/peggyjv/cellar/internal/fees"
	"github.com/peggyjv/cellar/internal/logger"
	"github.com/peggyjv/cellar/internal/registry"
	"github.com/peggyjv/cellar/internal/state"
	"github.com/peggyjv/cellar/internal/types"
	"github.com/peggyjv/cellar/internal/utils"
	"github.com/peggyjv/cellar/internal/vault"
)

// Engine drives one cellar's upkeep cycle.
type Engine struct {
	logger     zerolog.Logger
	cellar     *vault.Cellar
	fees       *fees.FeesAndReserves
	registry   *registry.Registry
	automation common.Address
	persist    bool

	cycleCount int
}

// Config holds the configuration for creating a new Engine instance.
type Config struct {
	Cellar     *vault.Cellar
	Fees       *fees.FeesAndReserves
	Registry   *registry.Registry
	Automation common.Address
	Persist    bool // write accounting snapshots to PostgreSQL
}

// New creates an engine with dependency injection.
func New(cfg Config) (*Engine, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("engine configuration validation failed: %w", err)
	}

	e := &Engine{
		logger:     logger.GetForComponent("engine_core"),
		cellar:     cfg.Cellar,
		fees:       cfg.Fees,
		registry:   cfg.Registry,
		automation: cfg.Automation,
		persist:    cfg.Persist,
	}

	e.logger.Info().
		Str("cellar", cfg.Cellar.Name()).
		Bool("persist", cfg.Persist).
		Msg("Engine instance created")
	return e, nil
}

func validateConfig(cfg Config) error {
	if cfg.Cellar == nil {
		return fmt.Errorf("cellar cannot be nil")
	}
	if cfg.Fees == nil {
		return fmt.Errorf("fee module cannot be nil")
	}
	if cfg.Registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	if cfg.Automation == (common.Address{}) {
		return fmt.Errorf("automation address cannot be empty")
	}
	return nil
}

// Cellar exposes the engine's cellar to read-only consumers like the web
// server.
func (e *Engine) Cellar() *vault.Cellar { return e.cellar }

// Fees exposes the fee module to read-only consumers.
func (e *Engine) Fees() *fees.FeesAndReserves { return e.fees }

// CycleCount returns how many cycles have run since start.
func (e *Engine) CycleCount() int { return e.cycleCount }

// RunLoop starts the main upkeep loop with the specified interval.
func (e *Engine) RunLoop(ctx context.Context, interval time.Duration) {
	e.logger.Info().
		Dur("interval", interval).
		Msg("Starting engine main loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run first cycle immediately
	e.cycleCount++
	e.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Engine loop stopped due to context cancellation")
			return
		case <-ticker.C:
			e.cycleCount++
			e.RunCycle(ctx)
		}
	}
}

// RunCycle executes one complete upkeep cycle. Step failures are logged and
// the cycle moves on; the ledgers themselves are never left half-mutated
// because every underlying operation is atomic.
func (e *Engine) RunCycle(ctx context.Context) {
	cycleStart := time.Now()
	runID := uuid.New()
	cycleLogger := e.logger.With().Str("run_id", runID.String()).Logger()

	cycleLogger.Info().Int("cycle", e.cycleCount).Msg("--- Starting upkeep cycle ---")

	// --- Step 1: Share price observation ---
	if err := e.cellar.RecordSharePriceObservation(e.automation); err != nil {
		cycleLogger.Warn().Err(err).Msg("Step 1: Share price observation skipped")
	} else {
		cycleLogger.Info().Msg("Step 1: Share price observation recorded")
	}

	// --- Step 2: Fee upkeep ---
	due := e.fees.CheckUpkeep(sdkmath.ZeroInt())
	for _, cellarAddr := range due {
		if ctx.Err() != nil {
			return
		}
		if err := e.fees.PerformUpkeep(e.automation, cellarAddr, sdkmath.ZeroInt()); err != nil {
			cycleLogger.Error().Err(err).Str("cellar", cellarAddr.Hex()).Msg("Step 2: Fee upkeep failed")
		}
	}
	cycleLogger.Info().Int("upkeepsDue", len(due)).Msg("Step 2: Fee upkeep complete")

	// --- Step 3: Accounting snapshot ---
	if e.persist {
		if err := e.saveSnapshot(runID, cycleStart); err != nil {
			cycleLogger.Error().Err(err).Msg("Step 3: Accounting snapshot failed")
		} else {
			cycleLogger.Info().Msg("Step 3: Accounting snapshot saved")
		}
	}

	cycleLogger.Info().
		Dur("duration", time.Since(cycleStart)).
		Msg("--- Upkeep cycle complete ---")
}

func (e *Engine) saveSnapshot(runID uuid.UUID, timestamp time.Time) error {
	totalAssets, err := e.cellar.TotalAssets()
	if err != nil {
		return fmt.Errorf("reading total assets: %w", err)
	}
	sharePrice, err := e.cellar.SharePrice()
	if err != nil {
		return fmt.Errorf("reading share price: %w", err)
	}

	cycleNumber, err := state.IncrementCycleNumber()
	if err != nil {
		return fmt.Errorf("advancing cycle counter: %w", err)
	}

	snapshot := state.AccountingSnapshot{
		RunID:         runID,
		CycleNumber:   cycleNumber,
		Timestamp:     timestamp,
		CellarAddress: e.cellar.Address().Hex(),
		CellarName:    e.cellar.Name(),
		TotalAssets:   totalAssets.String(),
		ShareSupply:   e.cellar.ShareSupply().String(),
		SharePrice:    sharePrice.String(),
	}
	if meta, err := e.fees.MetaDataFor(e.cellar.Address()); err == nil {
		snapshot.FeesOwed = meta.FeesOwed.String()
		snapshot.FeesReady = meta.FeesReady.String()
		snapshot.Reserves = meta.Reserves.String()
		snapshot.HighWatermark = meta.HighWatermark.String()
	}

	_, err = state.SaveAccountingSnapshot(snapshot)
	return err
}

// PositionStatus is one active position's live reading, exposed for the web
// dashboard.
type PositionStatus struct {
	ID      types.PositionID `json:"id"`
	IsDebt  bool             `json:"isDebt"`
	Asset   string           `json:"asset"`
	Balance string           `json:"balance"`
}

// Status is a point-in-time summary of the cellar.
type Status struct {
	Cellar      string `json:"cellar"`
	TotalAssets string `json:"totalAssets"`
	ShareSupply string `json:"shareSupply"`
	SharePrice  string `json:"sharePrice"`
	CycleCount  int    `json:"cycleCount"`
}

// PositionStatuses reads every active position's current balance.
func (e *Engine) PositionStatuses() ([]PositionStatus, error) {
	ids := e.cellar.Positions()
	statuses := make([]PositionStatus, 0, len(ids))
	for _, id := range ids {
		position, err := e.registry.Position(id)
		if err != nil {
			return nil, err
		}
		adaptor, err := e.registry.Adaptor(position.Adaptor)
		if err != nil {
			return nil, err
		}
		asset, err := adaptor.AssetOf(position.Config)
		if err != nil {
			return nil, err
		}
		balance, err := adaptor.ValueOf(e.cellar, position.Config)
		if err != nil {
			return nil, err
		}
		display, err := utils.FormatAmount(balance, asset.Decimals)
		if err != nil {
			return nil, err
		}
		statuses = append(statuses, PositionStatus{
			ID:      id,
			IsDebt:  position.IsDebt,
			Asset:   asset.Symbol,
			Balance: display,
		})
	}
	return statuses, nil
}

// CurrentStatus assembles the dashboard summary.
func (e *Engine) CurrentStatus() (Status, error) {
	totalAssets, err := e.cellar.TotalAssets()
	if err != nil {
		return Status{}, err
	}
	sharePrice, err := e.cellar.SharePrice()
	if err != nil {
		return Status{}, err
	}
	return Status{
		Cellar:      e.cellar.Name(),
		TotalAssets: totalAssets.String(),
		ShareSupply: e.cellar.ShareSupply().String(),
		SharePrice:  sharePrice.String(),
		CycleCount:  e.cycleCount,
	}, nil
}
