package adaptors

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/peggyjv/cellar/internal/registry"
	"github.com/peggyjv/cellar/internal/types"
)

var (
	ErrRepayExceedsDebt = errors.New("repay exceeds outstanding debt")
)

// DebtConfig names the asset a vault borrows from the market this adaptor
// fronts.
type DebtConfig struct {
	Asset types.Asset `json:"asset"`
}

// DebtCall is the rebalance payload: borrow from or repay to the market
// escrow.
type DebtCall struct {
	Op     string      `json:"op"` // "borrow" | "repay"
	Asset  types.Asset `json:"asset"`
	Amount sdkmath.Int `json:"amount"`
}

// DebtAdaptor models a lending market's borrow side. The market's liquidity
// sits in the escrow account; outstanding debt is tracked per (vault, asset)
// and reported as the position's value, which the cellar subtracts from total
// assets.
type DebtAdaptor struct {
	id     common.Address
	escrow common.Address

	mu   sync.RWMutex
	debt map[common.Address]map[common.Address]sdkmath.Int // vault -> asset -> owed
}

// NewDebtAdaptor creates the adaptor with its market escrow account.
func NewDebtAdaptor(id, escrow common.Address) *DebtAdaptor {
	return &DebtAdaptor{
		id:     id,
		escrow: escrow,
		debt:   make(map[common.Address]map[common.Address]sdkmath.Int),
	}
}

func (a *DebtAdaptor) ID() common.Address     { return a.id }
func (a *DebtAdaptor) Escrow() common.Address { return a.escrow }

func (a *DebtAdaptor) AssetOf(config json.RawMessage) (types.Asset, error) {
	cfg, err := decodeDebtConfig(config)
	if err != nil {
		return types.Asset{}, err
	}
	return cfg.Asset, nil
}

func (a *DebtAdaptor) IsDebt(json.RawMessage) (bool, error) { return true, nil }

func (a *DebtAdaptor) ValueOf(vault registry.AssetView, config json.RawMessage) (sdkmath.Int, error) {
	cfg, err := decodeDebtConfig(config)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return a.Owed(vault.Address(), cfg.Asset), nil
}

// Owed returns the outstanding debt of vault in asset.
func (a *DebtAdaptor) Owed(vault common.Address, asset types.Asset) sdkmath.Int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if byAsset, ok := a.debt[vault]; ok {
		if owed, ok := byAsset[asset.Addr]; ok {
			return owed
		}
	}
	return sdkmath.ZeroInt()
}

func (a *DebtAdaptor) Execute(vault registry.AssetContext, call json.RawMessage) error {
	var payload DebtCall
	if err := json.Unmarshal(call, &payload); err != nil {
		return errors.Join(ErrBadCall, err)
	}
	if payload.Amount.IsNil() || !payload.Amount.IsPositive() {
		return errors.Join(ErrBadCall, fmt.Errorf("amount %s", payload.Amount))
	}

	switch payload.Op {
	case "borrow":
		// Market liquidity flows escrow -> vault, debt grows.
		if err := vault.TransferFromEscrow(payload.Asset, payload.Amount); err != nil {
			return fmt.Errorf("borrow transfer failed: %w", err)
		}
		a.adjust(vault.Address(), payload.Asset, payload.Amount)
		return nil

	case "repay":
		owed := a.Owed(vault.Address(), payload.Asset)
		if owed.LT(payload.Amount) {
			return errors.Join(ErrRepayExceedsDebt,
				fmt.Errorf("owed %s, repaying %s", owed, payload.Amount))
		}
		if err := vault.TransferToEscrow(payload.Asset, payload.Amount); err != nil {
			return fmt.Errorf("repay transfer failed: %w", err)
		}
		a.adjust(vault.Address(), payload.Asset, payload.Amount.Neg())
		return nil

	default:
		return errors.Join(ErrBadCall, fmt.Errorf("unknown op %q", payload.Op))
	}
}

// SnapshotState implements registry.StatefulAdaptor: a deep copy of the debt
// tallies, so a reverted rebalance also unwinds borrows and repays.
func (a *DebtAdaptor) SnapshotState() any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	snap := make(map[common.Address]map[common.Address]sdkmath.Int, len(a.debt))
	for vault, byAsset := range a.debt {
		copied := make(map[common.Address]sdkmath.Int, len(byAsset))
		for asset, owed := range byAsset {
			copied[asset] = owed
		}
		snap[vault] = copied
	}
	return snap
}

// RestoreState implements registry.StatefulAdaptor.
func (a *DebtAdaptor) RestoreState(snapshot any) error {
	snap, ok := snapshot.(map[common.Address]map[common.Address]sdkmath.Int)
	if !ok {
		return fmt.Errorf("unexpected snapshot type %T", snapshot)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.debt = make(map[common.Address]map[common.Address]sdkmath.Int, len(snap))
	for vault, byAsset := range snap {
		copied := make(map[common.Address]sdkmath.Int, len(byAsset))
		for asset, owed := range byAsset {
			copied[asset] = owed
		}
		a.debt[vault] = copied
	}
	return nil
}

func (a *DebtAdaptor) adjust(vault common.Address, asset types.Asset, delta sdkmath.Int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	byAsset, ok := a.debt[vault]
	if !ok {
		byAsset = make(map[common.Address]sdkmath.Int)
		a.debt[vault] = byAsset
	}
	owed, ok := byAsset[asset.Addr]
	if !ok {
		owed = sdkmath.ZeroInt()
	}
	byAsset[asset.Addr] = owed.Add(delta)
}

func decodeDebtConfig(config json.RawMessage) (DebtConfig, error) {
	var cfg DebtConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return DebtConfig{}, errors.Join(ErrBadConfig, err)
	}
	if cfg.Asset.IsZero() {
		return DebtConfig{}, errors.Join(ErrBadConfig, errors.New("asset is unset"))
	}
	return cfg, nil
}
