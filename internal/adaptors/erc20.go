// Package adaptors contains the built-in position adaptor kinds: plain ERC20
// holdings, lending-market debt, and nested vault shares. Per-protocol shims
// (Aave, Curve, and the rest) live behind the same registry.Adaptor contract
// and are out of scope here.
package adaptors

import (
	"encoding/json"
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/peggyjv/cellar/internal/registry"
	"github.com/peggyjv/cellar/internal/types"
)

var (
	ErrBadConfig = errors.New("adaptor config is invalid")
	ErrBadCall   = errors.New("adaptor call payload is invalid")
)

// ERC20Config names the token a holding position tracks.
type ERC20Config struct {
	Asset types.Asset `json:"asset"`
}

// ERC20Call is the rebalance payload the ERC20 adaptor understands: swap part
// of the vault's holdings into another asset through the vault's executor.
type ERC20Call struct {
	Op       string      `json:"op"` // "swap"
	In       types.Asset `json:"in"`
	Amount   sdkmath.Int `json:"amount"`
	OutAsset types.Asset `json:"out_asset"`
	MinOut   sdkmath.Int `json:"min_out"`
}

// ERC20Adaptor values a position as the vault's ledger balance of the
// configured asset.
type ERC20Adaptor struct {
	id common.Address
}

// NewERC20Adaptor creates the adaptor under the given address identity.
func NewERC20Adaptor(id common.Address) *ERC20Adaptor {
	return &ERC20Adaptor{id: id}
}

func (a *ERC20Adaptor) ID() common.Address     { return a.id }
func (a *ERC20Adaptor) Escrow() common.Address { return a.id }

func (a *ERC20Adaptor) AssetOf(config json.RawMessage) (types.Asset, error) {
	cfg, err := decodeERC20Config(config)
	if err != nil {
		return types.Asset{}, err
	}
	return cfg.Asset, nil
}

func (a *ERC20Adaptor) IsDebt(json.RawMessage) (bool, error) { return false, nil }

func (a *ERC20Adaptor) ValueOf(vault registry.AssetView, config json.RawMessage) (sdkmath.Int, error) {
	cfg, err := decodeERC20Config(config)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return vault.Balance(cfg.Asset)
}

// Withdrawable implements registry.WithdrawableAdaptor: plain holdings are
// fully liquid.
func (a *ERC20Adaptor) Withdrawable(vault registry.AssetView, config json.RawMessage) (sdkmath.Int, error) {
	return a.ValueOf(vault, config)
}

func (a *ERC20Adaptor) Execute(vault registry.AssetContext, call json.RawMessage) error {
	var payload ERC20Call
	if err := json.Unmarshal(call, &payload); err != nil {
		return errors.Join(ErrBadCall, err)
	}
	switch payload.Op {
	case "swap":
		if payload.Amount.IsNil() || !payload.Amount.IsPositive() {
			return errors.Join(ErrBadCall, fmt.Errorf("swap amount %s", payload.Amount))
		}
		minOut := payload.MinOut
		if minOut.IsNil() {
			minOut = sdkmath.ZeroInt()
		}
		_, err := vault.Swap(types.NewCoin(payload.In, payload.Amount), payload.OutAsset, minOut)
		return err
	default:
		return errors.Join(ErrBadCall, fmt.Errorf("unknown op %q", payload.Op))
	}
}

func decodeERC20Config(config json.RawMessage) (ERC20Config, error) {
	var cfg ERC20Config
	if err := json.Unmarshal(config, &cfg); err != nil {
		return ERC20Config{}, errors.Join(ErrBadConfig, err)
	}
	if cfg.Asset.IsZero() {
		return ERC20Config{}, errors.Join(ErrBadConfig, errors.New("asset is unset"))
	}
	return cfg, nil
}
