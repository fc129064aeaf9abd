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

var ErrUnknownInnerVault = errors.New("inner vault is not registered with the adaptor")

// SharePricer is the slice of a cellar the adaptor needs to value nested
// shares: the share token's asset identity and the share-to-assets quote.
type SharePricer interface {
	ShareAsset() types.Asset
	HoldingAsset() types.Asset
	ConvertToAssets(shares sdkmath.Int) (sdkmath.Int, error)
}

// VaultSharesConfig names the inner vault whose shares the position holds.
type VaultSharesConfig struct {
	Vault common.Address `json:"vault"`
}

// VaultSharesAdaptor values shares of one cellar held inside another. Inner
// vaults are registered at wiring time; the position value is the outer
// vault's share balance quoted through the inner vault's share price, in the
// inner vault's holding asset.
type VaultSharesAdaptor struct {
	id common.Address

	mu    sync.RWMutex
	inner map[common.Address]SharePricer
}

// NewVaultSharesAdaptor creates the adaptor under the given identity.
func NewVaultSharesAdaptor(id common.Address) *VaultSharesAdaptor {
	return &VaultSharesAdaptor{id: id, inner: make(map[common.Address]SharePricer)}
}

// RegisterInnerVault makes an inner cellar's shares valuable through this
// adaptor.
func (a *VaultSharesAdaptor) RegisterInnerVault(addr common.Address, pricer SharePricer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inner[addr] = pricer
}

func (a *VaultSharesAdaptor) ID() common.Address     { return a.id }
func (a *VaultSharesAdaptor) Escrow() common.Address { return a.id }

func (a *VaultSharesAdaptor) AssetOf(config json.RawMessage) (types.Asset, error) {
	pricer, err := a.resolve(config)
	if err != nil {
		return types.Asset{}, err
	}
	return pricer.HoldingAsset(), nil
}

func (a *VaultSharesAdaptor) IsDebt(json.RawMessage) (bool, error) { return false, nil }

func (a *VaultSharesAdaptor) ValueOf(vault registry.AssetView, config json.RawMessage) (sdkmath.Int, error) {
	pricer, err := a.resolve(config)
	if err != nil {
		return sdkmath.Int{}, err
	}
	shares, err := vault.Balance(pricer.ShareAsset())
	if err != nil {
		return sdkmath.Int{}, err
	}
	if shares.IsZero() {
		return sdkmath.ZeroInt(), nil
	}
	return pricer.ConvertToAssets(shares)
}

// Execute is rejected: moving value into or out of a nested vault goes
// through that vault's own deposit and redeem entry points, not through the
// rebalance sandbox.
func (a *VaultSharesAdaptor) Execute(registry.AssetContext, json.RawMessage) error {
	return errors.Join(ErrBadCall, errors.New("vault shares adaptor has no rebalance operations"))
}

func (a *VaultSharesAdaptor) resolve(config json.RawMessage) (SharePricer, error) {
	var cfg VaultSharesConfig
	if err := json.Unmarshal(config, &cfg); err != nil {
		return nil, errors.Join(ErrBadConfig, err)
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	pricer, ok := a.inner[cfg.Vault]
	if !ok {
		return nil, errors.Join(ErrUnknownInnerVault, fmt.Errorf("vault %s", cfg.Vault.Hex()))
	}
	return pricer, nil
}
