// Package registry holds the governance-curated catalogue of trusted
// adaptors and positions. A position is a stable integer ID bound forever to
// one (adaptor, configuration) pair; only its trusted flag can change. The
// package also defines the adaptor contract and the narrow asset context a
// vault exposes to adaptors during rebalances.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/peggyjv/cellar/internal/auth"
	"github.com/peggyjv/cellar/internal/logger"
	"github.com/peggyjv/cellar/internal/oracle"
	"github.com/peggyjv/cellar/internal/types"
)

var (
	ErrUnknownAdaptor    = errors.New("adaptor is not registered")
	ErrUntrustedAdaptor  = errors.New("adaptor is not trusted")
	ErrUnknownPosition   = errors.New("position is not registered")
	ErrUntrustedPosition = errors.New("position is not trusted")
	ErrPositionMismatch  = errors.New("position ID is already bound to a different adaptor or config")
	ErrUnpriceableAsset  = errors.New("position asset is not priceable by the oracle")
	ErrDuplicateAdaptor  = errors.New("adaptor is already registered")
)

var registryLogger = logger.GetForComponent("position_registry")

// AssetView is the read-only vault surface adaptors may consult while
// valuing a position.
type AssetView interface {
	// Address is the vault's own account identity.
	Address() common.Address
	// Balance returns the vault's ledger balance of asset.
	Balance(asset types.Asset) (sdkmath.Int, error)
}

// AssetContext is the mutating surface handed to adaptors during a rebalance.
// It deliberately has no general transfer: value can only move between the
// vault and the executing adaptor's own escrow account, or through the
// vault's swap executor. Adaptors cannot reach the trust list or lock state
// through it.
type AssetContext interface {
	AssetView
	// Swap exchanges in for outAsset through the vault's swap executor,
	// enforcing minOut.
	Swap(in types.Coin, outAsset types.Asset, minOut sdkmath.Int) (sdkmath.Int, error)
	// TransferToEscrow moves vault assets into the executing adaptor's escrow.
	TransferToEscrow(asset types.Asset, amount sdkmath.Int) error
	// TransferFromEscrow moves assets from the executing adaptor's escrow back
	// into the vault.
	TransferFromEscrow(asset types.Asset, amount sdkmath.Int) error
}

// WithdrawableAdaptor is implemented by adaptors whose positions can pay
// user withdrawals directly. Positions backed by adaptors without this
// capability can only be exited through strategist rebalances.
type WithdrawableAdaptor interface {
	Adaptor
	// Withdrawable reports how much of the position's underlying asset is
	// available for direct payout.
	Withdrawable(vault AssetView, config json.RawMessage) (sdkmath.Int, error)
}

// StatefulAdaptor is implemented by adaptors that keep internal bookkeeping
// beyond ledger balances (debt tallies and the like). A rebalance batch
// snapshots this state before executing so a failed batch can be rolled back
// completely, not just at the ledger level.
type StatefulAdaptor interface {
	Adaptor
	// SnapshotState returns an opaque copy of the adaptor's internal state.
	SnapshotState() any
	// RestoreState replaces the adaptor's internal state with a snapshot
	// previously returned by SnapshotState.
	RestoreState(snapshot any) error
}

// SwapExecutor is the external DEX integration boundary.
type SwapExecutor interface {
	Swap(vault common.Address, in types.Coin, outAsset types.Asset, minOut sdkmath.Int) (sdkmath.Int, error)
}

// Adaptor translates generic position operations into one external
// protocol's semantics. ValueOf must not mutate state.
type Adaptor interface {
	// ID is the adaptor's stable address identity.
	ID() common.Address
	// Escrow is the protocol account this adaptor moves value against.
	Escrow() common.Address
	// AssetOf decodes the position config and names its underlying asset.
	AssetOf(config json.RawMessage) (types.Asset, error)
	// IsDebt reports whether positions with this config are debt.
	IsDebt(config json.RawMessage) (bool, error)
	// ValueOf values the position in its underlying asset's smallest units.
	ValueOf(vault AssetView, config json.RawMessage) (sdkmath.Int, error)
	// Execute runs one opaque rebalance payload against the vault's context.
	Execute(vault AssetContext, call json.RawMessage) error
}

// Registry is the shared trust catalogue. Reads are frequent and cheap;
// writes are rare and governance gated.
type Registry struct {
	mu             sync.RWMutex
	authority      *auth.Authority
	pricing        *oracle.Registry
	adaptors       map[common.Address]Adaptor
	adaptorTrusted map[common.Address]bool
	positions      map[types.PositionID]*types.Position
}

// NewRegistry creates an empty registry backed by the given authority and
// pricing oracle.
func NewRegistry(authority *auth.Authority, pricing *oracle.Registry) (*Registry, error) {
	if authority == nil {
		return nil, errors.New("authority cannot be nil")
	}
	if pricing == nil {
		return nil, errors.New("pricing oracle cannot be nil")
	}
	return &Registry{
		authority:      authority,
		pricing:        pricing,
		adaptors:       make(map[common.Address]Adaptor),
		adaptorTrusted: make(map[common.Address]bool),
		positions:      make(map[types.PositionID]*types.Position),
	}, nil
}

// RegisterAdaptor adds an adaptor to the catalogue and trusts it.
func (r *Registry) RegisterAdaptor(caller common.Address, adaptor Adaptor) error {
	if err := r.authority.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	if adaptor == nil {
		return errors.New("adaptor cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id := adaptor.ID()
	if _, ok := r.adaptors[id]; ok {
		return errors.Join(ErrDuplicateAdaptor, fmt.Errorf("adaptor %s", id.Hex()))
	}
	r.adaptors[id] = adaptor
	r.adaptorTrusted[id] = true
	registryLogger.Info().Str("adaptor", id.Hex()).Msg("Adaptor registered and trusted")
	return nil
}

// DistrustAdaptor freezes an adaptor. Rebalance batches re-check this per
// call, so freezing mid-batch blocks the remaining calls.
func (r *Registry) DistrustAdaptor(caller, adaptorID common.Address) error {
	if err := r.authority.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adaptors[adaptorID]; !ok {
		return errors.Join(ErrUnknownAdaptor, fmt.Errorf("adaptor %s", adaptorID.Hex()))
	}
	r.adaptorTrusted[adaptorID] = false
	registryLogger.Warn().Str("adaptor", adaptorID.Hex()).Msg("Adaptor distrusted")
	return nil
}

// TrustAdaptor re-trusts a previously frozen adaptor.
func (r *Registry) TrustAdaptor(caller, adaptorID common.Address) error {
	if err := r.authority.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.adaptors[adaptorID]; !ok {
		return errors.Join(ErrUnknownAdaptor, fmt.Errorf("adaptor %s", adaptorID.Hex()))
	}
	r.adaptorTrusted[adaptorID] = true
	return nil
}

// IsAdaptorTrusted reports current adaptor trust.
func (r *Registry) IsAdaptorTrusted(adaptorID common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.adaptorTrusted[adaptorID]
}

// Adaptor resolves a registered adaptor regardless of trust.
func (r *Registry) Adaptor(adaptorID common.Address) (Adaptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adaptors[adaptorID]
	if !ok {
		return nil, errors.Join(ErrUnknownAdaptor, fmt.Errorf("adaptor %s", adaptorID.Hex()))
	}
	return a, nil
}

// TrustPosition binds id to (adaptor, config) and trusts it. The underlying
// asset must be priceable. Re-trusting an existing ID is only legal with a
// byte-identical adaptor and config; an ID never changes meaning.
func (r *Registry) TrustPosition(caller common.Address, id types.PositionID, adaptorID common.Address, config json.RawMessage) error {
	if err := r.authority.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	adaptor, ok := r.adaptors[adaptorID]
	if !ok {
		return errors.Join(ErrUnknownAdaptor, fmt.Errorf("adaptor %s", adaptorID.Hex()))
	}
	if !r.adaptorTrusted[adaptorID] {
		return errors.Join(ErrUntrustedAdaptor, fmt.Errorf("adaptor %s", adaptorID.Hex()))
	}

	if existing, ok := r.positions[id]; ok {
		if existing.Adaptor != adaptorID || !bytes.Equal(existing.Config, config) {
			return errors.Join(ErrPositionMismatch, fmt.Errorf("position %d", id))
		}
		existing.Trusted = true
		registryLogger.Info().Uint32("position", uint32(id)).Msg("Position re-trusted")
		return nil
	}

	asset, err := adaptor.AssetOf(config)
	if err != nil {
		return fmt.Errorf("position %d: decoding config: %w", id, err)
	}
	if !r.pricing.IsSupported(asset) {
		return errors.Join(ErrUnpriceableAsset, fmt.Errorf("position %d asset %s", id, asset.Symbol))
	}
	isDebt, err := adaptor.IsDebt(config)
	if err != nil {
		return fmt.Errorf("position %d: decoding debt flag: %w", id, err)
	}

	r.positions[id] = &types.Position{
		ID:      id,
		Adaptor: adaptorID,
		Config:  append(json.RawMessage(nil), config...),
		IsDebt:  isDebt,
		Trusted: true,
	}
	registryLogger.Info().
		Uint32("position", uint32(id)).
		Str("adaptor", adaptorID.Hex()).
		Str("asset", asset.Symbol).
		Bool("isDebt", isDebt).
		Msg("Position trusted")
	return nil
}

// DistrustPosition freezes a position. The ID stays registered forever.
func (r *Registry) DistrustPosition(caller common.Address, id types.PositionID) error {
	if err := r.authority.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.positions[id]
	if !ok {
		return errors.Join(ErrUnknownPosition, fmt.Errorf("position %d", id))
	}
	p.Trusted = false
	registryLogger.Warn().Uint32("position", uint32(id)).Msg("Position distrusted")
	return nil
}

// Position returns a copy of the registry entry for id.
func (r *Registry) Position(id types.PositionID) (types.Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.positions[id]
	if !ok {
		return types.Position{}, errors.Join(ErrUnknownPosition, fmt.Errorf("position %d", id))
	}
	return *p, nil
}

// IsPositionTrusted reports whether both the position and its adaptor are
// currently trusted.
func (r *Registry) IsPositionTrusted(id types.PositionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.positions[id]
	return ok && p.Trusted && r.adaptorTrusted[p.Adaptor]
}

// AdaptorFor resolves the adaptor backing a position, requiring both to be
// trusted.
func (r *Registry) AdaptorFor(id types.PositionID) (Adaptor, types.Position, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.positions[id]
	if !ok {
		return nil, types.Position{}, errors.Join(ErrUnknownPosition, fmt.Errorf("position %d", id))
	}
	if !p.Trusted {
		return nil, types.Position{}, errors.Join(ErrUntrustedPosition, fmt.Errorf("position %d", id))
	}
	if !r.adaptorTrusted[p.Adaptor] {
		return nil, types.Position{}, errors.Join(ErrUntrustedAdaptor, fmt.Errorf("adaptor %s", p.Adaptor.Hex()))
	}
	return r.adaptors[p.Adaptor], *p, nil
}
