// Package vault implements the Cellar: the share-issuing pooled-investment
// vault at the center of the system. A cellar owns an ordered list of trusted
// position IDs, prices them through the oracle into one totalAssets figure,
// mints and burns shares against that figure with explicit rounding rules,
// and delegates rebalancing to registry-checked adaptors through a sandboxed
// asset context.
package vault

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/peggyjv/cellar/internal/auth"
	"github.com/peggyjv/cellar/internal/logger"
	"github.com/peggyjv/cellar/internal/oracle"
	"github.com/peggyjv/cellar/internal/registry"
	"github.com/peggyjv/cellar/internal/token"
	"github.com/peggyjv/cellar/internal/types"
)

// Error definitions for the accounting core. Every user-visible failure maps
// to one of these so callers can distinguish causes programmatically.
var (
	ErrReentrantCall        = errors.New("vault operation already in progress")
	ErrZeroShares           = errors.New("operation would mint or burn zero shares")
	ErrMinimumDeposit       = errors.New("initial deposit is below the required minimum")
	ErrSupplyCapExceeded    = errors.New("deposit would exceed the share supply cap")
	ErrRateLimited          = errors.New("operation exceeds the rolling-window flow limit")
	ErrShareLocked          = errors.New("shares are still lock period restricted")
	ErrIlliquidWithdraw     = errors.New("withdrawal would touch an illiquid position")
	ErrInsufficientLiquid   = errors.New("liquid positions cannot cover the withdrawal")
	ErrZeroTotalAssets      = errors.New("total assets is zero with shares outstanding")
	ErrNegativeTotalAssets  = errors.New("debt positions exceed credit positions")
	ErrAccountingDeviation  = errors.New("rebalance moved total assets beyond the allowed deviation")
	ErrPrivilegeEscalation  = errors.New("adaptor call altered vault configuration")
	ErrPositionInUse        = errors.New("position is already in the active list")
	ErrPositionNotEmpty     = errors.New("position still holds value")
	ErrPositionNotActive    = errors.New("position is not in the active list")
	ErrPositionLimit        = errors.New("active position list is full")
	ErrHoldingPositionDebt  = errors.New("holding position cannot be a debt position")
	ErrHoldingProbeFailed   = errors.New("holding position did not round-trip through its adaptor")
	ErrNoSwapExecutor       = errors.New("no swap executor is configured")
	ErrSwapSlippage         = errors.New("swap returned less than the required minimum")
	ErrPriceDeviation       = errors.New("share price deviates too far from the time-weighted average")
	ErrInvalidConfiguration = errors.New("cellar configuration is invalid")
)

var cellarLogger = logger.GetForComponent("cellar")

// RateLimit caps deposit plus withdrawal flow inside a rolling window. A zero
// MaxAssets disables the limiter.
type RateLimit struct {
	Window    time.Duration
	MaxAssets sdkmath.Int // holding-asset smallest units per window
}

// Config carries a cellar's immutable identity and its governance-tunable
// parameters' initial values.
type Config struct {
	Name                  string
	Address               common.Address // the cellar's own account identity
	HoldingAsset          types.Asset
	ShareAsset            types.Asset
	MinimumInitialDeposit sdkmath.Int
	ShareLockBlocks       uint64
	SupplyCap             sdkmath.Int // zero disables the cap
	RateLimit             RateLimit
	RebalanceDeviation    sdkmath.LegacyDec // e.g. 0.003 for 30 bps
	MaxPositions          int
	// Optional share-price circuit breaker.
	PriceObserver         *oracle.SharePriceObserver
	AllowedPriceDeviation sdkmath.LegacyDec
}

// Cellar is one vault instance.
type Cellar struct {
	cfg       Config
	authority *auth.Authority
	registry  *registry.Registry
	pricing   *oracle.Registry
	bank      *token.Bank
	shares    *token.Ledger
	clock     types.Clock
	swap      registry.SwapExecutor
	log       zerolog.Logger

	// busy is the explicit non-reentrant guard around every
	// totalAssets-dependent mutation. Operations are strictly serialized;
	// a reentrant or concurrent mutation fails instead of interleaving.
	busyMu sync.Mutex
	busy   bool

	stateMu         sync.RWMutex
	positions       []types.PositionID
	holdingPosition types.PositionID
	shareLockBlocks uint64
	supplyCap       sdkmath.Int
	rateLimit       RateLimit
	deviation       sdkmath.LegacyDec
	illiquid        map[types.PositionID]bool
	mintBlock       map[common.Address]uint64
	windowStart     time.Time
	windowUsed      sdkmath.Int
	rebalancing     bool
}

// New creates a cellar. The holding-asset and share ledgers are both
// registered here (Register reuses an existing ledger), and the share
// transfer hook is installed so the share lock binds every movement path
// including direct ledger transfers.
func New(cfg Config, authority *auth.Authority, reg *registry.Registry, pricing *oracle.Registry,
	bank *token.Bank, clock types.Clock, swap registry.SwapExecutor) (*Cellar, error) {

	if authority == nil || reg == nil || pricing == nil || bank == nil || clock == nil {
		return nil, errors.Join(ErrInvalidConfiguration, errors.New("nil collaborator"))
	}
	if cfg.Address == (common.Address{}) {
		return nil, errors.Join(ErrInvalidConfiguration, errors.New("cellar address is unset"))
	}
	if cfg.HoldingAsset.IsZero() || cfg.ShareAsset.IsZero() {
		return nil, errors.Join(ErrInvalidConfiguration, errors.New("holding or share asset is unset"))
	}
	if cfg.MinimumInitialDeposit.IsNil() || !cfg.MinimumInitialDeposit.IsPositive() {
		return nil, errors.Join(ErrInvalidConfiguration, errors.New("minimum initial deposit must be positive"))
	}
	if cfg.RebalanceDeviation.IsNil() || cfg.RebalanceDeviation.IsNegative() || cfg.RebalanceDeviation.GT(sdkmath.LegacyOneDec()) {
		return nil, errors.Join(ErrInvalidConfiguration, fmt.Errorf("rebalance deviation %s", cfg.RebalanceDeviation))
	}
	if cfg.MaxPositions <= 0 {
		return nil, errors.Join(ErrInvalidConfiguration, errors.New("max positions must be positive"))
	}
	if cfg.PriceObserver != nil && (cfg.AllowedPriceDeviation.IsNil() || !cfg.AllowedPriceDeviation.IsPositive()) {
		return nil, errors.Join(ErrInvalidConfiguration, errors.New("price observer requires a positive allowed deviation"))
	}
	if cfg.SupplyCap.IsNil() {
		cfg.SupplyCap = sdkmath.ZeroInt()
	}
	if cfg.RateLimit.MaxAssets.IsNil() {
		cfg.RateLimit.MaxAssets = sdkmath.ZeroInt()
	}
	if !cfg.RateLimit.MaxAssets.IsZero() && cfg.RateLimit.Window <= 0 {
		return nil, errors.Join(ErrInvalidConfiguration, errors.New("rate limit window must be positive"))
	}

	bank.Register(cfg.HoldingAsset)
	c := &Cellar{
		cfg:             cfg,
		authority:       authority,
		registry:        reg,
		pricing:         pricing,
		bank:            bank,
		shares:          bank.Register(cfg.ShareAsset),
		clock:           clock,
		swap:            swap,
		log:             cellarLogger.With().Str("cellar", cfg.Name).Logger(),
		shareLockBlocks: cfg.ShareLockBlocks,
		supplyCap:       cfg.SupplyCap,
		rateLimit:       cfg.RateLimit,
		deviation:       cfg.RebalanceDeviation,
		illiquid:        make(map[types.PositionID]bool),
		mintBlock:       make(map[common.Address]uint64),
		windowUsed:      sdkmath.ZeroInt(),
	}
	c.shares.SetTransferHook(c.shareTransferHook)

	c.log.Info().
		Str("holdingAsset", cfg.HoldingAsset.Symbol).
		Str("shareAsset", cfg.ShareAsset.Symbol).
		Uint64("shareLockBlocks", cfg.ShareLockBlocks).
		Msg("Cellar initialized")
	return c, nil
}

// Address is the cellar's account identity.
func (c *Cellar) Address() common.Address { return c.cfg.Address }

// Name returns the cellar's display name.
func (c *Cellar) Name() string { return c.cfg.Name }

// HoldingAsset is the asset all accounting is denominated in.
func (c *Cellar) HoldingAsset() types.Asset { return c.cfg.HoldingAsset }

// ShareAsset is the share token's asset identity.
func (c *Cellar) ShareAsset() types.Asset { return c.cfg.ShareAsset }

// ShareSupply returns the outstanding share supply.
func (c *Cellar) ShareSupply() sdkmath.Int { return c.shares.TotalSupply() }

// ShareBalance returns holder's share balance.
func (c *Cellar) ShareBalance(holder common.Address) sdkmath.Int {
	return c.shares.BalanceOf(holder)
}

// Positions returns a copy of the active position list.
func (c *Cellar) Positions() []types.PositionID {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return append([]types.PositionID(nil), c.positions...)
}

// HoldingPosition returns the position new deposits default into.
func (c *Cellar) HoldingPosition() types.PositionID {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.holdingPosition
}

// Balance implements registry.AssetView: the cellar's ledger balance of asset.
func (c *Cellar) Balance(asset types.Asset) (sdkmath.Int, error) {
	ledger, err := c.bank.Ledger(asset)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return ledger.BalanceOf(c.cfg.Address), nil
}

// acquire takes the non-reentrant mutation guard, failing fast if another
// mutation is in flight.
func (c *Cellar) acquire() error {
	c.busyMu.Lock()
	defer c.busyMu.Unlock()
	if c.busy {
		return ErrReentrantCall
	}
	c.busy = true
	return nil
}

func (c *Cellar) release() {
	c.busyMu.Lock()
	c.busy = false
	c.busyMu.Unlock()
}

// shareTransferHook enforces the share lock on every movement path: direct
// transfers, transferFrom, and burns alike. Mints stamp the recipient's lock.
func (c *Cellar) shareTransferHook(from, to common.Address, _ sdkmath.Int) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if from == (common.Address{}) {
		// Mint path: restart the recipient's lock at the current block.
		c.mintBlock[to] = c.clock.BlockNumber()
		return nil
	}
	if c.shareLockBlocks == 0 {
		return nil
	}
	minted, ok := c.mintBlock[from]
	if !ok {
		return nil
	}
	unlockAt := minted + c.shareLockBlocks
	if c.clock.BlockNumber() < unlockAt {
		return errors.Join(ErrShareLocked,
			fmt.Errorf("holder %s unlocks at block %d, current %d", from.Hex(), unlockAt, c.clock.BlockNumber()))
	}
	return nil
}

// Transfer moves shares between holders, subject to the share lock.
func (c *Cellar) Transfer(from, to common.Address, shares sdkmath.Int) error {
	return c.shares.Transfer(from, to, shares)
}

// TransferFrom moves shares on an allowance, subject to the share lock.
func (c *Cellar) TransferFrom(spender, owner, to common.Address, shares sdkmath.Int) error {
	return c.shares.TransferFrom(spender, owner, to, shares)
}

// ApproveShares sets a share allowance.
func (c *Cellar) ApproveShares(owner, spender common.Address, shares sdkmath.Int) error {
	return c.shares.Approve(owner, spender, shares)
}

// checkRateLimitLocked verifies the rolling-window flow cap has room for
// assets. It never charges the window; only flow that actually settles is
// recorded, through chargeRateLimit. Caller must hold stateMu.
func (c *Cellar) checkRateLimitLocked(assets sdkmath.Int) error {
	if c.rateLimit.MaxAssets.IsZero() {
		return nil
	}
	now := c.clock.Now()
	if c.windowStart.IsZero() || now.Sub(c.windowStart) >= c.rateLimit.Window {
		c.windowStart = now
		c.windowUsed = sdkmath.ZeroInt()
	}
	if c.windowUsed.Add(assets).GT(c.rateLimit.MaxAssets) {
		return errors.Join(ErrRateLimited,
			fmt.Errorf("window used %s of %s, requested %s", c.windowUsed, c.rateLimit.MaxAssets, assets))
	}
	return nil
}

// chargeRateLimit records settled flow against the current window.
func (c *Cellar) chargeRateLimit(assets sdkmath.Int) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.rateLimit.MaxAssets.IsZero() {
		return
	}
	c.windowUsed = c.windowUsed.Add(assets)
}

// checkCircuitBreaker rejects user operations while the live share price
// deviates from the time-weighted average beyond the allowed tolerance. An
// unprimed observer (no observations yet) does not block.
func (c *Cellar) checkCircuitBreaker() error {
	if c.cfg.PriceObserver == nil {
		return nil
	}
	avg, err := c.cfg.PriceObserver.TimeWeightedAverage()
	if err != nil {
		if errors.Is(err, oracle.ErrNoObservations) {
			return nil
		}
		return err
	}
	if avg.IsZero() {
		return nil
	}
	current, err := c.sharePrice()
	if err != nil {
		return err
	}
	diff := current.Sub(avg).Abs().Quo(avg)
	if diff.GT(c.cfg.AllowedPriceDeviation) {
		return errors.Join(ErrPriceDeviation,
			fmt.Errorf("live %s vs average %s exceeds %s", current, avg, c.cfg.AllowedPriceDeviation))
	}
	return nil
}

// sharePrice returns holding-asset value per one whole share as a decimal.
func (c *Cellar) sharePrice() (sdkmath.LegacyDec, error) {
	supply := c.shares.TotalSupply()
	if supply.IsZero() {
		return sdkmath.LegacyOneDec(), nil
	}
	total, err := c.TotalAssets()
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	oneShare := c.cfg.ShareAsset.OneUnit()
	return sdkmath.LegacyNewDecFromInt(total.Mul(oneShare)).QuoInt(supply).
		QuoInt(c.cfg.HoldingAsset.OneUnit()), nil
}

// SharePrice is the public quoting form of sharePrice.
func (c *Cellar) SharePrice() (sdkmath.LegacyDec, error) { return c.sharePrice() }

// RecordSharePriceObservation feeds the circuit-breaker observer. Automation
// role only.
func (c *Cellar) RecordSharePriceObservation(caller common.Address) error {
	if err := c.authority.Require(caller, auth.RoleAutomation); err != nil {
		return err
	}
	if c.cfg.PriceObserver == nil {
		return errors.Join(ErrInvalidConfiguration, errors.New("no price observer configured"))
	}
	price, err := c.sharePrice()
	if err != nil {
		return err
	}
	if err := c.cfg.PriceObserver.Observe(price); err != nil {
		return err
	}
	c.log.Debug().Str("sharePrice", price.String()).Msg("Share price observation recorded")
	return nil
}
