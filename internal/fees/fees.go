// Package fees implements pull-based fee accrual against cellars. Platform
// fees accrue per second against total assets, performance fees against share
// price gains above a high-water mark, and both are paid out of reserves the
// strategist pre-funds, so fee collection never dilutes share holders by
// minting.
package fees

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
	"github.com/peggyjv/cellar/internal/token"
	"github.com/peggyjv/cellar/internal/types"
)

var (
	ErrUnknownCellar       = errors.New("cellar has no fee metadata")
	ErrAlreadySetup        = errors.New("cellar fee metadata already exists")
	ErrFeeTooLarge         = errors.New("fee rate exceeds the allowed maximum")
	ErrUpkeepTooSoon       = errors.New("minimum upkeep frequency has not elapsed")
	ErrGasPriceTooHigh     = errors.New("gas price exceeds the upkeep maximum")
	ErrInsufficientOwed    = errors.New("prepare amount exceeds fees owed")
	ErrInsufficientFunds   = errors.New("reserves cannot cover the requested amount")
	ErrNothingPrepared     = errors.New("no fees are prepared for sending")
	ErrInvalidFrequency    = errors.New("upkeep frequency must be positive")
	ErrInvalidFeeRecipient = errors.New("fee recipient is unset")
)

var feesLogger = logger.GetForComponent("fees_and_reserves")

const secondsPerYear = 365 * 24 * 60 * 60

// Fee rate ceilings, as fractions. Checked at setup, never clamped.
var (
	maxManagementFee  = sdkmath.LegacyMustNewDecFromStr("0.5")
	maxPerformanceFee = sdkmath.LegacyMustNewDecFromStr("0.5")
	// A single upkeep can accrue at most this fraction of total assets as
	// performance fees, bounding the damage of an in-block totalAssets spike.
	perfFeeUpkeepCap = sdkmath.LegacyMustNewDecFromStr("0.03")
)

// CellarView is the read surface fee accrual needs from a cellar.
type CellarView interface {
	Address() common.Address
	Name() string
	HoldingAsset() types.Asset
	ShareAsset() types.Asset
	ShareSupply() sdkmath.Int
	TotalAssets() (sdkmath.Int, error)
	SharePrice() (sdkmath.LegacyDec, error)
}

// MetaData is the per-cellar fee state. ReserveAsset is captured once at
// setup; later upkeeps and reserve operations use the captured value even if
// the cellar's reported holding asset changes afterwards.
type MetaData struct {
	ReserveAsset    types.Asset
	ManagementFee   sdkmath.LegacyDec // annual fraction of total assets
	PerformanceFee  sdkmath.LegacyDec // fraction of gains above the high-water mark
	HighWatermark   sdkmath.LegacyDec // share price
	LastUpkeep      time.Time
	Frequency       time.Duration // minimum time between upkeeps
	MaxGasPrice     sdkmath.Int   // zero disables the guard
	Reserves        sdkmath.Int
	FeesOwed        sdkmath.Int
	FeesReady       sdkmath.Int
	FeesDistributed sdkmath.Int
}

// FeesAndReserves accrues and custodies fees for any number of cellars.
type FeesAndReserves struct {
	address      common.Address // the account reserves sit in
	feeRecipient common.Address
	authority    *auth.Authority
	bank         *token.Bank
	clock        types.Clock
	log          zerolog.Logger

	mu      sync.RWMutex
	cellars map[common.Address]CellarView
	meta    map[common.Address]*MetaData
}

// New creates the fee module with its own custody address and the recipient
// prepared fees are sent to.
func New(address, feeRecipient common.Address, authority *auth.Authority, bank *token.Bank, clock types.Clock) (*FeesAndReserves, error) {
	if authority == nil || bank == nil || clock == nil {
		return nil, errors.New("nil collaborator")
	}
	if feeRecipient == (common.Address{}) {
		return nil, ErrInvalidFeeRecipient
	}
	return &FeesAndReserves{
		address:      address,
		feeRecipient: feeRecipient,
		authority:    authority,
		bank:         bank,
		clock:        clock,
		log:          feesLogger,
		cellars:      make(map[common.Address]CellarView),
		meta:         make(map[common.Address]*MetaData),
	}, nil
}

// SetupMetaData registers a cellar for fee accrual. The reserve asset and the
// initial high-water mark are captured here, once.
func (f *FeesAndReserves) SetupMetaData(caller common.Address, cellar CellarView,
	managementFee, performanceFee sdkmath.LegacyDec, frequency time.Duration, maxGasPrice sdkmath.Int) error {

	if err := f.authority.Require(caller, auth.RoleStrategist); err != nil {
		return err
	}
	if managementFee.IsNil() || managementFee.IsNegative() || managementFee.GT(maxManagementFee) {
		return errors.Join(ErrFeeTooLarge, fmt.Errorf("management fee %s, maximum %s", managementFee, maxManagementFee))
	}
	if performanceFee.IsNil() || performanceFee.IsNegative() || performanceFee.GT(maxPerformanceFee) {
		return errors.Join(ErrFeeTooLarge, fmt.Errorf("performance fee %s, maximum %s", performanceFee, maxPerformanceFee))
	}
	if frequency <= 0 {
		return ErrInvalidFrequency
	}
	if maxGasPrice.IsNil() {
		maxGasPrice = sdkmath.ZeroInt()
	}

	price, err := cellar.SharePrice()
	if err != nil {
		return fmt.Errorf("reading initial share price: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	addr := cellar.Address()
	if _, ok := f.meta[addr]; ok {
		return errors.Join(ErrAlreadySetup, fmt.Errorf("cellar %s", addr.Hex()))
	}
	f.cellars[addr] = cellar
	f.meta[addr] = &MetaData{
		ReserveAsset:    cellar.HoldingAsset(),
		ManagementFee:   managementFee,
		PerformanceFee:  performanceFee,
		HighWatermark:   price,
		LastUpkeep:      f.clock.Now(),
		Frequency:       frequency,
		MaxGasPrice:     maxGasPrice,
		Reserves:        sdkmath.ZeroInt(),
		FeesOwed:        sdkmath.ZeroInt(),
		FeesReady:       sdkmath.ZeroInt(),
		FeesDistributed: sdkmath.ZeroInt(),
	}
	f.log.Info().
		Str("cellar", cellar.Name()).
		Str("reserveAsset", f.meta[addr].ReserveAsset.Symbol).
		Str("managementFee", managementFee.String()).
		Str("performanceFee", performanceFee.String()).
		Msg("Fee metadata created")
	return nil
}

// MetaDataFor returns a copy of the cellar's fee state.
func (f *FeesAndReserves) MetaDataFor(cellar common.Address) (MetaData, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	m, ok := f.meta[cellar]
	if !ok {
		return MetaData{}, errors.Join(ErrUnknownCellar, fmt.Errorf("cellar %s", cellar.Hex()))
	}
	return *m, nil
}

// ChangeUpkeepFrequency adjusts the minimum time between upkeeps.
func (f *FeesAndReserves) ChangeUpkeepFrequency(caller, cellar common.Address, frequency time.Duration) error {
	if err := f.authority.Require(caller, auth.RoleStrategist); err != nil {
		return err
	}
	if frequency <= 0 {
		return ErrInvalidFrequency
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meta[cellar]
	if !ok {
		return errors.Join(ErrUnknownCellar, fmt.Errorf("cellar %s", cellar.Hex()))
	}
	m.Frequency = frequency
	return nil
}

// ChangeUpkeepMaxGas adjusts the upkeep gas-price ceiling. Zero disables it.
func (f *FeesAndReserves) ChangeUpkeepMaxGas(caller, cellar common.Address, maxGasPrice sdkmath.Int) error {
	if err := f.authority.Require(caller, auth.RoleStrategist); err != nil {
		return err
	}
	if maxGasPrice.IsNil() || maxGasPrice.IsNegative() {
		return fmt.Errorf("invalid max gas price %s", maxGasPrice)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meta[cellar]
	if !ok {
		return errors.Join(ErrUnknownCellar, fmt.Errorf("cellar %s", cellar.Hex()))
	}
	m.MaxGasPrice = maxGasPrice
	return nil
}

// AddAssetsToReserves pulls the captured reserve asset from the caller into
// the fee module's custody and credits the cellar's reserves.
func (f *FeesAndReserves) AddAssetsToReserves(caller, cellar common.Address, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("reserve amount must be positive, got %s", amount)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meta[cellar]
	if !ok {
		return errors.Join(ErrUnknownCellar, fmt.Errorf("cellar %s", cellar.Hex()))
	}
	ledger, err := f.bank.Ledger(m.ReserveAsset)
	if err != nil {
		return err
	}
	if err := ledger.TransferFrom(f.address, caller, f.address, amount); err != nil {
		return fmt.Errorf("funding reserves: %w", err)
	}
	m.Reserves = m.Reserves.Add(amount)
	f.log.Info().
		Str("cellar", cellar.Hex()).
		Str("amount", amount.String()).
		Str("reserves", m.Reserves.String()).
		Msg("Reserves funded")
	return nil
}

// WithdrawAssetsFromReserves returns unspent reserves to the cellar.
func (f *FeesAndReserves) WithdrawAssetsFromReserves(caller, cellar common.Address, amount sdkmath.Int) error {
	if err := f.authority.Require(caller, auth.RoleStrategist); err != nil {
		return err
	}
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("withdraw amount must be positive, got %s", amount)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meta[cellar]
	if !ok {
		return errors.Join(ErrUnknownCellar, fmt.Errorf("cellar %s", cellar.Hex()))
	}
	if m.Reserves.LT(amount) {
		return errors.Join(ErrInsufficientFunds, fmt.Errorf("reserves %s, requested %s", m.Reserves, amount))
	}
	ledger, err := f.bank.Ledger(m.ReserveAsset)
	if err != nil {
		return err
	}
	if err := ledger.Transfer(f.address, cellar, amount); err != nil {
		return fmt.Errorf("returning reserves: %w", err)
	}
	m.Reserves = m.Reserves.Sub(amount)
	return nil
}

// PrepareFees earmarks owed fees out of reserves for distribution. The amount
// must be covered by both fees owed and funded reserves.
func (f *FeesAndReserves) PrepareFees(caller, cellar common.Address, amount sdkmath.Int) error {
	if err := f.authority.Require(caller, auth.RoleStrategist); err != nil {
		return err
	}
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("prepare amount must be positive, got %s", amount)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meta[cellar]
	if !ok {
		return errors.Join(ErrUnknownCellar, fmt.Errorf("cellar %s", cellar.Hex()))
	}
	if m.FeesOwed.LT(amount) {
		return errors.Join(ErrInsufficientOwed, fmt.Errorf("owed %s, preparing %s", m.FeesOwed, amount))
	}
	if m.Reserves.LT(amount) {
		return errors.Join(ErrInsufficientFunds, fmt.Errorf("reserves %s, preparing %s", m.Reserves, amount))
	}
	m.FeesOwed = m.FeesOwed.Sub(amount)
	m.Reserves = m.Reserves.Sub(amount)
	m.FeesReady = m.FeesReady.Add(amount)
	f.log.Info().
		Str("cellar", cellar.Hex()).
		Str("amount", amount.String()).
		Msg("Fees prepared")
	return nil
}

// SendFees transfers everything prepared for the cellar to the fee recipient.
// Callable by anyone; the destination is fixed at construction.
func (f *FeesAndReserves) SendFees(cellar common.Address) (sdkmath.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.meta[cellar]
	if !ok {
		return sdkmath.Int{}, errors.Join(ErrUnknownCellar, fmt.Errorf("cellar %s", cellar.Hex()))
	}
	if m.FeesReady.IsZero() {
		return sdkmath.Int{}, ErrNothingPrepared
	}
	ledger, err := f.bank.Ledger(m.ReserveAsset)
	if err != nil {
		return sdkmath.Int{}, err
	}
	amount := m.FeesReady
	if err := ledger.Transfer(f.address, f.feeRecipient, amount); err != nil {
		return sdkmath.Int{}, fmt.Errorf("sending fees: %w", err)
	}
	m.FeesReady = sdkmath.ZeroInt()
	m.FeesDistributed = m.FeesDistributed.Add(amount)
	f.log.Info().
		Str("cellar", cellar.Hex()).
		Str("amount", amount.String()).
		Str("recipient", f.feeRecipient.Hex()).
		Msg("Fees sent")
	return amount, nil
}
