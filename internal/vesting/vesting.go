// Package vesting implements a linear vesting ledger for treasury payouts.
// Each deposit vests continuously over a fixed period; claims release at a
// per-second rate with truncation, and a fully claimed deposit leaves the
// user's active list while its ID stays retired forever.
package vesting

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/peggyjv/cellar/internal/logger"
	"github.com/peggyjv/cellar/internal/token"
	"github.com/peggyjv/cellar/internal/types"
)

var (
	ErrUnknownDeposit  = errors.New("deposit does not exist or is fully claimed")
	ErrNotEnoughVested = errors.New("withdraw exceeds the vested unclaimed balance")
	ErrZeroDeposit     = errors.New("deposit amount is zero")
	ErrDepositTooSmall = errors.New("deposit does not cover one unit per second")
	ErrInvalidPeriod   = errors.New("vesting period must be positive")
	ErrNothingToClaim  = errors.New("no vested balance to withdraw")
)

var vestingLogger = logger.GetForComponent("vesting")

// Deposit is one vesting grant.
type Deposit struct {
	ID          uint64
	Amount      sdkmath.Int
	Claimed     sdkmath.Int
	Start       time.Time
	Until       time.Time
	LastClaimed time.Time
}

// VestingSimple custodies one asset and vests deposits linearly over a fixed
// period shared by all grants.
type VestingSimple struct {
	address common.Address // custody account
	asset   types.Asset
	period  time.Duration
	bank    *token.Bank
	clock   types.Clock

	mu     sync.RWMutex
	active map[common.Address][]*Deposit
	nextID map[common.Address]uint64
}

// New creates the vesting ledger for asset with the given period.
func New(address common.Address, asset types.Asset, period time.Duration, bank *token.Bank, clock types.Clock) (*VestingSimple, error) {
	if bank == nil || clock == nil {
		return nil, errors.New("nil collaborator")
	}
	if asset.IsZero() {
		return nil, errors.New("asset is unset")
	}
	if period <= 0 {
		return nil, ErrInvalidPeriod
	}
	return &VestingSimple{
		address: address,
		asset:   asset,
		period:  period,
		bank:    bank,
		clock:   clock,
		active:  make(map[common.Address][]*Deposit),
		nextID:  make(map[common.Address]uint64),
	}, nil
}

// Deposit pulls amount from the funder and starts a new grant vesting to the
// beneficiary. The amount must cover at least one smallest unit per second of
// the period, otherwise truncation would strand the entire grant.
func (v *VestingSimple) Deposit(from, to common.Address, amount sdkmath.Int) (uint64, error) {
	if amount.IsNil() || !amount.IsPositive() {
		return 0, ErrZeroDeposit
	}
	periodSeconds := int64(v.period.Seconds())
	if amount.LT(sdkmath.NewInt(periodSeconds)) {
		return 0, errors.Join(ErrDepositTooSmall,
			fmt.Errorf("amount %s over %d seconds", amount, periodSeconds))
	}

	ledger, err := v.bank.Ledger(v.asset)
	if err != nil {
		return 0, err
	}
	if err := ledger.TransferFrom(v.address, from, v.address, amount); err != nil {
		return 0, fmt.Errorf("funding vesting deposit: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID[to]++
	now := v.clock.Now()
	deposit := &Deposit{
		ID:          v.nextID[to],
		Amount:      amount,
		Claimed:     sdkmath.ZeroInt(),
		Start:       now,
		Until:       now.Add(v.period),
		LastClaimed: now,
	}
	v.active[to] = append(v.active[to], deposit)

	vestingLogger.Info().
		Str("from", from.Hex()).
		Str("to", to.Hex()).
		Uint64("deposit", deposit.ID).
		Str("amount", amount.String()).
		Msg("Vesting deposit created")
	return deposit.ID, nil
}

// vestedAt is the cumulative vested amount of d at time t, truncated to the
// per-second rate.
func (d *Deposit) vestedAt(t time.Time) sdkmath.Int {
	if !t.After(d.Start) {
		return sdkmath.ZeroInt()
	}
	if !t.Before(d.Until) {
		return d.Amount
	}
	elapsed := int64(t.Sub(d.Start).Seconds())
	total := int64(d.Until.Sub(d.Start).Seconds())
	return types.MulDivDown(d.Amount, sdkmath.NewInt(elapsed), sdkmath.NewInt(total))
}

// claimable is the vested-but-unclaimed amount at time t.
func (d *Deposit) claimable(t time.Time) sdkmath.Int {
	return d.vestedAt(t).Sub(d.Claimed)
}

// VestedBalanceOf sums the claimable balance across the user's active grants.
func (v *VestingSimple) VestedBalanceOf(user common.Address) sdkmath.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	now := v.clock.Now()
	total := sdkmath.ZeroInt()
	for _, d := range v.active[user] {
		total = total.Add(d.claimable(now))
	}
	return total
}

// VestedBalanceOfDeposit returns the claimable balance of one grant.
func (v *VestingSimple) VestedBalanceOfDeposit(user common.Address, depositID uint64) (sdkmath.Int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	d := v.findLocked(user, depositID)
	if d == nil {
		return sdkmath.Int{}, errors.Join(ErrUnknownDeposit, fmt.Errorf("deposit %d", depositID))
	}
	return d.claimable(v.clock.Now()), nil
}

// TotalDeposits is the unclaimed remainder (vested or not) across the user's
// active grants.
func (v *VestingSimple) TotalDeposits(user common.Address) sdkmath.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	total := sdkmath.ZeroInt()
	for _, d := range v.active[user] {
		total = total.Add(d.Amount.Sub(d.Claimed))
	}
	return total
}

// UnvestedDeposits is the still-locked remainder across the user's active
// grants.
func (v *VestingSimple) UnvestedDeposits(user common.Address) sdkmath.Int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	now := v.clock.Now()
	total := sdkmath.ZeroInt()
	for _, d := range v.active[user] {
		total = total.Add(d.Amount.Sub(d.vestedAt(now)))
	}
	return total
}

// Withdraw claims amount from one grant. Claiming the final unit of a fully
// vested grant removes it from the active list; the ID is never reused.
func (v *VestingSimple) Withdraw(user common.Address, depositID uint64, amount sdkmath.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("withdraw amount must be positive, got %s", amount)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	d := v.findLocked(user, depositID)
	if d == nil {
		return errors.Join(ErrUnknownDeposit, fmt.Errorf("deposit %d", depositID))
	}
	now := v.clock.Now()
	claimable := d.claimable(now)
	if claimable.LT(amount) {
		return errors.Join(ErrNotEnoughVested,
			fmt.Errorf("deposit %d vested %s, requested %s", depositID, claimable, amount))
	}

	ledger, err := v.bank.Ledger(v.asset)
	if err != nil {
		return err
	}
	if err := ledger.Transfer(v.address, user, amount); err != nil {
		return fmt.Errorf("paying vested balance: %w", err)
	}

	d.Claimed = d.Claimed.Add(amount)
	d.LastClaimed = now
	if d.Claimed.Equal(d.Amount) {
		v.retireLocked(user, depositID)
	}
	return nil
}

// WithdrawAll claims every vested unit across the user's active grants.
func (v *VestingSimple) WithdrawAll(user common.Address) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.clock.Now()
	total := sdkmath.ZeroInt()
	for _, d := range v.active[user] {
		total = total.Add(d.claimable(now))
	}
	if total.IsZero() {
		return sdkmath.Int{}, ErrNothingToClaim
	}

	ledger, err := v.bank.Ledger(v.asset)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if err := ledger.Transfer(v.address, user, total); err != nil {
		return sdkmath.Int{}, fmt.Errorf("paying vested balance: %w", err)
	}

	var retired []uint64
	for _, d := range v.active[user] {
		claim := d.claimable(now)
		if claim.IsZero() {
			continue
		}
		d.Claimed = d.Claimed.Add(claim)
		d.LastClaimed = now
		if d.Claimed.Equal(d.Amount) {
			retired = append(retired, d.ID)
		}
	}
	for _, id := range retired {
		v.retireLocked(user, id)
	}

	vestingLogger.Info().
		Str("user", user.Hex()).
		Str("amount", total.String()).
		Msg("Vested balance withdrawn")
	return total, nil
}

func (v *VestingSimple) findLocked(user common.Address, depositID uint64) *Deposit {
	for _, d := range v.active[user] {
		if d.ID == depositID {
			return d
		}
	}
	return nil
}

func (v *VestingSimple) retireLocked(user common.Address, depositID uint64) {
	deposits := v.active[user]
	for i, d := range deposits {
		if d.ID == depositID {
			v.active[user] = append(deposits[:i], deposits[i+1:]...)
			return
		}
	}
}
