// Package token implements an in-process ERC20-style ledger: balances,
// allowances, and supply for a single asset. The cellar uses one ledger for
// its share token and the settlement paths move offer/want assets through
// ledgers the same way. A transfer hook lets the owner veto movements, which
// is how the cellar enforces its share lock on every path, not just direct
// redemption.
package token

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/peggyjv/cellar/internal/types"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrNegativeAmount        = errors.New("amount is negative")
	ErrSupplyUnderflow       = errors.New("burn exceeds total supply")
)

// TransferHook is invoked before any balance movement. Returning an error
// aborts the movement. Mints pass the zero address as from, burns as to.
type TransferHook func(from, to common.Address, amount sdkmath.Int) error

// Ledger tracks balances and allowances for one asset.
type Ledger struct {
	mu          sync.RWMutex
	asset       types.Asset
	balances    map[common.Address]sdkmath.Int
	allowances  map[common.Address]map[common.Address]sdkmath.Int
	totalSupply sdkmath.Int
	hook        TransferHook
}

// NewLedger creates an empty ledger for the given asset.
func NewLedger(asset types.Asset) *Ledger {
	return &Ledger{
		asset:       asset,
		balances:    make(map[common.Address]sdkmath.Int),
		allowances:  make(map[common.Address]map[common.Address]sdkmath.Int),
		totalSupply: sdkmath.ZeroInt(),
	}
}

// SetTransferHook installs the pre-movement hook. Intended to be called once
// during wiring, before the ledger is shared.
func (l *Ledger) SetTransferHook(hook TransferHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = hook
}

// Asset returns the asset this ledger accounts for.
func (l *Ledger) Asset() types.Asset { return l.asset }

// TotalSupply returns the current total supply.
func (l *Ledger) TotalSupply() sdkmath.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalSupply
}

// BalanceOf returns the balance of holder, zero if none.
func (l *Ledger) BalanceOf(holder common.Address) sdkmath.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.balances[holder]; ok {
		return bal
	}
	return sdkmath.ZeroInt()
}

// Allowance returns what spender may move on behalf of owner.
func (l *Ledger) Allowance(owner, spender common.Address) sdkmath.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if byOwner, ok := l.allowances[owner]; ok {
		if amt, ok := byOwner[spender]; ok {
			return amt
		}
	}
	return sdkmath.ZeroInt()
}

// Approve sets spender's allowance over owner's balance. Overwrites, never adds.
func (l *Ledger) Approve(owner, spender common.Address, amount sdkmath.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	byOwner, ok := l.allowances[owner]
	if !ok {
		byOwner = make(map[common.Address]sdkmath.Int)
		l.allowances[owner] = byOwner
	}
	byOwner[spender] = amount
	return nil
}

// Mint credits amount to holder, growing total supply.
func (l *Ledger) Mint(holder common.Address, amount sdkmath.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.runHook(common.Address{}, holder, amount); err != nil {
		return err
	}
	l.balances[holder] = l.balanceLocked(holder).Add(amount)
	l.totalSupply = l.totalSupply.Add(amount)
	return nil
}

// Burn debits amount from holder, shrinking total supply.
func (l *Ledger) Burn(holder common.Address, amount sdkmath.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.runHook(holder, common.Address{}, amount); err != nil {
		return err
	}
	bal := l.balanceLocked(holder)
	if bal.LT(amount) {
		return errors.Join(ErrInsufficientBalance,
			fmt.Errorf("burn %s from %s: balance %s", amount, holder.Hex(), bal))
	}
	if l.totalSupply.LT(amount) {
		return ErrSupplyUnderflow
	}
	l.balances[holder] = bal.Sub(amount)
	l.totalSupply = l.totalSupply.Sub(amount)
	return nil
}

// Transfer moves amount from the caller's balance to recipient.
func (l *Ledger) Transfer(from, to common.Address, amount sdkmath.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.transferLocked(from, to, amount)
}

// TransferFrom moves amount from owner to recipient, spending spender's
// allowance. The allowance is decremented by exactly the amount moved.
func (l *Ledger) TransferFrom(spender, owner, to common.Address, amount sdkmath.Int) error {
	if err := validateAmount(amount); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	allowed := sdkmath.ZeroInt()
	if byOwner, ok := l.allowances[owner]; ok {
		if amt, ok := byOwner[spender]; ok {
			allowed = amt
		}
	}
	if allowed.LT(amount) {
		return errors.Join(ErrInsufficientAllowance,
			fmt.Errorf("spender %s allowed %s of %s, needs %s", spender.Hex(), allowed, owner.Hex(), amount))
	}
	if err := l.transferLocked(owner, to, amount); err != nil {
		return err
	}
	l.allowances[owner][spender] = allowed.Sub(amount)
	return nil
}

func (l *Ledger) transferLocked(from, to common.Address, amount sdkmath.Int) error {
	if err := l.runHook(from, to, amount); err != nil {
		return err
	}
	bal := l.balanceLocked(from)
	if bal.LT(amount) {
		return errors.Join(ErrInsufficientBalance,
			fmt.Errorf("transfer %s from %s: balance %s", amount, from.Hex(), bal))
	}
	l.balances[from] = bal.Sub(amount)
	l.balances[to] = l.balanceLocked(to).Add(amount)
	return nil
}

func (l *Ledger) balanceLocked(holder common.Address) sdkmath.Int {
	if bal, ok := l.balances[holder]; ok {
		return bal
	}
	return sdkmath.ZeroInt()
}

func (l *Ledger) runHook(from, to common.Address, amount sdkmath.Int) error {
	if l.hook == nil {
		return nil
	}
	return l.hook(from, to, amount)
}

// Snapshot captures balances, allowances, and supply for later restoration.
// Multi-step settlement paths take one before mutating so a mid-sequence
// failure can roll the ledger back, keeping all-or-nothing semantics.
type Snapshot struct {
	balances    map[common.Address]sdkmath.Int
	allowances  map[common.Address]map[common.Address]sdkmath.Int
	totalSupply sdkmath.Int
}

// Snapshot returns a deep copy of the ledger state.
func (l *Ledger) Snapshot() *Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := &Snapshot{
		balances:    make(map[common.Address]sdkmath.Int, len(l.balances)),
		allowances:  make(map[common.Address]map[common.Address]sdkmath.Int, len(l.allowances)),
		totalSupply: l.totalSupply,
	}
	for addr, bal := range l.balances {
		s.balances[addr] = bal
	}
	for owner, byOwner := range l.allowances {
		copied := make(map[common.Address]sdkmath.Int, len(byOwner))
		for spender, amt := range byOwner {
			copied[spender] = amt
		}
		s.allowances[owner] = copied
	}
	return s
}

// Restore replaces the ledger state with a previously taken snapshot.
func (l *Ledger) Restore(s *Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances = make(map[common.Address]sdkmath.Int, len(s.balances))
	for addr, bal := range s.balances {
		l.balances[addr] = bal
	}
	l.allowances = make(map[common.Address]map[common.Address]sdkmath.Int, len(s.allowances))
	for owner, byOwner := range s.allowances {
		copied := make(map[common.Address]sdkmath.Int, len(byOwner))
		for spender, amt := range byOwner {
			copied[spender] = amt
		}
		l.allowances[owner] = copied
	}
	l.totalSupply = s.totalSupply
}

func validateAmount(amount sdkmath.Int) error {
	if amount.IsNil() {
		return errors.New("amount is nil")
	}
	if amount.IsNegative() {
		return errors.Join(ErrNegativeAmount, fmt.Errorf("got %s", amount))
	}
	return nil
}
