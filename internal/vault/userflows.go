package vault

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/peggyjv/cellar/internal/registry"
	"github.com/peggyjv/cellar/internal/types"
)

// Deposit pulls assets from the caller (who must have approved the cellar on
// the asset ledger) and mints shares at the pre-transfer share price, rounding
// in the vault's favor. New assets land in the cellar's holding-asset balance,
// which is exactly what the holding position values; routing is implicit.
func (c *Cellar) Deposit(caller common.Address, assets sdkmath.Int) (sdkmath.Int, error) {
	if err := c.acquire(); err != nil {
		return sdkmath.Int{}, err
	}
	defer c.release()

	if err := c.checkCircuitBreaker(); err != nil {
		return sdkmath.Int{}, err
	}
	if assets.IsNil() || !assets.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("deposit amount must be positive, got %s", assets)
	}

	shares, err := c.convertToShares(assets, false)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return shares, c.completeDeposit(caller, assets, shares)
}

// Mint is the share-denominated deposit: the caller asks for an exact share
// amount and pays whatever assets that quotes to, rounded up.
func (c *Cellar) Mint(caller common.Address, shares sdkmath.Int) (sdkmath.Int, error) {
	if err := c.acquire(); err != nil {
		return sdkmath.Int{}, err
	}
	defer c.release()

	if err := c.checkCircuitBreaker(); err != nil {
		return sdkmath.Int{}, err
	}
	if shares.IsNil() || !shares.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("mint amount must be positive, got %s", shares)
	}

	assets, err := c.convertToAssets(shares, true)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return assets, c.completeDeposit(caller, assets, shares)
}

func (c *Cellar) completeDeposit(caller common.Address, assets, shares sdkmath.Int) error {
	if shares.IsZero() {
		return ErrZeroShares
	}

	supply := c.shares.TotalSupply()
	if supply.IsZero() && assets.LT(c.cfg.MinimumInitialDeposit) {
		return errors.Join(ErrMinimumDeposit,
			fmt.Errorf("deposited %s, minimum %s", assets, c.cfg.MinimumInitialDeposit))
	}

	c.stateMu.Lock()
	if !c.supplyCap.IsZero() && supply.Add(shares).GT(c.supplyCap) {
		cap := c.supplyCap
		c.stateMu.Unlock()
		return errors.Join(ErrSupplyCapExceeded,
			fmt.Errorf("supply %s plus %s exceeds cap %s", supply, shares, cap))
	}
	if err := c.checkRateLimitLocked(assets); err != nil {
		c.stateMu.Unlock()
		return err
	}
	c.stateMu.Unlock()

	assetLedger, err := c.bank.Ledger(c.cfg.HoldingAsset)
	if err != nil {
		return err
	}
	if err := assetLedger.TransferFrom(c.cfg.Address, caller, c.cfg.Address, assets); err != nil {
		return fmt.Errorf("pulling deposit: %w", err)
	}
	if err := c.shares.Mint(caller, shares); err != nil {
		return fmt.Errorf("minting shares: %w", err)
	}
	c.chargeRateLimit(assets)

	c.log.Info().
		Str("caller", caller.Hex()).
		Str("assets", assets.String()).
		Str("shares", shares.String()).
		Msg("Deposit completed")
	return nil
}

// Withdraw burns the shares needed (rounded up) to pay the caller exactly
// assets out of the cellar's liquid positions, in position-list order.
func (c *Cellar) Withdraw(caller common.Address, assets sdkmath.Int) (sdkmath.Int, error) {
	if err := c.acquire(); err != nil {
		return sdkmath.Int{}, err
	}
	defer c.release()

	if err := c.checkCircuitBreaker(); err != nil {
		return sdkmath.Int{}, err
	}
	if assets.IsNil() || !assets.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("withdraw amount must be positive, got %s", assets)
	}

	shares, err := c.convertToShares(assets, true)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return shares, c.completeWithdraw(caller, assets, shares)
}

// Redeem burns exactly shares and pays out the assets they quote to, rounded
// down.
func (c *Cellar) Redeem(caller common.Address, shares sdkmath.Int) (sdkmath.Int, error) {
	if err := c.acquire(); err != nil {
		return sdkmath.Int{}, err
	}
	defer c.release()

	if err := c.checkCircuitBreaker(); err != nil {
		return sdkmath.Int{}, err
	}
	if shares.IsNil() || !shares.IsPositive() {
		return sdkmath.Int{}, fmt.Errorf("redeem amount must be positive, got %s", shares)
	}

	assets, err := c.convertToAssets(shares, false)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if assets.IsZero() {
		return sdkmath.Int{}, ErrZeroShares
	}
	return assets, c.completeWithdraw(caller, assets, shares)
}

func (c *Cellar) completeWithdraw(caller common.Address, assets, shares sdkmath.Int) error {
	if shares.IsZero() {
		return ErrZeroShares
	}

	c.stateMu.Lock()
	if err := c.checkRateLimitLocked(assets); err != nil {
		c.stateMu.Unlock()
		return err
	}
	c.stateMu.Unlock()

	// Burn first: the share-lock hook and the balance check both run here, so
	// a locked or overdrawn holder never touches position balances. The bank
	// snapshot makes the burn plus the multi-asset payout all-or-nothing.
	snap := c.bank.Snapshot()
	if err := c.shares.Burn(caller, shares); err != nil {
		return fmt.Errorf("burning shares: %w", err)
	}
	if err := c.withdrawInOrder(caller, assets); err != nil {
		c.bank.Restore(snap)
		return err
	}
	c.chargeRateLimit(assets)

	c.log.Info().
		Str("caller", caller.Hex()).
		Str("assets", assets.String()).
		Str("shares", shares.String()).
		Msg("Withdrawal completed")
	return nil
}

// withdrawInOrder pays remaining out of liquid positions in list order. The
// payout can span assets: each position pays in its own underlying asset,
// valued into holding-asset terms. Positions flagged illiquid, debt
// positions, and positions whose adaptor cannot pay out directly are passed
// over; if they were needed to cover the remainder the withdrawal fails with
// a distinct error instead of silently shorting the user.
func (c *Cellar) withdrawInOrder(receiver common.Address, assets sdkmath.Int) error {
	c.stateMu.RLock()
	ids := append([]types.PositionID(nil), c.positions...)
	illiquid := make(map[types.PositionID]bool, len(c.illiquid))
	for id, flagged := range c.illiquid {
		illiquid[id] = flagged
	}
	c.stateMu.RUnlock()

	remaining := assets
	skippedIlliquid := false

	for _, id := range ids {
		if remaining.IsZero() {
			break
		}
		position, err := c.registry.Position(id)
		if err != nil {
			return err
		}
		if position.IsDebt {
			continue
		}
		adaptor, err := c.registry.Adaptor(position.Adaptor)
		if err != nil {
			return err
		}
		withdrawable, ok := adaptor.(registry.WithdrawableAdaptor)
		if !ok || illiquid[id] {
			skippedIlliquid = true
			continue
		}

		available, err := withdrawable.Withdrawable(c, position.Config)
		if err != nil {
			return fmt.Errorf("position %d withdrawable: %w", id, err)
		}
		if available.IsZero() {
			continue
		}
		asset, err := adaptor.AssetOf(position.Config)
		if err != nil {
			return err
		}
		availableValue, err := c.pricing.ValueOf(asset, available, c.cfg.HoldingAsset)
		if err != nil {
			return err
		}
		if availableValue.IsZero() {
			continue
		}

		take := remaining
		if availableValue.LT(take) {
			take = availableValue
		}
		// Pro-rata share of the position's balance, so cross-asset payouts
		// round in the vault's favor.
		amountOut := types.MulDivDown(available, take, availableValue)
		if amountOut.IsZero() {
			continue
		}

		ledger, err := c.bank.Ledger(asset)
		if err != nil {
			return err
		}
		if err := ledger.Transfer(c.cfg.Address, receiver, amountOut); err != nil {
			return fmt.Errorf("paying out from position %d: %w", id, err)
		}
		remaining = remaining.Sub(take)
	}

	if remaining.IsPositive() {
		if skippedIlliquid {
			return errors.Join(ErrIlliquidWithdraw,
				fmt.Errorf("short %s can only be sourced from illiquid positions", remaining))
		}
		return errors.Join(ErrInsufficientLiquid, fmt.Errorf("short %s", remaining))
	}
	return nil
}
