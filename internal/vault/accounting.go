package vault

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/peggyjv/cellar/internal/types"
)

// TotalAssets prices every active position through its adaptor and the
// oracle, summing credit positions and subtracting debt positions, all in the
// holding asset. Valuation consults the registry catalogue regardless of
// trust: freezing a position blocks rebalances, not accounting.
func (c *Cellar) TotalAssets() (sdkmath.Int, error) {
	c.stateMu.RLock()
	ids := append([]types.PositionID(nil), c.positions...)
	c.stateMu.RUnlock()

	credit := sdkmath.ZeroInt()
	debt := sdkmath.ZeroInt()
	for _, id := range ids {
		value, isDebt, err := c.positionValue(id)
		if err != nil {
			return sdkmath.Int{}, fmt.Errorf("valuing position %d: %w", id, err)
		}
		if isDebt {
			debt = debt.Add(value)
		} else {
			credit = credit.Add(value)
		}
	}
	if debt.GT(credit) {
		return sdkmath.Int{}, errors.Join(ErrNegativeTotalAssets,
			fmt.Errorf("credit %s, debt %s", credit, debt))
	}
	return credit.Sub(debt), nil
}

// positionValue values one position in the holding asset.
func (c *Cellar) positionValue(id types.PositionID) (sdkmath.Int, bool, error) {
	position, err := c.registry.Position(id)
	if err != nil {
		return sdkmath.Int{}, false, err
	}
	adaptor, err := c.registry.Adaptor(position.Adaptor)
	if err != nil {
		return sdkmath.Int{}, false, err
	}
	asset, err := adaptor.AssetOf(position.Config)
	if err != nil {
		return sdkmath.Int{}, false, err
	}
	raw, err := adaptor.ValueOf(c, position.Config)
	if err != nil {
		return sdkmath.Int{}, false, err
	}
	value, err := c.pricing.ValueOf(asset, raw, c.cfg.HoldingAsset)
	if err != nil {
		return sdkmath.Int{}, false, err
	}
	return value, position.IsDebt, nil
}

// ConvertToShares quotes assets into shares, rounding down (the deposit
// quote, protecting the vault).
func (c *Cellar) ConvertToShares(assets sdkmath.Int) (sdkmath.Int, error) {
	return c.convertToShares(assets, false)
}

// ConvertToAssets quotes shares into assets, rounding down (the redeem
// quote, protecting the vault).
func (c *Cellar) ConvertToAssets(shares sdkmath.Int) (sdkmath.Int, error) {
	return c.convertToAssets(shares, false)
}

// PreviewDeposit quotes the shares minted for a deposit of assets.
func (c *Cellar) PreviewDeposit(assets sdkmath.Int) (sdkmath.Int, error) {
	return c.convertToShares(assets, false)
}

// PreviewMint quotes the assets required to mint exactly shares; rounds up.
func (c *Cellar) PreviewMint(shares sdkmath.Int) (sdkmath.Int, error) {
	return c.convertToAssets(shares, true)
}

// PreviewWithdraw quotes the shares burned to withdraw exactly assets;
// rounds up.
func (c *Cellar) PreviewWithdraw(assets sdkmath.Int) (sdkmath.Int, error) {
	return c.convertToShares(assets, true)
}

// PreviewRedeem quotes the assets returned for redeeming shares.
func (c *Cellar) PreviewRedeem(shares sdkmath.Int) (sdkmath.Int, error) {
	return c.convertToAssets(shares, false)
}

// convertToShares implements shares = assets * supply / totalAssets with full
// precision and an explicit rounding direction. With no supply outstanding
// the mint is decimals-normalized one to one.
func (c *Cellar) convertToShares(assets sdkmath.Int, roundUp bool) (sdkmath.Int, error) {
	if assets.IsNil() || assets.IsNegative() {
		return sdkmath.Int{}, fmt.Errorf("invalid asset amount: %s", assets)
	}
	supply := c.shares.TotalSupply()
	if supply.IsZero() {
		return types.ChangeDecimals(assets, c.cfg.HoldingAsset.Decimals, c.cfg.ShareAsset.Decimals), nil
	}
	total, err := c.TotalAssets()
	if err != nil {
		return sdkmath.Int{}, err
	}
	if total.IsZero() {
		return sdkmath.Int{}, ErrZeroTotalAssets
	}
	if roundUp {
		return types.MulDivUp(assets, supply, total), nil
	}
	return types.MulDivDown(assets, supply, total), nil
}

// convertToAssets implements assets = shares * totalAssets / supply with full
// precision and an explicit rounding direction.
func (c *Cellar) convertToAssets(shares sdkmath.Int, roundUp bool) (sdkmath.Int, error) {
	if shares.IsNil() || shares.IsNegative() {
		return sdkmath.Int{}, fmt.Errorf("invalid share amount: %s", shares)
	}
	supply := c.shares.TotalSupply()
	if supply.IsZero() {
		return types.ChangeDecimals(shares, c.cfg.ShareAsset.Decimals, c.cfg.HoldingAsset.Decimals), nil
	}
	total, err := c.TotalAssets()
	if err != nil {
		return sdkmath.Int{}, err
	}
	if roundUp {
		return types.MulDivUp(shares, total, supply), nil
	}
	return types.MulDivDown(shares, total, supply), nil
}
