package fees

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/peggyjv/cellar/internal/auth"
)

// CheckUpkeep lists the cellars whose upkeep is both due and economical at
// the given gas price. Read-only; the keeper feeds the result to
// PerformUpkeep.
func (f *FeesAndReserves) CheckUpkeep(gasPrice sdkmath.Int) []common.Address {
	f.mu.RLock()
	defer f.mu.RUnlock()

	now := f.clock.Now()
	var due []common.Address
	for addr, m := range f.meta {
		if now.Sub(m.LastUpkeep) < m.Frequency {
			continue
		}
		if !m.MaxGasPrice.IsZero() && !gasPrice.IsNil() && gasPrice.GT(m.MaxGasPrice) {
			continue
		}
		due = append(due, addr)
	}
	return due
}

// PerformUpkeep accrues platform and performance fees for one cellar. The
// frequency and gas-price guards are re-checked here, not trusted from
// CheckUpkeep. Total assets and share price are read live from the cellar,
// never taken from the caller.
func (f *FeesAndReserves) PerformUpkeep(caller, cellar common.Address, gasPrice sdkmath.Int) error {
	if err := f.authority.Require(caller, auth.RoleAutomation); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	m, ok := f.meta[cellar]
	if !ok {
		return errors.Join(ErrUnknownCellar, fmt.Errorf("cellar %s", cellar.Hex()))
	}
	view := f.cellars[cellar]

	now := f.clock.Now()
	elapsed := now.Sub(m.LastUpkeep)
	if elapsed < m.Frequency {
		return errors.Join(ErrUpkeepTooSoon,
			fmt.Errorf("elapsed %s, minimum %s", elapsed, m.Frequency))
	}
	if !m.MaxGasPrice.IsZero() && !gasPrice.IsNil() && gasPrice.GT(m.MaxGasPrice) {
		return errors.Join(ErrGasPriceTooHigh,
			fmt.Errorf("gas price %s, maximum %s", gasPrice, m.MaxGasPrice))
	}

	totalAssets, err := view.TotalAssets()
	if err != nil {
		return fmt.Errorf("reading total assets: %w", err)
	}
	price, err := view.SharePrice()
	if err != nil {
		return fmt.Errorf("reading share price: %w", err)
	}

	platform := platformFee(totalAssets, m.ManagementFee, int64(elapsed.Seconds()))
	performance := performanceFee(m, price, totalAssets, view.ShareSupply(), view.ShareAsset().Decimals)

	accrued := platform.Add(performance)
	m.FeesOwed = m.FeesOwed.Add(accrued)
	m.LastUpkeep = now
	if price.GT(m.HighWatermark) {
		m.HighWatermark = price
	}

	f.log.Info().
		Str("cellar", cellar.Hex()).
		Str("platformFee", platform.String()).
		Str("performanceFee", performance.String()).
		Str("feesOwed", m.FeesOwed.String()).
		Msg("Fee upkeep performed")
	return nil
}

// platformFee is the per-second management fee over the elapsed interval,
// truncated toward zero.
func platformFee(totalAssets sdkmath.Int, annualRate sdkmath.LegacyDec, elapsedSeconds int64) sdkmath.Int {
	if elapsedSeconds <= 0 || totalAssets.IsZero() || annualRate.IsZero() {
		return sdkmath.ZeroInt()
	}
	return annualRate.
		MulInt(totalAssets).
		MulInt64(elapsedSeconds).
		QuoInt64(secondsPerYear).
		TruncateInt()
}

// performanceFee charges the configured fraction of share-price gains above
// the high-water mark, in reserve-asset units, capped per upkeep at a fixed
// fraction of total assets so a manipulated totalAssets reading cannot mint
// an unbounded fee in one call.
func performanceFee(m *MetaData, price sdkmath.LegacyDec, totalAssets, shareSupply sdkmath.Int, shareDecimals uint8) sdkmath.Int {
	if m.PerformanceFee.IsZero() || shareSupply.IsZero() || !price.GT(m.HighWatermark) {
		return sdkmath.ZeroInt()
	}
	oneShare := sdkmath.LegacyNewDec(10).Power(uint64(shareDecimals))
	// Share price is whole holding units per whole share, so the gain lands in
	// whole units and is scaled back to the reserve asset's smallest units.
	gains := price.Sub(m.HighWatermark).MulInt(shareSupply).Quo(oneShare)
	fee := gains.Mul(m.PerformanceFee).MulInt(m.ReserveAsset.OneUnit()).TruncateInt()

	cap := perfFeeUpkeepCap.MulInt(totalAssets).TruncateInt()
	if fee.GT(cap) {
		fee = cap
	}
	return fee
}
