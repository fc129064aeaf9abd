/*
This file contains common utility functions for converting between human
decimal amounts and smallest-unit integer amounts.
*/

package utils

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
)

// Error definitions for zero-tolerance error handling
var (
	ErrInvalidPrecision = errors.New("precision is invalid")
	ErrAmountNil        = errors.New("amount is nil")
	ErrAmountNegative   = errors.New("amount is negative")
	ErrConversionFailed = errors.New("conversion failed")
)

// FormatAmount renders a smallest-unit amount as a human decimal string, e.g.
// 1500000 with 6 decimals becomes "1.500000".
func FormatAmount(amount sdkmath.Int, decimals uint8) (string, error) {
	if decimals > 18 {
		return "", fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, decimals)
	}
	if amount.IsNil() {
		return "", ErrAmountNil
	}
	if amount.IsNegative() {
		return "", ErrAmountNegative
	}

	factor := sdkmath.LegacyNewDec(10).Power(uint64(decimals))
	return sdkmath.LegacyNewDecFromInt(amount).Quo(factor).String(), nil
}

// ParseAmount converts a human decimal string into smallest units, e.g. "1.5"
// with 6 decimals becomes 1500000. Fractional digits beyond the asset's
// precision are rejected rather than silently truncated.
func ParseAmount(amount string, decimals uint8) (sdkmath.Int, error) {
	if decimals > 18 {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %d (must be between 0 and 18)", ErrInvalidPrecision, decimals)
	}

	decAmount, err := sdkmath.LegacyNewDecFromStr(amount)
	if err != nil {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %w", ErrConversionFailed, err)
	}
	if decAmount.IsNegative() {
		return sdkmath.ZeroInt(), ErrAmountNegative
	}

	factor := sdkmath.LegacyNewDec(10).Power(uint64(decimals))
	scaled := decAmount.Mul(factor)
	result := scaled.TruncateInt()
	if !scaled.Sub(sdkmath.LegacyNewDecFromInt(result)).IsZero() {
		return sdkmath.ZeroInt(), fmt.Errorf("%w: %s has more than %d fractional digits", ErrConversionFailed, amount, decimals)
	}

	return result, nil
}
