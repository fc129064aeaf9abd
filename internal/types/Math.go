/*

This file contains the full-precision share math primitives. Every assets to
shares conversion in the system goes through these so rounding direction is
explicit at each call site.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

// MulDivDown returns a * b / denom rounded toward zero. sdkmath.Int is
// arbitrary precision, so the intermediate product cannot overflow.
func MulDivDown(a, b, denom sdkmath.Int) sdkmath.Int {
	return a.Mul(b).Quo(denom)
}

// MulDivUp returns a * b / denom rounded away from zero.
func MulDivUp(a, b, denom sdkmath.Int) sdkmath.Int {
	product := a.Mul(b)
	quotient := product.Quo(denom)
	if product.Mod(denom).IsZero() {
		return quotient
	}
	return quotient.Add(sdkmath.OneInt())
}

// ChangeDecimals rescales amount from one decimal basis to another, rounding
// down when precision is lost.
func ChangeDecimals(amount sdkmath.Int, from, to uint8) sdkmath.Int {
	if from == to {
		return amount
	}
	if to > from {
		return amount.Mul(sdkmath.NewIntWithDecimal(1, int(to-from)))
	}
	return amount.Quo(sdkmath.NewIntWithDecimal(1, int(from-to)))
}
