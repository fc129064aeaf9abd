/*

This file contains the asset vocabulary shared by every component: a token
identity plus the fixed-point amount type used across all accounting paths.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
)

// Asset identifies a token the system can hold, price, or settle in.
type Asset struct {
	Symbol   string         `json:"symbol"`   // e.g., "USDC"
	Addr     common.Address `json:"address"`  // token contract identity
	Decimals uint8          `json:"decimals"` // e.g., 6 for USDC, 18 for WETH
}

// IsZero reports whether the asset is the zero value (unset).
func (a Asset) IsZero() bool {
	return a.Addr == (common.Address{}) && a.Symbol == ""
}

// Equal compares assets by contract identity.
func (a Asset) Equal(other Asset) bool {
	return a.Addr == other.Addr
}

// OneUnit returns 10^decimals, the smallest-unit representation of one whole token.
func (a Asset) OneUnit() sdkmath.Int {
	return sdkmath.NewIntWithDecimal(1, int(a.Decimals))
}

// Coin pairs an asset with a smallest-unit amount.
type Coin struct {
	Asset  Asset       `json:"asset"`
	Amount sdkmath.Int `json:"amount"`
}

// NewCoin constructs a Coin, normalizing a nil amount to zero.
func NewCoin(asset Asset, amount sdkmath.Int) Coin {
	if amount.IsNil() {
		amount = sdkmath.ZeroInt()
	}
	return Coin{Asset: asset, Amount: amount}
}
