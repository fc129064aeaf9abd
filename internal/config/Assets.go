/*

This file contains the built-in asset catalogue used at wiring time.

Mainnet token addresses and decimals for the assets a stock deployment
registers with the oracle and the bank. Assets not listed here can still be
registered at runtime through governance; this table just keeps the common
ones out of the environment.

*/

package config

// CatalogAsset is one known token.
type CatalogAsset struct {
	Symbol   string
	Address  string
	Decimals uint8
}

var AssetCatalog = map[string]CatalogAsset{
	"USDC":  {Symbol: "USDC", Address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", Decimals: 6},
	"USDT":  {Symbol: "USDT", Address: "0xdAC17F958D2ee523a2206206994597C13D831ec7", Decimals: 6},
	"DAI":   {Symbol: "DAI", Address: "0x6B175474E89094C44Da98b954EedeAC495271d0F", Decimals: 18},
	"WETH":  {Symbol: "WETH", Address: "0xC02aaA39b223FE8D0A0e5C4F27eAD9083C756Cc2", Decimals: 18},
	"WBTC":  {Symbol: "WBTC", Address: "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599", Decimals: 8},
	"RETH":  {Symbol: "RETH", Address: "0xae78736Cd615f374D3085123A210448E74Fc6393", Decimals: 18},
	"STETH": {Symbol: "STETH", Address: "0xae7ab96520DE3A18E5e111B5EaAb095312D7fE84", Decimals: 18},
}
