package adaptors_test

import (
	"encoding/json"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/peggyjv/cellar/internal/adaptors"
	"github.com/peggyjv/cellar/internal/types"
)

var (
	outerAddr = common.HexToAddress("0xCE11")
	innerAddr = common.HexToAddress("0xCE12")

	usdc       = types.Asset{Symbol: "USDC", Addr: common.HexToAddress("0x01"), Decimals: 6}
	innerShare = types.Asset{Symbol: "ISHARE", Addr: innerAddr, Decimals: 18}
)

// stubPricer quotes inner shares at a fixed assets-per-share rate.
type stubPricer struct {
	rate sdkmath.LegacyDec
}

func (s *stubPricer) ShareAsset() types.Asset   { return innerShare }
func (s *stubPricer) HoldingAsset() types.Asset { return usdc }

func (s *stubPricer) ConvertToAssets(shares sdkmath.Int) (sdkmath.Int, error) {
	return s.rate.MulInt(shares).QuoInt(innerShare.OneUnit()).MulInt(usdc.OneUnit()).TruncateInt(), nil
}

// stubView reports the outer vault's share balance.
type stubView struct {
	shares sdkmath.Int
}

func (v *stubView) Address() common.Address { return outerAddr }

func (v *stubView) Balance(asset types.Asset) (sdkmath.Int, error) {
	if asset.Equal(innerShare) {
		return v.shares, nil
	}
	return sdkmath.ZeroInt(), nil
}

func innerConfig(t *testing.T) json.RawMessage {
	t.Helper()
	cfg, err := json.Marshal(adaptors.VaultSharesConfig{Vault: innerAddr})
	require.NoError(t, err)
	return cfg
}

func TestVaultSharesValuesThroughInnerQuote(t *testing.T) {
	adaptor := adaptors.NewVaultSharesAdaptor(common.HexToAddress("0xAD04"))
	adaptor.RegisterInnerVault(innerAddr, &stubPricer{rate: sdkmath.LegacyMustNewDecFromStr("1.25")})
	cfg := innerConfig(t)

	asset, err := adaptor.AssetOf(cfg)
	require.NoError(t, err)
	require.Equal(t, usdc, asset)

	isDebt, err := adaptor.IsDebt(cfg)
	require.NoError(t, err)
	require.False(t, isDebt)

	// 4 inner shares at 1.25 holding units each.
	value, err := adaptor.ValueOf(&stubView{shares: sdkmath.NewIntWithDecimal(4, 18)}, cfg)
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(5_000_000), value)

	// An empty balance never consults the inner quote.
	value, err = adaptor.ValueOf(&stubView{shares: sdkmath.ZeroInt()}, cfg)
	require.NoError(t, err)
	require.True(t, value.IsZero())
}

func TestVaultSharesUnknownInnerVault(t *testing.T) {
	adaptor := adaptors.NewVaultSharesAdaptor(common.HexToAddress("0xAD04"))

	_, err := adaptor.ValueOf(&stubView{shares: sdkmath.OneInt()}, innerConfig(t))
	require.ErrorIs(t, err, adaptors.ErrUnknownInnerVault)
}

func TestVaultSharesRejectsRebalanceCalls(t *testing.T) {
	adaptor := adaptors.NewVaultSharesAdaptor(common.HexToAddress("0xAD04"))
	err := adaptor.Execute(nil, innerConfig(t))
	require.ErrorIs(t, err, adaptors.ErrBadCall)
}
