package registry_test

import (
	"encoding/json"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/peggyjv/cellar/internal/adaptors"
	"github.com/peggyjv/cellar/internal/auth"
	"github.com/peggyjv/cellar/internal/oracle"
	"github.com/peggyjv/cellar/internal/registry"
	"github.com/peggyjv/cellar/internal/types"
)

var (
	governance = common.HexToAddress("0x60")
	outsider   = common.HexToAddress("0x61")
	erc20ID    = common.HexToAddress("0xAD01")

	usdc = types.Asset{Symbol: "USDC", Addr: common.HexToAddress("0x01"), Decimals: 6}
	weth = types.Asset{Symbol: "WETH", Addr: common.HexToAddress("0x02"), Decimals: 18}
)

func newCatalogue(t *testing.T) *registry.Registry {
	t.Helper()
	clock := types.NewManualClock(1, time.Unix(1_700_000_000, 0).UTC())
	pricing, err := oracle.NewRegistry(clock, nil, 0)
	require.NoError(t, err)
	require.NoError(t, pricing.Register(usdc, oracle.AssetSettings{
		Strategy:  oracle.StrategyFeedUSD,
		Feed:      oracle.NewStaticFeed(sdkmath.LegacyOneDec(), clock.Now()),
		MinPrice:  sdkmath.LegacyMustNewDecFromStr("0.9"),
		MaxPrice:  sdkmath.LegacyMustNewDecFromStr("1.1"),
		Heartbeat: time.Hour,
	}))

	authority := auth.NewAuthority(governance)
	catalogue, err := registry.NewRegistry(authority, pricing)
	require.NoError(t, err)
	require.NoError(t, catalogue.RegisterAdaptor(governance, adaptors.NewERC20Adaptor(erc20ID)))
	return catalogue
}

func usdcConfig(t *testing.T) json.RawMessage {
	t.Helper()
	cfg, err := json.Marshal(adaptors.ERC20Config{Asset: usdc})
	require.NoError(t, err)
	return cfg
}

func TestTrustPositionLifecycle(t *testing.T) {
	catalogue := newCatalogue(t)
	cfg := usdcConfig(t)

	require.NoError(t, catalogue.TrustPosition(governance, 101, erc20ID, cfg))
	require.True(t, catalogue.IsPositionTrusted(101))

	position, err := catalogue.Position(101)
	require.NoError(t, err)
	require.Equal(t, erc20ID, position.Adaptor)
	require.False(t, position.IsDebt)

	require.NoError(t, catalogue.DistrustPosition(governance, 101))
	require.False(t, catalogue.IsPositionTrusted(101))

	// Distrusted positions stay resolvable for accounting.
	_, err = catalogue.Position(101)
	require.NoError(t, err)
	_, _, err = catalogue.AdaptorFor(101)
	require.ErrorIs(t, err, registry.ErrUntrustedPosition)
}

func TestRetrustRequiresIdenticalBinding(t *testing.T) {
	catalogue := newCatalogue(t)
	cfg := usdcConfig(t)

	require.NoError(t, catalogue.TrustPosition(governance, 101, erc20ID, cfg))
	require.NoError(t, catalogue.DistrustPosition(governance, 101))

	// Re-trusting with the identical binding succeeds.
	require.NoError(t, catalogue.TrustPosition(governance, 101, erc20ID, cfg))
	require.True(t, catalogue.IsPositionTrusted(101))

	// A different config under the same ID never goes through.
	other, err := json.Marshal(adaptors.ERC20Config{Asset: weth})
	require.NoError(t, err)
	err = catalogue.TrustPosition(governance, 101, erc20ID, other)
	require.ErrorIs(t, err, registry.ErrPositionMismatch)
}

func TestTrustPositionRejectsUnpriceableAsset(t *testing.T) {
	catalogue := newCatalogue(t)

	cfg, err := json.Marshal(adaptors.ERC20Config{Asset: weth})
	require.NoError(t, err)
	err = catalogue.TrustPosition(governance, 102, erc20ID, cfg)
	require.ErrorIs(t, err, registry.ErrUnpriceableAsset)
}

func TestAdaptorTrustGatesResolution(t *testing.T) {
	catalogue := newCatalogue(t)
	cfg := usdcConfig(t)
	require.NoError(t, catalogue.TrustPosition(governance, 101, erc20ID, cfg))

	require.NoError(t, catalogue.DistrustAdaptor(governance, erc20ID))
	require.False(t, catalogue.IsAdaptorTrusted(erc20ID))
	require.False(t, catalogue.IsPositionTrusted(101))
	_, _, err := catalogue.AdaptorFor(101)
	require.ErrorIs(t, err, registry.ErrUntrustedAdaptor)

	// New positions cannot bind to a frozen adaptor.
	err = catalogue.TrustPosition(governance, 103, erc20ID, cfg)
	require.ErrorIs(t, err, registry.ErrUntrustedAdaptor)

	require.NoError(t, catalogue.TrustAdaptor(governance, erc20ID))
	require.True(t, catalogue.IsPositionTrusted(101))
}

func TestGovernanceGate(t *testing.T) {
	catalogue := newCatalogue(t)

	err := catalogue.TrustPosition(outsider, 101, erc20ID, usdcConfig(t))
	require.ErrorIs(t, err, auth.ErrUnauthorized)
	err = catalogue.DistrustAdaptor(outsider, erc20ID)
	require.ErrorIs(t, err, auth.ErrUnauthorized)
	err = catalogue.RegisterAdaptor(outsider, adaptors.NewERC20Adaptor(common.HexToAddress("0xAD02")))
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestDuplicateAdaptorRegistration(t *testing.T) {
	catalogue := newCatalogue(t)
	err := catalogue.RegisterAdaptor(governance, adaptors.NewERC20Adaptor(erc20ID))
	require.ErrorIs(t, err, registry.ErrDuplicateAdaptor)
}
