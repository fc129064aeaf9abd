package vault_test

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
	"github.com/peggyjv/cellar/internal/token"
	"github.com/peggyjv/cellar/internal/types"
	"github.com/peggyjv/cellar/internal/vault"
)

var (
	governance = common.HexToAddress("0x60")
	strategist = common.HexToAddress("0x57")
	alice      = common.HexToAddress("0xA1")
	bob        = common.HexToAddress("0xB0")

	cellarAddr = common.HexToAddress("0xCE11")
	erc20ID    = common.HexToAddress("0xAD01")

	usdc  = types.Asset{Symbol: "USDC", Addr: common.HexToAddress("0x01"), Decimals: 6}
	share = types.Asset{Symbol: "SHARE", Addr: cellarAddr, Decimals: 18}

	holdingPositionID = types.PositionID(101)
)

func dec(s string) sdkmath.LegacyDec { return sdkmath.LegacyMustNewDecFromStr(s) }

// oneUSDC is 10^6, one whole holding-asset token.
var oneUSDC = usdc.OneUnit()

type env struct {
	clock      *types.ManualClock
	bank       *token.Bank
	authority  *auth.Authority
	pricing    *oracle.Registry
	catalogue  *registry.Registry
	cellar     *vault.Cellar
	usdcLedger *token.Ledger
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := types.NewManualClock(100, time.Unix(1_700_000_000, 0).UTC())
	bank := token.NewBank()
	authority := auth.NewAuthority(governance)
	require.NoError(t, authority.Grant(governance, auth.RoleStrategist, strategist))

	pricing, err := oracle.NewRegistry(clock, nil, 0)
	require.NoError(t, err)
	require.NoError(t, pricing.Register(usdc, oracle.AssetSettings{
		Strategy:  oracle.StrategyFeedUSD,
		Feed:      oracle.NewStaticFeed(dec("1"), clock.Now()),
		MinPrice:  dec("0.9"),
		MaxPrice:  dec("1.1"),
		Heartbeat: 24 * time.Hour,
	}))

	catalogue, err := registry.NewRegistry(authority, pricing)
	require.NoError(t, err)
	require.NoError(t, catalogue.RegisterAdaptor(governance, adaptors.NewERC20Adaptor(erc20ID)))

	cfg, err := json.Marshal(adaptors.ERC20Config{Asset: usdc})
	require.NoError(t, err)
	require.NoError(t, catalogue.TrustPosition(governance, holdingPositionID, erc20ID, cfg))

	cellar, err := vault.New(vault.Config{
		Name:                  "Test Cellar",
		Address:               cellarAddr,
		HoldingAsset:          usdc,
		ShareAsset:            share,
		MinimumInitialDeposit: oneUSDC,
		ShareLockBlocks:       10,
		SupplyCap:             sdkmath.ZeroInt(),
		RebalanceDeviation:    dec("0.003"),
		MaxPositions:          8,
	}, authority, catalogue, pricing, bank, clock, nil)
	require.NoError(t, err)

	require.NoError(t, cellar.AddPosition(governance, 0, holdingPositionID))
	require.NoError(t, cellar.SetHoldingPosition(governance, holdingPositionID))

	usdcLedger := bank.Register(usdc)
	e := &env{
		clock:      clock,
		bank:       bank,
		authority:  authority,
		pricing:    pricing,
		catalogue:  catalogue,
		cellar:     cellar,
		usdcLedger: usdcLedger,
	}
	e.fund(t, alice, oneUSDC.MulRaw(1_000))
	e.fund(t, bob, oneUSDC.MulRaw(1_000))
	return e
}

func (e *env) fund(t *testing.T, user common.Address, amount sdkmath.Int) {
	t.Helper()
	require.NoError(t, e.usdcLedger.Mint(user, amount))
	require.NoError(t, e.usdcLedger.Approve(user, cellarAddr, amount))
}

func TestFirstDepositMintsNormalizedShares(t *testing.T) {
	e := newEnv(t)

	// Below the minimum initial deposit.
	_, err := e.cellar.Deposit(alice, oneUSDC.QuoRaw(2))
	require.ErrorIs(t, err, vault.ErrMinimumDeposit)

	shares, err := e.cellar.Deposit(alice, oneUSDC.MulRaw(5))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewIntWithDecimal(5, 18), shares)
	require.Equal(t, shares, e.cellar.ShareBalance(alice))

	total, err := e.cellar.TotalAssets()
	require.NoError(t, err)
	require.Equal(t, oneUSDC.MulRaw(5), total)

	price, err := e.cellar.SharePrice()
	require.NoError(t, err)
	require.Equal(t, dec("1"), price)
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	e := newEnv(t)
	before := e.usdcLedger.BalanceOf(alice)

	deposit := oneUSDC.MulRaw(100)
	shares, err := e.cellar.Deposit(alice, deposit)
	require.NoError(t, err)

	e.clock.AdvanceBlocks(10)
	assets, err := e.cellar.Redeem(alice, shares)
	require.NoError(t, err)

	// Round trip returns within one smallest unit of the original amount.
	require.True(t, deposit.Sub(assets).LTE(sdkmath.OneInt()))
	diff := before.Sub(e.usdcLedger.BalanceOf(alice))
	require.True(t, diff.LTE(sdkmath.OneInt()))
	require.True(t, e.cellar.ShareBalance(alice).IsZero())
}

func TestWithdrawBurnsSharesRoundedUp(t *testing.T) {
	e := newEnv(t)
	_, err := e.cellar.Deposit(alice, oneUSDC.MulRaw(5))
	require.NoError(t, err)
	e.clock.AdvanceBlocks(10)

	shares, err := e.cellar.Withdraw(alice, oneUSDC.MulRaw(2))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewIntWithDecimal(2, 18), shares)
	require.Equal(t, sdkmath.NewIntWithDecimal(3, 18), e.cellar.ShareBalance(alice))
}

func TestShareLockBlocksEveryExitPath(t *testing.T) {
	e := newEnv(t)
	shares, err := e.cellar.Deposit(alice, oneUSDC.MulRaw(5))
	require.NoError(t, err)

	// Too early for all of transfer, transferFrom, and redeem.
	e.clock.AdvanceBlocks(9)
	require.ErrorIs(t, e.cellar.Transfer(alice, bob, shares), vault.ErrShareLocked)
	require.NoError(t, e.cellar.ApproveShares(alice, bob, shares))
	require.ErrorIs(t, e.cellar.TransferFrom(bob, alice, bob, shares), vault.ErrShareLocked)
	_, err = e.cellar.Redeem(alice, shares)
	require.ErrorIs(t, err, vault.ErrShareLocked)

	e.clock.AdvanceBlocks(1)
	require.NoError(t, e.cellar.Transfer(alice, bob, shares))
	require.Equal(t, shares, e.cellar.ShareBalance(bob))
}

func TestDepositRestartsShareLock(t *testing.T) {
	e := newEnv(t)
	_, err := e.cellar.Deposit(alice, oneUSDC.MulRaw(5))
	require.NoError(t, err)

	e.clock.AdvanceBlocks(9)
	_, err = e.cellar.Deposit(alice, oneUSDC.MulRaw(5))
	require.NoError(t, err)

	// The second mint restarted the lock for the whole balance.
	e.clock.AdvanceBlocks(1)
	err = e.cellar.Transfer(alice, bob, sdkmath.NewIntWithDecimal(1, 18))
	require.ErrorIs(t, err, vault.ErrShareLocked)

	e.clock.AdvanceBlocks(9)
	require.NoError(t, e.cellar.Transfer(alice, bob, sdkmath.NewIntWithDecimal(1, 18)))
}

func TestSupplyCap(t *testing.T) {
	e := newEnv(t)
	_, err := e.cellar.Deposit(alice, oneUSDC.MulRaw(5))
	require.NoError(t, err)

	require.NoError(t, e.cellar.SetSupplyCap(governance, sdkmath.NewIntWithDecimal(6, 18)))

	_, err = e.cellar.Deposit(bob, oneUSDC.MulRaw(2))
	require.ErrorIs(t, err, vault.ErrSupplyCapExceeded)

	// Under the cap still fits.
	_, err = e.cellar.Deposit(bob, oneUSDC)
	require.NoError(t, err)

	// Zero disables the cap again.
	require.NoError(t, e.cellar.SetSupplyCap(governance, sdkmath.ZeroInt()))
	_, err = e.cellar.Deposit(bob, oneUSDC.MulRaw(100))
	require.NoError(t, err)
}

func TestRateLimitRollingWindow(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.cellar.SetShareLock(governance, 0))
	_, err := e.cellar.Deposit(alice, oneUSDC.MulRaw(100))
	require.NoError(t, err)

	require.NoError(t, e.cellar.SetRateLimit(governance, vault.RateLimit{
		Window:    time.Hour,
		MaxAssets: oneUSDC.MulRaw(10),
	}))

	_, err = e.cellar.Withdraw(alice, oneUSDC.MulRaw(8))
	require.NoError(t, err)
	_, err = e.cellar.Withdraw(alice, oneUSDC.MulRaw(8))
	require.ErrorIs(t, err, vault.ErrRateLimited)

	// Deposits and withdrawals draw from the same window limit.
	_, err = e.cellar.Deposit(bob, oneUSDC.MulRaw(8))
	require.ErrorIs(t, err, vault.ErrRateLimited)

	e.clock.AdvanceTime(time.Hour)
	_, err = e.cellar.Withdraw(alice, oneUSDC.MulRaw(8))
	require.NoError(t, err)
}

func TestFailedWithdrawalDoesNotConsumeRateLimit(t *testing.T) {
	e := newEnv(t)
	_, err := e.cellar.Deposit(alice, oneUSDC.MulRaw(100))
	require.NoError(t, err)

	require.NoError(t, e.cellar.SetRateLimit(governance, vault.RateLimit{
		Window:    time.Hour,
		MaxAssets: oneUSDC.MulRaw(10),
	}))

	// Still share locked, so the withdrawal fails after the limit check.
	_, err = e.cellar.Withdraw(alice, oneUSDC.MulRaw(8))
	require.ErrorIs(t, err, vault.ErrShareLocked)

	// The failed attempt left the window untouched.
	e.clock.AdvanceBlocks(10)
	_, err = e.cellar.Withdraw(alice, oneUSDC.MulRaw(8))
	require.NoError(t, err)

	_, err = e.cellar.Withdraw(alice, oneUSDC.MulRaw(8))
	require.ErrorIs(t, err, vault.ErrRateLimited)
}

func TestIlliquidPositionBlocksWithdrawal(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.cellar.SetShareLock(governance, 0))
	_, err := e.cellar.Deposit(alice, oneUSDC.MulRaw(10))
	require.NoError(t, err)

	require.NoError(t, e.cellar.FlagIlliquid(governance, holdingPositionID, true))
	before := e.usdcLedger.BalanceOf(alice)
	shares := e.cellar.ShareBalance(alice)

	_, err = e.cellar.Withdraw(alice, oneUSDC)
	require.ErrorIs(t, err, vault.ErrIlliquidWithdraw)

	// The failed withdrawal left shares and balances untouched.
	require.Equal(t, before, e.usdcLedger.BalanceOf(alice))
	require.Equal(t, shares, e.cellar.ShareBalance(alice))

	require.NoError(t, e.cellar.FlagIlliquid(governance, holdingPositionID, false))
	_, err = e.cellar.Withdraw(alice, oneUSDC)
	require.NoError(t, err)
}

func TestZeroShareOperationsRejected(t *testing.T) {
	e := newEnv(t)
	_, err := e.cellar.Deposit(alice, oneUSDC.MulRaw(5))
	require.NoError(t, err)
	e.clock.AdvanceBlocks(10)

	// One smallest share unit quotes to zero assets.
	_, err = e.cellar.Redeem(alice, sdkmath.OneInt())
	require.ErrorIs(t, err, vault.ErrZeroShares)
}

func TestGovernancePositionManagement(t *testing.T) {
	e := newEnv(t)

	err := e.cellar.AddPosition(governance, 0, holdingPositionID)
	require.ErrorIs(t, err, vault.ErrPositionInUse)

	// The holding position cannot be removed at all.
	err = e.cellar.RemovePosition(governance, holdingPositionID)
	require.ErrorIs(t, err, vault.ErrPositionInUse)

	err = e.cellar.AddPosition(alice, 0, holdingPositionID)
	require.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestRemovePositionRequiresEmpty(t *testing.T) {
	e := newEnv(t)

	// Second USDC-denominated position sharing the same ledger balance.
	cfg, err := json.Marshal(adaptors.ERC20Config{Asset: usdc})
	require.NoError(t, err)
	require.NoError(t, e.catalogue.TrustPosition(governance, 102, erc20ID, cfg))
	require.NoError(t, e.cellar.AddPosition(governance, 1, 102))

	_, err = e.cellar.Deposit(alice, oneUSDC.MulRaw(5))
	require.NoError(t, err)

	err = e.cellar.RemovePosition(governance, 102)
	require.ErrorIs(t, err, vault.ErrPositionNotEmpty)

	// The escape hatch removes it regardless.
	require.NoError(t, e.cellar.ForcePositionOut(governance, 102))
	require.Equal(t, []types.PositionID{holdingPositionID}, e.cellar.Positions())
}

func TestSetHoldingPositionValidation(t *testing.T) {
	e := newEnv(t)

	err := e.cellar.SetHoldingPosition(governance, 999)
	require.ErrorIs(t, err, vault.ErrPositionNotActive)
}

func TestParameterBounds(t *testing.T) {
	e := newEnv(t)

	err := e.cellar.SetShareLock(governance, 14_401)
	require.ErrorIs(t, err, vault.ErrInvalidConfiguration)
	require.NoError(t, e.cellar.SetShareLock(governance, 14_400))

	err = e.cellar.SetRebalanceDeviation(governance, dec("0.11"))
	require.ErrorIs(t, err, vault.ErrInvalidConfiguration)
	require.NoError(t, e.cellar.SetRebalanceDeviation(governance, dec("0.1")))
}

func TestCircuitBreakerBlocksUserFlows(t *testing.T) {
	e := newEnv(t)
	observer, err := oracle.NewSharePriceObserver(e.clock, 24*time.Hour, time.Minute)
	require.NoError(t, err)

	automation := common.HexToAddress("0xAA")
	require.NoError(t, e.authority.Grant(governance, auth.RoleAutomation, automation))

	guardedAddr := common.HexToAddress("0xCE12")
	cellar, err := vault.New(vault.Config{
		Name:                  "Guarded Cellar",
		Address:               guardedAddr,
		HoldingAsset:          usdc,
		ShareAsset:            types.Asset{Symbol: "GSHARE", Addr: guardedAddr, Decimals: 18},
		MinimumInitialDeposit: oneUSDC,
		RebalanceDeviation:    dec("0.003"),
		MaxPositions:          8,
		PriceObserver:         observer,
		AllowedPriceDeviation: dec("0.05"),
	}, e.authority, e.catalogue, e.pricing, e.bank, e.clock, nil)
	require.NoError(t, err)
	require.NoError(t, cellar.AddPosition(governance, 0, holdingPositionID))
	require.NoError(t, cellar.SetHoldingPosition(governance, holdingPositionID))

	// Unprimed observer does not block.
	require.NoError(t, e.usdcLedger.Approve(alice, guardedAddr, oneUSDC.MulRaw(100)))
	_, err = cellar.Deposit(alice, oneUSDC.MulRaw(5))
	require.NoError(t, err)

	require.NoError(t, cellar.RecordSharePriceObservation(automation))
	e.clock.AdvanceTime(time.Hour)

	// Feed the observer a price far from the live 1.0 so the average drifts
	// out of the allowed band.
	require.NoError(t, observer.Observe(dec("2")))
	e.clock.AdvanceTime(23 * time.Hour)

	_, err = cellar.Deposit(alice, oneUSDC)
	require.ErrorIs(t, err, vault.ErrPriceDeviation)
}
