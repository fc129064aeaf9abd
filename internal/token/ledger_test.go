package token_test

import (
	"errors"
	"testing"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/peggyjv/cellar/internal/token"
	"github.com/peggyjv/cellar/internal/types"
)

var (
	usdc = types.Asset{Symbol: "USDC", Addr: common.HexToAddress("0x01"), Decimals: 6}
	weth = types.Asset{Symbol: "WETH", Addr: common.HexToAddress("0x02"), Decimals: 18}

	alice = common.HexToAddress("0xA1")
	bob   = common.HexToAddress("0xB0")
	carol = common.HexToAddress("0xC0")
)

func TestMintTransferBurn(t *testing.T) {
	l := token.NewLedger(usdc)

	require.NoError(t, l.Mint(alice, sdkmath.NewInt(1_000_000)))
	require.Equal(t, sdkmath.NewInt(1_000_000), l.TotalSupply())

	require.NoError(t, l.Transfer(alice, bob, sdkmath.NewInt(300_000)))
	require.Equal(t, sdkmath.NewInt(700_000), l.BalanceOf(alice))
	require.Equal(t, sdkmath.NewInt(300_000), l.BalanceOf(bob))

	err := l.Transfer(alice, bob, sdkmath.NewInt(800_000))
	require.ErrorIs(t, err, token.ErrInsufficientBalance)

	require.NoError(t, l.Burn(bob, sdkmath.NewInt(300_000)))
	require.Equal(t, sdkmath.NewInt(700_000), l.TotalSupply())
	require.True(t, l.BalanceOf(bob).IsZero())
}

func TestTransferFromSpendsAllowance(t *testing.T) {
	l := token.NewLedger(usdc)
	require.NoError(t, l.Mint(alice, sdkmath.NewInt(1_000_000)))

	err := l.TransferFrom(carol, alice, bob, sdkmath.NewInt(100_000))
	require.ErrorIs(t, err, token.ErrInsufficientAllowance)

	require.NoError(t, l.Approve(alice, carol, sdkmath.NewInt(400_000)))
	require.NoError(t, l.TransferFrom(carol, alice, bob, sdkmath.NewInt(100_000)))
	require.Equal(t, sdkmath.NewInt(300_000), l.Allowance(alice, carol))
	require.Equal(t, sdkmath.NewInt(100_000), l.BalanceOf(bob))

	// Approve overwrites rather than accumulating.
	require.NoError(t, l.Approve(alice, carol, sdkmath.NewInt(50_000)))
	require.Equal(t, sdkmath.NewInt(50_000), l.Allowance(alice, carol))
}

func TestTransferHookVetoesEveryPath(t *testing.T) {
	l := token.NewLedger(usdc)
	require.NoError(t, l.Mint(alice, sdkmath.NewInt(1_000_000)))
	require.NoError(t, l.Approve(alice, carol, sdkmath.NewInt(1_000_000)))

	blocked := errors.New("blocked")
	l.SetTransferHook(func(from, to common.Address, amount sdkmath.Int) error {
		if from == alice {
			return blocked
		}
		return nil
	})

	require.ErrorIs(t, l.Transfer(alice, bob, sdkmath.NewInt(1)), blocked)
	require.ErrorIs(t, l.TransferFrom(carol, alice, bob, sdkmath.NewInt(1)), blocked)
	require.ErrorIs(t, l.Burn(alice, sdkmath.NewInt(1)), blocked)

	// Mints pass the zero address as from and are unaffected.
	require.NoError(t, l.Mint(alice, sdkmath.NewInt(1)))
	require.Equal(t, sdkmath.NewInt(1_000_001), l.BalanceOf(alice))
}

func TestSnapshotRestore(t *testing.T) {
	l := token.NewLedger(usdc)
	require.NoError(t, l.Mint(alice, sdkmath.NewInt(500)))
	require.NoError(t, l.Approve(alice, bob, sdkmath.NewInt(200)))

	snap := l.Snapshot()

	require.NoError(t, l.Transfer(alice, bob, sdkmath.NewInt(300)))
	require.NoError(t, l.Mint(carol, sdkmath.NewInt(1_000)))
	require.NoError(t, l.Approve(alice, bob, sdkmath.ZeroInt()))

	l.Restore(snap)
	require.Equal(t, sdkmath.NewInt(500), l.BalanceOf(alice))
	require.True(t, l.BalanceOf(bob).IsZero())
	require.True(t, l.BalanceOf(carol).IsZero())
	require.Equal(t, sdkmath.NewInt(200), l.Allowance(alice, bob))
	require.Equal(t, sdkmath.NewInt(500), l.TotalSupply())
}

func TestBankSnapshotRestoresEveryLedger(t *testing.T) {
	b := token.NewBank()
	usdcLedger := b.Register(usdc)
	wethLedger := b.Register(weth)
	require.NoError(t, usdcLedger.Mint(alice, sdkmath.NewInt(100)))
	require.NoError(t, wethLedger.Mint(bob, sdkmath.NewInt(7)))

	snap := b.Snapshot()
	require.NoError(t, usdcLedger.Transfer(alice, bob, sdkmath.NewInt(40)))
	require.NoError(t, wethLedger.Burn(bob, sdkmath.NewInt(7)))

	b.Restore(snap)
	require.Equal(t, sdkmath.NewInt(100), usdcLedger.BalanceOf(alice))
	require.Equal(t, sdkmath.NewInt(7), wethLedger.BalanceOf(bob))
	require.Equal(t, sdkmath.NewInt(7), wethLedger.TotalSupply())
}

func TestBankUnknownAsset(t *testing.T) {
	b := token.NewBank()
	_, err := b.Ledger(weth)
	require.ErrorIs(t, err, token.ErrUnknownAsset)

	registered := b.Register(weth)
	resolved, err := b.Ledger(weth)
	require.NoError(t, err)
	require.Same(t, registered, resolved)
}
