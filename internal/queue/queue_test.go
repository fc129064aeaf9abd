package queue_test

import (
	"errors"
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/peggyjv/cellar/internal/queue"
	"github.com/peggyjv/cellar/internal/token"
	"github.com/peggyjv/cellar/internal/types"
)

var (
	queueAddr  = common.HexToAddress("0xF2")
	solverAddr = common.HexToAddress("0x50")
	initiator  = common.HexToAddress("0x51")
	alice      = common.HexToAddress("0xA1")
	bob        = common.HexToAddress("0xB0")

	usdc = types.Asset{Symbol: "USDC", Addr: common.HexToAddress("0x01"), Decimals: 6}
	dai  = types.Asset{Symbol: "DAI", Addr: common.HexToAddress("0x02"), Decimals: 18}
)

func dec(s string) sdkmath.LegacyDec { return sdkmath.LegacyMustNewDecFromStr(s) }

// testSolver pays batches out of a pre-minted want balance. Set short to make
// the callback skip approving the queue, or failErr to abort inside the
// callback.
type testSolver struct {
	bank    *token.Bank
	short   bool
	failErr error

	gotRunData []byte
	gotOffer   sdkmath.Int
	gotWant    sdkmath.Int
}

func (s *testSolver) Address() common.Address { return solverAddr }

func (s *testSolver) FinishSolve(runData []byte, _ common.Address, _, wantAsset types.Asset,
	assetsToOffer, assetsForWant sdkmath.Int) error {

	s.gotRunData = runData
	s.gotOffer = assetsToOffer
	s.gotWant = assetsForWant
	if s.failErr != nil {
		return s.failErr
	}
	if s.short {
		return nil
	}
	ledger, err := s.bank.Ledger(wantAsset)
	if err != nil {
		return err
	}
	return ledger.Approve(solverAddr, queueAddr, assetsForWant)
}

// shortingSolver approves only a fixed amount, leaving later payouts in the
// batch uncovered.
type shortingSolver struct {
	bank    *token.Bank
	approve sdkmath.Int
}

func (s *shortingSolver) Address() common.Address { return solverAddr }

func (s *shortingSolver) FinishSolve(_ []byte, _ common.Address, _, wantAsset types.Asset,
	_, _ sdkmath.Int) error {

	ledger, err := s.bank.Ledger(wantAsset)
	if err != nil {
		return err
	}
	return ledger.Approve(solverAddr, queueAddr, s.approve)
}

type env struct {
	clock      *types.ManualClock
	bank       *token.Bank
	queue      *queue.Queue
	usdcLedger *token.Ledger
	daiLedger  *token.Ledger
}

func newEnv(t *testing.T) *env {
	t.Helper()
	clock := types.NewManualClock(1, time.Unix(1_700_000_000, 0).UTC())
	bank := token.NewBank()
	q, err := queue.New(queueAddr, bank, clock)
	require.NoError(t, err)

	usdcLedger := bank.Register(usdc)
	daiLedger := bank.Register(dai)

	// Users hold the offer asset and approve the queue; the solver holds a
	// want-asset float.
	for _, user := range []common.Address{alice, bob} {
		require.NoError(t, usdcLedger.Mint(user, sdkmath.NewInt(100_000_000)))
		require.NoError(t, usdcLedger.Approve(user, queueAddr, sdkmath.NewInt(100_000_000)))
	}
	require.NoError(t, daiLedger.Mint(solverAddr, sdkmath.NewIntWithDecimal(1_000, 18)))

	return &env{clock: clock, bank: bank, queue: q, usdcLedger: usdcLedger, daiLedger: daiLedger}
}

func (e *env) post(t *testing.T, user common.Address, amount int64, price string, deadline time.Duration) {
	t.Helper()
	require.NoError(t, e.queue.UpdateAtomicRequest(user, usdc, dai, queue.AtomicRequest{
		Deadline:    e.clock.Now().Add(deadline),
		AtomicPrice: dec(price),
		OfferAmount: sdkmath.NewInt(amount),
	}))
}

func TestSolveSettlesBatchAtUserPrices(t *testing.T) {
	e := newEnv(t)
	// One whole DAI per whole USDC.
	e.post(t, alice, 5_000_000, "1000000000000000000", time.Hour)
	e.post(t, bob, 2_000_000, "1000000000000000000", time.Hour)

	solver := &testSolver{bank: e.bank}
	err := e.queue.Solve(initiator, usdc, dai, []common.Address{alice, bob}, []byte("run"), solver)
	require.NoError(t, err)

	require.Equal(t, []byte("run"), solver.gotRunData)
	require.Equal(t, sdkmath.NewInt(7_000_000), solver.gotOffer)
	require.Equal(t, sdkmath.NewIntWithDecimal(7, 18), solver.gotWant)

	require.Equal(t, sdkmath.NewInt(7_000_000), e.usdcLedger.BalanceOf(solverAddr))
	require.Equal(t, sdkmath.NewIntWithDecimal(5, 18), e.daiLedger.BalanceOf(alice))
	require.Equal(t, sdkmath.NewIntWithDecimal(2, 18), e.daiLedger.BalanceOf(bob))

	// Filled requests are zeroed, so re-solving finds nothing.
	request := e.queue.RequestOf(alice, usdc, dai)
	require.True(t, request.OfferAmount.IsZero())
	require.False(t, request.InSolve)
	err = e.queue.Solve(initiator, usdc, dai, []common.Address{alice}, nil, solver)
	require.ErrorIs(t, err, queue.ErrZeroOfferAmount)
}

func TestSolveClampsToLiveBalance(t *testing.T) {
	e := newEnv(t)
	e.post(t, alice, 5_000_000, "1000000000000000000", time.Hour)

	// Alice moved most of her balance after posting.
	require.NoError(t, e.usdcLedger.Transfer(alice, bob, sdkmath.NewInt(97_000_000)))

	solver := &testSolver{bank: e.bank}
	require.NoError(t, e.queue.Solve(initiator, usdc, dai, []common.Address{alice}, nil, solver))
	require.Equal(t, sdkmath.NewInt(3_000_000), solver.gotOffer)

	// The unfilled remainder stays on the request.
	require.Equal(t, sdkmath.NewInt(2_000_000), e.queue.RequestOf(alice, usdc, dai).OfferAmount)
}

func TestSolveRejectsDuplicateUser(t *testing.T) {
	e := newEnv(t)
	e.post(t, alice, 5_000_000, "1000000000000000000", time.Hour)

	err := e.queue.Solve(initiator, usdc, dai, []common.Address{alice, alice}, nil, &testSolver{bank: e.bank})
	require.ErrorIs(t, err, queue.ErrDuplicateUser)
}

func TestSolveExpiredRequestAndRepost(t *testing.T) {
	e := newEnv(t)
	e.post(t, alice, 5_000_000, "1000000000000000000", time.Hour)
	e.clock.AdvanceTime(2 * time.Hour)

	solver := &testSolver{bank: e.bank}
	err := e.queue.Solve(initiator, usdc, dai, []common.Address{alice}, nil, solver)
	require.ErrorIs(t, err, queue.ErrRequestExpired)

	// Posting again with a fresh deadline revives the same pair.
	e.post(t, alice, 5_000_000, "1000000000000000000", time.Hour)
	require.NoError(t, e.queue.Solve(initiator, usdc, dai, []common.Address{alice}, nil, solver))
}

func TestSolverShortfallRollsBack(t *testing.T) {
	e := newEnv(t)
	e.post(t, alice, 5_000_000, "1000000000000000000", time.Hour)

	solver := &testSolver{bank: e.bank, short: true}
	err := e.queue.Solve(initiator, usdc, dai, []common.Address{alice}, nil, solver)
	require.ErrorIs(t, err, queue.ErrSolverShortfall)

	// Offer balance restored, request intact and out of the in-solve state.
	require.Equal(t, sdkmath.NewInt(100_000_000), e.usdcLedger.BalanceOf(alice))
	request := e.queue.RequestOf(alice, usdc, dai)
	require.Equal(t, sdkmath.NewInt(5_000_000), request.OfferAmount)
	require.False(t, request.InSolve)
}

func TestSolverCallbackFailureRollsBack(t *testing.T) {
	e := newEnv(t)
	e.post(t, alice, 5_000_000, "1000000000000000000", time.Hour)

	boom := errors.New("no liquidity")
	solver := &testSolver{bank: e.bank, failErr: boom}
	err := e.queue.Solve(initiator, usdc, dai, []common.Address{alice}, nil, solver)
	require.ErrorIs(t, err, boom)
	require.Equal(t, sdkmath.NewInt(100_000_000), e.usdcLedger.BalanceOf(alice))
	require.True(t, e.usdcLedger.BalanceOf(solverAddr).IsZero())
	require.Equal(t, sdkmath.NewInt(5_000_000), e.queue.RequestOf(alice, usdc, dai).OfferAmount)
}

func TestShortfallInBatchRestoresEarlierFills(t *testing.T) {
	e := newEnv(t)
	e.post(t, alice, 5_000_000, "1000000000000000000", time.Hour)
	e.post(t, bob, 2_000_000, "1000000000000000000", time.Hour)

	// The solver approves less than the aggregate, so alice is paid but bob's
	// payout fails and the whole batch unwinds.
	solver := &shortingSolver{bank: e.bank, approve: sdkmath.NewIntWithDecimal(5, 18)}
	err := e.queue.Solve(initiator, usdc, dai, []common.Address{alice, bob}, nil, solver)
	require.ErrorIs(t, err, queue.ErrSolverShortfall)

	for _, user := range []common.Address{alice, bob} {
		require.Equal(t, sdkmath.NewInt(100_000_000), e.usdcLedger.BalanceOf(user))
		require.True(t, e.daiLedger.BalanceOf(user).IsZero())
		request := e.queue.RequestOf(user, usdc, dai)
		require.False(t, request.InSolve)
	}
	require.Equal(t, sdkmath.NewInt(5_000_000), e.queue.RequestOf(alice, usdc, dai).OfferAmount)
	require.Equal(t, sdkmath.NewInt(2_000_000), e.queue.RequestOf(bob, usdc, dai).OfferAmount)

	// The unwound requests are still solvable by a funded solver.
	require.NoError(t, e.queue.Solve(initiator, usdc, dai, []common.Address{alice, bob}, nil, &testSolver{bank: e.bank}))
	require.Equal(t, sdkmath.NewIntWithDecimal(5, 18), e.daiLedger.BalanceOf(alice))
	require.Equal(t, sdkmath.NewIntWithDecimal(2, 18), e.daiLedger.BalanceOf(bob))
}

func TestUpdateAtomicRequestForcesInSolveFalse(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.queue.UpdateAtomicRequest(alice, usdc, dai, queue.AtomicRequest{
		Deadline:    e.clock.Now().Add(time.Hour),
		AtomicPrice: dec("1"),
		OfferAmount: sdkmath.NewInt(1_000_000),
		InSolve:     true,
	}))
	require.False(t, e.queue.RequestOf(alice, usdc, dai).InSolve)

	// Cancelling is posting a zero amount.
	e.post(t, alice, 0, "1", time.Hour)
	require.True(t, e.queue.RequestOf(alice, usdc, dai).OfferAmount.IsZero())
}

func TestIsAtomicRequestValid(t *testing.T) {
	e := newEnv(t)

	good := queue.AtomicRequest{
		Deadline:    e.clock.Now().Add(time.Hour),
		AtomicPrice: dec("1"),
		OfferAmount: sdkmath.NewInt(1_000_000),
	}
	require.True(t, e.queue.IsAtomicRequestValid(usdc, alice, good))

	expired := good
	expired.Deadline = e.clock.Now().Add(-time.Second)
	require.False(t, e.queue.IsAtomicRequestValid(usdc, alice, expired))

	oversized := good
	oversized.OfferAmount = sdkmath.NewInt(200_000_000)
	require.False(t, e.queue.IsAtomicRequestValid(usdc, alice, oversized))

	require.NoError(t, e.usdcLedger.Approve(alice, queueAddr, sdkmath.ZeroInt()))
	require.False(t, e.queue.IsAtomicRequestValid(usdc, alice, good))
}

func TestViewSolveMetaDataAggregatesAllOrNothing(t *testing.T) {
	e := newEnv(t)
	e.post(t, alice, 5_000_000, "1000000000000000000", time.Hour)
	e.post(t, bob, 2_000_000, "1000000000000000000", time.Hour)

	metadata, totalOffer, totalWant, err := e.queue.ViewSolveMetaData(usdc, dai, []common.Address{alice, bob})
	require.NoError(t, err)
	require.Len(t, metadata, 2)
	require.Zero(t, metadata[0].Flags)
	require.Zero(t, metadata[1].Flags)
	require.Equal(t, sdkmath.NewInt(7_000_000), totalOffer)
	require.Equal(t, sdkmath.NewIntWithDecimal(7, 18), totalWant)

	// One flagged user zeroes the aggregates but not the neighbors' entries.
	require.NoError(t, e.usdcLedger.Approve(bob, queueAddr, sdkmath.ZeroInt()))
	metadata, totalOffer, totalWant, err = e.queue.ViewSolveMetaData(usdc, dai, []common.Address{alice, bob})
	require.NoError(t, err)
	require.Zero(t, metadata[0].Flags)
	require.Equal(t, queue.FlagInsufficientAllowance, metadata[1].Flags)
	require.Equal(t, sdkmath.NewInt(5_000_000), metadata[0].AssetsToOffer)
	require.True(t, totalOffer.IsZero())
	require.True(t, totalWant.IsZero())
}

func TestViewSolveMetaDataFlagsZeroPrice(t *testing.T) {
	e := newEnv(t)
	e.post(t, alice, 5_000_000, "0", time.Hour)

	metadata, totalOffer, totalWant, err := e.queue.ViewSolveMetaData(usdc, dai, []common.Address{alice})
	require.NoError(t, err)
	require.Equal(t, queue.FlagZeroPrice, metadata[0].Flags)
	require.True(t, totalOffer.IsZero())
	require.True(t, totalWant.IsZero())

	// Solve agrees with the preview.
	err = e.queue.Solve(initiator, usdc, dai, []common.Address{alice}, nil, &testSolver{bank: e.bank})
	require.ErrorIs(t, err, queue.ErrZeroPrice)
}

func TestRequestsListing(t *testing.T) {
	e := newEnv(t)
	require.Empty(t, e.queue.Requests())

	e.post(t, alice, 5_000_000, "1000000000000000000", time.Hour)
	views := e.queue.Requests()
	require.Len(t, views, 1)
	require.Equal(t, alice, views[0].User)
	require.Equal(t, usdc.Addr, views[0].OfferAsset)
	require.Equal(t, dai.Addr, views[0].WantAsset)
	require.Equal(t, "5000000", views[0].OfferAmount)
}
