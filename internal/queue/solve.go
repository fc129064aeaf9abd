package queue

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/peggyjv/cellar/internal/types"
)

// Solve settles the batch of users against solver. Users are processed in
// input order; any invalid user aborts the whole batch naming the user and
// the cause. Each fill is clamped to the user's live balance and allowance,
// converted at the user's own atomic price, and decremented from the stored
// request so partial fills across multiple solves work until exhaustion. The
// bank snapshot makes the batch atomic end to end, including the solver's
// FinishSolve side effects on ledgers.
func (q *Queue) Solve(caller common.Address, offerAsset, wantAsset types.Asset,
	users []common.Address, runData []byte, solver Solver) error {

	if solver == nil {
		return errors.New("solver cannot be nil")
	}
	if len(users) == 0 {
		return errors.New("user batch is empty")
	}
	seen := make(map[common.Address]bool, len(users))
	for _, user := range users {
		if seen[user] {
			return errors.Join(ErrDuplicateUser, fmt.Errorf("user %s", user.Hex()))
		}
		seen[user] = true
	}

	offerLedger, err := q.bank.Ledger(offerAsset)
	if err != nil {
		return err
	}
	wantLedger, err := q.bank.Ledger(wantAsset)
	if err != nil {
		return err
	}

	snap := q.bank.Snapshot()
	now := q.clock.Now()

	q.mu.Lock()
	defer q.mu.Unlock()

	type fill struct {
		user          common.Address
		request       *AtomicRequest
		assetsToOffer sdkmath.Int
		assetsForWant sdkmath.Int
	}

	totalOffer := sdkmath.ZeroInt()
	totalWant := sdkmath.ZeroInt()
	fills := make([]fill, 0, len(users))

	fail := func(err error) error {
		q.bank.Restore(snap)
		for _, f := range fills {
			f.request.InSolve = false
		}
		return err
	}

	for _, user := range users {
		request, ok := q.requests[pairKey{user, offerAsset.Addr, wantAsset.Addr}]
		if !ok || request.OfferAmount.IsZero() {
			return fail(errors.Join(ErrZeroOfferAmount, fmt.Errorf("user %s", user.Hex())))
		}
		if !request.AtomicPrice.IsPositive() {
			return fail(errors.Join(ErrZeroPrice, fmt.Errorf("user %s", user.Hex())))
		}
		if !request.Deadline.After(now) {
			return fail(errors.Join(ErrRequestExpired,
				fmt.Errorf("user %s, deadline %s", user.Hex(), request.Deadline)))
		}

		// The user may have moved funds or cut the allowance since posting;
		// the solver never receives more than is spendable right now.
		available := offerLedger.BalanceOf(user)
		if allowed := offerLedger.Allowance(user, q.address); allowed.LT(available) {
			available = allowed
		}
		toOffer := request.OfferAmount
		if available.LT(toOffer) {
			toOffer = available
		}
		if toOffer.IsZero() {
			return fail(errors.Join(ErrNothingAvailable, fmt.Errorf("user %s", user.Hex())))
		}
		forWant := assetsForWant(offerAsset, request.AtomicPrice, toOffer)

		request.InSolve = true
		if err := offerLedger.TransferFrom(q.address, user, solver.Address(), toOffer); err != nil {
			return fail(fmt.Errorf("pulling offer from %s: %w", user.Hex(), err))
		}

		totalOffer = totalOffer.Add(toOffer)
		totalWant = totalWant.Add(forWant)
		fills = append(fills, fill{user: user, request: request, assetsToOffer: toOffer, assetsForWant: forWant})
	}

	if err := solver.FinishSolve(runData, caller, offerAsset, wantAsset, totalOffer, totalWant); err != nil {
		return fail(fmt.Errorf("solver callback: %w", err))
	}

	for _, f := range fills {
		if err := wantLedger.TransferFrom(q.address, solver.Address(), f.user, f.assetsForWant); err != nil {
			return fail(errors.Join(ErrSolverShortfall,
				fmt.Errorf("paying %s to %s: %w", f.assetsForWant, f.user.Hex(), err)))
		}
	}

	// Stored requests are only decremented once the whole batch has settled,
	// so an aborted solve leaves every request exactly as posted.
	for _, f := range fills {
		f.request.OfferAmount = f.request.OfferAmount.Sub(f.assetsToOffer)
		f.request.InSolve = false
	}

	queueLogger.Info().
		Str("offer", offerAsset.Symbol).
		Str("want", wantAsset.Symbol).
		Int("users", len(users)).
		Str("totalOffer", totalOffer.String()).
		Str("totalWant", totalWant.String()).
		Msg("Batch solved")
	return nil
}

// SolveMetaData is one user's entry in the ViewSolveMetaData preview.
type SolveMetaData struct {
	User          common.Address
	Flags         uint8
	AssetsToOffer sdkmath.Int
	AssetsForWant sdkmath.Int
}

// ViewSolveMetaData previews a solve without mutating anything. Each user is
// evaluated independently, so a valid user's individual figures are populated
// even when a neighbor is invalid. The aggregate totals are all-or-nothing:
// non-zero only when every user's flags are clear, mirroring Solve's atomic
// batch semantics.
func (q *Queue) ViewSolveMetaData(offerAsset, wantAsset types.Asset,
	users []common.Address) ([]SolveMetaData, sdkmath.Int, sdkmath.Int, error) {

	offerLedger, err := q.bank.Ledger(offerAsset)
	if err != nil {
		return nil, sdkmath.Int{}, sdkmath.Int{}, err
	}

	q.mu.RLock()
	defer q.mu.RUnlock()

	now := q.clock.Now()
	metadata := make([]SolveMetaData, len(users))
	totalOffer := sdkmath.ZeroInt()
	totalWant := sdkmath.ZeroInt()
	allClear := true

	for i, user := range users {
		entry := SolveMetaData{
			User:          user,
			AssetsToOffer: sdkmath.ZeroInt(),
			AssetsForWant: sdkmath.ZeroInt(),
		}
		request, ok := q.requests[pairKey{user, offerAsset.Addr, wantAsset.Addr}]
		if !ok {
			entry.Flags |= FlagZeroOfferAmount
			metadata[i] = entry
			allClear = false
			continue
		}
		if !request.Deadline.After(now) {
			entry.Flags |= FlagDeadlineExpired
		}
		if request.OfferAmount.IsZero() {
			entry.Flags |= FlagZeroOfferAmount
		}
		if !request.AtomicPrice.IsPositive() {
			entry.Flags |= FlagZeroPrice
		}
		if offerLedger.Allowance(user, q.address).LT(request.OfferAmount) {
			entry.Flags |= FlagInsufficientAllowance
		}
		if offerLedger.BalanceOf(user).LT(request.OfferAmount) {
			entry.Flags |= FlagInsufficientBalance
		}
		if entry.Flags == 0 {
			entry.AssetsToOffer = request.OfferAmount
			entry.AssetsForWant = assetsForWant(offerAsset, request.AtomicPrice, request.OfferAmount)
			totalOffer = totalOffer.Add(entry.AssetsToOffer)
			totalWant = totalWant.Add(entry.AssetsForWant)
		} else {
			allClear = false
		}
		metadata[i] = entry
	}

	if !allClear {
		return metadata, sdkmath.ZeroInt(), sdkmath.ZeroInt(), nil
	}
	return metadata, totalOffer, totalWant, nil
}
