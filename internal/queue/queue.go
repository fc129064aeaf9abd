// Package queue implements the atomic order queue: users post standing
// requests to sell an offer asset for a want asset at a price they fix
// themselves, and solvers settle whole batches atomically, sourcing the want
// asset inside their callback. A batch either settles every user or none.
package queue

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/peggyjv/cellar/internal/logger"
	"github.com/peggyjv/cellar/internal/token"
	"github.com/peggyjv/cellar/internal/types"
)

var (
	ErrDuplicateUser    = errors.New("user appears more than once in the batch")
	ErrRequestExpired   = errors.New("request deadline has passed")
	ErrZeroOfferAmount  = errors.New("request offer amount is zero")
	ErrZeroPrice        = errors.New("request atomic price is zero")
	ErrNothingAvailable = errors.New("user has no spendable offer balance")
	ErrSolverShortfall  = errors.New("solver did not deliver the aggregate want amount")
	ErrInvalidRequest   = errors.New("request fields are invalid")
)

var queueLogger = logger.GetForComponent("atomic_queue")

// Flag bits returned by ViewSolveMetaData.
const (
	FlagDeadlineExpired       uint8 = 1 << 0
	FlagZeroOfferAmount       uint8 = 1 << 1
	FlagInsufficientAllowance uint8 = 1 << 2
	FlagInsufficientBalance   uint8 = 1 << 3
	FlagZeroPrice             uint8 = 1 << 4
)

// AtomicRequest is one user's standing order for an asset pair. AtomicPrice
// is want-asset smallest units per one whole offer unit; the user fixes their
// own acceptable rate, solvers take it or leave it.
type AtomicRequest struct {
	Deadline    time.Time
	AtomicPrice sdkmath.LegacyDec
	OfferAmount sdkmath.Int
	InSolve     bool
}

// Solver settles batches. FinishSolve runs after the offer side has been
// pulled, giving the solver one chance to source want-asset liquidity before
// the queue pulls the aggregate from it.
type Solver interface {
	Address() common.Address
	FinishSolve(runData []byte, initiator common.Address, offerAsset, wantAsset types.Asset,
		assetsToOffer, assetsForWant sdkmath.Int) error
}

type pairKey struct {
	user  common.Address
	offer common.Address
	want  common.Address
}

// Queue holds every standing request. Requests are keyed (user, offer, want)
// and are never deleted, only zeroed.
type Queue struct {
	address common.Address // spender identity users approve
	bank    *token.Bank
	clock   types.Clock

	mu       sync.RWMutex
	requests map[pairKey]*AtomicRequest
}

// New creates an empty queue under the given spender identity.
func New(address common.Address, bank *token.Bank, clock types.Clock) (*Queue, error) {
	if bank == nil || clock == nil {
		return nil, errors.New("nil collaborator")
	}
	return &Queue{
		address:  address,
		bank:     bank,
		clock:    clock,
		requests: make(map[pairKey]*AtomicRequest),
	}, nil
}

// Address is the spender identity users must approve on the offer ledger.
func (q *Queue) Address() common.Address { return q.address }

// UpdateAtomicRequest overwrites the caller's standing request for the pair.
// InSolve is forced false no matter what the caller supplied, so a user can
// never pre-wedge a request into the in-flight state. Cancelling is posting a
// zero-amount request.
func (q *Queue) UpdateAtomicRequest(user common.Address, offerAsset, wantAsset types.Asset, request AtomicRequest) error {
	if request.OfferAmount.IsNil() || request.OfferAmount.IsNegative() {
		return errors.Join(ErrInvalidRequest, fmt.Errorf("offer amount %s", request.OfferAmount))
	}
	if request.AtomicPrice.IsNil() || request.AtomicPrice.IsNegative() {
		return errors.Join(ErrInvalidRequest, fmt.Errorf("atomic price %s", request.AtomicPrice))
	}
	request.InSolve = false

	q.mu.Lock()
	q.requests[pairKey{user, offerAsset.Addr, wantAsset.Addr}] = &request
	q.mu.Unlock()

	queueLogger.Debug().
		Str("user", user.Hex()).
		Str("offer", offerAsset.Symbol).
		Str("want", wantAsset.Symbol).
		Str("amount", request.OfferAmount.String()).
		Msg("Atomic request updated")
	return nil
}

// RequestOf returns a copy of the user's standing request for the pair, zero
// valued if none exists.
func (q *Queue) RequestOf(user common.Address, offerAsset, wantAsset types.Asset) AtomicRequest {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if r, ok := q.requests[pairKey{user, offerAsset.Addr, wantAsset.Addr}]; ok {
		return *r
	}
	return AtomicRequest{OfferAmount: sdkmath.ZeroInt(), AtomicPrice: sdkmath.LegacyZeroDec()}
}

// IsAtomicRequestValid reports whether a request could currently be solved
// for user: unexpired, non-zero amount and price, and covered by the user's
// live balance and their allowance to the queue.
func (q *Queue) IsAtomicRequestValid(offerAsset types.Asset, user common.Address, request AtomicRequest) bool {
	if request.OfferAmount.IsNil() || !request.OfferAmount.IsPositive() {
		return false
	}
	if request.AtomicPrice.IsNil() || !request.AtomicPrice.IsPositive() {
		return false
	}
	if !request.Deadline.After(q.clock.Now()) {
		return false
	}
	ledger, err := q.bank.Ledger(offerAsset)
	if err != nil {
		return false
	}
	if ledger.BalanceOf(user).LT(request.OfferAmount) {
		return false
	}
	if ledger.Allowance(user, q.address).LT(request.OfferAmount) {
		return false
	}
	return true
}

// RequestView is a read-only listing entry for dashboards.
type RequestView struct {
	User        common.Address `json:"user"`
	OfferAsset  common.Address `json:"offerAsset"`
	WantAsset   common.Address `json:"wantAsset"`
	Deadline    time.Time      `json:"deadline"`
	AtomicPrice string         `json:"atomicPrice"`
	OfferAmount string         `json:"offerAmount"`
	InSolve     bool           `json:"inSolve"`
}

// Requests lists every standing request, including zeroed ones.
func (q *Queue) Requests() []RequestView {
	q.mu.RLock()
	defer q.mu.RUnlock()
	views := make([]RequestView, 0, len(q.requests))
	for key, r := range q.requests {
		views = append(views, RequestView{
			User:        key.user,
			OfferAsset:  key.offer,
			WantAsset:   key.want,
			Deadline:    r.Deadline,
			AtomicPrice: r.AtomicPrice.String(),
			OfferAmount: r.OfferAmount.String(),
			InSolve:     r.InSolve,
		})
	}
	return views
}

// assetsForWant converts an offer fill into want units at the user's price,
// rounding down.
func assetsForWant(offerAsset types.Asset, price sdkmath.LegacyDec, fill sdkmath.Int) sdkmath.Int {
	return price.MulInt(fill).Quo(sdkmath.LegacyNewDec(10).Power(uint64(offerAsset.Decimals))).TruncateInt()
}
