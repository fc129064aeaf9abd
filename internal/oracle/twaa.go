package oracle

import (
	"errors"
	"fmt"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/peggyjv/cellar/internal/types"
)

var (
	ErrNoObservations  = errors.New("no observations inside the window")
	ErrObserverTooSoon = errors.New("observation interval has not elapsed")
)

// SharePriceObserver records share-price observations and answers a
// time-weighted average over a rolling window. The cellar's circuit breaker
// compares the live share price against this answer to catch single-block
// manipulation spikes.
type SharePriceObserver struct {
	mu           sync.Mutex
	clock        types.Clock
	window       time.Duration
	minInterval  time.Duration
	observations []observation
}

type observation struct {
	at    time.Time
	price sdkmath.LegacyDec
}

// NewSharePriceObserver creates an observer averaging over window, accepting
// at most one observation per minInterval.
func NewSharePriceObserver(clock types.Clock, window, minInterval time.Duration) (*SharePriceObserver, error) {
	if clock == nil {
		return nil, errors.New("clock cannot be nil")
	}
	if window <= 0 || minInterval <= 0 || minInterval > window {
		return nil, fmt.Errorf("invalid observer intervals: window %s, min %s", window, minInterval)
	}
	return &SharePriceObserver{clock: clock, window: window, minInterval: minInterval}, nil
}

// Observe records a share-price sample. Samples arriving faster than
// minInterval are rejected so a burst of writes cannot steer the average.
func (o *SharePriceObserver) Observe(price sdkmath.LegacyDec) error {
	if price.IsNil() || price.IsNegative() {
		return fmt.Errorf("invalid share price observation: %s", price)
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.clock.Now()
	if n := len(o.observations); n > 0 {
		if now.Sub(o.observations[n-1].at) < o.minInterval {
			return errors.Join(ErrObserverTooSoon,
				fmt.Errorf("last observation %s ago", now.Sub(o.observations[n-1].at)))
		}
	}
	o.observations = append(o.observations, observation{at: now, price: price})
	o.pruneLocked(now)
	return nil
}

// TimeWeightedAverage returns the average price over the window, weighting
// each observation by how long it was the latest answer.
func (o *SharePriceObserver) TimeWeightedAverage() (sdkmath.LegacyDec, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.clock.Now()
	o.pruneLocked(now)
	if len(o.observations) == 0 {
		return sdkmath.LegacyDec{}, ErrNoObservations
	}

	weighted := sdkmath.LegacyZeroDec()
	var totalSeconds int64
	for i, obs := range o.observations {
		var held time.Duration
		if i+1 < len(o.observations) {
			held = o.observations[i+1].at.Sub(obs.at)
		} else {
			held = now.Sub(obs.at)
		}
		seconds := int64(held / time.Second)
		if seconds <= 0 {
			seconds = 1
		}
		weighted = weighted.Add(obs.price.MulInt64(seconds))
		totalSeconds += seconds
	}
	return weighted.QuoInt64(totalSeconds), nil
}

// pruneLocked drops observations older than the window, keeping at least one
// so the average is defined right after a quiet period.
func (o *SharePriceObserver) pruneLocked(now time.Time) {
	cutoff := now.Add(-o.window)
	firstKept := 0
	for firstKept < len(o.observations)-1 && o.observations[firstKept+1].at.Before(cutoff) {
		firstKept++
	}
	if firstKept > 0 {
		o.observations = append([]observation(nil), o.observations[firstKept:]...)
	}
}
