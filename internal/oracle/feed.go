package oracle

import (
	"errors"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
)

// StaticFeed is a PriceFeed whose answer is set by the operator or a test.
// The engine also uses it as the write-side of externally pushed prices.
type StaticFeed struct {
	mu        sync.RWMutex
	price     sdkmath.LegacyDec
	updatedAt time.Time
}

// NewStaticFeed creates a feed with an initial answer.
func NewStaticFeed(price sdkmath.LegacyDec, updatedAt time.Time) *StaticFeed {
	return &StaticFeed{price: price, updatedAt: updatedAt}
}

// Latest returns the stored answer.
func (f *StaticFeed) Latest() (sdkmath.LegacyDec, time.Time, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.price.IsNil() {
		return sdkmath.LegacyDec{}, time.Time{}, errors.New("feed has no answer")
	}
	return f.price, f.updatedAt, nil
}

// Set replaces the answer and its timestamp.
func (f *StaticFeed) Set(price sdkmath.LegacyDec, updatedAt time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price = price
	f.updatedAt = updatedAt
}
