/*

This file contains the block clock abstraction. All deadline, heartbeat, and
share-lock checks read time and height through a Clock so tests and the live
engine share one deterministic source.

*/

package types

import (
	"sync"
	"time"
)

// Clock supplies the current block height and timestamp.
type Clock interface {
	BlockNumber() uint64
	Now() time.Time
}

// ManualClock is a Clock advanced explicitly. Used by tests and by the engine
// loop, which ticks it once per cycle.
type ManualClock struct {
	mu     sync.RWMutex
	height uint64
	now    time.Time
}

// NewManualClock starts a manual clock at the given height and time.
func NewManualClock(height uint64, now time.Time) *ManualClock {
	return &ManualClock{height: height, now: now}
}

func (c *ManualClock) BlockNumber() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.height
}

func (c *ManualClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// AdvanceBlocks moves the chain forward n blocks without touching the timestamp.
func (c *ManualClock) AdvanceBlocks(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height += n
}

// AdvanceTime moves the timestamp forward by d without touching the height.
func (c *ManualClock) AdvanceTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Advance moves both height and timestamp forward together.
func (c *ManualClock) Advance(n uint64, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.height += n
	c.now = c.now.Add(d)
}

// SystemClock derives height from wall time at a fixed block interval.
type SystemClock struct {
	genesis  time.Time
	interval time.Duration
}

// NewSystemClock creates a wall-clock backed Clock. interval must be positive.
func NewSystemClock(genesis time.Time, interval time.Duration) *SystemClock {
	if interval <= 0 {
		interval = 12 * time.Second
	}
	return &SystemClock{genesis: genesis, interval: interval}
}

func (c *SystemClock) Now() time.Time { return time.Now().UTC() }

func (c *SystemClock) BlockNumber() uint64 {
	elapsed := time.Since(c.genesis)
	if elapsed < 0 {
		return 0
	}
	return uint64(elapsed / c.interval)
}
