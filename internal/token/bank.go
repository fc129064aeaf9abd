package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/peggyjv/cellar/internal/types"
)

var ErrUnknownAsset = errors.New("asset has no ledger")

// Bank holds one Ledger per asset so components can resolve balances by asset
// identity. Registration happens during wiring; lookups afterwards are
// read-mostly.
type Bank struct {
	mu      sync.RWMutex
	ledgers map[common.Address]*Ledger
}

// NewBank creates an empty bank.
func NewBank() *Bank {
	return &Bank{ledgers: make(map[common.Address]*Ledger)}
}

// Register creates (or returns the existing) ledger for asset.
func (b *Bank) Register(asset types.Asset) *Ledger {
	b.mu.Lock()
	defer b.mu.Unlock()
	if l, ok := b.ledgers[asset.Addr]; ok {
		return l
	}
	l := NewLedger(asset)
	b.ledgers[asset.Addr] = l
	return l
}

// BankSnapshot captures every ledger in the bank.
type BankSnapshot map[common.Address]*Snapshot

// Snapshot deep-copies all ledgers.
func (b *Bank) Snapshot() BankSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snap := make(BankSnapshot, len(b.ledgers))
	for addr, l := range b.ledgers {
		snap[addr] = l.Snapshot()
	}
	return snap
}

// Restore rolls every snapshotted ledger back. Ledgers registered after the
// snapshot are left untouched.
func (b *Bank) Restore(snap BankSnapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for addr, s := range snap {
		if l, ok := b.ledgers[addr]; ok {
			l.Restore(s)
		}
	}
}

// Ledger resolves the ledger for asset, failing if none is registered.
func (b *Bank) Ledger(asset types.Asset) (*Ledger, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	l, ok := b.ledgers[asset.Addr]
	if !ok {
		return nil, errors.Join(ErrUnknownAsset, fmt.Errorf("asset %s (%s)", asset.Symbol, asset.Addr.Hex()))
	}
	return l, nil
}
