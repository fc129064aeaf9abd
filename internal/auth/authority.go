// Package auth centralizes role checks. Every mutating entry point in the
// system asks the Authority whether the caller holds the required role before
// touching state; checks fail closed.
package auth

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var ErrUnauthorized = errors.New("caller lacks required role")

// Role is a capability grantable to an address.
type Role uint8

const (
	// RoleGovernance may trust positions and adaptors, set caps, and tune fees.
	RoleGovernance Role = iota + 1
	// RoleStrategist may submit rebalance batches and set the payout address.
	RoleStrategist
	// RoleAutomation may run keeper upkeeps (fee accrual, oracle observations).
	RoleAutomation
)

func (r Role) String() string {
	switch r {
	case RoleGovernance:
		return "governance"
	case RoleStrategist:
		return "strategist"
	case RoleAutomation:
		return "automation"
	default:
		return fmt.Sprintf("role(%d)", uint8(r))
	}
}

// Authority tracks role membership. Writes are rare and governance gated;
// reads happen on every mutating call.
type Authority struct {
	mu      sync.RWMutex
	members map[Role]map[common.Address]struct{}
}

// NewAuthority creates an authority with the given governance address. The
// governance role can never be empty.
func NewAuthority(governance common.Address) *Authority {
	a := &Authority{members: make(map[Role]map[common.Address]struct{})}
	a.grant(RoleGovernance, governance)
	return a
}

// Require errors unless addr holds role.
func (a *Authority) Require(addr common.Address, role Role) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if set, ok := a.members[role]; ok {
		if _, ok := set[addr]; ok {
			return nil
		}
	}
	return errors.Join(ErrUnauthorized, fmt.Errorf("address %s is not %s", addr.Hex(), role))
}

// Has reports whether addr holds role.
func (a *Authority) Has(addr common.Address, role Role) bool {
	return a.Require(addr, role) == nil
}

// Grant gives addr the role. Only governance may grant.
func (a *Authority) Grant(caller common.Address, role Role, addr common.Address) error {
	if err := a.Require(caller, RoleGovernance); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.grant(role, addr)
	return nil
}

// Revoke removes the role from addr. Only governance may revoke, and the last
// governance member cannot revoke itself into a headless system.
func (a *Authority) Revoke(caller common.Address, role Role, addr common.Address) error {
	if err := a.Require(caller, RoleGovernance); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if role == RoleGovernance && len(a.members[RoleGovernance]) == 1 {
		if _, ok := a.members[RoleGovernance][addr]; ok {
			return errors.New("cannot revoke the last governance member")
		}
	}
	if set, ok := a.members[role]; ok {
		delete(set, addr)
	}
	return nil
}

func (a *Authority) grant(role Role, addr common.Address) {
	set, ok := a.members[role]
	if !ok {
		set = make(map[common.Address]struct{})
		a.members[role] = set
	}
	set[addr] = struct{}{}
}
