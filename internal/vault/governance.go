package vault

import (
	"errors"
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/peggyjv/cellar/internal/auth"
	"github.com/peggyjv/cellar/internal/registry"
	"github.com/peggyjv/cellar/internal/types"
)

// Upper bounds on governance-tunable parameters. Governance can loosen within
// these, never beyond them.
const (
	maxShareLockBlocks = 14400 // roughly two days of blocks
)

var maxRebalanceDeviation = sdkmath.LegacyMustNewDecFromStr("0.1")

// AddPosition inserts a registry-trusted position into the active list at
// index. Order matters: withdrawals drain positions front to back.
func (c *Cellar) AddPosition(caller common.Address, index int, id types.PositionID) error {
	if err := c.authority.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	if !c.registry.IsPositionTrusted(id) {
		return fmt.Errorf("position %d: %w", id, ErrPositionNotActive)
	}
	position, err := c.registry.Position(id)
	if err != nil {
		return err
	}

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if len(c.positions) >= c.cfg.MaxPositions {
		return errors.Join(ErrPositionLimit, fmt.Errorf("limit %d", c.cfg.MaxPositions))
	}
	for _, existing := range c.positions {
		if existing == id {
			return errors.Join(ErrPositionInUse, fmt.Errorf("position %d", id))
		}
	}
	if index < 0 || index > len(c.positions) {
		index = len(c.positions)
	}
	c.positions = append(c.positions, 0)
	copy(c.positions[index+1:], c.positions[index:])
	c.positions[index] = id

	c.log.Info().
		Uint32("position", uint32(id)).
		Int("index", index).
		Bool("isDebt", position.IsDebt).
		Msg("Position added")
	return nil
}

// RemovePosition drops a position from the active list. The position must be
// empty; use ForcePositionOut to abandon a position that still reports value.
func (c *Cellar) RemovePosition(caller common.Address, id types.PositionID) error {
	if err := c.authority.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	value, _, err := c.positionValue(id)
	if err != nil {
		return err
	}
	if !value.IsZero() {
		return errors.Join(ErrPositionNotEmpty, fmt.Errorf("position %d holds %s", id, value))
	}
	return c.removeFromList(id)
}

// ForcePositionOut removes a position regardless of remaining value. The
// escape hatch for positions stuck behind a broken adaptor: whatever value the
// position reported simply stops counting toward total assets.
func (c *Cellar) ForcePositionOut(caller common.Address, id types.PositionID) error {
	if err := c.authority.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	c.log.Warn().Uint32("position", uint32(id)).Msg("Position forced out with value possibly remaining")
	return c.removeFromList(id)
}

func (c *Cellar) removeFromList(id types.PositionID) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if id == c.holdingPosition {
		return errors.Join(ErrPositionInUse, fmt.Errorf("position %d is the holding position", id))
	}
	for i, existing := range c.positions {
		if existing == id {
			c.positions = append(c.positions[:i], c.positions[i+1:]...)
			delete(c.illiquid, id)
			c.log.Info().Uint32("position", uint32(id)).Msg("Position removed")
			return nil
		}
	}
	return errors.Join(ErrPositionNotActive, fmt.Errorf("position %d", id))
}

// SetHoldingPosition designates where new deposits implicitly land. The
// position must be active, non-debt, denominated in the holding asset, and
// must value cleanly through its adaptor.
func (c *Cellar) SetHoldingPosition(caller common.Address, id types.PositionID) error {
	if err := c.authority.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	c.stateMu.RLock()
	active := false
	for _, existing := range c.positions {
		if existing == id {
			active = true
			break
		}
	}
	c.stateMu.RUnlock()
	if !active {
		return errors.Join(ErrPositionNotActive, fmt.Errorf("position %d", id))
	}

	position, err := c.registry.Position(id)
	if err != nil {
		return err
	}
	if position.IsDebt {
		return errors.Join(ErrHoldingPositionDebt, fmt.Errorf("position %d", id))
	}
	adaptor, err := c.registry.Adaptor(position.Adaptor)
	if err != nil {
		return err
	}
	asset, err := adaptor.AssetOf(position.Config)
	if err != nil {
		return err
	}
	if !asset.Equal(c.cfg.HoldingAsset) {
		return errors.Join(ErrHoldingProbeFailed,
			fmt.Errorf("position %d holds %s, cellar holds %s", id, asset.Symbol, c.cfg.HoldingAsset.Symbol))
	}
	// Probe: the position must value through its adaptor right now, so a
	// misconfigured holding position fails loudly here instead of on the first
	// deposit.
	if _, err := adaptor.ValueOf(c, position.Config); err != nil {
		return errors.Join(ErrHoldingProbeFailed, fmt.Errorf("position %d: %w", id, err))
	}

	c.stateMu.Lock()
	c.holdingPosition = id
	c.stateMu.Unlock()
	c.log.Info().Uint32("position", uint32(id)).Msg("Holding position set")
	return nil
}

// FlagIlliquid marks or clears a position as illiquid. Illiquid positions are
// skipped by user withdrawals and can only be exited through rebalances.
func (c *Cellar) FlagIlliquid(caller common.Address, id types.PositionID, illiquid bool) error {
	if err := c.authority.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	for _, existing := range c.positions {
		if existing == id {
			if illiquid {
				c.illiquid[id] = true
			} else {
				delete(c.illiquid, id)
			}
			c.log.Info().Uint32("position", uint32(id)).Bool("illiquid", illiquid).Msg("Position liquidity flag updated")
			return nil
		}
	}
	return errors.Join(ErrPositionNotActive, fmt.Errorf("position %d", id))
}

// SetShareLock adjusts how many blocks freshly minted shares stay frozen.
func (c *Cellar) SetShareLock(caller common.Address, blocks uint64) error {
	if err := c.authority.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	if blocks > maxShareLockBlocks {
		return errors.Join(ErrInvalidConfiguration,
			fmt.Errorf("share lock %d exceeds maximum %d", blocks, maxShareLockBlocks))
	}
	c.stateMu.Lock()
	c.shareLockBlocks = blocks
	c.stateMu.Unlock()
	c.log.Info().Uint64("blocks", blocks).Msg("Share lock updated")
	return nil
}

// SetSupplyCap adjusts the share supply cap. Zero disables it. Lowering the
// cap below the outstanding supply blocks new deposits without affecting
// existing holders.
func (c *Cellar) SetSupplyCap(caller common.Address, cap sdkmath.Int) error {
	if err := c.authority.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	if cap.IsNil() || cap.IsNegative() {
		return errors.Join(ErrInvalidConfiguration, fmt.Errorf("supply cap %s", cap))
	}
	c.stateMu.Lock()
	c.supplyCap = cap
	c.stateMu.Unlock()
	c.log.Info().Str("cap", cap.String()).Msg("Supply cap updated")
	return nil
}

// SetRateLimit adjusts the rolling-window flow limiter and resets the window.
func (c *Cellar) SetRateLimit(caller common.Address, limit RateLimit) error {
	if err := c.authority.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	if limit.MaxAssets.IsNil() {
		limit.MaxAssets = sdkmath.ZeroInt()
	}
	if limit.MaxAssets.IsNegative() {
		return errors.Join(ErrInvalidConfiguration, fmt.Errorf("rate limit %s", limit.MaxAssets))
	}
	if !limit.MaxAssets.IsZero() && limit.Window <= 0 {
		return errors.Join(ErrInvalidConfiguration, errors.New("rate limit window must be positive"))
	}
	c.stateMu.Lock()
	c.rateLimit = limit
	c.windowStart = c.clock.Now()
	c.windowUsed = sdkmath.ZeroInt()
	c.stateMu.Unlock()
	c.log.Info().Str("maxAssets", limit.MaxAssets.String()).Dur("window", limit.Window).Msg("Rate limit updated")
	return nil
}

// SetRebalanceDeviation adjusts how far a rebalance batch may move total
// assets, capped at 10 percent.
func (c *Cellar) SetRebalanceDeviation(caller common.Address, deviation sdkmath.LegacyDec) error {
	if err := c.authority.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	if deviation.IsNil() || deviation.IsNegative() || deviation.GT(maxRebalanceDeviation) {
		return errors.Join(ErrInvalidConfiguration, fmt.Errorf("rebalance deviation %s", deviation))
	}
	c.stateMu.Lock()
	c.deviation = deviation
	c.stateMu.Unlock()
	c.log.Info().Str("deviation", deviation.String()).Msg("Rebalance deviation updated")
	return nil
}

// SetSwapExecutor installs or replaces the DEX integration adaptor calls swap
// through.
func (c *Cellar) SetSwapExecutor(caller common.Address, executor registry.SwapExecutor) error {
	if err := c.authority.Require(caller, auth.RoleGovernance); err != nil {
		return err
	}
	c.stateMu.Lock()
	c.swap = executor
	c.stateMu.Unlock()
	return nil
}
