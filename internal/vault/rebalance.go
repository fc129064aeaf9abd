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

// configSnapshot freezes the governance-tunable surface before a rebalance so
// the batch can be checked for privilege escalation afterwards. Adaptors have
// no structural path to any of these fields; the comparison is a backstop.
type configSnapshot struct {
	positions       []types.PositionID
	holdingPosition types.PositionID
	shareLockBlocks uint64
	supplyCap       sdkmath.Int
	deviation       sdkmath.LegacyDec
}

func (c *Cellar) snapshotConfig() configSnapshot {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return configSnapshot{
		positions:       append([]types.PositionID(nil), c.positions...),
		holdingPosition: c.holdingPosition,
		shareLockBlocks: c.shareLockBlocks,
		supplyCap:       c.supplyCap,
		deviation:       c.deviation,
	}
}

func (c *Cellar) configMatches(snap configSnapshot) bool {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	if len(c.positions) != len(snap.positions) {
		return false
	}
	for i, id := range c.positions {
		if id != snap.positions[i] {
			return false
		}
	}
	return c.holdingPosition == snap.holdingPosition &&
		c.shareLockBlocks == snap.shareLockBlocks &&
		c.supplyCap.Equal(snap.supplyCap) &&
		c.deviation.Equal(snap.deviation)
}

// CallOnAdaptor executes a strategist rebalance batch. Each payload runs
// against a sandboxed asset context bound to its adaptor's escrow; adaptor
// trust is re-checked before every payload so a mid-batch distrust takes
// effect immediately. The whole batch is atomic: any payload failure, a
// privilege-escalation hit, or a total-assets move beyond the allowed
// deviation rolls back every ledger and every stateful adaptor.
func (c *Cellar) CallOnAdaptor(caller common.Address, calls []types.AdaptorCall) error {
	if err := c.authority.Require(caller, auth.RoleStrategist); err != nil {
		return err
	}
	if err := c.acquire(); err != nil {
		return err
	}
	defer c.release()

	if len(calls) == 0 {
		return errors.New("rebalance batch is empty")
	}

	pre, err := c.TotalAssets()
	if err != nil {
		return fmt.Errorf("valuing vault before rebalance: %w", err)
	}
	cfgSnap := c.snapshotConfig()
	bankSnap := c.bank.Snapshot()
	adaptorSnaps, err := c.snapshotAdaptors(calls)
	if err != nil {
		return err
	}
	restore := func() {
		c.bank.Restore(bankSnap)
		for adaptor, state := range adaptorSnaps {
			if restoreErr := adaptor.RestoreState(state); restoreErr != nil {
				c.log.Error().Err(restoreErr).
					Str("adaptor", adaptor.ID().Hex()).
					Msg("Failed to restore adaptor state after rebalance rollback")
			}
		}
	}

	c.stateMu.Lock()
	c.rebalancing = true
	c.stateMu.Unlock()
	defer func() {
		c.stateMu.Lock()
		c.rebalancing = false
		c.stateMu.Unlock()
	}()

	for i, call := range calls {
		// Trust is re-read from the registry per payload, not cached for the
		// batch.
		if !c.registry.IsAdaptorTrusted(call.Adaptor) {
			restore()
			return errors.Join(registry.ErrUntrustedAdaptor,
				fmt.Errorf("call %d: adaptor %s", i, call.Adaptor.Hex()))
		}
		adaptor, err := c.registry.Adaptor(call.Adaptor)
		if err != nil {
			restore()
			return fmt.Errorf("call %d: %w", i, err)
		}
		ctx := &adaptorContext{cellar: c, escrow: adaptor.Escrow()}
		for j, payload := range call.CallData {
			if err := adaptor.Execute(ctx, payload); err != nil {
				restore()
				return fmt.Errorf("call %d payload %d on adaptor %s: %w", i, j, call.Adaptor.Hex(), err)
			}
		}
	}

	if !c.configMatches(cfgSnap) {
		restore()
		return ErrPrivilegeEscalation
	}

	post, err := c.TotalAssets()
	if err != nil {
		restore()
		return fmt.Errorf("valuing vault after rebalance: %w", err)
	}
	if err := c.checkDeviation(pre, post); err != nil {
		restore()
		return err
	}

	c.log.Info().
		Int("calls", len(calls)).
		Str("totalAssetsBefore", pre.String()).
		Str("totalAssetsAfter", post.String()).
		Msg("Rebalance completed")
	return nil
}

// snapshotAdaptors collects internal-state snapshots for every distinct
// stateful adaptor the batch touches.
func (c *Cellar) snapshotAdaptors(calls []types.AdaptorCall) (map[registry.StatefulAdaptor]any, error) {
	snaps := make(map[registry.StatefulAdaptor]any)
	seen := make(map[common.Address]bool, len(calls))
	for _, call := range calls {
		if seen[call.Adaptor] {
			continue
		}
		seen[call.Adaptor] = true
		adaptor, err := c.registry.Adaptor(call.Adaptor)
		if err != nil {
			return nil, err
		}
		if stateful, ok := adaptor.(registry.StatefulAdaptor); ok {
			snaps[stateful] = stateful.SnapshotState()
		}
	}
	return snaps, nil
}

// checkDeviation enforces the symmetric total-assets band around the
// pre-rebalance value. The band is two-sided: a batch that grows total assets
// past the ceiling fails exactly like one that shrinks them past the floor.
func (c *Cellar) checkDeviation(pre, post sdkmath.Int) error {
	c.stateMu.RLock()
	deviation := c.deviation
	c.stateMu.RUnlock()

	preDec := sdkmath.LegacyNewDecFromInt(pre)
	floor := preDec.Mul(sdkmath.LegacyOneDec().Sub(deviation)).TruncateInt()
	ceil := preDec.Mul(sdkmath.LegacyOneDec().Add(deviation)).Ceil().TruncateInt()
	if post.LT(floor) || post.GT(ceil) {
		return errors.Join(ErrAccountingDeviation,
			fmt.Errorf("total assets moved %s to %s, allowed band [%s, %s]", pre, post, floor, ceil))
	}
	return nil
}

// adaptorContext is the registry.AssetContext handed to one adaptor for the
// duration of its payloads. Escrow transfers are hard-bound to that adaptor's
// own escrow account, so an adaptor can never route vault assets to an
// arbitrary address.
type adaptorContext struct {
	cellar *Cellar
	escrow common.Address
}

func (a *adaptorContext) Address() common.Address { return a.cellar.cfg.Address }

func (a *adaptorContext) Balance(asset types.Asset) (sdkmath.Int, error) {
	return a.cellar.Balance(asset)
}

func (a *adaptorContext) Swap(in types.Coin, outAsset types.Asset, minOut sdkmath.Int) (sdkmath.Int, error) {
	a.cellar.stateMu.RLock()
	executor := a.cellar.swap
	a.cellar.stateMu.RUnlock()
	if executor == nil {
		return sdkmath.Int{}, ErrNoSwapExecutor
	}
	out, err := executor.Swap(a.cellar.cfg.Address, in, outAsset, minOut)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("swap %s %s for %s: %w", in.Amount, in.Asset.Symbol, outAsset.Symbol, err)
	}
	if out.LT(minOut) {
		return sdkmath.Int{}, errors.Join(ErrSwapSlippage,
			fmt.Errorf("received %s, required %s", out, minOut))
	}
	return out, nil
}

func (a *adaptorContext) TransferToEscrow(asset types.Asset, amount sdkmath.Int) error {
	return a.escrowTransfer(asset, a.cellar.cfg.Address, a.escrow, amount)
}

func (a *adaptorContext) TransferFromEscrow(asset types.Asset, amount sdkmath.Int) error {
	return a.escrowTransfer(asset, a.escrow, a.cellar.cfg.Address, amount)
}

func (a *adaptorContext) escrowTransfer(asset types.Asset, from, to common.Address, amount sdkmath.Int) error {
	ledger, err := a.cellar.bank.Ledger(asset)
	if err != nil {
		return err
	}
	return ledger.Transfer(from, to, amount)
}

var _ registry.AssetContext = (*adaptorContext)(nil)
