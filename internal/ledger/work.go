/*

This file contains the leveraged entry points: work reshapes a position
with fresh principal and borrowed funds, addCollateral tops one up without
borrowing. Both validate everything they can up front and take a revert
point before the first effect, so an error anywhere restores the books,
the balances, and the worker to the pre-call state.

*/

package ledger

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/leverfarm/dnv/internal/logger"
	"github.com/leverfarm/dnv/internal/types"
)

// removeDebt takes a position's debt off the books and returns its value.
// Caller must hold the lock.
func (v *Vault) removeDebt(pos *Position) sdkmath.Int {
	share := pos.DebtShare
	if !share.IsPositive() {
		return sdkmath.ZeroInt()
	}
	debt := v.debtShareToVal(share)
	v.totalDebtShare = v.totalDebtShare.Sub(share)
	v.totalDebtValue = v.totalDebtValue.Sub(debt)
	pos.DebtShare = sdkmath.ZeroInt()
	return debt
}

// addDebt puts debt value back on the books as shares. Caller must hold the
// lock.
func (v *Vault) addDebt(pos *Position, debt sdkmath.Int) {
	if !debt.IsPositive() {
		return
	}
	share := v.debtValToShare(debt)
	pos.DebtShare = pos.DebtShare.Add(share)
	v.totalDebtShare = v.totalDebtShare.Add(share)
	v.totalDebtValue = v.totalDebtValue.Add(debt)
}

// workFactorBps returns the effective work factor for the owner, including
// any boost. Caller must hold the lock.
func (v *Vault) workFactorBps(cfg WorkerConfig, owner, workerName string) int64 {
	factor := cfg.WorkFactorBps
	if v.boost != nil {
		factor += v.boost.WorkFactorBonusBps(owner, workerName)
	}
	return factor
}

// Work opens (id == 0) or reshapes a leveraged position: principal comes
// from the caller, borrow from idle liquidity, and the strategy payload
// decides how the worker converts them. Proceeds the worker sends back
// repay debt up to maxReturn; any surplus is refunded to the owner.
func (v *Vault) Work(caller string, id types.PositionID, workerName string, principal, borrow, maxReturn sdkmath.Int, payload types.StrategyPayload) (_ types.PositionID, err error) {
	unlock, err := v.lock()
	if err != nil {
		return 0, err
	}
	defer unlock()
	v.accrue()

	entry, ok := v.workers[workerName]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnapprovedWorker, workerName)
	}

	var pos *Position
	if id != 0 {
		pos, ok = v.positions[id]
		if !ok {
			return 0, ErrPositionNotFound
		}
		if pos.Owner != caller {
			return 0, ErrNotPositionOwner
		}
		if pos.Worker != workerName {
			return 0, fmt.Errorf("%w: position belongs to %s", ErrUnapprovedWorker, pos.Worker)
		}
	}
	if borrow.IsPositive() {
		if !entry.cfg.AcceptsDebt {
			return 0, ErrWorkerNotAcceptDebt
		}
		if borrow.GT(v.bank.Balance(v.Account(), v.baseDenom)) {
			return 0, ErrInsufficientLiquidity
		}
	}

	// Every effect past this point is rolled back on error.
	revert := v.revertPoint(entry.worker)
	defer func() {
		if err != nil {
			revert()
		}
	}()

	if id == 0 {
		pos = &Position{ID: v.nextID, Owner: caller, Worker: workerName, DebtShare: sdkmath.ZeroInt()}
		v.positions[pos.ID] = pos
		v.nextID++
	}

	debt := v.removeDebt(pos)
	if borrow.IsPositive() {
		debt = debt.Add(borrow)
	}

	if principal.IsPositive() {
		if err := v.bank.SendCoin(caller, entry.worker.Account(), v.baseDenom, principal); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
		}
	}
	if borrow.IsPositive() {
		if err := v.bank.SendCoin(v.Account(), entry.worker.Account(), v.baseDenom, borrow); err != nil {
			return 0, err
		}
	}

	before := v.bank.Balance(v.Account(), v.baseDenom)
	if err := entry.worker.Work(pos.ID, pos.Owner, debt, payload); err != nil {
		return 0, err
	}
	back := v.bank.Balance(v.Account(), v.baseDenom).Sub(before)

	lessDebt := sdkmath.MinInt(debt, sdkmath.MinInt(back, maxReturn))
	debt = debt.Sub(lessDebt)

	if debt.IsPositive() {
		if debt.LT(v.params.MinDebtSize) {
			return 0, fmt.Errorf("%w: %s < %s", ErrTooSmallDebtSize, debt, v.params.MinDebtSize)
		}
		health, err := entry.worker.Health(pos.ID)
		if err != nil {
			return 0, err
		}
		factor := v.workFactorBps(entry.cfg, pos.Owner, workerName)
		if health.MulRaw(factor).LT(debt.MulRaw(10000)) {
			return 0, fmt.Errorf("%w: health %s, debt %s, work factor %d bps", ErrBadWorkFactor, health, debt, factor)
		}
	}
	v.addDebt(pos, debt)

	if back.GT(lessDebt) {
		refund := back.Sub(lessDebt)
		if err := v.bank.SendCoin(v.Account(), pos.Owner, v.baseDenom, refund); err != nil {
			return 0, err
		}
	}

	log := logger.GetForComponent("ledger")
	log.Info().
		Str("vault", v.name).
		Uint64("position_id", uint64(pos.ID)).
		Str("owner", pos.Owner).
		Str("worker", workerName).
		Str("principal", principal.String()).
		Str("borrow", borrow.String()).
		Str("debt", debt.String()).
		Str("strategy", string(payload.Kind)).
		Msg("Work executed")
	return pos.ID, nil
}

// AddCollateral tops up an existing position without borrowing. Only
// collateral-increasing strategies are allowed. The post-work margin is
// checked against the kill factor, since adding collateral only has to
// leave the position out of liquidation range; whitelisted callers may set
// allowUnstable to skip the check when pool prices are momentarily skewed.
func (v *Vault) AddCollateral(caller string, id types.PositionID, amount sdkmath.Int, allowUnstable bool, payload types.StrategyPayload) (err error) {
	if payload.Kind != types.StrategyAddBaseOnly && payload.Kind != types.StrategyAddTwoSides {
		return fmt.Errorf("%w: %s is not collateral-increasing", ErrUnapprovedWorker, payload.Kind)
	}
	unlock, err := v.lock()
	if err != nil {
		return err
	}
	defer unlock()
	v.accrue()

	pos, ok := v.positions[id]
	if !ok {
		return ErrPositionNotFound
	}
	if pos.Owner != caller {
		return ErrNotPositionOwner
	}
	if allowUnstable && !v.whitelisted[caller] {
		return ErrNotWhitelistedCaller
	}
	entry := v.workers[pos.Worker]

	revert := v.revertPoint(entry.worker)
	defer func() {
		if err != nil {
			revert()
		}
	}()

	debt := v.removeDebt(pos)
	if amount.IsPositive() {
		if err := v.bank.SendCoin(caller, entry.worker.Account(), v.baseDenom, amount); err != nil {
			return fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
		}
	}
	if err := entry.worker.Work(pos.ID, pos.Owner, debt, payload); err != nil {
		return err
	}

	if debt.IsPositive() && !allowUnstable {
		health, err := entry.worker.Health(pos.ID)
		if err != nil {
			return err
		}
		if health.MulRaw(entry.cfg.KillFactorBps).LT(debt.MulRaw(10000)) {
			return fmt.Errorf("%w: health %s, debt %s, kill factor %d bps", ErrUnsafePosition, health, debt, entry.cfg.KillFactorBps)
		}
	}
	v.addDebt(pos, debt)
	return nil
}
