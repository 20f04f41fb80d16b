/*

This file contains the liquidation entry point. A position whose debt has
grown past the kill factor of its health can be closed by anyone; the
caller earns a bounty from the realised proceeds and any shortfall is
written off against the lenders.

*/

package ledger

import (
	"fmt"

	sdkmath "cosmossdk.io/math"

	"github.com/leverfarm/dnv/internal/logger"
	"github.com/leverfarm/dnv/internal/types"
)

// Kill liquidates an underwater position. Returns a receipt describing how
// the proceeds were split. A failed liquidation restores the pre-call
// state.
func (v *Vault) Kill(caller string, id types.PositionID) (_ types.KillReceipt, err error) {
	unlock, err := v.lock()
	if err != nil {
		return types.KillReceipt{}, err
	}
	defer unlock()
	v.accrue()

	pos, ok := v.positions[id]
	if !ok {
		return types.KillReceipt{}, ErrPositionNotFound
	}
	if !pos.DebtShare.IsPositive() {
		return types.KillReceipt{}, fmt.Errorf("%w: no debt", ErrCannotLiquidate)
	}
	entry := v.workers[pos.Worker]

	health, err := entry.worker.Health(id)
	if err != nil {
		return types.KillReceipt{}, err
	}
	debt := v.debtShareToVal(pos.DebtShare)
	// Healthy while health * killFactor >= debt * 10000.
	if health.MulRaw(entry.cfg.KillFactorBps).GTE(debt.MulRaw(10000)) {
		return types.KillReceipt{}, fmt.Errorf("%w: health %s, debt %s, kill factor %d bps",
			ErrCannotLiquidate, health, debt, entry.cfg.KillFactorBps)
	}

	revert := v.revertPoint(entry.worker)
	defer func() {
		if err != nil {
			revert()
		}
	}()

	v.removeDebt(pos)
	proceeds, err := entry.worker.Liquidate(id)
	if err != nil {
		return types.KillReceipt{}, err
	}

	prize := proceeds.MulRaw(v.params.KillPrizeBps).QuoRaw(10000)
	treasuryFee := proceeds.MulRaw(v.params.KillTreasuryBps).QuoRaw(10000)
	if prize.Add(treasuryFee).GT(proceeds) {
		prize = proceeds
		treasuryFee = sdkmath.ZeroInt()
	}
	if prize.IsPositive() {
		if err := v.bank.SendCoin(v.Account(), caller, v.baseDenom, prize); err != nil {
			return types.KillReceipt{}, err
		}
	}
	if treasuryFee.IsPositive() && v.params.TreasuryAccount != "" {
		if err := v.bank.SendCoin(v.Account(), v.params.TreasuryAccount, v.baseDenom, treasuryFee); err != nil {
			return types.KillReceipt{}, err
		}
	}

	rest := proceeds.Sub(prize).Sub(treasuryFee)
	badDebt := sdkmath.ZeroInt()
	leftover := sdkmath.ZeroInt()
	if rest.LT(debt) {
		// Shortfall is absorbed by the lenders via totalToken.
		badDebt = debt.Sub(rest)
	} else {
		leftover = rest.Sub(debt)
		if leftover.IsPositive() {
			if err := v.bank.SendCoin(v.Account(), pos.Owner, v.baseDenom, leftover); err != nil {
				return types.KillReceipt{}, err
			}
		}
	}

	receipt := types.KillReceipt{
		VaultName:   v.name,
		PositionID:  id,
		Caller:      caller,
		Proceeds:    proceeds,
		Debt:        debt,
		Prize:       prize,
		TreasuryFee: treasuryFee,
		BadDebt:     badDebt,
		Leftover:    leftover,
		Timestamp:   v.clock(),
	}

	log := logger.GetForComponent("ledger")
	log.Warn().
		Str("vault", v.name).
		Uint64("position_id", uint64(id)).
		Str("caller", caller).
		Str("debt", debt.String()).
		Str("proceeds", proceeds.String()).
		Str("prize", prize.String()).
		Str("bad_debt", badDebt.String()).
		Msg("Position killed")
	return receipt, nil
}
