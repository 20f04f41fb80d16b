/*

This file contains the planning algebra. For target leverage L the stable
side holds (L-2)/(2L-2) of total equity and the asset side L/(2L-2), each
levered to debt = equity*(L-1); at that split the farm-token exposure of
the two sides cancels. Plans move each side toward its target, scaling
debt deltas down by the tolerance so slippage cannot overshoot.

*/

package neutral

import (
	sdkmath "cosmossdk.io/math"

	"github.com/leverfarm/dnv/internal/types"
)

// sideTarget is the dollar-space target for one side.
type sideTarget struct {
	equity sdkmath.LegacyDec
	debt   sdkmath.LegacyDec
}

// targets splits totalEquity between the sides for the configured leverage.
// Caller must hold the lock.
func (v *Vault) targets(totalEquity sdkmath.LegacyDec) (stable, asset sideTarget) {
	l := sdkmath.LegacyNewDec(v.cfg.TargetLeverage)
	den := l.MulInt64(2).Sub(sdkmath.LegacyNewDec(2)) // 2L - 2
	lev := l.Sub(sdkmath.LegacyOneDec())              // L - 1

	stable.equity = totalEquity.Mul(l.Sub(sdkmath.LegacyNewDec(2))).Quo(den)
	asset.equity = totalEquity.Mul(l).Quo(den)
	stable.debt = stable.equity.Mul(lev)
	asset.debt = asset.equity.Mul(lev)
	return stable, asset
}

// toleranceScale is (10000 - toleranceBps) / 10000.
func (v *Vault) toleranceScale() sdkmath.LegacyDec {
	return sdkmath.LegacyNewDec(bpsDenominator - v.cfg.ToleranceBps).QuoInt64(bpsDenominator)
}

// prices returns the feed prices of both base denoms. Caller must hold the
// lock.
func (v *Vault) prices() (stablePrice, assetPrice sdkmath.LegacyDec, err error) {
	stablePrice, _, err = v.feeds.TokenPrice(v.stableDenom)
	if err != nil {
		return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, err
	}
	assetPrice, _, err = v.feeds.TokenPrice(v.assetDenom)
	if err != nil {
		return sdkmath.LegacyDec{}, sdkmath.LegacyDec{}, err
	}
	return stablePrice, assetPrice, nil
}

func decMax(a, b sdkmath.LegacyDec) sdkmath.LegacyDec {
	if a.GT(b) {
		return a
	}
	return b
}

// planAdd builds the collateral-and-borrow action that moves one side from
// its current state toward target. The equity delta is split half base,
// half farm token so the two-sided join trades as little as possible.
func (v *Vault) planAdd(sideName types.SideName, s *side, info types.SideInfo, target sideTarget,
	basePrice, farmPrice sdkmath.LegacyDec) types.WorkAction {
	zero := sdkmath.LegacyZeroDec()
	currentEq := info.PositionValue.Sub(info.DebtValue)
	deltaEq := decMax(target.equity.Sub(currentEq), zero)
	deltaDebt := decMax(target.debt.Sub(info.DebtValue), zero).Mul(v.toleranceScale())

	action := types.NewWorkAction(sideName, s.positionID, s.worker.Name(), types.StrategyAddTwoSides)
	half := deltaEq.QuoInt64(2)
	action.Principal = half.Quo(basePrice).TruncateInt()
	action.Payload.FarmAmount = half.Quo(farmPrice).TruncateInt()
	action.Borrow = deltaDebt.Quo(basePrice).TruncateInt()
	return action
}

// planClose builds the partial-close action that moves one side down toward
// target by repaying debt and freeing equity. Repayment aims at the exact
// target debt; only the equity removal gets the tolerance haircut, so the
// post-close ratio check always has headroom.
func (v *Vault) planClose(sideName types.SideName, s *side, info types.SideInfo, target sideTarget,
	basePrice sdkmath.LegacyDec) types.WorkAction {
	zero := sdkmath.LegacyZeroDec()
	currentEq := info.PositionValue.Sub(info.DebtValue)
	repay := decMax(info.DebtValue.Sub(target.debt), zero)
	eqRemove := decMax(currentEq.Sub(target.equity), zero).Mul(v.toleranceScale())

	action := types.NewWorkAction(sideName, s.positionID, s.worker.Name(), types.StrategyPartialClose)
	valueRemove := repay.Add(eqRemove)
	if info.PositionValue.IsPositive() {
		action.Payload.MaxLPToLiquidate = valueRemove.MulInt(info.LPBalance).Quo(info.PositionValue).TruncateInt()
	}
	repayTokens := repay.Quo(basePrice).TruncateInt()
	action.Payload.MaxDebtRepayment = repayTokens
	action.MaxReturn = repayTokens
	return action
}

// PlanDeposit returns the actions that lever a fresh deposit of the given
// dollar value into both sides.
func (v *Vault) PlanDeposit(depositValue sdkmath.LegacyDec) ([]types.WorkAction, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	info, err := v.positionInfo()
	if err != nil {
		return nil, err
	}
	return v.planDeposit(info, depositValue)
}

func (v *Vault) planDeposit(info types.PositionInfo, depositValue sdkmath.LegacyDec) ([]types.WorkAction, error) {
	stablePrice, assetPrice, err := v.prices()
	if err != nil {
		return nil, err
	}
	stableTarget, assetTarget := v.targets(info.TotalEquityValue.Add(depositValue))
	return []types.WorkAction{
		v.planAdd(types.StableSide, &v.stable, info.Stable, stableTarget, stablePrice, assetPrice),
		v.planAdd(types.AssetSide, &v.asset, info.Asset, assetTarget, assetPrice, stablePrice),
	}, nil
}

// PlanWithdraw returns the actions that unwind the given dollar value from
// both sides.
func (v *Vault) PlanWithdraw(withdrawValue sdkmath.LegacyDec) ([]types.WorkAction, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	info, err := v.positionInfo()
	if err != nil {
		return nil, err
	}
	return v.planWithdraw(info, withdrawValue)
}

func (v *Vault) planWithdraw(info types.PositionInfo, withdrawValue sdkmath.LegacyDec) ([]types.WorkAction, error) {
	stablePrice, assetPrice, err := v.prices()
	if err != nil {
		return nil, err
	}
	remaining := decMax(info.TotalEquityValue.Sub(withdrawValue), sdkmath.LegacyZeroDec())
	stableTarget, assetTarget := v.targets(remaining)
	return []types.WorkAction{
		v.planClose(types.StableSide, &v.stable, info.Stable, stableTarget, stablePrice),
		v.planClose(types.AssetSide, &v.asset, info.Asset, assetTarget, assetPrice),
	}, nil
}

// PlanRebalance returns the actions that move both sides back to the target
// split at unchanged total equity. Closes are ordered before adds so the
// freed base tokens can fund the other side's top-up.
func (v *Vault) PlanRebalance() ([]types.WorkAction, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	info, err := v.positionInfo()
	if err != nil {
		return nil, err
	}
	return v.planRebalance(info)
}

func (v *Vault) planRebalance(info types.PositionInfo) ([]types.WorkAction, error) {
	stablePrice, assetPrice, err := v.prices()
	if err != nil {
		return nil, err
	}
	stableTarget, assetTarget := v.targets(info.TotalEquityValue)

	var closes, adds []types.WorkAction
	plan := func(sideName types.SideName, s *side, si types.SideInfo, target sideTarget, basePrice, farmPrice sdkmath.LegacyDec) {
		if si.DebtValue.GT(target.debt) {
			closes = append(closes, v.planClose(sideName, s, si, target, basePrice))
			return
		}
		action := v.planAdd(sideName, s, si, target, basePrice, farmPrice)
		if action.Principal.IsPositive() || action.Borrow.IsPositive() || action.Payload.FarmAmount.IsPositive() {
			adds = append(adds, action)
		}
	}
	plan(types.StableSide, &v.stable, info.Stable, stableTarget, stablePrice, assetPrice)
	plan(types.AssetSide, &v.asset, info.Asset, assetTarget, assetPrice, stablePrice)
	return append(closes, adds...), nil
}
