/*

This file contains the orchestrator's mutating operations. Every one of
them re-values both sides at oracle prices before and after acting, and
refuses to finish if the books moved more than the configured tolerance.
Each operation takes an engine snapshot before its first effect; an error
anywhere, including a failed post-check, rolls the whole batch back.

*/

package neutral

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/leverfarm/dnv/internal/logger"
	"github.com/leverfarm/dnv/internal/types"
)

// sideFor resolves an action's side. Caller must hold the lock.
func (v *Vault) sideFor(name types.SideName) *side {
	if name == types.StableSide {
		return &v.stable
	}
	return &v.asset
}

// execute runs a plan against the underlying vaults. Principal and farm
// amounts are clamped to what the orchestrator account actually holds so a
// close that freed slightly less than planned cannot fail the follow-up
// add. Caller must hold the lock.
func (v *Vault) execute(actions []types.WorkAction) error {
	for _, action := range actions {
		s := v.sideFor(action.Side)
		baseDenom := s.ledger.BaseDenom()
		farmDenom := v.assetDenom
		if action.Side == types.AssetSide {
			farmDenom = v.stableDenom
		}

		principal := sdkmath.MinInt(action.Principal, v.bank.Balance(v.Account(), baseDenom))
		payload := action.Payload
		payload.FarmAmount = sdkmath.MinInt(payload.FarmAmount, v.bank.Balance(v.Account(), farmDenom))

		id, err := s.ledger.Work(v.Account(), action.PositionID, action.Worker, principal, action.Borrow, action.MaxReturn, payload)
		if err != nil {
			return fmt.Errorf("%s side: %w", action.Side, err)
		}
		if action.PositionID == 0 {
			s.positionID = id
		}
	}
	return nil
}

// withinTolerance reports whether actual is within toleranceBps of expected.
func (v *Vault) withinTolerance(actual, expected sdkmath.LegacyDec) bool {
	allowed := expected.Abs().MulInt64(v.cfg.ToleranceBps).QuoInt64(bpsDenominator)
	return actual.Sub(expected).Abs().LTE(allowed)
}

// checkDebtRatios rejects a side whose debt overshot its target. Planned
// borrows are scaled down by the tolerance, so only an overshoot can mean
// the pool moved against the plan mid-flight. Caller must hold the lock.
func (v *Vault) checkDebtRatios(info types.PositionInfo) error {
	stableTarget, assetTarget := v.targets(info.TotalEquityValue)
	scale := sdkmath.LegacyNewDec(bpsDenominator + v.cfg.ToleranceBps).QuoInt64(bpsDenominator)
	if info.Stable.DebtValue.GT(stableTarget.debt.Mul(scale)) {
		return fmt.Errorf("%w: stable debt %s, target %s", ErrUnsafeDebtValue, info.Stable.DebtValue, stableTarget.debt)
	}
	if info.Asset.DebtValue.GT(assetTarget.debt.Mul(scale)) {
		return fmt.Errorf("%w: asset debt %s, target %s", ErrUnsafeDebtValue, info.Asset.DebtValue, assetTarget.debt)
	}
	return nil
}

// checkValueLimit enforces the combined position value cap. Caller must
// hold the lock.
func (v *Vault) checkValueLimit(info types.PositionInfo) error {
	if !v.cfg.PositionValueLimit.IsPositive() {
		return nil
	}
	total := info.Stable.PositionValue.Add(info.Asset.PositionValue)
	if total.GT(v.cfg.PositionValueLimit) {
		return fmt.Errorf("%w: %s > %s", ErrPositionValueExceedLimit, total, v.cfg.PositionValueLimit)
	}
	return nil
}

// pullDeposit moves the caller's tokens into the orchestrator account and
// returns their dollar value. Caller must hold the lock.
func (v *Vault) pullDeposit(caller string, stableAmount, assetAmount sdkmath.Int) (sdkmath.LegacyDec, error) {
	stablePrice, assetPrice, err := v.prices()
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	coins := sdk.Coins{}
	if stableAmount.IsPositive() {
		coins = coins.Add(sdk.NewCoin(v.stableDenom, stableAmount))
	}
	if assetAmount.IsPositive() {
		coins = coins.Add(sdk.NewCoin(v.assetDenom, assetAmount))
	}
	if err := v.bank.Send(caller, v.Account(), coins); err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return stablePrice.MulInt(stableAmount).Add(assetPrice.MulInt(assetAmount)), nil
}

// InitPositions opens the two leveraged positions with the first deposit.
// Callable exactly once; the first mint equals the deposit's dollar value.
func (v *Vault) InitPositions(caller string, stableAmount, assetAmount, minShares sdkmath.Int) (_ sdkmath.Int, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.initialized {
		return sdkmath.Int{}, ErrPositionsAlreadyInitialized
	}
	info, err := v.positionInfo()
	if err != nil {
		return sdkmath.Int{}, err
	}
	if err := v.checkFreshness(info); err != nil {
		return sdkmath.Int{}, err
	}

	revert := v.snapshotEngine()
	defer func() {
		if err != nil {
			revert()
		}
	}()

	depositValue, err := v.pullDeposit(caller, stableAmount, assetAmount)
	if err != nil {
		return sdkmath.Int{}, err
	}
	actions, err := v.planDeposit(info, depositValue)
	if err != nil {
		return sdkmath.Int{}, err
	}
	// New positions, so both actions open with id 0.
	for i := range actions {
		actions[i].PositionID = 0
	}
	if err := v.execute(actions); err != nil {
		return sdkmath.Int{}, err
	}
	v.initialized = true
	v.lastFeeCollected = v.clock()

	after, err := v.positionInfo()
	if err != nil {
		return sdkmath.Int{}, err
	}
	if err := v.checkDebtRatios(after); err != nil {
		return sdkmath.Int{}, err
	}
	if err := v.checkValueLimit(after); err != nil {
		return sdkmath.Int{}, err
	}

	shares := depositValue.TruncateInt()
	if shares.LT(minShares) {
		return sdkmath.Int{}, fmt.Errorf("%w: %s shares", ErrTooLittleReceived, shares)
	}
	if err := v.mintShares(caller, shares); err != nil {
		return sdkmath.Int{}, err
	}
	log := logger.GetForComponent("neutral")
	log.Info().
		Str("vault", v.cfg.Name).
		Uint64("stable_position", uint64(v.stable.positionID)).
		Uint64("asset_position", uint64(v.asset.positionID)).
		Str("deposit_value", depositValue.String()).
		Str("shares", shares.String()).
		Msg("Positions initialized")
	return shares, nil
}

// Deposit levers the caller's tokens into both sides and mints shares at
// the pre-deposit equity per share.
func (v *Vault) Deposit(caller string, stableAmount, assetAmount, minShares sdkmath.Int) (_ sdkmath.Int, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.initialized {
		return sdkmath.Int{}, ErrPositionsNotInitialized
	}
	if err := v.collectManagementFee(); err != nil {
		return sdkmath.Int{}, err
	}
	before, err := v.positionInfo()
	if err != nil {
		return sdkmath.Int{}, err
	}
	if err := v.checkFreshness(before); err != nil {
		return sdkmath.Int{}, err
	}

	revert := v.snapshotEngine()
	defer func() {
		if err != nil {
			revert()
		}
	}()

	depositValue, err := v.pullDeposit(caller, stableAmount, assetAmount)
	if err != nil {
		return sdkmath.Int{}, err
	}
	actions, err := v.planDeposit(before, depositValue)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if err := v.execute(actions); err != nil {
		return sdkmath.Int{}, err
	}

	after, err := v.positionInfo()
	if err != nil {
		return sdkmath.Int{}, err
	}
	if !v.withinTolerance(after.TotalEquityValue, before.TotalEquityValue.Add(depositValue)) {
		return sdkmath.Int{}, fmt.Errorf("%w: equity %s, expected %s",
			ErrUnsafePositionEquity, after.TotalEquityValue, before.TotalEquityValue.Add(depositValue))
	}
	if err := v.checkDebtRatios(after); err != nil {
		return sdkmath.Int{}, err
	}
	if err := v.checkValueLimit(after); err != nil {
		return sdkmath.Int{}, err
	}

	shares := v.valueToShare(depositValue, before.TotalEquityValue)
	feeShares := sdkmath.ZeroInt()
	if v.cfg.DepositFeeBps > 0 && !v.feeExempt[caller] {
		feeShares = shares.MulRaw(v.cfg.DepositFeeBps).QuoRaw(bpsDenominator)
	}
	net := shares.Sub(feeShares)
	if net.LT(minShares) {
		return sdkmath.Int{}, fmt.Errorf("%w: %s shares", ErrTooLittleReceived, net)
	}
	if err := v.mintShares(caller, net); err != nil {
		return sdkmath.Int{}, err
	}
	if feeShares.IsPositive() {
		if err := v.mintShares(v.cfg.TreasuryAccount, feeShares); err != nil {
			return sdkmath.Int{}, err
		}
	}
	return net, nil
}

// Withdraw unwinds the share's slice of both positions and pays the freed
// tokens out to the caller. Shares are burned and fees taken only after
// every post-check has passed.
func (v *Vault) Withdraw(caller string, shares, minStable, minAsset sdkmath.Int) (stableOut, assetOut sdkmath.Int, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	zero := sdkmath.Int{}
	if !v.initialized {
		return zero, zero, ErrPositionsNotInitialized
	}
	if err := v.collectManagementFee(); err != nil {
		return zero, zero, err
	}
	before, err := v.positionInfo()
	if err != nil {
		return zero, zero, err
	}
	if err := v.checkFreshness(before); err != nil {
		return zero, zero, err
	}

	feeShares := sdkmath.ZeroInt()
	if v.cfg.WithdrawFeeBps > 0 && !v.feeExempt[caller] {
		feeShares = shares.MulRaw(v.cfg.WithdrawFeeBps).QuoRaw(bpsDenominator)
	}
	net := shares.Sub(feeShares)
	supply := v.shareSupply()
	if !supply.IsPositive() || net.GT(supply) {
		return zero, zero, fmt.Errorf("%w: %s shares", ErrTooLittleReceived, net)
	}
	withdrawValue := before.TotalEquityValue.MulInt(net).QuoInt(supply)

	actions, err := v.planWithdraw(before, withdrawValue)
	if err != nil {
		return zero, zero, err
	}

	revert := v.snapshotEngine()
	defer func() {
		if err != nil {
			revert()
		}
	}()

	stableBefore := v.bank.Balance(v.Account(), v.stableDenom)
	assetBefore := v.bank.Balance(v.Account(), v.assetDenom)
	if err := v.execute(actions); err != nil {
		return zero, zero, err
	}

	after, err := v.positionInfo()
	if err != nil {
		return zero, zero, err
	}
	if !v.withinTolerance(after.TotalEquityValue, before.TotalEquityValue.Sub(withdrawValue)) {
		return zero, zero, fmt.Errorf("%w: equity %s, expected %s",
			ErrUnsafeOutstanding, after.TotalEquityValue, before.TotalEquityValue.Sub(withdrawValue))
	}
	if err := v.checkDebtRatios(after); err != nil {
		return zero, zero, err
	}

	stableOut = v.bank.Balance(v.Account(), v.stableDenom).Sub(stableBefore)
	assetOut = v.bank.Balance(v.Account(), v.assetDenom).Sub(assetBefore)
	if stableOut.LT(minStable) || assetOut.LT(minAsset) {
		return zero, zero, fmt.Errorf("%w: %s %s / %s %s",
			ErrTooLittleReceived, stableOut, v.stableDenom, assetOut, v.assetDenom)
	}

	if feeShares.IsPositive() {
		if err := v.bank.SendCoin(caller, v.cfg.TreasuryAccount, v.ShareDenom(), feeShares); err != nil {
			return zero, zero, err
		}
	}
	if err := v.burnShares(caller, net); err != nil {
		return zero, zero, err
	}
	coins := sdk.Coins{}
	if stableOut.IsPositive() {
		coins = coins.Add(sdk.NewCoin(v.stableDenom, stableOut))
	}
	if assetOut.IsPositive() {
		coins = coins.Add(sdk.NewCoin(v.assetDenom, assetOut))
	}
	if err := v.bank.Send(v.Account(), caller, coins); err != nil {
		return zero, zero, err
	}
	return stableOut, assetOut, nil
}

// Rebalance moves both sides back to the target split. Only whitelisted
// rebalancers may call it. Returns the plan and the before/after views for
// snapshotting.
func (v *Vault) Rebalance(caller string) (_ []types.WorkAction, _ types.PositionInfo, _ types.PositionInfo, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var none types.PositionInfo
	if !v.rebalancers[caller] {
		return nil, none, none, ErrNotWhitelistedRebalancer
	}
	if !v.initialized {
		return nil, none, none, ErrPositionsNotInitialized
	}
	before, err := v.positionInfo()
	if err != nil {
		return nil, none, none, err
	}
	if err := v.checkFreshness(before); err != nil {
		return nil, none, none, err
	}
	actions, err := v.planRebalance(before)
	if err != nil {
		return nil, none, none, err
	}

	revert := v.snapshotEngine()
	defer func() {
		if err != nil {
			revert()
		}
	}()

	if err := v.execute(actions); err != nil {
		return nil, none, none, err
	}
	after, err := v.positionInfo()
	if err != nil {
		return nil, none, none, err
	}
	if !v.withinTolerance(after.TotalEquityValue, before.TotalEquityValue) {
		return nil, none, none, fmt.Errorf("%w: equity %s -> %s",
			ErrUnsafePositionEquity, before.TotalEquityValue, after.TotalEquityValue)
	}
	if err := v.checkDebtRatios(after); err != nil {
		return nil, none, none, err
	}
	return actions, before, after, nil
}

// Reinvest compounds farm rewards on both sides. Only whitelisted
// reinvestors may call it. A failure on either side rolls both back.
func (v *Vault) Reinvest(caller string) (err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.reinvestors[caller] {
		return ErrNotWhitelistedReinvestor
	}

	revert := v.snapshotEngine()
	defer func() {
		if err != nil {
			revert()
		}
	}()

	if err := v.stable.worker.Reinvest(caller); err != nil {
		return err
	}
	return v.asset.worker.Reinvest(caller)
}
