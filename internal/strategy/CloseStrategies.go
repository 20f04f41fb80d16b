/*

This file contains the three position-reducing strategies. All of them break
LP held in the operating account back into the two legs; they differ in how
much they break and how much of the farm leg gets sold.

*/

package strategy

import (
	sdkmath "cosmossdk.io/math"

	"github.com/leverfarm/dnv/internal/amm"
	"github.com/leverfarm/dnv/internal/types"
)

// Liquidate converts the entire LP holding of the operating account into
// base tokens.
type Liquidate struct {
	Context
}

func (s *Liquidate) Kind() types.StrategyKind { return types.StrategyLiquidate }

func (s *Liquidate) Execute(account, owner string, debt sdkmath.Int, payload types.StrategyPayload) error {
	baseBefore := s.Bank.Balance(account, s.BaseDenom)
	lp := s.Bank.Balance(account, s.LPDenom)
	if lp.IsPositive() {
		if _, err := s.Router.RemoveLiquidity(account, s.PoolID, lp); err != nil {
			return err
		}
	}
	farmAmt := s.Bank.Balance(account, s.FarmDenom)
	if farmAmt.IsPositive() {
		path := []string{s.FarmDenom, s.BaseDenom}
		if _, err := s.Router.SwapExactTokens(account, farmAmt, path, sdkmath.ZeroInt()); err != nil {
			return err
		}
	}
	received := s.Bank.Balance(account, s.BaseDenom).Sub(baseBefore)
	if received.LT(payload.MinBaseTokens) {
		return wrapMin(ErrInsufficientReceive, received, payload.MinBaseTokens)
	}
	return nil
}

// PartialCloseLiquidate converts up to MaxLPToLiquidate of the account's LP
// into base tokens.
type PartialCloseLiquidate struct {
	Context
}

func (s *PartialCloseLiquidate) Kind() types.StrategyKind { return types.StrategyPartialClose }

func (s *PartialCloseLiquidate) Execute(account, owner string, debt sdkmath.Int, payload types.StrategyPayload) error {
	baseBefore := s.Bank.Balance(account, s.BaseDenom)
	lp := sdkmath.MinInt(payload.MaxLPToLiquidate, s.Bank.Balance(account, s.LPDenom))
	if lp.IsPositive() {
		if _, err := s.Router.RemoveLiquidity(account, s.PoolID, lp); err != nil {
			return err
		}
	}
	farmAmt := s.Bank.Balance(account, s.FarmDenom)
	if farmAmt.IsPositive() {
		path := []string{s.FarmDenom, s.BaseDenom}
		if _, err := s.Router.SwapExactTokens(account, farmAmt, path, sdkmath.ZeroInt()); err != nil {
			return err
		}
	}
	received := s.Bank.Balance(account, s.BaseDenom).Sub(baseBefore)
	if received.LT(payload.MinBaseTokens) {
		return wrapMin(ErrInsufficientReceive, received, payload.MinBaseTokens)
	}
	return nil
}

// PartialCloseMinimizeTrading converts up to MaxLPToLiquidate of the
// account's LP but only sells as much of the farm leg as the repayment
// needs; the remaining farm tokens go back to the position owner.
type PartialCloseMinimizeTrading struct {
	Context
}

func (s *PartialCloseMinimizeTrading) Kind() types.StrategyKind {
	return types.StrategyPartialCloseNoSwap
}

func (s *PartialCloseMinimizeTrading) Execute(account, owner string, debt sdkmath.Int, payload types.StrategyPayload) error {
	baseBefore := s.Bank.Balance(account, s.BaseDenom)
	lp := sdkmath.MinInt(payload.MaxLPToLiquidate, s.Bank.Balance(account, s.LPDenom))
	if lp.IsPositive() {
		if _, err := s.Router.RemoveLiquidity(account, s.PoolID, lp); err != nil {
			return err
		}
	}

	needed := sdkmath.MinInt(payload.MaxDebtRepayment, debt)
	baseNow := s.Bank.Balance(account, s.BaseDenom)
	if baseNow.LT(needed) {
		// Sell just enough of the farm leg to cover the shortfall.
		shortfall := needed.Sub(baseNow)
		resBase, resFarm, err := s.reserves()
		if err != nil {
			return err
		}
		farmHeld := s.Bank.Balance(account, s.FarmDenom)
		sellAmt := sdkmath.MinInt(amm.GetMktSellInAmount(shortfall, resFarm, resBase), farmHeld)
		if sellAmt.IsPositive() {
			path := []string{s.FarmDenom, s.BaseDenom}
			if _, err := s.Router.SwapExactTokens(account, sellAmt, path, sdkmath.ZeroInt()); err != nil {
				return err
			}
		}
	}

	received := s.Bank.Balance(account, s.BaseDenom).Sub(baseBefore)
	if received.LT(payload.MinBaseTokens) {
		return wrapMin(ErrInsufficientReceive, received, payload.MinBaseTokens)
	}

	// Whatever farm tokens remain belong to the owner, not the position.
	farmLeft := s.Bank.Balance(account, s.FarmDenom)
	if farmLeft.LT(payload.MinFarmTokens) {
		return wrapMin(ErrInsufficientReceive, farmLeft, payload.MinFarmTokens)
	}
	if farmLeft.IsPositive() {
		if err := s.Bank.SendCoin(account, owner, s.FarmDenom, farmLeft); err != nil {
			return err
		}
	}
	return nil
}
