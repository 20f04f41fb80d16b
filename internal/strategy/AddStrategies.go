/*

This file contains the two collateral-increasing strategies. Both end with
an optimal-swap-then-join so no dust is left behind in the operating
account.

*/

package strategy

import (
	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/leverfarm/dnv/internal/amm"
	"github.com/leverfarm/dnv/internal/types"
)

// AddBaseOnly converts every base token in the operating account into LP.
type AddBaseOnly struct {
	Context
}

func (s *AddBaseOnly) Kind() types.StrategyKind { return types.StrategyAddBaseOnly }

func (s *AddBaseOnly) Execute(account, owner string, debt sdkmath.Int, payload types.StrategyPayload) error {
	return joinOptimally(s.Context, account, payload.MinLPTokens)
}

// AddTwoSidesOptimal pulls payload.FarmAmount farm tokens from the position
// owner, then converts both legs in the operating account into LP.
type AddTwoSidesOptimal struct {
	Context
}

func (s *AddTwoSidesOptimal) Kind() types.StrategyKind { return types.StrategyAddTwoSides }

func (s *AddTwoSidesOptimal) Execute(account, owner string, debt sdkmath.Int, payload types.StrategyPayload) error {
	if payload.FarmAmount.IsPositive() {
		if err := s.Bank.SendCoin(owner, account, s.FarmDenom, payload.FarmAmount); err != nil {
			return err
		}
	}
	return joinOptimally(s.Context, account, payload.MinLPTokens)
}

// joinOptimally swaps the excess leg so the account's base and farm tokens
// match the pool ratio, then joins the pool with everything it holds.
func joinOptimally(ctx Context, account string, minLP sdkmath.Int) error {
	baseAmt := ctx.Bank.Balance(account, ctx.BaseDenom)
	farmAmt := ctx.Bank.Balance(account, ctx.FarmDenom)
	resBase, resFarm, err := ctx.reserves()
	if err != nil {
		return err
	}

	swapAmt, reversed := amm.OptimalDeposit(baseAmt, farmAmt, resBase, resFarm)
	if swapAmt.IsPositive() {
		path := []string{ctx.BaseDenom, ctx.FarmDenom}
		if reversed {
			path = []string{ctx.FarmDenom, ctx.BaseDenom}
		}
		if _, err := ctx.Router.SwapExactTokens(account, swapAmt, path, sdkmath.ZeroInt()); err != nil {
			return err
		}
	}

	deposit := sdk.NewCoins(
		sdk.NewCoin(ctx.BaseDenom, ctx.Bank.Balance(account, ctx.BaseDenom)),
		sdk.NewCoin(ctx.FarmDenom, ctx.Bank.Balance(account, ctx.FarmDenom)),
	)
	minted, err := ctx.Router.AddLiquidity(account, ctx.PoolID, deposit, sdkmath.ZeroInt())
	if err != nil {
		return err
	}
	if minted.LT(minLP) {
		return wrapMin(ErrInsufficientLP, minted, minLP)
	}
	return nil
}
