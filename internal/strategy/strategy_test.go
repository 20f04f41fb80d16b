package strategy_test

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/require"

	"github.com/leverfarm/dnv/internal/amm"
	"github.com/leverfarm/dnv/internal/bank"
	"github.com/leverfarm/dnv/internal/strategy"
	"github.com/leverfarm/dnv/internal/types"
)

const account = "worker/w"

func newContext(t *testing.T) (strategy.Context, *bank.Keeper) {
	t.Helper()
	bk := bank.New()
	r := amm.NewRouter(bk)
	require.NoError(t, r.CreatePool("pool1", "uusdc", "uatom"))
	require.NoError(t, bk.MintCoin("seeder", "uusdc", sdkmath.NewInt(1_000_000)))
	require.NoError(t, bk.MintCoin("seeder", "uatom", sdkmath.NewInt(1_000_000)))
	_, err := r.AddLiquidity("seeder", "pool1", sdk.NewCoins(
		sdk.NewCoin("uusdc", sdkmath.NewInt(1_000_000)),
		sdk.NewCoin("uatom", sdkmath.NewInt(1_000_000)),
	), sdkmath.ZeroInt())
	require.NoError(t, err)

	return strategy.Context{
		Bank:      bk,
		Router:    r,
		PoolID:    "pool1",
		BaseDenom: "uusdc",
		FarmDenom: "uatom",
		LPDenom:   "lp/pool1",
	}, bk
}

// giveLP mints a balanced deposit into the account and joins the pool, so
// the account ends up holding exactly amount LP.
func giveLP(t *testing.T, ctx strategy.Context, amount int64) {
	t.Helper()
	require.NoError(t, ctx.Bank.MintCoin(account, "uusdc", sdkmath.NewInt(amount)))
	require.NoError(t, ctx.Bank.MintCoin(account, "uatom", sdkmath.NewInt(amount)))
	lp, err := ctx.Router.AddLiquidity(account, "pool1", sdk.NewCoins(
		sdk.NewCoin("uusdc", sdkmath.NewInt(amount)),
		sdk.NewCoin("uatom", sdkmath.NewInt(amount)),
	), sdkmath.ZeroInt())
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(amount), lp)
}

func TestAddBaseOnly(t *testing.T) {
	ctx, bk := newContext(t)
	require.NoError(t, bk.MintCoin(account, "uusdc", sdkmath.NewInt(1_000)))

	st := &strategy.AddBaseOnly{Context: ctx}
	require.NoError(t, st.Execute(account, "alice", sdkmath.ZeroInt(), types.NewPayload(types.StrategyAddBaseOnly)))

	// Roughly half was swapped across, the rest joined the pool.
	lp := bk.Balance(account, "lp/pool1")
	require.True(t, lp.GT(sdkmath.NewInt(490)), "lp %s", lp)
	require.True(t, lp.LT(sdkmath.NewInt(500)), "lp %s", lp)
	require.True(t, bk.Balance(account, "uusdc").LTE(sdkmath.NewInt(5)))
	require.True(t, bk.Balance(account, "uatom").LTE(sdkmath.NewInt(5)))
}

func TestAddBaseOnlyMinLP(t *testing.T) {
	ctx, bk := newContext(t)
	require.NoError(t, bk.MintCoin(account, "uusdc", sdkmath.NewInt(1_000)))

	st := &strategy.AddBaseOnly{Context: ctx}
	payload := types.NewPayload(types.StrategyAddBaseOnly)
	payload.MinLPTokens = sdkmath.NewInt(10_000)
	err := st.Execute(account, "alice", sdkmath.ZeroInt(), payload)
	require.ErrorIs(t, err, strategy.ErrInsufficientLP)
}

func TestAddTwoSidesPullsFarmFromOwner(t *testing.T) {
	ctx, bk := newContext(t)
	require.NoError(t, bk.MintCoin(account, "uusdc", sdkmath.NewInt(500)))
	require.NoError(t, bk.MintCoin("alice", "uatom", sdkmath.NewInt(500)))

	st := &strategy.AddTwoSidesOptimal{Context: ctx}
	payload := types.NewPayload(types.StrategyAddTwoSides)
	payload.FarmAmount = sdkmath.NewInt(500)
	require.NoError(t, st.Execute(account, "alice", sdkmath.ZeroInt(), payload))

	require.True(t, bk.Balance("alice", "uatom").IsZero())
	lp := bk.Balance(account, "lp/pool1")
	require.True(t, lp.GTE(sdkmath.NewInt(499)), "lp %s", lp)
	require.True(t, bk.Balance(account, "uusdc").LTE(sdkmath.NewInt(5)))
	require.True(t, bk.Balance(account, "uatom").LTE(sdkmath.NewInt(5)))
}

func TestLiquidateConvertsAllToBase(t *testing.T) {
	ctx, bk := newContext(t)
	giveLP(t, ctx, 1_000)

	st := &strategy.Liquidate{Context: ctx}
	require.NoError(t, st.Execute(account, "", sdkmath.ZeroInt(), types.NewPayload(types.StrategyLiquidate)))

	require.True(t, bk.Balance(account, "lp/pool1").IsZero())
	require.True(t, bk.Balance(account, "uatom").IsZero())
	base := bk.Balance(account, "uusdc")
	require.True(t, base.GT(sdkmath.NewInt(1_980)), "base %s", base)
	require.True(t, base.LT(sdkmath.NewInt(2_000)), "base %s", base)
}

func TestLiquidateMinBase(t *testing.T) {
	ctx, _ := newContext(t)
	giveLP(t, ctx, 1_000)

	st := &strategy.Liquidate{Context: ctx}
	payload := types.NewPayload(types.StrategyLiquidate)
	payload.MinBaseTokens = sdkmath.NewInt(3_000)
	err := st.Execute(account, "", sdkmath.ZeroInt(), payload)
	require.ErrorIs(t, err, strategy.ErrInsufficientReceive)
}

func TestPartialCloseMinimizeTradingNoSwap(t *testing.T) {
	ctx, bk := newContext(t)
	giveLP(t, ctx, 1_000)

	st := &strategy.PartialCloseMinimizeTrading{Context: ctx}
	payload := types.NewPayload(types.StrategyPartialCloseNoSwap)
	payload.MaxLPToLiquidate = sdkmath.NewInt(600)
	payload.MaxDebtRepayment = sdkmath.NewInt(500)
	require.NoError(t, st.Execute(account, "alice", sdkmath.NewInt(500), payload))

	// The base leg alone covers the repayment, so the whole farm leg goes
	// back to the owner untraded.
	require.Equal(t, sdkmath.NewInt(600), bk.Balance(account, "uusdc"))
	require.Equal(t, sdkmath.NewInt(600), bk.Balance("alice", "uatom"))
	require.Equal(t, sdkmath.NewInt(400), bk.Balance(account, "lp/pool1"))
	require.True(t, bk.Balance(account, "uatom").IsZero())
}

func TestPartialCloseMinimizeTradingShortfall(t *testing.T) {
	ctx, bk := newContext(t)
	giveLP(t, ctx, 1_000)

	st := &strategy.PartialCloseMinimizeTrading{Context: ctx}
	payload := types.NewPayload(types.StrategyPartialCloseNoSwap)
	payload.MaxLPToLiquidate = sdkmath.NewInt(400)
	payload.MaxDebtRepayment = sdkmath.NewInt(500)
	require.NoError(t, st.Execute(account, "alice", sdkmath.NewInt(500), payload))

	// The base leg is 100 short, so just enough of the farm leg is sold.
	base := bk.Balance(account, "uusdc")
	require.True(t, base.GTE(sdkmath.NewInt(500)), "base %s", base)
	require.True(t, base.LTE(sdkmath.NewInt(502)), "base %s", base)

	ownerFarm := bk.Balance("alice", "uatom")
	require.True(t, ownerFarm.GT(sdkmath.NewInt(290)), "owner farm %s", ownerFarm)
	require.True(t, ownerFarm.LT(sdkmath.NewInt(300)), "owner farm %s", ownerFarm)
}

func TestPartialCloseMinimizeTradingMinFarm(t *testing.T) {
	ctx, _ := newContext(t)
	giveLP(t, ctx, 1_000)

	st := &strategy.PartialCloseMinimizeTrading{Context: ctx}
	payload := types.NewPayload(types.StrategyPartialCloseNoSwap)
	payload.MaxLPToLiquidate = sdkmath.NewInt(600)
	payload.MaxDebtRepayment = sdkmath.NewInt(500)
	payload.MinFarmTokens = sdkmath.NewInt(1_000)
	err := st.Execute(account, "alice", sdkmath.NewInt(500), payload)
	require.ErrorIs(t, err, strategy.ErrInsufficientReceive)
}
