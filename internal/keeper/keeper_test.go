package keeper_test

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/leverfarm/dnv/internal/amm"
	"github.com/leverfarm/dnv/internal/bank"
	"github.com/leverfarm/dnv/internal/farm"
	"github.com/leverfarm/dnv/internal/interest"
	"github.com/leverfarm/dnv/internal/keeper"
	"github.com/leverfarm/dnv/internal/ledger"
	"github.com/leverfarm/dnv/internal/types"
	"github.com/leverfarm/dnv/internal/worker"
)

type sweepFixture struct {
	bk     *bank.Keeper
	router *amm.Router
	vault  *ledger.Vault
}

func newSweepFixture(t *testing.T) *sweepFixture {
	t.Helper()
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time { return now }
	bk := bank.New()

	router := amm.NewRouter(bk)
	require.NoError(t, router.CreatePool("pool1", "uusdc", "uatom"))
	require.NoError(t, bk.MintCoin("seeder", "uusdc", sdkmath.NewInt(1_000_000)))
	require.NoError(t, bk.MintCoin("seeder", "uatom", sdkmath.NewInt(1_000_000)))
	_, err := router.AddLiquidity("seeder", "pool1", sdk.NewCoins(
		sdk.NewCoin("uusdc", sdkmath.NewInt(1_000_000)),
		sdk.NewCoin("uatom", sdkmath.NewInt(1_000_000)),
	), sdkmath.ZeroInt())
	require.NoError(t, err)

	fm := farm.New(bk, "ureward")
	fm.SetClock(clock)
	require.NoError(t, fm.AddPool("pool1", "lp/pool1", sdkmath.ZeroInt()))

	w, err := worker.New(worker.Config{
		Name:                 "wusdc",
		PoolID:               "pool1",
		FarmPoolID:           "pool1",
		BaseDenom:            "uusdc",
		FarmDenom:            "uatom",
		OperatorAccount:      "vault/usdc-vault",
		Admin:                "admin",
		ReinvestBountyBps:    30,
		MaxReinvestBountyBps: 500,
		ReinvestThreshold:    sdkmath.NewInt(1_000_000_000_000),
		ReinvestPath:         []string{"ureward", "uusdc"},
		TreasuryAccount:      "treasury",
		TreasuryBountyBps:    1000,
	}, bk, router, fm)
	require.NoError(t, err)

	v := ledger.New("usdc-vault", "uusdc", ledger.Params{
		MinDebtSize:     sdkmath.NewInt(100),
		ReservePoolBps:  1000,
		KillPrizeBps:    100,
		KillTreasuryBps: 400,
		TreasuryAccount: "treasury",
		Admin:           "admin",
	}, interest.Default(), bk, nil)
	v.SetClock(clock)
	require.NoError(t, v.ApproveWorker("admin", w, ledger.WorkerConfig{
		WorkFactorBps: 7000,
		KillFactorBps: 8333,
		AcceptsDebt:   true,
	}))

	require.NoError(t, bk.MintCoin("lender", "uusdc", sdkmath.NewInt(10_000)))
	_, err = v.Deposit("lender", sdkmath.NewInt(10_000))
	require.NoError(t, err)

	return &sweepFixture{bk: bk, router: router, vault: v}
}

func (f *sweepFixture) open(t *testing.T, owner string, principal, borrow int64) types.PositionID {
	t.Helper()
	require.NoError(t, f.bk.MintCoin(owner, "uusdc", sdkmath.NewInt(principal)))
	id, err := f.vault.Work(owner, 0, "wusdc",
		sdkmath.NewInt(principal), sdkmath.NewInt(borrow), sdkmath.ZeroInt(),
		types.NewPayload(types.StrategyAddBaseOnly))
	require.NoError(t, err)
	return id
}

func TestRunKillSweepLiquidatesOnlyUnderwater(t *testing.T) {
	f := newSweepFixture(t)
	leveraged := f.open(t, "bob", 1_000, 2_000)
	conservative := f.open(t, "carol", 2_000, 200)

	ledgers := []*ledger.Vault{f.vault}

	// Both positions healthy, nothing to do.
	receipts := keeper.RunKillSweep("liquidator", ledgers, zerolog.Nop())
	require.Empty(t, receipts)

	// The farm token crashes; the 3x position goes past its kill factor,
	// the barely-levered one stays above water.
	require.NoError(t, f.bk.MintCoin("whale", "uatom", sdkmath.NewInt(600_000)))
	_, err := f.router.SwapExactTokens("whale", sdkmath.NewInt(600_000),
		[]string{"uatom", "uusdc"}, sdkmath.ZeroInt())
	require.NoError(t, err)

	receipts = keeper.RunKillSweep("liquidator", ledgers, zerolog.Nop())
	require.Len(t, receipts, 1)
	require.Equal(t, leveraged, receipts[0].PositionID)
	require.Equal(t, "usdc-vault", receipts[0].VaultName)
	require.Equal(t, "liquidator", receipts[0].Caller)
	require.True(t, receipts[0].Proceeds.IsPositive())
	require.Equal(t, receipts[0].Prize, f.bk.Balance("liquidator", "uusdc"))

	_, debt, err := f.vault.PositionInfo(leveraged)
	require.NoError(t, err)
	require.True(t, debt.IsZero())
	_, debt, err = f.vault.PositionInfo(conservative)
	require.NoError(t, err)
	require.True(t, debt.IsPositive())

	// A second pass finds the killed position debt-free and leaves the
	// healthy one alone.
	receipts = keeper.RunKillSweep("liquidator", ledgers, zerolog.Nop())
	require.Empty(t, receipts)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := keeper.New(keeper.Config{})
	require.Error(t, err)
}
