package neutral_test

import (
	"testing"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/require"

	"github.com/leverfarm/dnv/internal/amm"
	"github.com/leverfarm/dnv/internal/bank"
	"github.com/leverfarm/dnv/internal/farm"
	"github.com/leverfarm/dnv/internal/interest"
	"github.com/leverfarm/dnv/internal/ledger"
	"github.com/leverfarm/dnv/internal/neutral"
	"github.com/leverfarm/dnv/internal/oracle"
	"github.com/leverfarm/dnv/internal/types"
	"github.com/leverfarm/dnv/internal/worker"
)

type mockClock struct {
	t time.Time
}

func newMockClock() *mockClock {
	return &mockClock{t: time.Unix(1_700_000_000, 0)}
}

func (c *mockClock) Now() time.Time          { return c.t }
func (c *mockClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type envOpts struct {
	managementFeeBps   int64
	rewardPerSec       int64
	positionValueLimit int64
	reinvestThreshold  int64
}

func defaultOpts() envOpts {
	return envOpts{
		managementFeeBps:   0,
		rewardPerSec:       0,
		positionValueLimit: 10_000_000,
		reinvestThreshold:  1_000_000_000_000,
	}
}

type env struct {
	bk     *bank.Keeper
	router *amm.Router
	farm   *farm.Farm
	feeds  *oracle.FeedStore
	stable *ledger.Vault
	asset  *ledger.Vault
	vault  *neutral.Vault
	clock  *mockClock
}

func seedPool(t *testing.T, bk *bank.Keeper, r *amm.Router, poolID, denomA, denomB string, amount int64) {
	t.Helper()
	require.NoError(t, r.CreatePool(poolID, denomA, denomB))
	seeder := "seeder/" + poolID
	require.NoError(t, bk.MintCoin(seeder, denomA, sdkmath.NewInt(amount)))
	require.NoError(t, bk.MintCoin(seeder, denomB, sdkmath.NewInt(amount)))
	_, err := r.AddLiquidity(seeder, poolID, sdk.NewCoins(
		sdk.NewCoin(denomA, sdkmath.NewInt(amount)),
		sdk.NewCoin(denomB, sdkmath.NewInt(amount)),
	), sdkmath.ZeroInt())
	require.NoError(t, err)
}

func newEnv(t *testing.T, opts envOpts) *env {
	t.Helper()
	clk := newMockClock()
	bk := bank.New()
	r := amm.NewRouter(bk)
	seedPool(t, bk, r, "pool1", "uusdc", "uatom", 1_000_000_000)
	seedPool(t, bk, r, "rp-usdc", "ureward", "uusdc", 100_000_000)
	seedPool(t, bk, r, "rp-atom", "ureward", "uatom", 100_000_000)

	fm := farm.New(bk, "ureward")
	fm.SetClock(clk.Now)
	require.NoError(t, fm.AddPool("pool1", "lp/pool1", sdkmath.NewInt(opts.rewardPerSec)))

	feeds := oracle.NewFeedStore()
	feeds.SetClock(clk.Now)
	feeds.SetPriceAt("uusdc", sdkmath.LegacyOneDec(), clk.Now())
	feeds.SetPriceAt("uatom", sdkmath.LegacyOneDec(), clk.Now())

	params := ledger.Params{
		MinDebtSize:     sdkmath.NewInt(100),
		ReservePoolBps:  1000,
		KillPrizeBps:    100,
		KillTreasuryBps: 400,
		TreasuryAccount: "treasury",
		Admin:           "admin",
	}
	sv := ledger.New("sv", "uusdc", params, interest.Default(), bk, nil)
	sv.SetClock(clk.Now)
	av := ledger.New("av", "uatom", params, interest.Default(), bk, nil)
	av.SetClock(clk.Now)

	newWorker := func(name, base, farmDenom, operator string) *worker.Worker {
		w, err := worker.New(worker.Config{
			Name:                 name,
			PoolID:               "pool1",
			FarmPoolID:           "pool1",
			BaseDenom:            base,
			FarmDenom:            farmDenom,
			OperatorAccount:      operator,
			Admin:                "admin",
			ReinvestBountyBps:    30,
			MaxReinvestBountyBps: 500,
			ReinvestThreshold:    sdkmath.NewInt(opts.reinvestThreshold),
			ReinvestPath:         []string{"ureward", base},
			TreasuryAccount:      "treasury",
			TreasuryBountyBps:    1000,
		}, bk, r, fm)
		require.NoError(t, err)
		return w
	}
	sw := newWorker("sw", "uusdc", "uatom", sv.Account())
	aw := newWorker("aw", "uatom", "uusdc", av.Account())

	wcfg := ledger.WorkerConfig{WorkFactorBps: 7000, KillFactorBps: 8333, AcceptsDebt: true}
	require.NoError(t, sv.ApproveWorker("admin", sw, wcfg))
	require.NoError(t, av.ApproveWorker("admin", aw, wcfg))

	// Lenders supply the idle liquidity the orchestrator borrows against.
	require.NoError(t, bk.MintCoin("lender", "uusdc", sdkmath.NewInt(100_000)))
	_, err := sv.Deposit("lender", sdkmath.NewInt(100_000))
	require.NoError(t, err)
	require.NoError(t, bk.MintCoin("lender", "uatom", sdkmath.NewInt(100_000)))
	_, err = av.Deposit("lender", sdkmath.NewInt(100_000))
	require.NoError(t, err)

	v := neutral.New(neutral.Config{
		Name:               "main",
		TargetLeverage:     3,
		ToleranceBps:       100,
		ManagementFeeBps:   opts.managementFeeBps,
		PositionValueLimit: sdkmath.LegacyNewDec(opts.positionValueLimit),
		MaxPriceAge:        1800 * time.Second,
		TreasuryAccount:    "treasury",
		Admin:              "admin",
	}, bk, r, feeds, "pool1", sv, av, sw, aw)
	v.SetClock(clk.Now)
	require.NoError(t, v.SetWhitelists("admin", "keeper", true, true, true))

	return &env{bk: bk, router: r, farm: fm, feeds: feeds, stable: sv, asset: av, vault: v, clock: clk}
}

func (e *env) fundDepositor(t *testing.T, addr string, usdc, atom int64) {
	t.Helper()
	require.NoError(t, e.bk.MintCoin(addr, "uusdc", sdkmath.NewInt(usdc)))
	require.NoError(t, e.bk.MintCoin(addr, "uatom", sdkmath.NewInt(atom)))
}

func (e *env) refreshFeeds() {
	e.feeds.SetPriceAt("uusdc", sdkmath.LegacyOneDec(), e.clock.Now())
	spot := e.spotAssetPrice()
	e.feeds.SetPriceAt("uatom", spot, e.clock.Now())
}

func (e *env) spotAssetPrice() sdkmath.LegacyDec {
	own, other, _, err := e.router.ReservesOf("pool1", "uatom")
	if err != nil || !own.IsPositive() {
		return sdkmath.LegacyOneDec()
	}
	return sdkmath.LegacyNewDecFromInt(other).QuoInt(own)
}

func (e *env) initPositions(t *testing.T) {
	t.Helper()
	e.fundDepositor(t, "alice", 500, 500)
	shares, err := e.vault.InitPositions("alice", sdkmath.NewInt(500), sdkmath.NewInt(500), sdkmath.ZeroInt())
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_000), shares)
}

func TestPlanDepositSplitsForTargetLeverage(t *testing.T) {
	e := newEnv(t, defaultOpts())

	actions, err := e.vault.PlanDeposit(sdkmath.LegacyNewDec(1_000))
	require.NoError(t, err)
	require.Len(t, actions, 2)

	// At 3x the stable side carries a quarter of the equity, levered to
	// twice that in debt; borrows are scaled down by the 100 bps tolerance.
	stable := actions[0]
	require.Equal(t, types.StableSide, stable.Side)
	require.Equal(t, sdkmath.NewInt(125), stable.Principal)
	require.Equal(t, sdkmath.NewInt(125), stable.Payload.FarmAmount)
	require.Equal(t, sdkmath.NewInt(495), stable.Borrow)

	asset := actions[1]
	require.Equal(t, types.AssetSide, asset.Side)
	require.Equal(t, sdkmath.NewInt(375), asset.Principal)
	require.Equal(t, sdkmath.NewInt(375), asset.Payload.FarmAmount)
	require.Equal(t, sdkmath.NewInt(1_485), asset.Borrow)
}

func TestInitPositions(t *testing.T) {
	e := newEnv(t, defaultOpts())
	e.initPositions(t)

	require.Equal(t, types.PositionID(1), e.vault.StablePositionID())
	require.Equal(t, types.PositionID(1), e.vault.AssetPositionID())
	require.Equal(t, sdkmath.NewInt(495), e.stable.TotalDebtValue())
	require.Equal(t, sdkmath.NewInt(1_485), e.asset.TotalDebtValue())

	equity, err := e.vault.TotalEquityValue()
	require.NoError(t, err)
	require.True(t, equity.GT(sdkmath.LegacyNewDec(990)), "equity %s", equity)
	require.True(t, equity.LTE(sdkmath.LegacyNewDec(1_000)), "equity %s", equity)

	e.fundDepositor(t, "alice", 500, 500)
	_, err = e.vault.InitPositions("alice", sdkmath.NewInt(500), sdkmath.NewInt(500), sdkmath.ZeroInt())
	require.ErrorIs(t, err, neutral.ErrPositionsAlreadyInitialized)
}

func TestDepositBeforeInit(t *testing.T) {
	e := newEnv(t, defaultOpts())
	e.fundDepositor(t, "bob", 500, 500)
	_, err := e.vault.Deposit("bob", sdkmath.NewInt(500), sdkmath.NewInt(500), sdkmath.ZeroInt())
	require.ErrorIs(t, err, neutral.ErrPositionsNotInitialized)
}

func TestDepositMintsFairShares(t *testing.T) {
	e := newEnv(t, defaultOpts())
	e.initPositions(t)

	e.fundDepositor(t, "bob", 500, 500)
	shares, err := e.vault.Deposit("bob", sdkmath.NewInt(500), sdkmath.NewInt(500), sdkmath.ZeroInt())
	require.NoError(t, err)

	// A second 1000-dollar deposit should mint about as many shares as the
	// first, corrected for the small equity lost to swap fees so far.
	require.True(t, shares.GT(sdkmath.NewInt(995)), "shares %s", shares)
	require.True(t, shares.LT(sdkmath.NewInt(1_010)), "shares %s", shares)
	require.Equal(t, shares, e.bk.Balance("bob", e.vault.ShareDenom()))
}

func TestWithdraw(t *testing.T) {
	e := newEnv(t, defaultOpts())
	e.initPositions(t)

	stableOut, assetOut, err := e.vault.Withdraw("alice", sdkmath.NewInt(500), sdkmath.ZeroInt(), sdkmath.ZeroInt())
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(500), e.vault.ShareSupply())

	// Half the shares redeem to roughly half the deposit's value.
	total := stableOut.Add(assetOut)
	require.True(t, total.GT(sdkmath.NewInt(450)), "payout %s", total)
	require.True(t, total.LT(sdkmath.NewInt(510)), "payout %s", total)
	require.Equal(t, stableOut, e.bk.Balance("alice", "uusdc"))
	require.Equal(t, assetOut, e.bk.Balance("alice", "uatom"))

	// More shares than the supply cannot be redeemed.
	_, _, err = e.vault.Withdraw("alice", sdkmath.NewInt(2_000), sdkmath.ZeroInt(), sdkmath.ZeroInt())
	require.ErrorIs(t, err, neutral.ErrTooLittleReceived)
}

func TestDepositFailureRollsBackBothSides(t *testing.T) {
	e := newEnv(t, defaultOpts())
	e.initPositions(t)

	equityBefore, err := e.vault.TotalEquityValue()
	require.NoError(t, err)
	stableDebt := e.stable.TotalDebtValue()
	assetDebt := e.asset.TotalDebtValue()
	lpBefore := e.vault.TotalPooledLP()

	// A deposit this size wants more atom debt than the asset vault holds.
	// The stable side has already been levered up when that borrow fails,
	// so the whole batch must unwind.
	e.fundDepositor(t, "bob", 40_000, 40_000)
	_, err = e.vault.Deposit("bob", sdkmath.NewInt(40_000), sdkmath.NewInt(40_000), sdkmath.ZeroInt())
	require.ErrorIs(t, err, ledger.ErrInsufficientLiquidity)

	require.Equal(t, sdkmath.NewInt(40_000), e.bk.Balance("bob", "uusdc"))
	require.Equal(t, sdkmath.NewInt(40_000), e.bk.Balance("bob", "uatom"))
	require.True(t, e.bk.Balance("bob", e.vault.ShareDenom()).IsZero())
	require.Equal(t, sdkmath.NewInt(1_000), e.vault.ShareSupply())
	require.Equal(t, stableDebt, e.stable.TotalDebtValue())
	require.Equal(t, assetDebt, e.asset.TotalDebtValue())
	require.Equal(t, lpBefore, e.vault.TotalPooledLP())

	equityAfter, err := e.vault.TotalEquityValue()
	require.NoError(t, err)
	require.Equal(t, equityBefore, equityAfter)
}

func TestWithdrawFailureRollsBack(t *testing.T) {
	e := newEnv(t, defaultOpts())
	e.initPositions(t)

	equityBefore, err := e.vault.TotalEquityValue()
	require.NoError(t, err)

	// The min-out guard fires only after the positions were unwound; the
	// shares and both positions must survive the failed attempt untouched.
	_, _, err = e.vault.Withdraw("alice", sdkmath.NewInt(500), sdkmath.NewInt(1_000_000), sdkmath.ZeroInt())
	require.ErrorIs(t, err, neutral.ErrTooLittleReceived)

	require.Equal(t, sdkmath.NewInt(1_000), e.vault.ShareSupply())
	require.Equal(t, sdkmath.NewInt(1_000), e.bk.Balance("alice", e.vault.ShareDenom()))
	require.True(t, e.bk.Balance("alice", "uusdc").IsZero())
	require.True(t, e.bk.Balance("alice", "uatom").IsZero())

	equityAfter, err := e.vault.TotalEquityValue()
	require.NoError(t, err)
	require.Equal(t, equityBefore, equityAfter)

	// The same withdrawal without the guard goes through.
	stableOut, assetOut, err := e.vault.Withdraw("alice", sdkmath.NewInt(500), sdkmath.ZeroInt(), sdkmath.ZeroInt())
	require.NoError(t, err)
	require.True(t, stableOut.Add(assetOut).IsPositive())
	require.Equal(t, sdkmath.NewInt(500), e.vault.ShareSupply())
}

func TestRebalanceAfterPriceMove(t *testing.T) {
	e := newEnv(t, defaultOpts())
	e.initPositions(t)

	before, err := e.vault.PositionInfo()
	require.NoError(t, err)

	// A whale buys the farm token, lifting its price about 10%.
	require.NoError(t, e.bk.MintCoin("whale", "uusdc", sdkmath.NewInt(50_000_000)))
	_, err = e.router.SwapExactTokens("whale", sdkmath.NewInt(50_000_000), []string{"uusdc", "uatom"}, sdkmath.ZeroInt())
	require.NoError(t, err)
	e.refreshFeeds()

	actions, _, after, err := e.vault.Rebalance("keeper")
	require.NoError(t, err)
	require.NotEmpty(t, actions)

	// The asset side was pushed over target and gets pulled back down.
	require.True(t, after.Asset.DebtRatioBps.LT(before.Asset.DebtRatioBps.AddRaw(300)))
	target := sdkmath.NewInt(6_667)
	require.True(t, after.Asset.DebtRatioBps.Sub(target).Abs().LT(sdkmath.NewInt(300)),
		"asset ratio %s", after.Asset.DebtRatioBps)
}

func TestManagementFeeDilutesToTreasury(t *testing.T) {
	opts := defaultOpts()
	opts.managementFeeBps = 100
	e := newEnv(t, opts)
	e.initPositions(t)

	e.clock.Advance(365 * 24 * time.Hour)
	e.refreshFeeds()

	e.fundDepositor(t, "bob", 10, 10)
	_, err := e.vault.Deposit("bob", sdkmath.NewInt(10), sdkmath.NewInt(10), sdkmath.ZeroInt())
	require.NoError(t, err)

	// 100 bps per year on a supply of 1000 mints 10 shares to the treasury.
	require.Equal(t, sdkmath.NewInt(10), e.bk.Balance("treasury", e.vault.ShareDenom()))
}

func TestStalePriceRejected(t *testing.T) {
	e := newEnv(t, defaultOpts())
	e.initPositions(t)

	e.clock.Advance(7_200 * time.Second)

	e.fundDepositor(t, "bob", 500, 500)
	_, err := e.vault.Deposit("bob", sdkmath.NewInt(500), sdkmath.NewInt(500), sdkmath.ZeroInt())
	require.ErrorIs(t, err, neutral.ErrUntrustedPrice)
}

func TestWhitelists(t *testing.T) {
	e := newEnv(t, defaultOpts())
	e.initPositions(t)

	_, _, _, err := e.vault.Rebalance("bob")
	require.ErrorIs(t, err, neutral.ErrNotWhitelistedRebalancer)
	require.ErrorIs(t, e.vault.Reinvest("bob"), neutral.ErrNotWhitelistedReinvestor)
	require.ErrorIs(t, e.vault.SetWhitelists("bob", "bob", true, true, true), neutral.ErrNotAdmin)
}

func TestReinvestCompoundsBothSides(t *testing.T) {
	opts := defaultOpts()
	opts.rewardPerSec = 100
	opts.reinvestThreshold = 100
	e := newEnv(t, opts)
	e.initPositions(t)

	lpBefore := e.vault.TotalPooledLP()
	require.True(t, lpBefore.IsPositive())

	e.clock.Advance(1_000 * time.Second)
	e.refreshFeeds()
	require.NoError(t, e.vault.Reinvest("keeper"))

	require.True(t, e.vault.TotalPooledLP().GT(lpBefore))
}

func TestPositionValueLimit(t *testing.T) {
	opts := defaultOpts()
	opts.positionValueLimit = 2_000
	e := newEnv(t, opts)

	// A 1000-dollar deposit at 3x opens 3000 dollars of positions.
	e.fundDepositor(t, "alice", 500, 500)
	_, err := e.vault.InitPositions("alice", sdkmath.NewInt(500), sdkmath.NewInt(500), sdkmath.ZeroInt())
	require.ErrorIs(t, err, neutral.ErrPositionValueExceedLimit)
}
