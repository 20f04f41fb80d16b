package amm

import (
	"testing"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
	"github.com/stretchr/testify/require"

	"github.com/leverfarm/dnv/internal/bank"
)

func newTestRouter(t *testing.T) (*bank.Keeper, *Router) {
	t.Helper()
	bk := bank.New()
	r := NewRouter(bk)
	require.NoError(t, r.CreatePool("pool1", "uusdc", "uatom"))
	return bk, r
}

func mintCoins(t *testing.T, bk *bank.Keeper, addr string, usdc, atom int64) {
	t.Helper()
	require.NoError(t, bk.MintCoin(addr, "uusdc", sdkmath.NewInt(usdc)))
	require.NoError(t, bk.MintCoin(addr, "uatom", sdkmath.NewInt(atom)))
}

func TestCreatePoolValidation(t *testing.T) {
	_, r := newTestRouter(t)

	require.ErrorIs(t, r.CreatePool("pool2", "uusdc", "uusdc"), ErrInvalidPair)
	require.ErrorIs(t, r.CreatePool("pool1", "uelys", "uatom"), ErrPoolExists)
	// Same pair under a new id is also rejected.
	require.ErrorIs(t, r.CreatePool("pool2", "uatom", "uusdc"), ErrPoolExists)
}

func TestAddLiquidityFirstMint(t *testing.T) {
	bk, r := newTestRouter(t)
	mintCoins(t, bk, "alice", 4_000_000, 1_000_000)

	deposit := sdk.NewCoins(
		sdk.NewCoin("uusdc", sdkmath.NewInt(4_000_000)),
		sdk.NewCoin("uatom", sdkmath.NewInt(1_000_000)),
	)
	lp, err := r.AddLiquidity("alice", "pool1", deposit, sdkmath.ZeroInt())
	require.NoError(t, err)

	// First mint is sqrt(4e6 * 1e6) = 2e6.
	require.Equal(t, sdkmath.NewInt(2_000_000), lp)
	require.Equal(t, lp, bk.Balance("alice", "lp/pool1"))

	shares, err := r.TotalShares("pool1")
	require.NoError(t, err)
	require.Equal(t, lp, shares)
}

func TestAddLiquidityProportionalMint(t *testing.T) {
	bk, r := newTestRouter(t)
	mintCoins(t, bk, "alice", 4_000_000, 1_000_000)
	deposit := sdk.NewCoins(
		sdk.NewCoin("uusdc", sdkmath.NewInt(4_000_000)),
		sdk.NewCoin("uatom", sdkmath.NewInt(1_000_000)),
	)
	_, err := r.AddLiquidity("alice", "pool1", deposit, sdkmath.ZeroInt())
	require.NoError(t, err)

	// Balanced follow-up mints the proportional share.
	mintCoins(t, bk, "bob", 400, 100)
	lp, err := r.AddLiquidity("bob", "pool1", sdk.NewCoins(
		sdk.NewCoin("uusdc", sdkmath.NewInt(400)),
		sdk.NewCoin("uatom", sdkmath.NewInt(100)),
	), sdkmath.ZeroInt())
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(200), lp)

	// Unbalanced follow-up mints the smaller leg's share.
	mintCoins(t, bk, "carol", 400, 50)
	lp, err = r.AddLiquidity("carol", "pool1", sdk.NewCoins(
		sdk.NewCoin("uusdc", sdkmath.NewInt(400)),
		sdk.NewCoin("uatom", sdkmath.NewInt(50)),
	), sdkmath.ZeroInt())
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(100), lp)
}

func TestAddLiquidityMinLP(t *testing.T) {
	bk, r := newTestRouter(t)
	mintCoins(t, bk, "alice", 100, 100)

	_, err := r.AddLiquidity("alice", "pool1", sdk.NewCoins(
		sdk.NewCoin("uusdc", sdkmath.NewInt(100)),
		sdk.NewCoin("uatom", sdkmath.NewInt(100)),
	), sdkmath.NewInt(1_000))
	require.ErrorIs(t, err, ErrInsufficientOutput)
}

func TestRemoveLiquidity(t *testing.T) {
	bk, r := newTestRouter(t)
	mintCoins(t, bk, "alice", 1_000_000, 1_000_000)
	lp, err := r.AddLiquidity("alice", "pool1", sdk.NewCoins(
		sdk.NewCoin("uusdc", sdkmath.NewInt(1_000_000)),
		sdk.NewCoin("uatom", sdkmath.NewInt(1_000_000)),
	), sdkmath.ZeroInt())
	require.NoError(t, err)

	out, err := r.RemoveLiquidity("alice", "pool1", lp.QuoRaw(4))
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(250_000), out.AmountOf("uusdc"))
	require.Equal(t, sdkmath.NewInt(250_000), out.AmountOf("uatom"))

	require.Equal(t, sdkmath.NewInt(250_000), bk.Balance("alice", "uusdc"))
	shares, err := r.TotalShares("pool1")
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(750_000), shares)
}

func TestSwapExactTokens(t *testing.T) {
	bk, r := newTestRouter(t)
	mintCoins(t, bk, "alice", 1_000_000, 1_000_000)
	_, err := r.AddLiquidity("alice", "pool1", sdk.NewCoins(
		sdk.NewCoin("uusdc", sdkmath.NewInt(1_000_000)),
		sdk.NewCoin("uatom", sdkmath.NewInt(1_000_000)),
	), sdkmath.ZeroInt())
	require.NoError(t, err)

	require.NoError(t, bk.MintCoin("bob", "uusdc", sdkmath.NewInt(1000)))
	out, err := r.SwapExactTokens("bob", sdkmath.NewInt(1000), []string{"uusdc", "uatom"}, sdkmath.ZeroInt())
	require.NoError(t, err)

	// Output matches the pool formula against the pre-swap reserves.
	want := GetMktSellAmount(sdkmath.NewInt(1000), sdkmath.NewInt(1_000_000), sdkmath.NewInt(1_000_000))
	require.Equal(t, want, out)
	require.Equal(t, out, bk.Balance("bob", "uatom"))
	require.True(t, bk.Balance("bob", "uusdc").IsZero())

	// The pool account backs the new reserves.
	require.Equal(t, sdkmath.NewInt(1_001_000), bk.Balance("amm/pool1", "uusdc"))
}

func TestSwapMinOut(t *testing.T) {
	bk, r := newTestRouter(t)
	mintCoins(t, bk, "alice", 1_000_000, 1_000_000)
	_, err := r.AddLiquidity("alice", "pool1", sdk.NewCoins(
		sdk.NewCoin("uusdc", sdkmath.NewInt(1_000_000)),
		sdk.NewCoin("uatom", sdkmath.NewInt(1_000_000)),
	), sdkmath.ZeroInt())
	require.NoError(t, err)

	require.NoError(t, bk.MintCoin("bob", "uusdc", sdkmath.NewInt(1000)))
	_, err = r.SwapExactTokens("bob", sdkmath.NewInt(1000), []string{"uusdc", "uatom"}, sdkmath.NewInt(999))
	require.ErrorIs(t, err, ErrInsufficientOutput)

	_, err = r.SwapExactTokens("bob", sdkmath.NewInt(1000), []string{"uusdc"}, sdkmath.ZeroInt())
	require.ErrorIs(t, err, ErrInvalidPath)
}

func TestReservesOfOrdering(t *testing.T) {
	bk, r := newTestRouter(t)
	mintCoins(t, bk, "alice", 2_000_000, 1_000_000)
	_, err := r.AddLiquidity("alice", "pool1", sdk.NewCoins(
		sdk.NewCoin("uusdc", sdkmath.NewInt(2_000_000)),
		sdk.NewCoin("uatom", sdkmath.NewInt(1_000_000)),
	), sdkmath.ZeroInt())
	require.NoError(t, err)

	own, other, otherDenom, err := r.ReservesOf("pool1", "uatom")
	require.NoError(t, err)
	require.Equal(t, sdkmath.NewInt(1_000_000), own)
	require.Equal(t, sdkmath.NewInt(2_000_000), other)
	require.Equal(t, "uusdc", otherDenom)

	_, _, _, err = r.ReservesOf("pool1", "uelys")
	require.ErrorIs(t, err, ErrInvalidPair)

	lpDenom, err := r.LPDenom("pool1")
	require.NoError(t, err)
	require.Equal(t, "lp/pool1", lpDenom)

	require.True(t, r.HasPair("uatom", "uusdc"))
	require.False(t, r.HasPair("uatom", "uelys"))
}
