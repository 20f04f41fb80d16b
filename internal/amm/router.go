/*

This file contains the in-process constant-product router. Each pool holds
its reserves in a dedicated bank account so every token the pools claim to
hold is backed by a real balance, and LP tokens are ordinary bank denoms
("lp/<poolID>") that can be staked, transferred, and burned like any coin.

*/

package amm

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/leverfarm/dnv/internal/bank"
	"github.com/leverfarm/dnv/internal/logger"
)

var (
	ErrPoolNotFound       = errors.New("amm: pool not found")
	ErrPoolExists         = errors.New("amm: pool already exists")
	ErrNoLiquidity        = errors.New("amm: pool has no liquidity")
	ErrInsufficientOutput = errors.New("amm: output below minimum")
	ErrInvalidPath        = errors.New("amm: invalid swap path")
	ErrInvalidPair        = errors.New("amm: invalid token pair")
)

type pool struct {
	id          string
	denomA      string
	denomB      string
	totalShares sdkmath.Int
}

func (p *pool) account() string { return "amm/" + p.id }
func (p *pool) lpDenom() string { return "lp/" + p.id }

// Router owns all constant-product pools and executes swaps and liquidity
// changes against the bank. Safe for concurrent use.
type Router struct {
	mu    sync.Mutex
	bank  *bank.Keeper
	pools map[string]*pool
	// byPair maps "denomA|denomB" (both orders) to the pool id.
	byPair map[string]string
}

func NewRouter(bk *bank.Keeper) *Router {
	return &Router{
		bank:   bk,
		pools:  make(map[string]*pool),
		byPair: make(map[string]string),
	}
}

// CreatePool registers an empty pool for the given denom pair.
func (r *Router) CreatePool(id, denomA, denomB string) error {
	if denomA == denomB || denomA == "" || denomB == "" {
		return ErrInvalidPair
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pools[id]; ok {
		return ErrPoolExists
	}
	if _, ok := r.byPair[pairKey(denomA, denomB)]; ok {
		return ErrPoolExists
	}
	p := &pool{id: id, denomA: denomA, denomB: denomB, totalShares: sdkmath.ZeroInt()}
	r.pools[id] = p
	r.byPair[pairKey(denomA, denomB)] = id
	r.byPair[pairKey(denomB, denomA)] = id
	return nil
}

// AddLiquidity deposits both legs and mints LP shares to sender. The first
// deposit mints sqrt(amtA*amtB); later deposits mint the minimum
// proportional share so unbalanced deposits donate the excess to the pool.
func (r *Router) AddLiquidity(sender, poolID string, deposit sdk.Coins, minLP sdkmath.Int) (sdkmath.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[poolID]
	if !ok {
		return sdkmath.Int{}, ErrPoolNotFound
	}
	amtA := deposit.AmountOf(p.denomA)
	amtB := deposit.AmountOf(p.denomB)

	var lp sdkmath.Int
	if p.totalShares.IsZero() {
		lp = intSqrt(amtA.Mul(amtB))
	} else {
		resA := r.bank.Balance(p.account(), p.denomA)
		resB := r.bank.Balance(p.account(), p.denomB)
		if !resA.IsPositive() || !resB.IsPositive() {
			return sdkmath.Int{}, ErrNoLiquidity
		}
		lp = sdkmath.MinInt(
			amtA.Mul(p.totalShares).Quo(resA),
			amtB.Mul(p.totalShares).Quo(resB),
		)
	}
	if lp.LT(minLP) {
		return sdkmath.Int{}, fmt.Errorf("%w: minted %s, want at least %s", ErrInsufficientOutput, lp, minLP)
	}

	if err := r.bank.Send(sender, p.account(), deposit); err != nil {
		return sdkmath.Int{}, err
	}
	if err := r.bank.MintCoin(sender, p.lpDenom(), lp); err != nil {
		return sdkmath.Int{}, err
	}
	p.totalShares = p.totalShares.Add(lp)
	return lp, nil
}

// RemoveLiquidity burns lpAmount of sender's shares and pays out the
// proportional slice of both reserves.
func (r *Router) RemoveLiquidity(sender, poolID string, lpAmount sdkmath.Int) (sdk.Coins, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[poolID]
	if !ok {
		return nil, ErrPoolNotFound
	}
	if !p.totalShares.IsPositive() {
		return nil, ErrNoLiquidity
	}
	if !lpAmount.IsPositive() {
		return sdk.Coins{}, nil
	}
	resA := r.bank.Balance(p.account(), p.denomA)
	resB := r.bank.Balance(p.account(), p.denomB)
	outA := resA.Mul(lpAmount).Quo(p.totalShares)
	outB := resB.Mul(lpAmount).Quo(p.totalShares)
	if err := r.bank.BurnCoin(sender, p.lpDenom(), lpAmount); err != nil {
		return nil, err
	}
	out := sdk.Coins{}
	if outA.IsPositive() {
		out = out.Add(sdk.NewCoin(p.denomA, outA))
	}
	if outB.IsPositive() {
		out = out.Add(sdk.NewCoin(p.denomB, outB))
	}
	if err := r.bank.Send(p.account(), sender, out); err != nil {
		return nil, err
	}
	p.totalShares = p.totalShares.Sub(lpAmount)
	return out, nil
}

// SwapExactTokens sells amountIn of denomIn along path, a denom sequence
// starting at denomIn. Each hop must have a registered pool. Returns the
// final output amount.
func (r *Router) SwapExactTokens(sender string, amountIn sdkmath.Int, path []string, minOut sdkmath.Int) (sdkmath.Int, error) {
	if len(path) < 2 {
		return sdkmath.Int{}, ErrInvalidPath
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	amount := amountIn
	for i := 0; i+1 < len(path); i++ {
		out, err := r.swapOne(sender, path[i], path[i+1], amount)
		if err != nil {
			return sdkmath.Int{}, err
		}
		amount = out
	}
	if amount.LT(minOut) {
		return sdkmath.Int{}, fmt.Errorf("%w: got %s, want at least %s", ErrInsufficientOutput, amount, minOut)
	}
	log := logger.GetForComponent("amm")
	log.Debug().
		Str("sender", sender).
		Str("amount_in", amountIn.String()).
		Strs("path", path).
		Str("amount_out", amount.String()).
		Msg("Swap executed")
	return amount, nil
}

func (r *Router) swapOne(sender, denomIn, denomOut string, amountIn sdkmath.Int) (sdkmath.Int, error) {
	id, ok := r.byPair[pairKey(denomIn, denomOut)]
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("%w: no pool for %s -> %s", ErrInvalidPath, denomIn, denomOut)
	}
	p := r.pools[id]
	rIn := r.bank.Balance(p.account(), denomIn)
	rOut := r.bank.Balance(p.account(), denomOut)
	if !rIn.IsPositive() || !rOut.IsPositive() {
		return sdkmath.Int{}, ErrNoLiquidity
	}
	out := GetMktSellAmount(amountIn, rIn, rOut)
	if !out.IsPositive() {
		return sdkmath.Int{}, ErrInsufficientOutput
	}
	if err := r.bank.SendCoin(sender, p.account(), denomIn, amountIn); err != nil {
		return sdkmath.Int{}, err
	}
	if err := r.bank.SendCoin(p.account(), sender, denomOut, out); err != nil {
		return sdkmath.Int{}, err
	}
	return out, nil
}

// Snapshot captures every pool's LP supply and returns a single-use func
// that restores it. Reserves live in bank accounts and are covered by the
// bank's own snapshot.
func (r *Router) Snapshot() func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := make(map[string]sdkmath.Int, len(r.pools))
	for id, p := range r.pools {
		saved[id] = p.totalShares
	}
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		for id, shares := range saved {
			if p, ok := r.pools[id]; ok {
				p.totalShares = shares
			}
		}
	}
}

// Reserves returns the pool's current reserves as coins.
func (r *Router) Reserves(poolID string) (sdk.Coins, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[poolID]
	if !ok {
		return nil, ErrPoolNotFound
	}
	return sdk.NewCoins(
		sdk.NewCoin(p.denomA, r.bank.Balance(p.account(), p.denomA)),
		sdk.NewCoin(p.denomB, r.bank.Balance(p.account(), p.denomB)),
	), nil
}

// ReservesOf returns the two reserves ordered as (denom, other).
func (r *Router) ReservesOf(poolID, denom string) (own, other sdkmath.Int, otherDenom string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[poolID]
	if !ok {
		return sdkmath.Int{}, sdkmath.Int{}, "", ErrPoolNotFound
	}
	switch denom {
	case p.denomA:
		return r.bank.Balance(p.account(), p.denomA), r.bank.Balance(p.account(), p.denomB), p.denomB, nil
	case p.denomB:
		return r.bank.Balance(p.account(), p.denomB), r.bank.Balance(p.account(), p.denomA), p.denomA, nil
	default:
		return sdkmath.Int{}, sdkmath.Int{}, "", ErrInvalidPair
	}
}

// TotalShares returns the pool's outstanding LP supply.
func (r *Router) TotalShares(poolID string) (sdkmath.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[poolID]
	if !ok {
		return sdkmath.Int{}, ErrPoolNotFound
	}
	return p.totalShares, nil
}

// LPDenom returns the bank denom of the pool's LP token.
func (r *Router) LPDenom(poolID string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.pools[poolID]
	if !ok {
		return "", ErrPoolNotFound
	}
	return p.lpDenom(), nil
}

// HasPair reports whether a direct pool exists for the denom pair.
func (r *Router) HasPair(denomIn, denomOut string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.byPair[pairKey(denomIn, denomOut)]
	return ok
}

func pairKey(a, b string) string { return a + "|" + b }
