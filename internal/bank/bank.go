/*

Package bank is the in-process token ledger every other package settles
through. Accounts are plain string addresses; balances are sdk.Coins so the
rest of the engine can move multi-denom amounts without its own bookkeeping.

*/

package bank

import (
	"errors"
	"sync"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"

	"github.com/leverfarm/dnv/internal/logger"
)

var (
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	ErrInvalidAmount       = errors.New("bank: invalid amount")
)

// Keeper holds all account balances. Safe for concurrent use.
type Keeper struct {
	mu       sync.Mutex
	balances map[string]sdk.Coins
}

func New() *Keeper {
	return &Keeper{balances: make(map[string]sdk.Coins)}
}

// Mint credits newly created tokens to addr.
func (k *Keeper) Mint(addr string, coins sdk.Coins) error {
	if coins.IsAnyNegative() {
		return ErrInvalidAmount
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.balances[addr] = k.balances[addr].Add(coins...)
	return nil
}

// Burn destroys tokens held by addr.
func (k *Keeper) Burn(addr string, coins sdk.Coins) error {
	if coins.IsAnyNegative() {
		return ErrInvalidAmount
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	have := k.balances[addr]
	left, neg := have.SafeSub(coins...)
	if neg {
		return ErrInsufficientBalance
	}
	k.balances[addr] = left
	return nil
}

// Send moves tokens between two accounts.
func (k *Keeper) Send(from, to string, coins sdk.Coins) error {
	if coins.IsAnyNegative() {
		return ErrInvalidAmount
	}
	if coins.IsZero() || from == to {
		return nil
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	have := k.balances[from]
	left, neg := have.SafeSub(coins...)
	if neg {
		log := logger.GetForComponent("bank")
		log.Debug().
			Str("from", from).
			Str("to", to).
			Str("coins", coins.String()).
			Str("have", have.String()).
			Msg("Transfer rejected, balance too low")
		return ErrInsufficientBalance
	}
	k.balances[from] = left
	k.balances[to] = k.balances[to].Add(coins...)
	return nil
}

// SendCoin is the single-denom convenience form of Send.
func (k *Keeper) SendCoin(from, to, denom string, amount sdkmath.Int) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	if amount.IsZero() {
		return nil
	}
	return k.Send(from, to, sdk.NewCoins(sdk.NewCoin(denom, amount)))
}

// MintCoin is the single-denom convenience form of Mint.
func (k *Keeper) MintCoin(addr, denom string, amount sdkmath.Int) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	if amount.IsZero() {
		return nil
	}
	return k.Mint(addr, sdk.NewCoins(sdk.NewCoin(denom, amount)))
}

// BurnCoin is the single-denom convenience form of Burn.
func (k *Keeper) BurnCoin(addr, denom string, amount sdkmath.Int) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	if amount.IsZero() {
		return nil
	}
	return k.Burn(addr, sdk.NewCoins(sdk.NewCoin(denom, amount)))
}

// Snapshot captures every balance and returns a single-use func that
// restores them. Engines wrap multi-step token flows with it so a failing
// step can put every account back where it started.
func (k *Keeper) Snapshot() func() {
	k.mu.Lock()
	defer k.mu.Unlock()
	saved := make(map[string]sdk.Coins, len(k.balances))
	for addr, coins := range k.balances {
		cp := make(sdk.Coins, len(coins))
		copy(cp, coins)
		saved[addr] = cp
	}
	return func() {
		k.mu.Lock()
		defer k.mu.Unlock()
		k.balances = saved
	}
}

// Balance returns addr's balance in a single denom.
func (k *Keeper) Balance(addr, denom string) sdkmath.Int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.balances[addr].AmountOf(denom)
}

// Balances returns a copy of addr's full balance.
func (k *Keeper) Balances(addr string) sdk.Coins {
	k.mu.Lock()
	defer k.mu.Unlock()
	have := k.balances[addr]
	out := make(sdk.Coins, len(have))
	copy(out, have)
	return out
}
