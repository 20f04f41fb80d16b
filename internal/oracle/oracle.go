/*

Package oracle stores dollar price feeds keyed by token denom. Every feed
carries its update timestamp; staleness policy belongs to the caller, which
knows its own tolerance. LP tokens are priced fairly from pool reserves
rather than from a spot quote so a flash-skewed pool cannot inflate
collateral value.

*/

package oracle

import (
	"errors"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"
	sdk "github.com/cosmos/cosmos-sdk/types"
)

var ErrNoFeed = errors.New("oracle: no price feed for denom")

type feed struct {
	price     sdkmath.LegacyDec
	updatedAt time.Time
}

// FeedStore is a manual price feed registry. Safe for concurrent use.
type FeedStore struct {
	mu    sync.RWMutex
	feeds map[string]feed
	clock func() time.Time
}

func NewFeedStore() *FeedStore {
	return &FeedStore{
		feeds: make(map[string]feed),
		clock: time.Now,
	}
}

// SetClock overrides the time source. Used by tests and the keeper harness.
func (s *FeedStore) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

// SetPrice records a dollar price for denom, stamped with the current time.
func (s *FeedStore) SetPrice(denom string, price sdkmath.LegacyDec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[denom] = feed{price: price, updatedAt: s.clock()}
}

// SetPriceAt records a dollar price with an explicit timestamp.
func (s *FeedStore) SetPriceAt(denom string, price sdkmath.LegacyDec, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feeds[denom] = feed{price: price, updatedAt: at}
}

// TokenPrice returns the dollar price of denom and when it was last updated.
func (s *FeedStore) TokenPrice(denom string) (sdkmath.LegacyDec, time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.feeds[denom]
	if !ok {
		return sdkmath.LegacyDec{}, time.Time{}, ErrNoFeed
	}
	return f.price, f.updatedAt, nil
}

// LPValue prices lpAmount LP tokens of a pool from its reserves: each
// reserve leg is valued at its feed price, summed, then scaled by the LP
// share of total supply. The returned timestamp is the oldest feed used.
func (s *FeedStore) LPValue(lpAmount, lpSupply sdkmath.Int, reserves sdk.Coins) (sdkmath.LegacyDec, time.Time, error) {
	if !lpSupply.IsPositive() || lpAmount.IsZero() {
		return sdkmath.LegacyZeroDec(), s.now(), nil
	}
	poolValue := sdkmath.LegacyZeroDec()
	oldest := time.Time{}
	for _, r := range reserves {
		price, updatedAt, err := s.TokenPrice(r.Denom)
		if err != nil {
			return sdkmath.LegacyDec{}, time.Time{}, err
		}
		poolValue = poolValue.Add(price.MulInt(r.Amount))
		if oldest.IsZero() || updatedAt.Before(oldest) {
			oldest = updatedAt
		}
	}
	return poolValue.MulInt(lpAmount).QuoInt(lpSupply), oldest, nil
}

func (s *FeedStore) now() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clock()
}
