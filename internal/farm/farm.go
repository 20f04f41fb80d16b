/*

Package farm is the staking reward farm the workers restake their LP into.
Accounting is the usual acc-reward-per-share scheme: each pool accrues
rewardPerSec * elapsed spread over the staked supply, and a staker's pending
reward is amount * accRewardPerShare - rewardDebt. Rewards are minted in the
reward denom on harvest.

*/

package farm

import (
	"errors"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/leverfarm/dnv/internal/bank"
	"github.com/leverfarm/dnv/internal/logger"
)

var (
	ErrFarmPoolNotFound = errors.New("farm: pool not found")
	ErrFarmPoolExists   = errors.New("farm: pool already exists")
	ErrNotEnoughStaked  = errors.New("farm: withdraw exceeds staked amount")
)

type staker struct {
	amount     sdkmath.Int
	rewardDebt sdkmath.LegacyDec
}

type rewardPool struct {
	stakeDenom        string
	rewardPerSec      sdkmath.Int
	accRewardPerShare sdkmath.LegacyDec
	totalStaked       sdkmath.Int
	lastRewardTime    time.Time
	stakers           map[string]*staker
}

// Farm manages all reward pools. Safe for concurrent use.
type Farm struct {
	mu          sync.Mutex
	bank        *bank.Keeper
	rewardDenom string
	pools       map[string]*rewardPool
	clock       func() time.Time
}

func New(bk *bank.Keeper, rewardDenom string) *Farm {
	return &Farm{
		bank:        bk,
		rewardDenom: rewardDenom,
		pools:       make(map[string]*rewardPool),
		clock:       time.Now,
	}
}

// SetClock overrides the time source. Used by tests and the keeper harness.
func (f *Farm) SetClock(clock func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clock = clock
}

// RewardDenom returns the denom rewards are paid in.
func (f *Farm) RewardDenom() string { return f.rewardDenom }

// AddPool registers a staking pool for stakeDenom emitting rewardPerSec.
func (f *Farm) AddPool(poolID, stakeDenom string, rewardPerSec sdkmath.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.pools[poolID]; ok {
		return ErrFarmPoolExists
	}
	f.pools[poolID] = &rewardPool{
		stakeDenom:        stakeDenom,
		rewardPerSec:      rewardPerSec,
		accRewardPerShare: sdkmath.LegacyZeroDec(),
		totalStaked:       sdkmath.ZeroInt(),
		lastRewardTime:    f.clock(),
		stakers:           make(map[string]*staker),
	}
	log := logger.GetForComponent("farm")
	log.Info().
		Str("pool_id", poolID).
		Str("stake_denom", stakeDenom).
		Str("reward_per_sec", rewardPerSec.String()).
		Msg("Reward pool registered")
	return nil
}

func (p *rewardPool) update(now time.Time) {
	if !now.After(p.lastRewardTime) {
		return
	}
	elapsed := int64(now.Sub(p.lastRewardTime) / time.Second)
	p.lastRewardTime = now
	if elapsed <= 0 || !p.totalStaked.IsPositive() {
		return
	}
	reward := p.rewardPerSec.MulRaw(elapsed)
	p.accRewardPerShare = p.accRewardPerShare.Add(
		sdkmath.LegacyNewDecFromInt(reward).QuoInt(p.totalStaked))
}

// payPending mints the staker's accrued reward and resets the debt marker.
func (f *Farm) payPending(p *rewardPool, addr string, s *staker) error {
	pending := p.accRewardPerShare.MulInt(s.amount).Sub(s.rewardDebt).TruncateInt()
	if pending.IsPositive() {
		if err := f.bank.MintCoin(addr, f.rewardDenom, pending); err != nil {
			return err
		}
	}
	return nil
}

// Deposit stakes amount of the pool's stake denom for addr.
func (f *Farm) Deposit(addr, poolID string, amount sdkmath.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pools[poolID]
	if !ok {
		return ErrFarmPoolNotFound
	}
	p.update(f.clock())
	s, ok := p.stakers[addr]
	if !ok {
		s = &staker{amount: sdkmath.ZeroInt(), rewardDebt: sdkmath.LegacyZeroDec()}
		p.stakers[addr] = s
	}
	if err := f.payPending(p, addr, s); err != nil {
		return err
	}
	if amount.IsPositive() {
		if err := f.bank.SendCoin(addr, f.account(poolID), p.stakeDenom, amount); err != nil {
			return err
		}
		s.amount = s.amount.Add(amount)
		p.totalStaked = p.totalStaked.Add(amount)
	}
	s.rewardDebt = p.accRewardPerShare.MulInt(s.amount)
	return nil
}

// Withdraw unstakes amount back to addr, paying pending rewards first.
func (f *Farm) Withdraw(addr, poolID string, amount sdkmath.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pools[poolID]
	if !ok {
		return ErrFarmPoolNotFound
	}
	p.update(f.clock())
	s, ok := p.stakers[addr]
	if !ok || s.amount.LT(amount) {
		return ErrNotEnoughStaked
	}
	if err := f.payPending(p, addr, s); err != nil {
		return err
	}
	if amount.IsPositive() {
		if err := f.bank.SendCoin(f.account(poolID), addr, p.stakeDenom, amount); err != nil {
			return err
		}
		s.amount = s.amount.Sub(amount)
		p.totalStaked = p.totalStaked.Sub(amount)
	}
	s.rewardDebt = p.accRewardPerShare.MulInt(s.amount)
	return nil
}

// Snapshot captures the accounting of every pool and returns a single-use
// func that restores it. Staked tokens and minted rewards live in bank
// accounts and are covered by the bank's own snapshot.
func (f *Farm) Snapshot() func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	saved := make(map[string]*rewardPool, len(f.pools))
	for id, p := range f.pools {
		cp := &rewardPool{
			stakeDenom:        p.stakeDenom,
			rewardPerSec:      p.rewardPerSec,
			accRewardPerShare: p.accRewardPerShare,
			totalStaked:       p.totalStaked,
			lastRewardTime:    p.lastRewardTime,
			stakers:           make(map[string]*staker, len(p.stakers)),
		}
		for addr, s := range p.stakers {
			sc := *s
			cp.stakers[addr] = &sc
		}
		saved[id] = cp
	}
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.pools = saved
	}
}

// Harvest pays out addr's pending rewards without changing the stake.
func (f *Farm) Harvest(addr, poolID string) error {
	return f.Withdraw(addr, poolID, sdkmath.ZeroInt())
}

// Staked returns addr's staked amount in the pool.
func (f *Farm) Staked(addr, poolID string) (sdkmath.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pools[poolID]
	if !ok {
		return sdkmath.Int{}, ErrFarmPoolNotFound
	}
	s, ok := p.stakers[addr]
	if !ok {
		return sdkmath.ZeroInt(), nil
	}
	return s.amount, nil
}

// Pending returns addr's unharvested reward in the pool.
func (f *Farm) Pending(addr, poolID string) (sdkmath.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pools[poolID]
	if !ok {
		return sdkmath.Int{}, ErrFarmPoolNotFound
	}
	s, ok := p.stakers[addr]
	if !ok {
		return sdkmath.ZeroInt(), nil
	}
	acc := p.accRewardPerShare
	now := f.clock()
	if now.After(p.lastRewardTime) && p.totalStaked.IsPositive() {
		elapsed := int64(now.Sub(p.lastRewardTime) / time.Second)
		if elapsed > 0 {
			reward := p.rewardPerSec.MulRaw(elapsed)
			acc = acc.Add(sdkmath.LegacyNewDecFromInt(reward).QuoInt(p.totalStaked))
		}
	}
	return acc.MulInt(s.amount).Sub(s.rewardDebt).TruncateInt(), nil
}

func (f *Farm) account(poolID string) string { return "farm/" + poolID }
