/*

Package worker manages pooled LP on behalf of one lending vault. Every
position's stake is tracked as shares of the worker's total pooled LP, so
reinvested rewards compound to all positions without per-position updates.
The worker never holds tokens between calls: base proceeds are swept to its
operator (the vault) and LP is staked in the reward farm.

*/

package worker

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"

	"github.com/leverfarm/dnv/internal/amm"
	"github.com/leverfarm/dnv/internal/bank"
	"github.com/leverfarm/dnv/internal/farm"
	"github.com/leverfarm/dnv/internal/logger"
	"github.com/leverfarm/dnv/internal/strategy"
	"github.com/leverfarm/dnv/internal/types"
)

var (
	ErrUnapprovedStrategy   = errors.New("worker: strategy not approved")
	ErrExceededMaxBounty    = errors.New("worker: reinvest bounty exceeds maximum")
	ErrInvalidReinvestPath  = errors.New("worker: reinvest path must run reward token to base token")
	ErrNotAdmin             = errors.New("worker: caller is not the admin")
)

// Config wires a worker to one farming pool and one vault.
type Config struct {
	Name            string
	PoolID          string // AMM pool the LP belongs to
	FarmPoolID      string // Reward farm pool the LP is staked in
	BaseDenom       string
	FarmDenom       string
	OperatorAccount string // Vault account base proceeds are swept to
	Admin           string

	ReinvestBountyBps    int64
	MaxReinvestBountyBps int64
	ReinvestThreshold    sdkmath.Int
	ReinvestPath         []string // Reward denom ... base denom
	TreasuryAccount      string
	TreasuryBountyBps    int64 // Slice of the bounty routed to the treasury
	BeneficialVault      string
	BeneficialVaultBps   int64    // Slice of the bounty routed to the other vault
	BeneficialVaultPath  []string // Reward denom ... beneficial vault's base denom
}

// Worker is the pooled-LP position manager. Safe for concurrent use.
type Worker struct {
	mu  sync.Mutex
	cfg Config

	bank       *bank.Keeper
	router     *amm.Router
	farm       *farm.Farm
	lpDenom    string
	strategies map[types.StrategyKind]strategy.Strategy
	approved   map[types.StrategyKind]bool

	shares       map[types.PositionID]sdkmath.Int
	totalShare   sdkmath.Int
	totalBalance sdkmath.Int // Total pooled LP staked in the farm
}

func New(cfg Config, bk *bank.Keeper, router *amm.Router, fm *farm.Farm) (*Worker, error) {
	lpDenom, err := router.LPDenom(cfg.PoolID)
	if err != nil {
		return nil, err
	}
	if cfg.ReinvestBountyBps > cfg.MaxReinvestBountyBps {
		return nil, ErrExceededMaxBounty
	}
	if err := validatePath(cfg.ReinvestPath, fm.RewardDenom(), cfg.BaseDenom); err != nil {
		return nil, err
	}
	set := strategy.NewSet(strategy.Context{
		Bank:      bk,
		Router:    router,
		PoolID:    cfg.PoolID,
		BaseDenom: cfg.BaseDenom,
		FarmDenom: cfg.FarmDenom,
		LPDenom:   lpDenom,
	})
	w := &Worker{
		cfg:          cfg,
		bank:         bk,
		router:       router,
		farm:         fm,
		lpDenom:      lpDenom,
		strategies:   set,
		approved:     make(map[types.StrategyKind]bool),
		shares:       make(map[types.PositionID]sdkmath.Int),
		totalShare:   sdkmath.ZeroInt(),
		totalBalance: sdkmath.ZeroInt(),
	}
	for kind := range set {
		w.approved[kind] = true
	}
	return w, nil
}

func validatePath(path []string, rewardDenom, endDenom string) error {
	if len(path) == 0 {
		return nil
	}
	if len(path) < 2 || path[0] != rewardDenom || path[len(path)-1] != endDenom {
		return fmt.Errorf("%w: got %v", ErrInvalidReinvestPath, path)
	}
	return nil
}

// Name returns the worker's registered name.
func (w *Worker) Name() string { return w.cfg.Name }

// Account returns the worker's operating bank account.
func (w *Worker) Account() string { return "worker/" + w.cfg.Name }

// BaseDenom returns the denom the worker settles in.
func (w *Worker) BaseDenom() string { return w.cfg.BaseDenom }

// ShareToBalance converts pooled shares to LP balance. Identity while the
// pool is empty.
func (w *Worker) ShareToBalance(share sdkmath.Int) sdkmath.Int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.shareToBalance(share)
}

func (w *Worker) shareToBalance(share sdkmath.Int) sdkmath.Int {
	if w.totalShare.IsZero() {
		return share
	}
	return share.Mul(w.totalBalance).Quo(w.totalShare)
}

// BalanceToShare converts LP balance to pooled shares. Identity while the
// pool is empty.
func (w *Worker) BalanceToShare(balance sdkmath.Int) sdkmath.Int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.balanceToShare(balance)
}

func (w *Worker) balanceToShare(balance sdkmath.Int) sdkmath.Int {
	if w.totalBalance.IsZero() {
		return balance
	}
	return balance.Mul(w.totalShare).Quo(w.totalBalance)
}

// SharesOf returns the pooled shares held by a position.
func (w *Worker) SharesOf(id types.PositionID) sdkmath.Int {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.shares[id]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return s
}

// PositionLP returns the LP balance a position's shares redeem to.
func (w *Worker) PositionLP(id types.PositionID) sdkmath.Int {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.shares[id]
	if !ok {
		return sdkmath.ZeroInt()
	}
	return w.shareToBalance(s)
}

// TotalShare returns the sum of all position shares.
func (w *Worker) TotalShare() sdkmath.Int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalShare
}

// TotalBalance returns the total pooled LP.
func (w *Worker) TotalBalance() sdkmath.Int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalBalance
}

// SetStrategyApproval toggles a strategy kind on the allow-list.
func (w *Worker) SetStrategyApproval(caller string, kind types.StrategyKind, ok bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if caller != w.cfg.Admin {
		return ErrNotAdmin
	}
	w.approved[kind] = ok
	return nil
}

// SetReinvestConfig updates the bounty, threshold, and swap path.
func (w *Worker) SetReinvestConfig(caller string, bountyBps int64, threshold sdkmath.Int, path []string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if caller != w.cfg.Admin {
		return ErrNotAdmin
	}
	if bountyBps > w.cfg.MaxReinvestBountyBps {
		return ErrExceededMaxBounty
	}
	if err := validatePath(path, w.farm.RewardDenom(), w.cfg.BaseDenom); err != nil {
		return err
	}
	w.cfg.ReinvestBountyBps = bountyBps
	w.cfg.ReinvestThreshold = threshold
	w.cfg.ReinvestPath = path
	return nil
}

// Snapshot captures the share ledger together with the pool and farm
// accounting the strategies touch, and returns a single-use func that
// restores all of it. The vault takes one before handing funds to Work so
// a failed work call leaves no trace.
func (w *Worker) Snapshot() func() {
	w.mu.Lock()
	shares := make(map[types.PositionID]sdkmath.Int, len(w.shares))
	for id, s := range w.shares {
		shares[id] = s
	}
	totalShare, totalBalance := w.totalShare, w.totalBalance
	w.mu.Unlock()

	restoreFarm := w.farm.Snapshot()
	restoreRouter := w.router.Snapshot()
	return func() {
		restoreFarm()
		restoreRouter()
		w.mu.Lock()
		w.shares = shares
		w.totalShare = totalShare
		w.totalBalance = totalBalance
		w.mu.Unlock()
	}
}

// removeShare unstakes a position's LP into the operating account and drops
// its shares. Caller must hold the lock.
func (w *Worker) removeShare(id types.PositionID) error {
	s, ok := w.shares[id]
	if !ok || !s.IsPositive() {
		return nil
	}
	balance := w.shareToBalance(s)
	if balance.IsPositive() {
		if err := w.farm.Withdraw(w.Account(), w.cfg.FarmPoolID, balance); err != nil {
			return err
		}
	}
	w.totalShare = w.totalShare.Sub(s)
	w.totalBalance = w.totalBalance.Sub(balance)
	w.shares[id] = sdkmath.ZeroInt()
	return nil
}

// addShare stakes every LP token in the operating account and credits the
// matching shares to the position. Caller must hold the lock.
func (w *Worker) addShare(id types.PositionID) error {
	balance := w.bank.Balance(w.Account(), w.lpDenom)
	if !balance.IsPositive() {
		return nil
	}
	share := w.balanceToShare(balance)
	if err := w.farm.Deposit(w.Account(), w.cfg.FarmPoolID, balance); err != nil {
		return err
	}
	if _, ok := w.shares[id]; !ok {
		w.shares[id] = sdkmath.ZeroInt()
	}
	w.shares[id] = w.shares[id].Add(share)
	w.totalShare = w.totalShare.Add(share)
	w.totalBalance = w.totalBalance.Add(balance)
	return nil
}

// sweepBase sends every base token in the operating account to the vault.
func (w *Worker) sweepBase() error {
	baseAmt := w.bank.Balance(w.Account(), w.cfg.BaseDenom)
	if !baseAmt.IsPositive() {
		return nil
	}
	return w.bank.SendCoin(w.Account(), w.cfg.OperatorAccount, w.cfg.BaseDenom, baseAmt)
}

// Work reshapes the position with the payload's strategy. The vault has
// already placed principal and borrowed base tokens in the operating
// account; whatever base remains afterwards is swept back to the vault.
func (w *Worker) Work(id types.PositionID, owner string, debt sdkmath.Int, payload types.StrategyPayload) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.strategies[payload.Kind]
	if !ok || !w.approved[payload.Kind] {
		return fmt.Errorf("%w: %s", ErrUnapprovedStrategy, payload.Kind)
	}
	if err := w.removeShare(id); err != nil {
		return err
	}
	if err := st.Execute(w.Account(), owner, debt, payload); err != nil {
		return err
	}
	if err := w.addShare(id); err != nil {
		return err
	}
	return w.sweepBase()
}

// Health values the position in base tokens: the base leg plus the farm leg
// market-sold into what is left of the pool after withdrawing both legs.
func (w *Worker) Health(id types.PositionID) (sdkmath.Int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.shares[id]
	if !ok || !s.IsPositive() {
		return sdkmath.ZeroInt(), nil
	}
	lp := w.shareToBalance(s)
	supply, err := w.router.TotalShares(w.cfg.PoolID)
	if err != nil {
		return sdkmath.Int{}, err
	}
	if !supply.IsPositive() {
		return sdkmath.ZeroInt(), nil
	}
	resBase, resFarm, _, err := w.router.ReservesOf(w.cfg.PoolID, w.cfg.BaseDenom)
	if err != nil {
		return sdkmath.Int{}, err
	}
	userBase := lp.Mul(resBase).Quo(supply)
	userFarm := lp.Mul(resFarm).Quo(supply)
	sold := amm.GetMktSellAmount(userFarm, resFarm.Sub(userFarm), resBase.Sub(userBase))
	return userBase.Add(sold), nil
}

// Liquidate converts the whole position to base tokens and sweeps them to
// the vault. Returns the proceeds.
func (w *Worker) Liquidate(id types.PositionID) (sdkmath.Int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	before := w.bank.Balance(w.cfg.OperatorAccount, w.cfg.BaseDenom)
	if err := w.removeShare(id); err != nil {
		return sdkmath.Int{}, err
	}
	st := w.strategies[types.StrategyLiquidate]
	if err := st.Execute(w.Account(), "", sdkmath.ZeroInt(), types.NewPayload(types.StrategyLiquidate)); err != nil {
		return sdkmath.Int{}, err
	}
	if err := w.sweepBase(); err != nil {
		return sdkmath.Int{}, err
	}
	proceeds := w.bank.Balance(w.cfg.OperatorAccount, w.cfg.BaseDenom).Sub(before)
	log := logger.GetForComponent("worker")
	log.Info().
		Str("worker", w.cfg.Name).
		Uint64("position_id", uint64(id)).
		Str("proceeds", proceeds.String()).
		Msg("Position liquidated")
	return proceeds, nil
}
