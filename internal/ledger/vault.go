/*

Package ledger is the interest-bearing lending vault. Lenders deposit the
base token for ib shares; leveraged positions borrow against pooled LP
managed by a worker. Interest accrues lazily as a pure function of elapsed
time at the top of every mutating entry point, and debt is tracked as
shares of the total debt value so accrual never touches individual
positions.

*/

package ledger

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/leverfarm/dnv/internal/bank"
	"github.com/leverfarm/dnv/internal/interest"
	"github.com/leverfarm/dnv/internal/types"
)

var (
	ErrBadWorkFactor         = errors.New("ledger: position health below work factor requirement")
	ErrTooSmallDebtSize      = errors.New("ledger: debt below minimum debt size")
	ErrInsufficientFunds     = errors.New("ledger: insufficient funds")
	ErrInsufficientLiquidity = errors.New("ledger: not enough idle liquidity")
	ErrCannotLiquidate       = errors.New("ledger: position is healthy")
	ErrUnapprovedWorker      = errors.New("ledger: worker not approved")
	ErrNotPositionOwner      = errors.New("ledger: caller does not own the position")
	ErrReentrantCall         = errors.New("ledger: reentrant call")
	ErrWorkerNotAcceptDebt   = errors.New("ledger: worker does not accept more debt")
	ErrPositionNotFound      = errors.New("ledger: position not found")
	ErrNotAdmin              = errors.New("ledger: caller is not the admin")
	ErrUnsafePosition        = errors.New("ledger: position margin below kill factor")
	ErrNotWhitelistedCaller  = errors.New("ledger: caller is not whitelisted")
)

// Worker is the position manager a vault lends against. Defined here so the
// ledger does not import the worker package. Snapshot must capture every
// piece of state a Work or Liquidate call can touch; the vault invokes the
// returned func to roll a failed call back.
type Worker interface {
	Name() string
	Account() string
	BaseDenom() string
	Work(id types.PositionID, owner string, debt sdkmath.Int, payload types.StrategyPayload) error
	Health(id types.PositionID) (sdkmath.Int, error)
	Liquidate(id types.PositionID) (sdkmath.Int, error)
	Snapshot() func()
}

// BoostSource looks up a per-owner work factor bonus, e.g. from staked
// governance tokens. May be nil.
type BoostSource interface {
	WorkFactorBonusBps(owner, workerName string) int64
}

// WorkerConfig holds the risk parameters for one approved worker.
type WorkerConfig struct {
	WorkFactorBps int64 // Max debt as bps of health when opening/resizing
	KillFactorBps int64 // Debt bps of health above which anyone may kill
	AcceptsDebt   bool
	IsStable      bool // Farming pool is considered low-volatility
}

// Params are the vault-level tunables.
type Params struct {
	MinDebtSize     sdkmath.Int
	ReservePoolBps  int64
	KillPrizeBps    int64
	KillTreasuryBps int64
	TreasuryAccount string
	Admin           string
}

// Position is a leveraged farming position. Records are never deleted; a
// fully closed position keeps its id and owner and may be reopened.
type Position struct {
	ID        types.PositionID
	Owner     string
	Worker    string
	DebtShare sdkmath.Int
}

type workerEntry struct {
	worker Worker
	cfg    WorkerConfig
}

// Vault is one lending ledger. Safe for concurrent use; mutating entry
// points additionally reject reentrancy.
type Vault struct {
	mu     sync.Mutex
	locked int32

	name      string
	baseDenom string
	params    Params
	model     interest.Model
	bank      *bank.Keeper
	boost     BoostSource
	clock     func() time.Time

	totalDebtShare sdkmath.Int
	totalDebtValue sdkmath.Int
	reservePool    sdkmath.Int
	lastAccrueTime time.Time

	nextID      types.PositionID
	positions   map[types.PositionID]*Position
	workers     map[string]workerEntry
	whitelisted map[string]bool
}

func New(name, baseDenom string, params Params, model interest.Model, bk *bank.Keeper, boost BoostSource) *Vault {
	v := &Vault{
		name:           name,
		baseDenom:      baseDenom,
		params:         params,
		model:          model,
		bank:           bk,
		boost:          boost,
		clock:          time.Now,
		totalDebtShare: sdkmath.ZeroInt(),
		totalDebtValue: sdkmath.ZeroInt(),
		reservePool:    sdkmath.ZeroInt(),
		nextID:         1,
		positions:      make(map[types.PositionID]*Position),
		workers:        make(map[string]workerEntry),
		whitelisted:    make(map[string]bool),
	}
	v.lastAccrueTime = v.clock()
	return v
}

// SetClock overrides the time source. Used by tests and the keeper harness.
func (v *Vault) SetClock(clock func() time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.clock = clock
	v.lastAccrueTime = clock()
}

// Name returns the vault's name.
func (v *Vault) Name() string { return v.name }

// Account returns the vault's bank account holding idle liquidity.
func (v *Vault) Account() string { return "vault/" + v.name }

// ShareDenom returns the bank denom of the vault's ib token.
func (v *Vault) ShareDenom() string { return "ib/" + v.name }

// BaseDenom returns the vault's base token denom.
func (v *Vault) BaseDenom() string { return v.baseDenom }

// ApproveWorker registers a worker with its risk parameters.
func (v *Vault) ApproveWorker(caller string, w Worker, cfg WorkerConfig) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.params.Admin {
		return ErrNotAdmin
	}
	if w.BaseDenom() != v.baseDenom {
		return fmt.Errorf("%w: worker settles in %s, vault lends %s", ErrUnapprovedWorker, w.BaseDenom(), v.baseDenom)
	}
	v.workers[w.Name()] = workerEntry{worker: w, cfg: cfg}
	return nil
}

// SetWhitelistedCaller toggles an account on the trusted-caller list. Only
// whitelisted callers may skip the margin check on addCollateral.
func (v *Vault) SetWhitelistedCaller(caller, addr string, ok bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.params.Admin {
		return ErrNotAdmin
	}
	v.whitelisted[addr] = ok
	return nil
}

// lock rejects reentrant entry. Returns the matching unlock.
func (v *Vault) lock() (func(), error) {
	if !atomic.CompareAndSwapInt32(&v.locked, 0, 1) {
		return nil, ErrReentrantCall
	}
	v.mu.Lock()
	return func() {
		v.mu.Unlock()
		atomic.StoreInt32(&v.locked, 0)
	}, nil
}

// pendingInterest returns the interest accrued since the last accrual.
// Caller must hold the lock.
func (v *Vault) pendingInterest(now time.Time) sdkmath.Int {
	elapsed := int64(now.Sub(v.lastAccrueTime) / time.Second)
	if elapsed <= 0 || !v.totalDebtValue.IsPositive() {
		return sdkmath.ZeroInt()
	}
	floating := v.bank.Balance(v.Account(), v.baseDenom)
	ratePerSec := v.model.RatePerSec(v.totalDebtValue, floating)
	return ratePerSec.MulInt(v.totalDebtValue).MulInt64(elapsed).TruncateInt()
}

// accrue folds pending interest into the debt and the reserve pool. Caller
// must hold the lock.
func (v *Vault) accrue() {
	now := v.clock()
	interestAmt := v.pendingInterest(now)
	v.lastAccrueTime = now
	if !interestAmt.IsPositive() {
		return
	}
	toReserve := interestAmt.MulRaw(v.params.ReservePoolBps).QuoRaw(10000)
	v.reservePool = v.reservePool.Add(toReserve)
	v.totalDebtValue = v.totalDebtValue.Add(interestAmt)
}

// totalToken is the value backing all ib shares: idle liquidity plus
// outstanding debt, minus the protocol reserve. Caller must hold the lock.
func (v *Vault) totalToken() sdkmath.Int {
	return v.bank.Balance(v.Account(), v.baseDenom).Add(v.totalDebtValue).Sub(v.reservePool)
}

// TotalToken returns the value backing all ib shares, after accrual.
func (v *Vault) TotalToken() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.accrue()
	return v.totalToken()
}

// ReservePool returns the accumulated protocol reserve.
func (v *Vault) ReservePool() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.reservePool
}

// TotalDebtValue returns the outstanding debt, after accrual.
func (v *Vault) TotalDebtValue() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.accrue()
	return v.totalDebtValue
}

// debtShareToVal converts debt shares to debt value. Identity at zero
// totals. Caller must hold the lock.
func (v *Vault) debtShareToVal(share sdkmath.Int) sdkmath.Int {
	if v.totalDebtShare.IsZero() {
		return share
	}
	return share.Mul(v.totalDebtValue).Quo(v.totalDebtShare)
}

// debtValToShare converts debt value to debt shares. Identity at zero
// totals. Caller must hold the lock.
func (v *Vault) debtValToShare(val sdkmath.Int) sdkmath.Int {
	if v.totalDebtShare.IsZero() {
		return val
	}
	return val.Mul(v.totalDebtShare).Quo(v.totalDebtValue)
}

// snapshotBooks captures the vault's internal accounting and returns a
// single-use func that restores it. Caller must hold the lock for both the
// capture and the restore.
func (v *Vault) snapshotBooks() func() {
	positions := make(map[types.PositionID]*Position, len(v.positions))
	for id, pos := range v.positions {
		cp := *pos
		positions[id] = &cp
	}
	totalDebtShare, totalDebtValue := v.totalDebtShare, v.totalDebtValue
	reservePool, nextID := v.reservePool, v.nextID
	return func() {
		v.positions = positions
		v.totalDebtShare = totalDebtShare
		v.totalDebtValue = totalDebtValue
		v.reservePool = reservePool
		v.nextID = nextID
	}
}

// Snapshot captures the vault's books and returns a single-use restore
// func. Token balances are not included; callers pair it with the bank's
// snapshot.
func (v *Vault) Snapshot() func() {
	v.mu.Lock()
	defer v.mu.Unlock()
	books := v.snapshotBooks()
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		books()
	}
}

// revertPoint captures everything a work or kill call can touch: the
// vault's books, all token balances, and the worker's state. Caller must
// hold the lock.
func (v *Vault) revertPoint(w Worker) func() {
	books := v.snapshotBooks()
	restoreBank := v.bank.Snapshot()
	restoreWorker := w.Snapshot()
	return func() {
		restoreWorker()
		restoreBank()
		books()
	}
}

// Deposit lends amount of base token and mints ib shares to caller.
func (v *Vault) Deposit(caller string, amount sdkmath.Int) (sdkmath.Int, error) {
	unlock, err := v.lock()
	if err != nil {
		return sdkmath.Int{}, err
	}
	defer unlock()
	v.accrue()

	total := v.totalToken()
	supply := v.bank.Balance("supply/"+v.ShareDenom(), v.ShareDenom())
	if err := v.bank.SendCoin(caller, v.Account(), v.baseDenom, amount); err != nil {
		return sdkmath.Int{}, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}
	var shares sdkmath.Int
	if supply.IsZero() || !total.IsPositive() {
		shares = amount
	} else {
		shares = amount.Mul(supply).Quo(total)
	}
	if err := v.mintShares(caller, shares); err != nil {
		return sdkmath.Int{}, err
	}
	return shares, nil
}

// Withdraw burns ib shares and pays out the proportional slice of the
// vault's total value from idle liquidity.
func (v *Vault) Withdraw(caller string, shares sdkmath.Int) (sdkmath.Int, error) {
	unlock, err := v.lock()
	if err != nil {
		return sdkmath.Int{}, err
	}
	defer unlock()
	v.accrue()

	supply := v.bank.Balance("supply/"+v.ShareDenom(), v.ShareDenom())
	if !supply.IsPositive() || shares.GT(supply) {
		return sdkmath.Int{}, ErrInsufficientFunds
	}
	amount := shares.Mul(v.totalToken()).Quo(supply)
	if amount.GT(v.bank.Balance(v.Account(), v.baseDenom)) {
		return sdkmath.Int{}, ErrInsufficientLiquidity
	}
	if err := v.burnShares(caller, shares); err != nil {
		return sdkmath.Int{}, fmt.Errorf("%w: %v", ErrInsufficientFunds, err)
	}
	if err := v.bank.SendCoin(v.Account(), caller, v.baseDenom, amount); err != nil {
		return sdkmath.Int{}, err
	}
	return amount, nil
}

// mintShares mints ib tokens to addr and mirrors them into the supply
// tracking account. Caller must hold the lock.
func (v *Vault) mintShares(addr string, shares sdkmath.Int) error {
	if err := v.bank.MintCoin(addr, v.ShareDenom(), shares); err != nil {
		return err
	}
	return v.bank.MintCoin("supply/"+v.ShareDenom(), v.ShareDenom(), shares)
}

// burnShares burns addr's ib tokens and the supply mirror. Caller must hold
// the lock.
func (v *Vault) burnShares(addr string, shares sdkmath.Int) error {
	if err := v.bank.BurnCoin(addr, v.ShareDenom(), shares); err != nil {
		return err
	}
	return v.bank.BurnCoin("supply/"+v.ShareDenom(), v.ShareDenom(), shares)
}

// ShareSupply returns the outstanding ib token supply.
func (v *Vault) ShareSupply() sdkmath.Int {
	return v.bank.Balance("supply/"+v.ShareDenom(), v.ShareDenom())
}

// PositionInfo returns a position's health and current debt value.
func (v *Vault) PositionInfo(id types.PositionID) (health, debt sdkmath.Int, err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.accrue()
	pos, ok := v.positions[id]
	if !ok {
		return sdkmath.Int{}, sdkmath.Int{}, ErrPositionNotFound
	}
	entry := v.workers[pos.Worker]
	health, err = entry.worker.Health(id)
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, err
	}
	return health, v.debtShareToVal(pos.DebtShare), nil
}

// Position returns a copy of the position record.
func (v *Vault) Position(id types.PositionID) (Position, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	pos, ok := v.positions[id]
	if !ok {
		return Position{}, ErrPositionNotFound
	}
	return *pos, nil
}

// NextPositionID returns the id the next new position will get.
func (v *Vault) NextPositionID() types.PositionID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.nextID
}

// Positions returns copies of every position record, ordered by id.
func (v *Vault) Positions() []Position {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Position, 0, len(v.positions))
	for _, pos := range v.positions {
		out = append(out, *pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
