/*

Package neutral is the delta-neutral orchestrator. It runs one leveraged
position in each of two lending vaults over the same stable/asset farming
pool: the asset-side vault borrows the volatile token short while the
stable-side vault farms it long, so at the target leverage the combined
exposure nets out. Depositors hold a single share token priced off the
combined oracle equity of both positions.

*/

package neutral

import (
	"errors"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/leverfarm/dnv/internal/amm"
	"github.com/leverfarm/dnv/internal/bank"
	"github.com/leverfarm/dnv/internal/ledger"
	"github.com/leverfarm/dnv/internal/logger"
	"github.com/leverfarm/dnv/internal/oracle"
	"github.com/leverfarm/dnv/internal/types"
	"github.com/leverfarm/dnv/internal/worker"
)

var (
	ErrPositionsAlreadyInitialized = errors.New("neutral: positions already initialized")
	ErrPositionsNotInitialized     = errors.New("neutral: positions not initialized")
	ErrUnsafePositionEquity        = errors.New("neutral: position equity moved more than tolerated")
	ErrUnsafeDebtValue             = errors.New("neutral: side debt deviates from target")
	ErrUnsafeOutstanding           = errors.New("neutral: outstanding equity after withdraw out of tolerance")
	ErrPositionValueExceedLimit    = errors.New("neutral: total position value exceeds limit")
	ErrUntrustedPrice              = errors.New("neutral: price feed too old")
	ErrNotWhitelistedRebalancer    = errors.New("neutral: caller is not a whitelisted rebalancer")
	ErrNotWhitelistedReinvestor    = errors.New("neutral: caller is not a whitelisted reinvestor")
	ErrTooLittleReceived           = errors.New("neutral: received less than minimum")
	ErrNotAdmin                    = errors.New("neutral: caller is not the admin")
)

const (
	bpsDenominator = 10000
	secondsPerYear = 365 * 24 * 3600
)

// Config holds the orchestrator's tunables.
type Config struct {
	Name           string
	TargetLeverage int64 // Whole-number leverage, e.g. 3
	ToleranceBps   int64 // Slack applied to planned borrows and post-checks

	DepositFeeBps    int64
	WithdrawFeeBps   int64
	ManagementFeeBps int64 // Per year, streamed per elapsed second

	PositionValueLimit sdkmath.LegacyDec // Dollar cap on combined position value
	MaxPriceAge        time.Duration

	TreasuryAccount string
	Admin           string
}

// side binds one lending vault, its worker, and the open position.
type side struct {
	ledger     *ledger.Vault
	worker     *worker.Worker
	positionID types.PositionID
}

// Vault is the delta-neutral orchestrator. Safe for concurrent use.
type Vault struct {
	mu  sync.Mutex
	cfg Config

	bank   *bank.Keeper
	router *amm.Router
	feeds  *oracle.FeedStore
	clock  func() time.Time

	poolID      string
	stableDenom string
	assetDenom  string
	stable      side
	asset       side

	initialized      bool
	lastFeeCollected time.Time

	rebalancers map[string]bool
	reinvestors map[string]bool
	feeExempt   map[string]bool
}

// New wires an orchestrator over the two vault/worker pairs farming poolID.
func New(cfg Config, bk *bank.Keeper, router *amm.Router, feeds *oracle.FeedStore,
	poolID string, stableVault, assetVault *ledger.Vault, stableWorker, assetWorker *worker.Worker) *Vault {
	v := &Vault{
		cfg:         cfg,
		bank:        bk,
		router:      router,
		feeds:       feeds,
		clock:       time.Now,
		poolID:      poolID,
		stableDenom: stableVault.BaseDenom(),
		assetDenom:  assetVault.BaseDenom(),
		stable:      side{ledger: stableVault, worker: stableWorker},
		asset:       side{ledger: assetVault, worker: assetWorker},
		rebalancers: make(map[string]bool),
		reinvestors: make(map[string]bool),
		feeExempt:   make(map[string]bool),
	}
	v.lastFeeCollected = v.clock()
	return v
}

// SetClock overrides the time source. Used by tests and the keeper harness.
func (v *Vault) SetClock(clock func() time.Time) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.clock = clock
	v.lastFeeCollected = clock()
}

// Account returns the orchestrator's bank account.
func (v *Vault) Account() string { return "dnv/" + v.cfg.Name }

// ShareDenom returns the bank denom of the orchestrator's share token.
func (v *Vault) ShareDenom() string { return "dn/" + v.cfg.Name }

// StablePositionID returns the stable side's position id.
func (v *Vault) StablePositionID() types.PositionID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stable.positionID
}

// AssetPositionID returns the asset side's position id.
func (v *Vault) AssetPositionID() types.PositionID {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.asset.positionID
}

// SetWhitelists toggles a caller on the rebalancer/reinvestor/fee-exempt
// lists.
func (v *Vault) SetWhitelists(caller, addr string, rebalancer, reinvestor, feeExempt bool) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.cfg.Admin {
		return ErrNotAdmin
	}
	v.rebalancers[addr] = rebalancer
	v.reinvestors[addr] = reinvestor
	v.feeExempt[addr] = feeExempt
	return nil
}

// SetConfig replaces the tunables. Name is not changeable.
func (v *Vault) SetConfig(caller string, cfg Config) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if caller != v.cfg.Admin {
		return ErrNotAdmin
	}
	cfg.Name = v.cfg.Name
	v.cfg = cfg
	return nil
}

// snapshotEngine captures everything an action batch can touch: all token
// balances, both vaults' books, both workers (with the pool and farm state
// behind them), and the orchestrator's own fields. The returned func is
// single use; calling it rolls the whole batch back. Caller must hold the
// lock.
func (v *Vault) snapshotEngine() func() {
	restoreBank := v.bank.Snapshot()
	restoreStableBooks := v.stable.ledger.Snapshot()
	restoreAssetBooks := v.asset.ledger.Snapshot()
	restoreStableWorker := v.stable.worker.Snapshot()
	restoreAssetWorker := v.asset.worker.Snapshot()
	stableID, assetID := v.stable.positionID, v.asset.positionID
	initialized, lastFee := v.initialized, v.lastFeeCollected
	return func() {
		restoreStableWorker()
		restoreAssetWorker()
		restoreStableBooks()
		restoreAssetBooks()
		restoreBank()
		v.stable.positionID, v.asset.positionID = stableID, assetID
		v.initialized, v.lastFeeCollected = initialized, lastFee
	}
}

// sideInfo values one side at oracle prices. Caller must hold the lock.
func (v *Vault) sideInfo(s *side, name types.SideName) (types.SideInfo, error) {
	lp := s.worker.PositionLP(s.positionID)
	supply, err := v.router.TotalShares(v.poolID)
	if err != nil {
		return types.SideInfo{}, err
	}
	reserves, err := v.router.Reserves(v.poolID)
	if err != nil {
		return types.SideInfo{}, err
	}
	lpValue, pricedAt, err := v.feeds.LPValue(lp, supply, reserves)
	if err != nil {
		return types.SideInfo{}, err
	}
	debt := sdkmath.ZeroInt()
	if s.positionID != 0 {
		_, debt, err = s.ledger.PositionInfo(s.positionID)
		if err != nil {
			return types.SideInfo{}, err
		}
	}
	basePrice, baseAt, err := v.feeds.TokenPrice(s.ledger.BaseDenom())
	if err != nil {
		return types.SideInfo{}, err
	}
	if baseAt.Before(pricedAt) || lp.IsZero() {
		pricedAt = baseAt
	}
	debtValue := basePrice.MulInt(debt)

	ratio := sdkmath.ZeroInt()
	if lpValue.IsPositive() {
		ratio = debtValue.MulInt64(bpsDenominator).Quo(lpValue).TruncateInt()
	}
	return types.SideInfo{
		Side:          name,
		PositionID:    s.positionID,
		LPBalance:     lp,
		PositionValue: lpValue,
		DebtValue:     debtValue,
		DebtRatioBps:  ratio,
		PricedAt:      pricedAt,
	}, nil
}

// positionInfo values both sides. Caller must hold the lock.
func (v *Vault) positionInfo() (types.PositionInfo, error) {
	stableInfo, err := v.sideInfo(&v.stable, types.StableSide)
	if err != nil {
		return types.PositionInfo{}, err
	}
	assetInfo, err := v.sideInfo(&v.asset, types.AssetSide)
	if err != nil {
		return types.PositionInfo{}, err
	}
	equity := stableInfo.PositionValue.Sub(stableInfo.DebtValue).
		Add(assetInfo.PositionValue.Sub(assetInfo.DebtValue))
	pricedAt := stableInfo.PricedAt
	if assetInfo.PricedAt.Before(pricedAt) {
		pricedAt = assetInfo.PricedAt
	}
	return types.PositionInfo{
		Stable:           stableInfo,
		Asset:            assetInfo,
		TotalEquityValue: equity,
		EquitySupply:     v.shareSupply(),
		PricedAt:         pricedAt,
	}, nil
}

// PositionInfo returns the oracle-valued view of both sides.
func (v *Vault) PositionInfo() (types.PositionInfo, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.positionInfo()
}

// TotalEquityValue returns combined equity at oracle prices.
func (v *Vault) TotalEquityValue() (sdkmath.LegacyDec, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	info, err := v.positionInfo()
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	return info.TotalEquityValue, nil
}

func (v *Vault) shareSupply() sdkmath.Int {
	return v.bank.Balance("supply/"+v.ShareDenom(), v.ShareDenom())
}

// TotalPooledLP returns the LP staked across both sides.
func (v *Vault) TotalPooledLP() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stable.worker.TotalBalance().Add(v.asset.worker.TotalBalance())
}

// ShareSupply returns the outstanding share token supply.
func (v *Vault) ShareSupply() sdkmath.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.shareSupply()
}

// valueToShare converts a dollar value to shares at the current equity.
// Caller must hold the lock.
func (v *Vault) valueToShare(value, equity sdkmath.LegacyDec) sdkmath.Int {
	supply := v.shareSupply()
	if supply.IsZero() || !equity.IsPositive() {
		return value.TruncateInt()
	}
	return value.MulInt(supply).Quo(equity).TruncateInt()
}

// ValueToShare converts a dollar value to shares.
func (v *Vault) ValueToShare(value sdkmath.LegacyDec) (sdkmath.Int, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	info, err := v.positionInfo()
	if err != nil {
		return sdkmath.Int{}, err
	}
	return v.valueToShare(value, info.TotalEquityValue), nil
}

// ShareToValue converts shares to their dollar value.
func (v *Vault) ShareToValue(shares sdkmath.Int) (sdkmath.LegacyDec, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	info, err := v.positionInfo()
	if err != nil {
		return sdkmath.LegacyDec{}, err
	}
	supply := v.shareSupply()
	if supply.IsZero() {
		return sdkmath.LegacyNewDecFromInt(shares), nil
	}
	return info.TotalEquityValue.MulInt(shares).QuoInt(supply), nil
}

// checkFreshness rejects stale oracle data. Caller must hold the lock.
func (v *Vault) checkFreshness(info types.PositionInfo) error {
	if v.cfg.MaxPriceAge <= 0 {
		return nil
	}
	if v.clock().Sub(info.PricedAt) > v.cfg.MaxPriceAge {
		return ErrUntrustedPrice
	}
	return nil
}

// collectManagementFee streams the annualized fee as share dilution to the
// treasury. Must run before any supply change. Caller must hold the lock.
func (v *Vault) collectManagementFee() error {
	now := v.clock()
	elapsed := int64(now.Sub(v.lastFeeCollected) / time.Second)
	v.lastFeeCollected = now
	if elapsed <= 0 || v.cfg.ManagementFeeBps <= 0 || v.cfg.TreasuryAccount == "" {
		return nil
	}
	supply := v.shareSupply()
	fee := supply.MulRaw(elapsed).MulRaw(v.cfg.ManagementFeeBps).QuoRaw(secondsPerYear * bpsDenominator)
	if !fee.IsPositive() {
		return nil
	}
	if err := v.mintShares(v.cfg.TreasuryAccount, fee); err != nil {
		return err
	}
	log := logger.GetForComponent("neutral")
	log.Debug().
		Str("vault", v.cfg.Name).
		Int64("elapsed_sec", elapsed).
		Str("fee_shares", fee.String()).
		Msg("Management fee collected")
	return nil
}

func (v *Vault) mintShares(addr string, shares sdkmath.Int) error {
	if err := v.bank.MintCoin(addr, v.ShareDenom(), shares); err != nil {
		return err
	}
	return v.bank.MintCoin("supply/"+v.ShareDenom(), v.ShareDenom(), shares)
}

func (v *Vault) burnShares(addr string, shares sdkmath.Int) error {
	if err := v.bank.BurnCoin(addr, v.ShareDenom(), shares); err != nil {
		return err
	}
	return v.bank.BurnCoin("supply/"+v.ShareDenom(), v.ShareDenom(), shares)
}
