package keeper

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/leverfarm/dnv/internal/ledger"
	"github.com/leverfarm/dnv/internal/logger"
	"github.com/leverfarm/dnv/internal/neutral"
	"github.com/leverfarm/dnv/internal/state"
	"github.com/leverfarm/dnv/internal/types"
)

// Keeper drives the delta-neutral vault: every cycle it compounds rewards,
// checks the hedge for drift, rebalances when the drift exceeds the trigger,
// and persists a snapshot of what it saw and did.
type Keeper struct {
	// Core dependencies
	logger  zerolog.Logger
	vault   *neutral.Vault
	ledgers []*ledger.Vault

	// Configuration
	caller             string // Whitelisted rebalancer/reinvestor account
	targetLeverage     int64
	rebalanceFactorBps int64

	// Runtime state
	cycleCount int
}

// Config holds the configuration for creating a new Keeper instance
type Config struct {
	Vault              *neutral.Vault
	Ledgers            []*ledger.Vault // Lending vaults swept for underwater positions
	Caller             string
	TargetLeverage     int64
	RebalanceFactorBps int64
}

// New creates a new Keeper instance with dependency injection
func New(cfg Config) (*Keeper, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("keeper configuration validation failed: %w", err)
	}

	k := &Keeper{
		logger:             logger.GetForComponent("keeper"),
		vault:              cfg.Vault,
		ledgers:            cfg.Ledgers,
		caller:             cfg.Caller,
		targetLeverage:     cfg.TargetLeverage,
		rebalanceFactorBps: cfg.RebalanceFactorBps,
		cycleCount:         0,
	}

	k.logger.Info().
		Str("caller", k.caller).
		Int64("targetLeverage", k.targetLeverage).
		Int64("rebalanceFactorBps", k.rebalanceFactorBps).
		Msg("Keeper instance created")
	return k, nil
}

func validateConfig(cfg Config) error {
	if cfg.Vault == nil {
		return errors.New("vault cannot be nil")
	}
	if cfg.Caller == "" {
		return errors.New("caller account cannot be empty")
	}
	if cfg.TargetLeverage < 3 {
		return fmt.Errorf("target leverage must be at least 3, got %d", cfg.TargetLeverage)
	}
	if cfg.RebalanceFactorBps <= 0 {
		return errors.New("rebalance factor must be positive")
	}
	return nil
}

// RunLoop starts the main keeper loop with the specified interval
func (k *Keeper) RunLoop(ctx context.Context, interval time.Duration) {
	k.logger.Info().
		Dur("interval", interval).
		Msg("Starting keeper main loop")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run first cycle immediately
	k.cycleCount++
	k.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			k.logger.Info().Msg("Keeper loop stopped due to context cancellation")
			return
		case <-ticker.C:
			k.cycleCount++
			k.RunCycle(ctx)
		}
	}
}

// RunCycle executes one complete keeper cycle.
func (k *Keeper) RunCycle(ctx context.Context) {
	cycleStartTime := time.Now()

	// Unique cycle ID for tracing logs across the entire cycle
	cycleID := uuid.New().String()
	cycleLogger := k.logger.With().Str("cycle_id", cycleID).Logger()

	cycleLogger.Info().Msg("--- Starting Keeper Cycle ---")

	snapshot := types.RebalanceSnapshot{
		CycleNumber:   k.getCycleNumber(),
		CycleID:       cycleID,
		SchemaVersion: state.CurrentSchemaVersion,
		Timestamp:     cycleStartTime,
		Actions:       []types.WorkAction{},
		EquityDriftBps: sdkmath.LegacyZeroDec(),
		ReinvestedLP:   sdkmath.ZeroInt(),
	}

	// --- Step 1: Assess current state ---
	initialInfo, err := k.vault.PositionInfo()
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Cycle aborted: failed to value positions.")
		return
	}
	snapshot.InitialInfo = initialInfo

	cycleLogger.Info().
		Str("totalEquity", initialInfo.TotalEquityValue.String()).
		Str("stableDebtRatioBps", initialInfo.Stable.DebtRatioBps.String()).
		Str("assetDebtRatioBps", initialInfo.Asset.DebtRatioBps.String()).
		Msg("Step 1: Position state assessed.")

	// --- Step 2: Compound rewards ---
	lpBefore := k.vault.TotalPooledLP()
	if err := k.vault.Reinvest(k.caller); err != nil {
		cycleLogger.Error().Err(err).Msg("Reinvest failed, continuing cycle.")
	}
	snapshot.ReinvestedLP = k.vault.TotalPooledLP().Sub(lpBefore)
	cycleLogger.Info().
		Str("reinvestedLP", snapshot.ReinvestedLP.String()).
		Msg("Step 2: Rewards compounded.")

	// --- Step 3: Liquidation sweep ---
	receipts := RunKillSweep(k.caller, k.ledgers, cycleLogger)
	cycleLogger.Info().
		Int("liquidations", len(receipts)).
		Msg("Step 3: Liquidation sweep done.")

	// --- Step 4: Drift check ---
	if !k.needsRebalance(initialInfo, cycleLogger) {
		cycleLogger.Info().Msg("Debt ratios within band. No rebalance needed.")
		finalInfo, err := k.vault.PositionInfo()
		if err != nil {
			cycleLogger.Error().Err(err).Msg("Failed to value final state.")
			finalInfo = initialInfo
		}
		snapshot.FinalInfo = finalInfo
		snapshot.EquityDriftBps = equityDriftBps(initialInfo, finalInfo)
		k.saveSnapshot(snapshot, cycleLogger)
		k.logCycleDuration(cycleStartTime, cycleLogger)
		return
	}

	// --- Step 5: Rebalance ---
	cycleLogger.Info().Msg("Step 5: Executing rebalance...")
	actions, before, after, err := k.vault.Rebalance(k.caller)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Rebalance failed.")
		snapshot.FinalInfo = initialInfo
		k.saveSnapshot(snapshot, cycleLogger)
		k.logCycleDuration(cycleStartTime, cycleLogger)
		return
	}
	snapshot.Actions = actions
	snapshot.Rebalanced = true
	snapshot.FinalInfo = after
	snapshot.EquityDriftBps = equityDriftBps(before, after)

	cycleLogger.Info().
		Int("actions", len(actions)).
		Str("equityBefore", before.TotalEquityValue.String()).
		Str("equityAfter", after.TotalEquityValue.String()).
		Str("equityDriftBps", snapshot.EquityDriftBps.String()).
		Msg("Step 5: Rebalance complete.")

	k.saveSnapshot(snapshot, cycleLogger)
	k.logCycleDuration(cycleStartTime, cycleLogger)
	cycleLogger.Info().Msg("--- Keeper Cycle Completed Successfully ---")
}

// RunKillSweep walks every position in the given lending vaults and
// liquidates the ones past their kill factor. Healthy positions are skipped
// quietly; any other liquidation failure is logged and the sweep continues.
// Receipts are persisted and returned.
func RunKillSweep(caller string, ledgers []*ledger.Vault, log zerolog.Logger) []types.KillReceipt {
	var receipts []types.KillReceipt
	for _, v := range ledgers {
		for _, pos := range v.Positions() {
			receipt, err := v.Kill(caller, pos.ID)
			if err != nil {
				if errors.Is(err, ledger.ErrCannotLiquidate) {
					continue
				}
				log.Error().Err(err).
					Str("vault", v.Name()).
					Uint64("position_id", uint64(pos.ID)).
					Msg("Liquidation attempt failed")
				continue
			}
			receipts = append(receipts, receipt)
			if _, err := state.SaveKillReceipt(receipt); err != nil {
				log.Error().Err(err).
					Str("vault", v.Name()).
					Uint64("position_id", uint64(pos.ID)).
					Msg("Failed to save kill receipt to database")
			}
		}
	}
	return receipts
}

// needsRebalance reports whether either side's debt ratio has drifted past
// the trigger. At target, debt/position = (L-1)/L on both sides.
func (k *Keeper) needsRebalance(info types.PositionInfo, cycleLogger zerolog.Logger) bool {
	targetRatioBps := (k.targetLeverage - 1) * 10000 / k.targetLeverage
	trigger := sdkmath.NewInt(k.rebalanceFactorBps)

	stableDrift := info.Stable.DebtRatioBps.SubRaw(targetRatioBps).Abs()
	assetDrift := info.Asset.DebtRatioBps.SubRaw(targetRatioBps).Abs()

	cycleLogger.Debug().
		Int64("targetRatioBps", targetRatioBps).
		Str("stableDrift", stableDrift.String()).
		Str("assetDrift", assetDrift.String()).
		Msg("Drift check")
	return stableDrift.GTE(trigger) || assetDrift.GTE(trigger)
}

// equityDriftBps is the relative equity change across the cycle in bps.
func equityDriftBps(before, after types.PositionInfo) sdkmath.LegacyDec {
	if !before.TotalEquityValue.IsPositive() {
		return sdkmath.LegacyZeroDec()
	}
	return after.TotalEquityValue.Sub(before.TotalEquityValue).
		MulInt64(10000).Quo(before.TotalEquityValue)
}

// getCycleNumber increments and returns the persistent cycle counter from database
func (k *Keeper) getCycleNumber() int {
	cycleNumber, err := state.IncrementCycleNumber()
	if err != nil {
		k.logger.Error().Err(err).Msg("Failed to increment cycle number, using fallback")
		return int(time.Now().Unix() % 1000000)
	}
	return cycleNumber
}

// saveSnapshot saves the cycle snapshot to database
func (k *Keeper) saveSnapshot(snapshot types.RebalanceSnapshot, cycleLogger zerolog.Logger) {
	snapshotID, err := state.SaveRebalanceSnapshot(snapshot)
	if err != nil {
		cycleLogger.Error().Err(err).Msg("Failed to save rebalance snapshot to database")
		return
	}
	cycleLogger.Info().Int64("snapshot_id", snapshotID).Msg("Rebalance snapshot saved")
}

func (k *Keeper) logCycleDuration(cycleStartTime time.Time, cycleLogger zerolog.Logger) {
	cycleLogger.Info().
		Str("cycleDuration", time.Since(cycleStartTime).String()).
		Msg("Keeper Cycle Duration")
}
