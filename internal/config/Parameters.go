/*

This file contains the default risk parameters for the delta-neutral vault.

These parameters are designed for managing significant capital in a production
environment. Each value balances capital preservation against yield.

*/

package config

import (
	"github.com/leverfarm/dnv/internal/types"
)

// DefaultRiskParameters provides the baseline risk settings. Each value can
// be overridden through a DNV_-prefixed environment variable at startup.
//
// IMPORTANT: These defaults are calibrated for a 3x delta-neutral strategy
// over a deep stable/asset pool. They prioritize never tripping the kill
// factor over squeezing out extra leverage.
var DefaultRiskParameters = types.RiskParameters{
	// --- Orchestrator ---
	TargetLeverage: 3, // 3x is the lowest leverage where the short leg fully hedges the long leg.
	// Rationale: at L=3 the stable side holds 1/4 of equity and the asset side 3/4,
	// which nets the farm-token exposure to zero. Higher leverage narrows the
	// liquidation buffer faster than it grows the yield.

	ToleranceBps: 100, // Accept up to 1% drift between planned and realised values.
	// Rationale: swap fees plus rounding make exact execution impossible.
	// 1% absorbs normal slippage while still catching a broken plan.

	RebalanceFactorBps: 300, // Rebalance when a side's debt ratio drifts 3% from target.
	// Rationale: rebalancing costs swap fees on every trigger. 3% keeps the
	// hedge tight without churning on ordinary price noise.

	DepositFeeBps:    0,
	WithdrawFeeBps:   10, // 0.1% discourages deposit/withdraw cycling around reinvests.
	ManagementFeeBps: 100, // 1% per year, streamed per second as share dilution.

	MaxPriceAgeSec: 1800, // Refuse to act on prices older than 30 minutes.
	// Rationale: acting on a stale feed mid-crash is how delta-neutral vaults
	// die. Halting is always cheaper than executing at a wrong price.

	// --- Lending vaults ---
	MinDebtSize: 100, // Positions below this debt are not worth liquidating.
	// Rationale: a kill must cover the caller's costs from the bounty.
	// Dust debt would accumulate as unkillable risk.

	ReservePoolBps:  1000, // 10% of interest goes to the protocol reserve.
	KillPrizeBps:    100,  // 1% of liquidation proceeds to the caller.
	KillTreasuryBps: 400,  // 4% of liquidation proceeds to the treasury.

	WorkFactorBps: 7000, // Borrow up to 70% of position health.
	KillFactorBps: 8333, // Liquidatable once debt exceeds 83.33% of health.
	// Rationale: the 13.33% band between work and kill factors gives positions
	// room to degrade before anyone can liquidate them.

	// --- Workers ---
	ReinvestBountyBps:    30,  // 0.3% of harvested rewards to whoever calls reinvest.
	MaxReinvestBountyBps: 500, // Hard cap on the configurable bounty.
	ReinvestThreshold:    1000,
	// Rationale: compounding dust wastes more in swap fees than it earns.
	// Rewards accumulate until the batch is worth the round trip.

	TreasuryBountyBps:  1000, // 10% of each bounty to the treasury.
	BeneficialVaultBps: 1000, // 10% of each bounty to the partner vault.
}

// LoadRiskParameters returns the defaults with any DNV_-prefixed environment
// overrides applied.
func LoadRiskParameters() types.RiskParameters {
	p := DefaultRiskParameters
	p.TargetLeverage = getEnvAsInt64("DNV_TARGET_LEVERAGE", p.TargetLeverage)
	p.ToleranceBps = getEnvAsInt64("DNV_TOLERANCE_BPS", p.ToleranceBps)
	p.RebalanceFactorBps = getEnvAsInt64("DNV_REBALANCE_FACTOR_BPS", p.RebalanceFactorBps)
	p.DepositFeeBps = getEnvAsInt64("DNV_DEPOSIT_FEE_BPS", p.DepositFeeBps)
	p.WithdrawFeeBps = getEnvAsInt64("DNV_WITHDRAW_FEE_BPS", p.WithdrawFeeBps)
	p.ManagementFeeBps = getEnvAsInt64("DNV_MANAGEMENT_FEE_BPS", p.ManagementFeeBps)
	p.MaxPriceAgeSec = getEnvAsInt64("DNV_MAX_PRICE_AGE_SEC", p.MaxPriceAgeSec)
	p.MinDebtSize = getEnvAsInt64("DNV_MIN_DEBT_SIZE", p.MinDebtSize)
	p.ReservePoolBps = getEnvAsInt64("DNV_RESERVE_POOL_BPS", p.ReservePoolBps)
	p.KillPrizeBps = getEnvAsInt64("DNV_KILL_PRIZE_BPS", p.KillPrizeBps)
	p.KillTreasuryBps = getEnvAsInt64("DNV_KILL_TREASURY_BPS", p.KillTreasuryBps)
	p.WorkFactorBps = getEnvAsInt64("DNV_WORK_FACTOR_BPS", p.WorkFactorBps)
	p.KillFactorBps = getEnvAsInt64("DNV_KILL_FACTOR_BPS", p.KillFactorBps)
	p.ReinvestBountyBps = getEnvAsInt64("DNV_REINVEST_BOUNTY_BPS", p.ReinvestBountyBps)
	p.ReinvestThreshold = getEnvAsInt64("DNV_REINVEST_THRESHOLD", p.ReinvestThreshold)
	return p
}
