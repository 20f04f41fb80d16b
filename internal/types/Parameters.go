/*

This file contains the tunable risk parameters for the delta-neutral vault
and its two underlying lending vaults.

*/

package types

// RiskParameters groups every bps-style tunable in one place so they can be
// logged, served over the API, and overridden from the environment together.
type RiskParameters struct {
	// Orchestrator
	TargetLeverage     int64 `json:"target_leverage"`
	ToleranceBps       int64 `json:"tolerance_bps"`
	RebalanceFactorBps int64 `json:"rebalance_factor_bps"` // Debt-ratio drift that triggers a rebalance
	DepositFeeBps      int64 `json:"deposit_fee_bps"`
	WithdrawFeeBps     int64 `json:"withdraw_fee_bps"`
	ManagementFeeBps   int64 `json:"management_fee_bps"`
	MaxPriceAgeSec     int64 `json:"max_price_age_sec"`

	// Lending vaults
	MinDebtSize     int64 `json:"min_debt_size"`
	ReservePoolBps  int64 `json:"reserve_pool_bps"`
	KillPrizeBps    int64 `json:"kill_prize_bps"`
	KillTreasuryBps int64 `json:"kill_treasury_bps"`
	WorkFactorBps   int64 `json:"work_factor_bps"`
	KillFactorBps   int64 `json:"kill_factor_bps"`

	// Workers
	ReinvestBountyBps    int64 `json:"reinvest_bounty_bps"`
	MaxReinvestBountyBps int64 `json:"max_reinvest_bounty_bps"`
	ReinvestThreshold    int64 `json:"reinvest_threshold"`
	TreasuryBountyBps    int64 `json:"treasury_bounty_bps"`
	BeneficialVaultBps   int64 `json:"beneficial_vault_bps"`
}
