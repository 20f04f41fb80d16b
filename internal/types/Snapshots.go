/*

This file contains the snapshot types persisted after every keeper cycle and
after every liquidation, plus the read-model types served by the web API.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// SideInfo is the oracle-valued view of one side of the combined position.
type SideInfo struct {
	Side          SideName          `json:"side"`
	PositionID    PositionID        `json:"position_id"`
	LPBalance     sdkmath.Int       `json:"lp_balance"`
	PositionValue sdkmath.LegacyDec `json:"position_value"` // Dollar value of the pooled LP
	DebtValue     sdkmath.LegacyDec `json:"debt_value"`     // Dollar value of the outstanding debt
	DebtRatioBps  sdkmath.Int       `json:"debt_ratio_bps"` // debt / position value, in bps
	PricedAt      time.Time         `json:"priced_at"`      // Oldest oracle timestamp used
}

// PositionInfo is the combined equity view across both sides.
type PositionInfo struct {
	Stable           SideInfo          `json:"stable"`
	Asset            SideInfo          `json:"asset"`
	TotalEquityValue sdkmath.LegacyDec `json:"total_equity_value"`
	EquitySupply     sdkmath.Int       `json:"equity_supply"`
	PricedAt         time.Time         `json:"priced_at"` // Oldest oracle timestamp used
}

// RebalanceSnapshot captures one keeper cycle end to end, mirroring the
// before/plan/after shape the dashboard expects.
type RebalanceSnapshot struct {
	SnapshotID    int64     `json:"snapshot_id,omitempty"` // Auto-incremented by DB
	CycleNumber   int       `json:"cycle_number"`
	CycleID       string    `json:"cycle_id"`
	SchemaVersion int       `json:"schema_version"`
	Timestamp     time.Time `json:"timestamp"`

	// Pre-action state
	InitialInfo PositionInfo `json:"initial_info"`

	// The plan
	Actions   []WorkAction `json:"actions"`
	Rebalanced bool        `json:"rebalanced"`

	// The outcome
	FinalInfo      PositionInfo      `json:"final_info"`
	EquityDriftBps sdkmath.LegacyDec `json:"equity_drift_bps"`
	ReinvestedLP   sdkmath.Int       `json:"reinvested_lp"`
}

// KillReceipt records a completed liquidation for audit.
type KillReceipt struct {
	ReceiptID   int64       `json:"receipt_id,omitempty"`
	VaultName   string      `json:"vault_name"`
	PositionID  PositionID  `json:"position_id"`
	Caller      string      `json:"caller"`
	Proceeds    sdkmath.Int `json:"proceeds"`     // Base tokens realised from the position
	Debt        sdkmath.Int `json:"debt"`         // Debt value at liquidation time
	Prize       sdkmath.Int `json:"prize"`        // Bounty paid to the caller
	TreasuryFee sdkmath.Int `json:"treasury_fee"` // Fee paid to the treasury
	BadDebt     sdkmath.Int `json:"bad_debt"`     // Shortfall written off against the pool
	Leftover    sdkmath.Int `json:"leftover"`     // Remainder returned to the position owner
	Timestamp   time.Time   `json:"timestamp"`
}
