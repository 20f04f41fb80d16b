/*

This file contains the tagged action types the orchestrator submits against
the underlying lending vaults, plus the strategy payloads that select how a
position's tokens are converted into or out of pooled LP.

*/

package types

import (
	sdkmath "cosmossdk.io/math"
)

// PositionID identifies a leveraged position inside one lending vault.
// IDs are monotonic per vault and are never reused for a different owner.
type PositionID uint64

// SideName selects one of the two lending vaults the orchestrator manages.
type SideName string

const (
	StableSide SideName = "stable"
	AssetSide  SideName = "asset"
)

// StrategyKind defines the specific low-level LP conversion variants.
type StrategyKind string

const (
	StrategyAddBaseOnly        StrategyKind = "ADD_BASE_ONLY"         // Collateral-increasing only, base token in
	StrategyAddTwoSides        StrategyKind = "ADD_TWO_SIDES"         // Optimal two-sided deposit into the pool
	StrategyLiquidate          StrategyKind = "LIQUIDATE"             // Convert the whole position back to base token
	StrategyPartialClose       StrategyKind = "PARTIAL_CLOSE"         // Convert part of the LP back to base token
	StrategyPartialCloseNoSwap StrategyKind = "PARTIAL_CLOSE_NO_SWAP" // Partial close that trades as little as possible
)

// StrategyPayload is the tagged union handed through work/addCollateral down
// to the strategy layer. Only the fields relevant to the Kind are read.
type StrategyPayload struct {
	Kind StrategyKind `json:"kind"`

	// Fields for ADD_TWO_SIDES
	FarmAmount sdkmath.Int `json:"farm_amount,omitempty"` // Farm tokens pulled from the position owner

	// Minimum-output guards
	MinLPTokens   sdkmath.Int `json:"min_lp_tokens,omitempty"`   // For ADD_*: minimum LP minted
	MinBaseTokens sdkmath.Int `json:"min_base_tokens,omitempty"` // For LIQUIDATE/PARTIAL_CLOSE: minimum base received
	MinFarmTokens sdkmath.Int `json:"min_farm_tokens,omitempty"` // For PARTIAL_CLOSE_NO_SWAP: minimum farm returned to owner

	// Fields for PARTIAL_CLOSE and PARTIAL_CLOSE_NO_SWAP
	MaxLPToLiquidate sdkmath.Int `json:"max_lp_to_liquidate,omitempty"`
	MaxDebtRepayment sdkmath.Int `json:"max_debt_repayment,omitempty"`
}

// WorkAction is a single executable step in a deposit/withdraw/rebalance
// plan. It maps one to one onto a work call against one side's vault.
type WorkAction struct {
	Side       SideName        `json:"side"`
	PositionID PositionID      `json:"position_id"`
	Worker     string          `json:"worker"`
	Principal  sdkmath.Int     `json:"principal"`  // Base tokens supplied by the orchestrator
	Borrow     sdkmath.Int     `json:"borrow"`     // Base tokens borrowed from the vault
	MaxReturn  sdkmath.Int     `json:"max_return"` // Cap on debt repaid out of strategy proceeds
	Payload    StrategyPayload `json:"payload"`
}

// NewPayload returns a payload of the given kind with all amount fields set
// to zero so callers never hand nil sdkmath.Ints to the strategy layer.
func NewPayload(kind StrategyKind) StrategyPayload {
	return StrategyPayload{
		Kind:             kind,
		FarmAmount:       sdkmath.ZeroInt(),
		MinLPTokens:      sdkmath.ZeroInt(),
		MinBaseTokens:    sdkmath.ZeroInt(),
		MinFarmTokens:    sdkmath.ZeroInt(),
		MaxLPToLiquidate: sdkmath.ZeroInt(),
		MaxDebtRepayment: sdkmath.ZeroInt(),
	}
}

// NewWorkAction returns an action with zeroed amounts for the given side.
func NewWorkAction(side SideName, id PositionID, workerName string, kind StrategyKind) WorkAction {
	return WorkAction{
		Side:       side,
		PositionID: id,
		Worker:     workerName,
		Principal:  sdkmath.ZeroInt(),
		Borrow:     sdkmath.ZeroInt(),
		MaxReturn:  sdkmath.ZeroInt(),
		Payload:    NewPayload(kind),
	}
}
