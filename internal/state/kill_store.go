// ./internal/state/kill_store.go
package state

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/leverfarm/dnv/internal/types"
)

// SaveKillReceipt persists a liquidation receipt.
func SaveKillReceipt(receipt types.KillReceipt) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO kill_receipts (
			vault_name, position_id, caller,
			proceeds, debt, prize, treasury_fee, bad_debt, leftover,
			kill_timestamp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING receipt_id;
	`

	var receiptID int64
	err := DB.QueryRow(
		query,
		receipt.VaultName, int64(receipt.PositionID), receipt.Caller,
		receipt.Proceeds.String(), receipt.Debt.String(), receipt.Prize.String(),
		receipt.TreasuryFee.String(), receipt.BadDebt.String(), receipt.Leftover.String(),
		receipt.Timestamp,
	).Scan(&receiptID)
	if err != nil {
		return 0, fmt.Errorf("failed to save kill receipt: %w", err)
	}

	log.Info().
		Int64("receipt_id", receiptID).
		Str("vault", receipt.VaultName).
		Uint64("position_id", uint64(receipt.PositionID)).
		Msg("Kill receipt saved to database")

	return receiptID, nil
}

// GetRecentKillReceipts returns up to limit receipts, newest first.
func GetRecentKillReceipts(limit int) ([]types.KillReceipt, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT receipt_id, vault_name, position_id, caller,
			proceeds, debt, prize, treasury_fee, bad_debt, leftover,
			kill_timestamp
		FROM kill_receipts
		ORDER BY kill_timestamp DESC
		LIMIT $1;
	`
	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query kill receipts: %w", err)
	}
	defer rows.Close()

	var receipts []types.KillReceipt
	for rows.Next() {
		var r types.KillReceipt
		var positionID int64
		var proceeds, debt, prize, treasuryFee, badDebt, leftover string
		err := rows.Scan(
			&r.ReceiptID, &r.VaultName, &positionID, &r.Caller,
			&proceeds, &debt, &prize, &treasuryFee, &badDebt, &leftover,
			&r.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan kill receipt: %w", err)
		}
		r.PositionID = types.PositionID(positionID)
		if r.Proceeds, err = parseInt(proceeds); err != nil {
			return nil, err
		}
		if r.Debt, err = parseInt(debt); err != nil {
			return nil, err
		}
		if r.Prize, err = parseInt(prize); err != nil {
			return nil, err
		}
		if r.TreasuryFee, err = parseInt(treasuryFee); err != nil {
			return nil, err
		}
		if r.BadDebt, err = parseInt(badDebt); err != nil {
			return nil, err
		}
		if r.Leftover, err = parseInt(leftover); err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

// parseInt parses a TEXT column back into an sdkmath.Int.
func parseInt(s string) (sdkmath.Int, error) {
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("invalid integer column value: %q", s)
	}
	return v, nil
}

// parseDec parses a TEXT column back into an sdkmath.LegacyDec.
func parseDec(s string) (sdkmath.LegacyDec, error) {
	v, err := sdkmath.LegacyNewDecFromStr(s)
	if err != nil {
		return sdkmath.LegacyDec{}, fmt.Errorf("invalid decimal column value %q: %w", s, err)
	}
	return v, nil
}
