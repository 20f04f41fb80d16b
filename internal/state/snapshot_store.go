// ./internal/state/snapshot_store.go
package state

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/leverfarm/dnv/internal/types"
)

// SaveRebalanceSnapshot saves a complete cycle snapshot to the database.
func SaveRebalanceSnapshot(snapshot types.RebalanceSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	initialInfoJSON, err := json.Marshal(snapshot.InitialInfo)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal initial_info: %w", err)
	}
	actionsJSON, err := json.Marshal(snapshot.Actions)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal actions: %w", err)
	}
	finalInfoJSON, err := json.Marshal(snapshot.FinalInfo)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal final_info: %w", err)
	}

	query := `
		INSERT INTO rebalance_snapshots (
			cycle_number, cycle_id, schema_version, snapshot_timestamp,
			initial_info, actions, rebalanced,
			final_info, equity_drift_bps, reinvested_lp
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err = DB.QueryRow(
		query,
		snapshot.CycleNumber, snapshot.CycleID, snapshot.SchemaVersion, snapshot.Timestamp,
		initialInfoJSON, actionsJSON, snapshot.Rebalanced,
		finalInfoJSON, snapshot.EquityDriftBps.String(), snapshot.ReinvestedLP.String(),
	).Scan(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("failed to save rebalance snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Int("cycle_number", snapshot.CycleNumber).
		Bool("rebalanced", snapshot.Rebalanced).
		Msg("Rebalance snapshot saved to database")

	return snapshotID, nil
}

// GetRecentSnapshots returns up to limit snapshots, newest first.
func GetRecentSnapshots(limit int) ([]types.RebalanceSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT snapshot_id, cycle_number, cycle_id, schema_version, snapshot_timestamp,
			initial_info, actions, rebalanced, final_info, equity_drift_bps, reinvested_lp
		FROM rebalance_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT $1;
	`
	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query rebalance snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []types.RebalanceSnapshot
	for rows.Next() {
		snapshot, err := scanSnapshot(rows)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, rows.Err()
}

// GetSnapshotByID returns one snapshot by its row id.
func GetSnapshotByID(id int64) (*types.RebalanceSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT snapshot_id, cycle_number, cycle_id, schema_version, snapshot_timestamp,
			initial_info, actions, rebalanced, final_info, equity_drift_bps, reinvested_lp
		FROM rebalance_snapshots
		WHERE snapshot_id = $1;
	`
	row := DB.QueryRow(query, id)
	snapshot, err := scanSnapshot(row)
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row rowScanner) (types.RebalanceSnapshot, error) {
	var snapshot types.RebalanceSnapshot
	var initialInfoJSON, actionsJSON, finalInfoJSON []byte
	var driftStr, reinvestedStr string

	err := row.Scan(
		&snapshot.SnapshotID, &snapshot.CycleNumber, &snapshot.CycleID,
		&snapshot.SchemaVersion, &snapshot.Timestamp,
		&initialInfoJSON, &actionsJSON, &snapshot.Rebalanced,
		&finalInfoJSON, &driftStr, &reinvestedStr,
	)
	if err != nil {
		return types.RebalanceSnapshot{}, fmt.Errorf("failed to scan rebalance snapshot: %w", err)
	}

	if err := json.Unmarshal(initialInfoJSON, &snapshot.InitialInfo); err != nil {
		return types.RebalanceSnapshot{}, fmt.Errorf("failed to unmarshal initial_info: %w", err)
	}
	if len(actionsJSON) > 0 {
		if err := json.Unmarshal(actionsJSON, &snapshot.Actions); err != nil {
			return types.RebalanceSnapshot{}, fmt.Errorf("failed to unmarshal actions: %w", err)
		}
	}
	if err := json.Unmarshal(finalInfoJSON, &snapshot.FinalInfo); err != nil {
		return types.RebalanceSnapshot{}, fmt.Errorf("failed to unmarshal final_info: %w", err)
	}

	snapshot.EquityDriftBps, err = parseDec(driftStr)
	if err != nil {
		return types.RebalanceSnapshot{}, fmt.Errorf("failed to parse equity_drift_bps: %w", err)
	}
	snapshot.ReinvestedLP, err = parseInt(reinvestedStr)
	if err != nil {
		return types.RebalanceSnapshot{}, fmt.Errorf("failed to parse reinvested_lp: %w", err)
	}
	return snapshot, nil
}
