// ./internal/state/parameters_store.go
package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/leverfarm/dnv/internal/types"
)

// SaveRiskParameters saves a new version of the risk parameters. With
// makeActive the previous active version for the config name is retired in
// the same transaction.
func SaveRiskParameters(params types.RiskParameters, configName string, version int, makeActive bool) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal risk parameters: %w", err)
	}

	tx, err := DB.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		}
	}()

	if makeActive {
		stmtDeactivate := `UPDATE risk_parameters SET is_active = FALSE WHERE config_name = $1 AND is_active = TRUE;`
		if _, err = tx.Exec(stmtDeactivate, configName); err != nil {
			return 0, fmt.Errorf("failed to deactivate active parameters for %s: %w", configName, err)
		}
	}

	stmt := `
		INSERT INTO risk_parameters (config_name, version, is_active, activated_at, params)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING params_id;`

	var paramsID int64
	err = tx.QueryRow(stmt, configName, version, makeActive, time.Now(), payload).Scan(&paramsID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert risk parameters: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Info().
		Int("version", version).
		Str("config", configName).
		Int64("params_id", paramsID).
		Bool("active", makeActive).
		Msg("Saved risk parameters")
	return paramsID, nil
}

// LoadActiveRiskParameters loads the currently active risk parameters and
// their version.
func LoadActiveRiskParameters(configName string) (*types.RiskParameters, int, error) {
	if DB == nil {
		return nil, 0, fmt.Errorf("database not initialized")
	}

	query := `
		SELECT version, params
		FROM risk_parameters
		WHERE config_name = $1 AND is_active = TRUE
		ORDER BY activated_at DESC
		LIMIT 1;`

	var version int
	var payload []byte
	err := DB.QueryRow(query, configName).Scan(&version, &payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, 0, fmt.Errorf("no active risk parameters found for config '%s'", configName)
		}
		return nil, 0, fmt.Errorf("failed to scan active risk parameters for config '%s': %w", configName, err)
	}

	p := &types.RiskParameters{}
	if err := json.Unmarshal(payload, p); err != nil {
		return nil, 0, fmt.Errorf("failed to unmarshal risk parameters for config '%s': %w", configName, err)
	}
	log.Info().Str("config", configName).Int("version", version).Msg("Loaded active risk parameters")
	return p, version, nil
}

// EnsureActiveRiskParameters records params as the active set when no active
// set exists or the stored one differs. Called at startup so the database
// always reflects what the daemon is running with. Returns the version now
// active.
func EnsureActiveRiskParameters(params types.RiskParameters, configName string) (int, error) {
	current, version, err := LoadActiveRiskParameters(configName)
	if err == nil && *current == params {
		return version, nil
	}
	next := version + 1
	if _, err := SaveRiskParameters(params, configName, next, true); err != nil {
		return 0, err
	}
	return next, nil
}
