package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// VaultName names this delta-neutral vault instance.
	VaultName string

	// StableDenom is the low-volatility base token of the stable lending vault.
	StableDenom string
	// AssetDenom is the volatile base token of the asset lending vault.
	AssetDenom string
	// RewardDenom is the token the farm emits.
	RewardDenom string
	// PoolID is the AMM pool the vault farms.
	PoolID string

	// AdminAccount owns the admin setters on all components.
	AdminAccount string
	// TreasuryAccount receives protocol fees and fee shares.
	TreasuryAccount string

	// CycleIntervalSec is the keeper loop interval in seconds.
	CycleIntervalSec uint64
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	VaultName, err = getEnv("DNV_VAULT_NAME")
	if err != nil {
		return err
	}

	StableDenom, err = getEnv("DNV_STABLE_DENOM")
	if err != nil {
		return err
	}

	AssetDenom, err = getEnv("DNV_ASSET_DENOM")
	if err != nil {
		return err
	}

	RewardDenom, err = getEnv("DNV_REWARD_DENOM")
	if err != nil {
		return err
	}

	PoolID, err = getEnv("DNV_POOL_ID")
	if err != nil {
		return err
	}

	AdminAccount, err = getEnv("DNV_ADMIN_ACCOUNT")
	if err != nil {
		return err
	}

	TreasuryAccount, err = getEnv("DNV_TREASURY_ACCOUNT")
	if err != nil {
		return err
	}

	CycleIntervalSec, err = getEnvAsUint64("DNV_CYCLE_INTERVAL_SEC")
	if err != nil {
		return err
	}

	log.Debug().
		Str("VaultName", VaultName).
		Str("StableDenom", StableDenom).
		Str("AssetDenom", AssetDenom).
		Str("PoolID", PoolID).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsInt64 retrieves an environment variable as an int64, falling back
// to a default when unset.
func getEnvAsInt64(key string, fallback int64) int64 {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		log.Warn().Str("key", key).Str("value", valueStr).Msg("Invalid int64 env var, using default")
		return fallback
	}
	return value
}
