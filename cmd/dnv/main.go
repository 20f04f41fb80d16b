package main

import (
	"context"
	"os"
	"strconv"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/leverfarm/dnv/internal/amm"
	"github.com/leverfarm/dnv/internal/bank"
	"github.com/leverfarm/dnv/internal/config"
	"github.com/leverfarm/dnv/internal/farm"
	"github.com/leverfarm/dnv/internal/interest"
	"github.com/leverfarm/dnv/internal/keeper"
	"github.com/leverfarm/dnv/internal/ledger"
	"github.com/leverfarm/dnv/internal/logger"
	"github.com/leverfarm/dnv/internal/neutral"
	"github.com/leverfarm/dnv/internal/oracle"
	"github.com/leverfarm/dnv/internal/state"
	"github.com/leverfarm/dnv/internal/types"
	"github.com/leverfarm/dnv/internal/web"
	"github.com/leverfarm/dnv/internal/worker"
)

// main is the entry point for the delta-neutral vault daemon.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	riskParams := config.LoadRiskParameters()

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Str("vault", config.VaultName).Msg("Delta-Neutral Vault Starting...")

	// Initialize Database Connection (cycle snapshots and kill receipts)
	dbCfg := state.DBConfig{
		Host: os.Getenv("DB_HOST"), Port: mustAtoi(os.Getenv("DB_PORT"), 5432),
		User: os.Getenv("DB_USER"), Password: os.Getenv("DB_PASSWORD"),
		DBName: os.Getenv("DB_NAME"), SSLMode: os.Getenv("DB_SSLMODE"),
	}
	if err := state.InitDB(dbCfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer state.CloseDB()
	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to ensure database schema")
	}
	paramsVersion, err := state.EnsureActiveRiskParameters(riskParams, config.VaultName)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to record active risk parameters")
	}
	log.Info().Int("version", paramsVersion).Msg("Risk parameters recorded")

	// --- 2. Engine Construction ---
	vault, ledgers, feeds, router, err := buildEngine(riskParams)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to construct vault engine")
	}

	// --- 3. Start Web Server ---
	webPort := os.Getenv("WEB_PORT")
	if webPort == "" {
		webPort = "8080"
	}

	webServer := web.NewWebServer(webPort, vault, riskParams)
	go func() {
		log.Info().Str("port", webPort).Msg("Starting vault API server")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 4. Oracle Refresh Loop ---
	// The asset feed follows the pool spot price relative to the stable token.
	go runOracleRefresh(context.Background(), feeds, router)

	// --- 5. Start Keeper Main Loop ---
	k, err := keeper.New(keeper.Config{
		Vault:              vault,
		Ledgers:            ledgers,
		Caller:             config.AdminAccount,
		TargetLeverage:     riskParams.TargetLeverage,
		RebalanceFactorBps: riskParams.RebalanceFactorBps,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create keeper instance")
	}

	interval := time.Duration(config.CycleIntervalSec) * time.Second
	log.Info().Str("interval", interval.String()).Msg("Starting keeper main loop")

	ctx := context.Background()
	k.RunLoop(ctx, interval)
}

// buildEngine wires the full in-process protocol stack: bank, AMM pool,
// reward farm, oracle feeds, the two lending vaults with their workers, and
// the delta-neutral orchestrator on top.
func buildEngine(riskParams types.RiskParameters) (*neutral.Vault, []*ledger.Vault, *oracle.FeedStore, *amm.Router, error) {
	bk := bank.New()

	router := amm.NewRouter(bk)
	if err := router.CreatePool(config.PoolID, config.StableDenom, config.AssetDenom); err != nil {
		return nil, nil, nil, nil, err
	}
	// Reward token needs a route into both base tokens for reinvest swaps
	for _, denom := range []string{config.StableDenom, config.AssetDenom} {
		if config.RewardDenom == denom || router.HasPair(config.RewardDenom, denom) {
			continue
		}
		if err := router.CreatePool(config.PoolID+"-reward-"+denom, config.RewardDenom, denom); err != nil {
			return nil, nil, nil, nil, err
		}
	}

	fm := farm.New(bk, config.RewardDenom)
	rewardPerSec := sdkmath.NewInt(int64(mustAtoi(os.Getenv("DNV_REWARD_PER_SEC"), 1)))
	if err := fm.AddPool(config.PoolID, mustLPDenom(router), rewardPerSec); err != nil {
		return nil, nil, nil, nil, err
	}

	feeds := oracle.NewFeedStore()
	feeds.SetPrice(config.StableDenom, sdkmath.LegacyOneDec())
	feeds.SetPrice(config.AssetDenom, envPrice("DNV_ASSET_PRICE"))

	ledgerParams := ledger.Params{
		MinDebtSize:     sdkmath.NewInt(riskParams.MinDebtSize),
		ReservePoolBps:  riskParams.ReservePoolBps,
		KillPrizeBps:    riskParams.KillPrizeBps,
		KillTreasuryBps: riskParams.KillTreasuryBps,
		TreasuryAccount: config.TreasuryAccount,
		Admin:           config.AdminAccount,
	}
	model := interest.Default()
	stableVault := ledger.New(config.VaultName+"-stable", config.StableDenom, ledgerParams, model, bk, nil)
	assetVault := ledger.New(config.VaultName+"-asset", config.AssetDenom, ledgerParams, model, bk, nil)

	stableWorker, err := worker.New(workerConfig(riskParams, config.VaultName+"-stable",
		config.StableDenom, config.AssetDenom, stableVault.Account(), assetVault.Account()), bk, router, fm)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	assetWorker, err := worker.New(workerConfig(riskParams, config.VaultName+"-asset",
		config.AssetDenom, config.StableDenom, assetVault.Account(), stableVault.Account()), bk, router, fm)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	if err := stableVault.ApproveWorker(config.AdminAccount, stableWorker, ledger.WorkerConfig{
		WorkFactorBps: riskParams.WorkFactorBps,
		KillFactorBps: riskParams.KillFactorBps,
		AcceptsDebt:   true,
		IsStable:      true,
	}); err != nil {
		return nil, nil, nil, nil, err
	}
	if err := assetVault.ApproveWorker(config.AdminAccount, assetWorker, ledger.WorkerConfig{
		WorkFactorBps: riskParams.WorkFactorBps,
		KillFactorBps: riskParams.KillFactorBps,
		AcceptsDebt:   true,
		IsStable:      false,
	}); err != nil {
		return nil, nil, nil, nil, err
	}

	vault := neutral.New(neutral.Config{
		Name:               config.VaultName,
		TargetLeverage:     riskParams.TargetLeverage,
		ToleranceBps:       riskParams.ToleranceBps,
		DepositFeeBps:      riskParams.DepositFeeBps,
		WithdrawFeeBps:     riskParams.WithdrawFeeBps,
		ManagementFeeBps:   riskParams.ManagementFeeBps,
		PositionValueLimit: sdkmath.LegacyNewDec(int64(mustAtoi(os.Getenv("DNV_POSITION_VALUE_LIMIT"), 10_000_000))),
		MaxPriceAge:        time.Duration(riskParams.MaxPriceAgeSec) * time.Second,
		TreasuryAccount:    config.TreasuryAccount,
		Admin:              config.AdminAccount,
	}, bk, router, feeds, config.PoolID, stableVault, assetVault, stableWorker, assetWorker)

	// The admin account drives rebalances and reinvests through the keeper
	if err := vault.SetWhitelists(config.AdminAccount, config.AdminAccount, true, true, true); err != nil {
		return nil, nil, nil, nil, err
	}

	log.Info().
		Str("pool", config.PoolID).
		Str("stableVault", stableVault.Name()).
		Str("assetVault", assetVault.Name()).
		Msg("Vault engine constructed")
	return vault, []*ledger.Vault{stableVault, assetVault}, feeds, router, nil
}

// workerConfig assembles one worker's wiring. Reinvest bounty slices go to
// the treasury and to the partner vault on the other side of the hedge.
func workerConfig(riskParams types.RiskParameters, name, baseDenom, farmDenom, operator, partnerVault string) worker.Config {
	return worker.Config{
		Name:            name,
		PoolID:          config.PoolID,
		FarmPoolID:      config.PoolID,
		BaseDenom:       baseDenom,
		FarmDenom:       farmDenom,
		OperatorAccount: operator,
		Admin:           config.AdminAccount,

		ReinvestBountyBps:    riskParams.ReinvestBountyBps,
		MaxReinvestBountyBps: riskParams.MaxReinvestBountyBps,
		ReinvestThreshold:    sdkmath.NewInt(riskParams.ReinvestThreshold),
		ReinvestPath:         []string{config.RewardDenom, baseDenom},
		TreasuryAccount:      config.TreasuryAccount,
		TreasuryBountyBps:    riskParams.TreasuryBountyBps,
		BeneficialVault:      partnerVault,
		BeneficialVaultBps:   riskParams.BeneficialVaultBps,
		BeneficialVaultPath:  []string{config.RewardDenom, farmDenom},
	}
}

// runOracleRefresh re-marks the asset feed from the pool spot price once a
// minute so the freshness check reflects live reserves.
func runOracleRefresh(ctx context.Context, feeds *oracle.FeedStore, router *amm.Router) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			assetRes, stableRes, _, err := router.ReservesOf(config.PoolID, config.AssetDenom)
			if err != nil || !assetRes.IsPositive() {
				continue
			}
			stablePrice, _, err := feeds.TokenPrice(config.StableDenom)
			if err != nil {
				continue
			}
			spot := stablePrice.MulInt(stableRes).QuoInt(assetRes)
			feeds.SetPrice(config.AssetDenom, spot)
			feeds.SetPrice(config.StableDenom, stablePrice)
		}
	}
}

func mustLPDenom(router *amm.Router) string {
	lpDenom, err := router.LPDenom(config.PoolID)
	if err != nil {
		log.Fatal().Err(err).Str("pool", config.PoolID).Msg("Pool has no LP denom")
	}
	return lpDenom
}

func envPrice(key string) sdkmath.LegacyDec {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return sdkmath.LegacyOneDec()
	}
	price, err := sdkmath.LegacyNewDecFromStr(valueStr)
	if err != nil || !price.IsPositive() {
		log.Warn().Str("key", key).Str("value", valueStr).Msg("Invalid price env var, using 1")
		return sdkmath.LegacyOneDec()
	}
	return price
}

// Helper to convert string to int with a default value
func mustAtoi(s string, defaultValue int) int {
	i, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return i
}
