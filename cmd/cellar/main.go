package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	sdkmath "cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/peggyjv/cellar/internal/adaptors"
	"github.com/peggyjv/cellar/internal/auth"
	"github.com/peggyjv/cellar/internal/config"
	"github.com/peggyjv/cellar/internal/engine"
	"github.com/peggyjv/cellar/internal/fees"
	"github.com/peggyjv/cellar/internal/logger"
	"github.com/peggyjv/cellar/internal/oracle"
	"github.com/peggyjv/cellar/internal/queue"
	"github.com/peggyjv/cellar/internal/registry"
	"github.com/peggyjv/cellar/internal/state"
	"github.com/peggyjv/cellar/internal/token"
	"github.com/peggyjv/cellar/internal/types"
	"github.com/peggyjv/cellar/internal/utils"
	"github.com/peggyjv/cellar/internal/vault"
	"github.com/peggyjv/cellar/internal/web"
)

// Fixed account identities for the in-process modules. These play the role
// contract addresses play on chain: stable, unique, never colliding with a
// user account.
var (
	feesAddress    = common.HexToAddress("0x00000000000000000000000000000000000F0001")
	queueAddress   = common.HexToAddress("0x00000000000000000000000000000000000F0002")
	erc20AdaptorID = common.HexToAddress("0x00000000000000000000000000000000000A0001")
)

// main is the entry point for the cellar engine.
func main() {
	// --- 1. Initialization Phase ---
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("Warning: .env file not found. Relying on OS environment variables.")
	}

	// Load configuration from environment variables
	if err := config.LoadConfig(); err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Initialize(os.Getenv("LOG_LEVEL"))
	log.Info().Msg("Cellar Engine Starting...")

	// Initialize Database Connection (accounting snapshots and solve receipts)
	if config.DBEnabled {
		dbCfg := state.DBConfig{
			Host: config.DBHost, Port: config.DBPort,
			User: config.DBUser, Password: config.DBPassword,
			DBName: config.DBName, SSLMode: config.DBSSLMode,
		}
		if err := state.InitDB(dbCfg); err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize database")
		}
		defer state.CloseDB()
		if err := state.EnsureSchema(); err != nil {
			log.Fatal().Err(err).Msg("Failed to ensure database schema")
		}
	} else {
		log.Warn().Msg("Database disabled, running without persistence")
	}

	// --- 2. Core Module Wiring ---
	clock := types.NewSystemClock(time.Now(), 12*time.Second)
	governance := common.HexToAddress(config.GovernanceAddress)
	strategist := common.HexToAddress(config.StrategistAddress)
	automation := common.HexToAddress(config.AutomationAddress)

	authority := auth.NewAuthority(governance)
	if err := authority.Grant(governance, auth.RoleStrategist, strategist); err != nil {
		log.Fatal().Err(err).Msg("Failed to grant strategist role")
	}
	if err := authority.Grant(governance, auth.RoleAutomation, automation); err != nil {
		log.Fatal().Err(err).Msg("Failed to grant automation role")
	}

	bank := token.NewBank()

	usdc := catalogAsset("USDC")
	weth := catalogAsset("WETH")
	bank.Register(usdc)
	bank.Register(weth)

	// Price feeds start at spot values and are refreshed out of band. The
	// oracle enforces bounds and staleness on every read.
	ethUSDFeed := oracle.NewStaticFeed(sdkmath.LegacyMustNewDecFromStr("2500"), clock.Now())
	pricing, err := oracle.NewRegistry(clock, ethUSDFeed, config.DefaultOracleHeartbeat)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create value oracle")
	}
	usdcFeed := oracle.NewStaticFeed(sdkmath.LegacyOneDec(), clock.Now())
	if err := pricing.Register(usdc, oracle.AssetSettings{
		Strategy:  oracle.StrategyFeedUSD,
		Feed:      usdcFeed,
		MinPrice:  sdkmath.LegacyMustNewDecFromStr("0.95"),
		MaxPrice:  sdkmath.LegacyMustNewDecFromStr("1.05"),
		Heartbeat: config.DefaultOracleHeartbeat,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to register USDC with the oracle")
	}
	wethFeed := oracle.NewStaticFeed(sdkmath.LegacyOneDec(), clock.Now())
	if err := pricing.Register(weth, oracle.AssetSettings{
		Strategy:  oracle.StrategyFeedETH,
		Feed:      wethFeed,
		MinPrice:  sdkmath.LegacyMustNewDecFromStr("100"),
		MaxPrice:  sdkmath.LegacyMustNewDecFromStr("100000"),
		Heartbeat: config.DefaultOracleHeartbeat,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to register WETH with the oracle")
	}

	positionRegistry, err := registry.NewRegistry(authority, pricing)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create position registry")
	}
	erc20Adaptor := adaptors.NewERC20Adaptor(erc20AdaptorID)
	if err := positionRegistry.RegisterAdaptor(governance, erc20Adaptor); err != nil {
		log.Fatal().Err(err).Msg("Failed to register ERC20 adaptor")
	}

	// --- 3. Cellar Construction ---
	observer, err := oracle.NewSharePriceObserver(clock, config.DefaultPriceObserverWindow, config.DefaultPriceObserverMinInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create share price observer")
	}

	cellarCfg := vault.Config{
		Name:                  config.CellarName,
		Address:               common.HexToAddress(config.CellarAddress),
		HoldingAsset:          usdc,
		ShareAsset:            shareAsset(config.CellarAddress),
		MinimumInitialDeposit: mustAmount(config.MinimumInitialDeposit, usdc.Decimals),
		ShareLockBlocks:       config.ShareLockBlocks,
		SupplyCap:             mustAmount(config.DefaultSupplyCap, 18),
		RateLimit: vault.RateLimit{
			Window:    config.DefaultRateLimitWindow,
			MaxAssets: mustAmount(config.DefaultRateLimitMaxAssets, usdc.Decimals),
		},
		RebalanceDeviation:    sdkmath.LegacyMustNewDecFromStr(config.RebalanceDeviation),
		MaxPositions:          int(config.MaxPositions),
		PriceObserver:         observer,
		AllowedPriceDeviation: sdkmath.LegacyMustNewDecFromStr(config.DefaultAllowedPriceDeviation),
	}
	cellar, err := vault.New(cellarCfg, authority, positionRegistry, pricing, bank, clock, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create cellar")
	}

	// --- 4. Fee Module and Queue ---
	feeModule, err := fees.New(feesAddress, governance, authority, bank, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create fee module")
	}
	if err := feeModule.SetupMetaData(strategist, cellar,
		sdkmath.LegacyMustNewDecFromStr(config.PlatformFeeRate),
		sdkmath.LegacyMustNewDecFromStr(config.PerformanceFeeRate),
		time.Duration(config.UpkeepFrequencySeconds)*time.Second,
		mustInt(config.DefaultUpkeepMaxGasPrice)); err != nil {
		log.Fatal().Err(err).Msg("Failed to set up fee metadata")
	}

	atomicQueue, err := queue.New(queueAddress, bank, clock)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create atomic queue")
	}

	// --- 5. Engine and Web Server ---
	eng, err := engine.New(engine.Config{
		Cellar:     cellar,
		Fees:       feeModule,
		Registry:   positionRegistry,
		Automation: automation,
		Persist:    config.DBEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create engine")
	}

	webServer := web.NewWebServer(config.WebPort, eng, atomicQueue, config.DBEnabled)
	go func() {
		log.Info().Str("port", config.WebPort).Msg("Starting cellar web dashboard")
		if err := webServer.Start(); err != nil {
			log.Error().Err(err).Msg("Web server failed to start")
		}
	}()

	// --- 6. Main Loop with Graceful Shutdown ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	interval := time.Duration(config.EngineCycleSeconds) * time.Second
	log.Info().Str("interval", interval.String()).Msg("Starting engine main loop")
	eng.RunLoop(ctx, interval)

	log.Info().Msg("Cellar Engine stopped.")
}

// catalogAsset resolves a symbol from the built-in asset catalogue.
func catalogAsset(symbol string) types.Asset {
	entry, ok := config.AssetCatalog[symbol]
	if !ok {
		log.Fatal().Str("symbol", symbol).Msg("Asset missing from catalogue")
	}
	return types.Asset{
		Symbol:   entry.Symbol,
		Addr:     common.HexToAddress(entry.Address),
		Decimals: entry.Decimals,
	}
}

// shareAsset derives the share token identity from the cellar address.
func shareAsset(cellarAddress string) types.Asset {
	return types.Asset{
		Symbol:   "SHARE",
		Addr:     common.HexToAddress(cellarAddress),
		Decimals: 18,
	}
}

// mustInt parses a decimal integer string or halts.
func mustInt(s string) sdkmath.Int {
	value, ok := sdkmath.NewIntFromString(s)
	if !ok {
		log.Fatal().Str("value", s).Msg("Invalid integer configuration value")
	}
	return value
}

// mustAmount parses a human decimal amount into smallest units or halts.
func mustAmount(s string, decimals uint8) sdkmath.Int {
	value, err := utils.ParseAmount(s, decimals)
	if err != nil {
		log.Fatal().Err(err).Str("value", s).Msg("Invalid amount configuration value")
	}
	return value
}
