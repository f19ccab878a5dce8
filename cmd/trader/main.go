package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"pancake-blofin-arb/internal/blofin"
	"pancake-blofin-arb/internal/chain"
	"pancake-blofin-arb/internal/config"
	"pancake-blofin-arb/internal/database"
	"pancake-blofin-arb/internal/dexscreener"
	"pancake-blofin-arb/internal/logger"
	"pancake-blofin-arb/internal/notify"
	"pancake-blofin-arb/internal/trader"
)

func main() {
	fs := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	config.Flags(fs)
	_ = fs.Parse(os.Args[1:])

	// Load application configuration
	cfg, err := config.LoadConfig(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		// We can't use the logger here because it's not initialized yet.
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(2)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format, cfg.Logger.File)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	log.Info("Configuration loaded", zap.String("mode", cfg.Mode()), zap.String("pair", cfg.Trading.Pair))
	if cfg.Trading.DryRun {
		log.Warn("DRY RUN: signals are evaluated and logged, no orders or swaps are sent")
		if cfg.HasTradingCredentials() {
			log.Info("Trading credentials are configured but unused; pass --live to trade")
		}
	}

	// Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")
	recorders := []trader.Recorder{database.NewCycleStore(db, log)}

	if cfg.Redis.Addr != "" {
		rdb, err := notify.NewRedisClient(ctx, &cfg.Redis)
		if err != nil {
			log.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer func() { _ = rdb.Close() }()
		recorders = append(recorders, notify.NewRedisPublisher(rdb, cfg.Redis.Channel, log))
		log.Info("Publishing cycles to Redis", zap.String("channel", cfg.Redis.Channel))
	}

	// Initialize Blofin REST client
	restClient := blofin.NewRestClient(&cfg.Blofin, log)
	if restClient.Connect(ctx, cfg.Blofin.SyncTime) {
		log.Info("Successfully connected to Blofin API.")
	}

	deps := trader.Deps{
		Dex:       dexscreener.NewSource(&cfg.DexScreener, log),
		Cex:       blofin.NewTickerSource(restClient, cfg.Blofin.Symbol),
		Recorders: recorders,
	}

	if !cfg.Trading.DryRun {
		swapper, closeChain, err := newSwapExecutor(ctx, &cfg.Chain, log)
		if err != nil {
			log.Fatal("Failed to initialize swap executor", zap.Error(err))
		}
		defer closeChain()
		deps.Swapper = swapper
		deps.Orderer = blofin.NewOrderExecutor(restClient, cfg.Blofin.Symbol, log)
	}

	engine, err := trader.NewEngine(log, &cfg, deps)
	if err != nil {
		log.Fatal("Failed to create engine", zap.Error(err))
	}

	if cfg.API.Port > 0 {
		api := trader.NewAPIServer(engine, cfg.API.Port, log)
		api.Start()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			if err := api.Stop(shutdownCtx); err != nil {
				log.Error("API server shutdown failed", zap.Error(err))
			}
		}()
	}

	engine.Run(ctx)
	log.Info("Bot has been shut down.")
}

func newSwapExecutor(ctx context.Context, cfg *config.Chain, log *zap.Logger) (*chain.SwapExecutor, func(), error) {
	routerABI, fromFile, err := chain.LoadRouterABI(cfg.RouterABIPath)
	if err != nil {
		return nil, nil, err
	}
	if !fromFile {
		log.Warn("Router ABI file not found, using built-in definition", zap.String("path", cfg.RouterABIPath))
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	ec, err := chain.Dial(dialCtx, cfg.RPCURL)
	if err != nil {
		return nil, nil, err
	}

	chainID, err := ec.ChainID(dialCtx)
	if err != nil {
		ec.Close()
		return nil, nil, fmt.Errorf("rpc not reachable: %w", err)
	}

	swapper, err := chain.NewSwapExecutor(ec, routerABI, cfg, log)
	if err != nil {
		ec.Close()
		return nil, nil, err
	}
	log.Info("Connected to chain",
		zap.String("chain_id", chainID.String()),
		zap.String("wallet", swapper.Address().Hex()),
		zap.String("router", cfg.Router),
	)
	return swapper, ec.Close, nil
}
