package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crypto-trading-assistant/config"
	"crypto-trading-assistant/internal/api"
	"crypto-trading-assistant/internal/bot"
	"crypto-trading-assistant/internal/cache"
	"crypto-trading-assistant/internal/campaign"
	"crypto-trading-assistant/internal/database"
	"crypto-trading-assistant/internal/engine"
	"crypto-trading-assistant/internal/events"
	"crypto-trading-assistant/internal/exchange"
	"crypto-trading-assistant/internal/goals"
	"crypto-trading-assistant/internal/ledger"
	"crypto-trading-assistant/internal/logging"
	"crypto-trading-assistant/internal/policy"
	"crypto-trading-assistant/internal/portfolio"
	"crypto-trading-assistant/internal/signals"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
	})
	logger.Info().Msg("structured logging initialized")

	loc, err := time.LoadLocation(cfg.ExchangeConfig.Timezone)
	if err != nil {
		logger.Fatal().Err(err).Str("timezone", cfg.ExchangeConfig.Timezone).Msg("invalid exchange timezone")
	}

	// Database
	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx := context.Background()
	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}
	repo := database.NewRepository(db)

	// Redis cache: optional, the process degrades gracefully without it
	var cacheSvc *cache.Service
	if cfg.RedisConfig.Enabled {
		cacheSvc, err = cache.NewService(cache.Config{
			Enabled:  cfg.RedisConfig.Enabled,
			Address:  cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		}, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("redis unavailable, continuing without cache")
			cacheSvc = nil
		}
	}

	// Event bus
	bus := events.NewBus()

	// Exchange gateway. Live exchange connectivity is wired through the same
	// interface; only the paper gateway ships with this build.
	if cfg.ExchangeConfig.Mode != "paper" {
		logger.Fatal().Str("mode", cfg.ExchangeConfig.Mode).Msg("no live exchange connector is configured; set exchange mode to paper")
	}
	gateway := exchange.NewPaperGateway(
		cfg.ExchangeConfig.QuoteCurrency,
		cfg.ExchangeConfig.PaperBalances,
		cfg.ExchangeConfig.PaperPrices,
		logger,
	)

	// Risk policy seed
	seed := policy.RiskPolicy{
		MaxTradeAmount:            cfg.RiskConfig.MaxTradeAmount,
		MaxDailyVolume:            cfg.RiskConfig.MaxDailyVolume,
		MaxAssetAllocationPercent: cfg.RiskConfig.MaxAssetAllocationPercent,
		ProtectedReserve:          cfg.RiskConfig.ProtectedReserve,
		StopLossPercent:           cfg.RiskConfig.StopLossPercent,
		TakeProfitPercent:         cfg.RiskConfig.TakeProfitPercent,
		MaxTradesPerDay:           cfg.RiskConfig.MaxTradesPerDay,
		MaxConsecutiveLosses:      cfg.RiskConfig.MaxConsecutiveLosses,
		MinConfidence:             cfg.RiskConfig.MinConfidence,
		TradablePairs:             cfg.RiskConfig.TradablePairs,
	}
	policies, err := policy.NewStore(seed)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid risk policy seed")
	}

	// Every protected asset actually held must have a reserve configured.
	balances, err := gateway.GetPortfolio(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read initial portfolio")
	}
	held := make(map[string]float64, len(balances))
	for _, b := range balances {
		held[b.Asset] = b.Amount
	}
	if err := seed.ValidateReserves(cfg.RiskConfig.ProtectedAssets, held); err != nil {
		logger.Fatal().Err(err).Msg("protected reserve check failed")
	}

	portfolios := portfolio.NewProvider(gateway, cfg.EngineConfig.PortfolioTTL, logger)

	// Main budget ledger, restored from the last persisted state
	led := ledger.New(loc)
	if st, err := repo.LatestLedgerState(ctx, bot.LedgerScopeMain); err != nil {
		logger.Warn().Err(err).Msg("could not load ledger state, starting fresh")
	} else if st != nil {
		led.Restore(*st)
		logger.Info().Str("date", st.Date).Msg("ledger state restored")
	}

	// Decision engine
	halt := engine.NewEmergencyStop()
	decisionLog := database.NewDecisionLog(repo, cacheSvc, logger)
	eng := engine.New(engine.Config{
		QuoteCurrency:    cfg.ExchangeConfig.QuoteCurrency,
		ExecutionTimeout: cfg.EngineConfig.ExecutionTimeout,
	}, gateway, decisionLog, halt, bus, logger)

	// Goal tracker, target amounts restored when previously customized
	tracker := goals.NewTracker(
		cfg.GoalsConfig.DailyTarget,
		cfg.GoalsConfig.WeeklyTarget,
		cfg.GoalsConfig.MonthlyTarget,
		loc, logger,
	)
	if amounts, err := repo.GoalTargetAmounts(ctx); err != nil {
		logger.Warn().Err(err).Msg("could not load goal targets")
	} else if m, okM := amounts[goals.PeriodMonthly]; okM {
		if w, okW := amounts[goals.PeriodWeekly]; okW {
			if err := tracker.UpdateTargets(m, w); err != nil {
				logger.Warn().Err(err).Msg("persisted goal targets rejected")
			}
		}
	}

	// Signal source
	var signalSource bot.SignalSource
	if cfg.SignalsConfig.URL != "" {
		signalSource = signals.NewHTTPSource(cfg.SignalsConfig.URL, cfg.SignalsConfig.Timeout, logger)
	} else {
		logger.Warn().Msg("no signal service configured, using in-memory queue source")
		signalSource = signals.NewQueueSource()
	}

	// Campaign manager, restored from persisted records
	campaigns := campaign.NewManager(eng, signalSource, cacheSvc, portfolios.Snapshot, policies, repo, bus, loc, logger)
	if recs, err := repo.LoadCampaigns(ctx); err != nil {
		logger.Warn().Err(err).Msg("could not load campaigns")
	} else {
		for _, rec := range recs {
			campaigns.Restore(rec.Campaign, rec.SubLedger)
		}
		if len(recs) > 0 {
			logger.Info().Int("count", len(recs)).Msg("campaigns restored")
		}
	}

	// Orchestrator
	tradingBot := bot.New(
		eng, signalSource, portfolios, policies, led, tracker, campaigns,
		cacheSvc, repo, gateway, bus, loc, cfg.EngineConfig.CycleInterval, logger,
	)

	// HTTP API
	server := api.NewServer(api.ServerConfig{
		Port:           cfg.ServerConfig.Port,
		Host:           cfg.ServerConfig.Host,
		ProductionMode: cfg.ServerConfig.ProductionMode,
		AllowOrigins:   cfg.ServerConfig.AllowedOrigins,
	}, tradingBot, decisionLog, tracker, policies, campaigns, led, portfolios, repo, db, loc, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("failed to start web server")
		}
	}()

	if cfg.EngineConfig.AutoStart {
		if err := tradingBot.Start(bot.ModeDry); err != nil {
			logger.Fatal().Err(err).Msg("failed to start bot")
		}
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("shutting down")

	if err := tradingBot.Stop(); err != nil && err != bot.ErrNotRunning {
		logger.Error().Err(err).Msg("error stopping bot")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error shutting down server")
	}

	if cacheSvc != nil {
		if err := cacheSvc.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing cache")
		}
	}

	logger.Info().Msg("shutdown complete")
}
