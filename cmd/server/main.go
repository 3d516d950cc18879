package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dgnsrekt/optionvault/internal/access"
	"github.com/dgnsrekt/optionvault/internal/audit"
	"github.com/dgnsrekt/optionvault/internal/config"
	"github.com/dgnsrekt/optionvault/internal/funds"
	"github.com/dgnsrekt/optionvault/internal/keeper"
	"github.com/dgnsrekt/optionvault/internal/ledger"
	"github.com/dgnsrekt/optionvault/internal/lifecycle"
	"github.com/dgnsrekt/optionvault/internal/market"
	"github.com/dgnsrekt/optionvault/internal/metrics"
	"github.com/dgnsrekt/optionvault/internal/notify"
	"github.com/dgnsrekt/optionvault/internal/oracle"
	"github.com/dgnsrekt/optionvault/internal/order"
	"github.com/dgnsrekt/optionvault/internal/risk"
	"github.com/dgnsrekt/optionvault/internal/server"
	"github.com/dgnsrekt/optionvault/internal/updater"
	"github.com/dgnsrekt/optionvault/internal/vault"
	"github.com/dgnsrekt/optionvault/internal/ws"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Load config
	cfg, err := config.LoadServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return 1
	}

	// Setup logger
	logger, err := newLogger(cfg.LogDevelopment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Sync()

	reg, err := config.Load(cfg.RegistryFile)
	if err != nil {
		logger.Error("failed to load registry", zap.Error(err))
		return 1
	}

	logger.Info("configuration loaded",
		zap.String("port", cfg.Port),
		zap.String("registryFile", cfg.RegistryFile),
		zap.Int("assets", len(reg.Assets)),
		zap.Int("tokens", len(reg.Tokens)),
		zap.Strings("admins", cfg.AdminAccounts),
		zap.Bool("redis", cfg.RedisAddr != ""),
		zap.Bool("auditDB", cfg.AuditDSN != ""),
		zap.Strings("kafkaBrokers", cfg.KafkaBrokers),
		zap.Bool("wsEnabled", cfg.WSEnabled),
		zap.Bool("keeperEnabled", cfg.KeeperEnabled),
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	policy := access.NewPolicy(cfg.AdminAccounts...)

	// Audit sinks
	events := audit.NewBroadcaster(256, 15*time.Second, logger)
	journal, closeJournal, err := buildJournal(cfg, events, logger)
	if err != nil {
		logger.Error("failed to open audit journal", zap.Error(err))
		return 1
	}
	defer closeJournal()

	notifyCfg := notify.LoadConfig()
	if err := notifyCfg.Validate(); err != nil {
		logger.Error("invalid notification config", zap.Error(err))
		return 1
	}
	notifier := notify.New(notifyCfg, logger)

	providers, err := buildProviders(reg.Feeds, logger)
	if err != nil {
		logger.Error("failed to set up price feeds", zap.Error(err))
		return 1
	}

	cache, closeCache, err := buildCache(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("failed to connect price cache", zap.Error(err))
		return 1
	}
	defer closeCache()

	registry, err := oracle.LoadRegistry(reg)
	if err != nil {
		logger.Error("failed to build asset registry", zap.Error(err))
		return 1
	}

	hours := market.NewCalendar()
	o := oracle.New(oracle.Options{
		Registry:  registry,
		Providers: providers,
		Cache:     cache,
		Hours:     hours,
		Policy: oracle.Policy{
			HealthyConfidenceBps:    reg.Oracle.HealthyConfidenceBps,
			MissingSourcePenaltyBps: reg.Oracle.MissingSourcePenaltyBps,
			SpreadPenaltyMultiplier: reg.Oracle.SpreadPenaltyMultiplier,
		},
		SyntheticPolicy: oracle.SyntheticPolicy{
			DecayPerHourBps: reg.Synthetic.DecayPerHourBps,
			FloorBps:        reg.Synthetic.FloorBps,
		},
		Access:   policy,
		Journal:  journal,
		Notifier: notifier,
		Logger:   logger,
	})

	v := vault.New(policy, journal, logger)
	if err := v.LoadTokens(ctx, reg.Tokens); err != nil {
		logger.Error("failed to load collateral tokens", zap.Error(err))
		return 1
	}

	m := metrics.New()
	positions := ledger.New()
	book := funds.NewBook()
	riskMgr := risk.New(o, v, positions, policy, journal, notifier, nil, logger)
	lm := lifecycle.New(lifecycle.Options{
		Config: lifecycle.ConfigFrom(reg.Lifecycle),
		Prices: o,
		Assets: registry,
		Vault:  v,
		Ledger: positions,
		Funds:  book,
		Verifier: order.NewVerifier(order.Domain{
			Name:            reg.Signing.Name,
			Version:         reg.Signing.Version,
			VerifyingTarget: reg.Signing.VerifyingTarget,
		}),
		Gate:     riskMgr,
		Journal:  journal,
		Observer: m,
		Logger:   logger,
	})

	go events.Run(ctx)

	if cfg.KeeperEnabled {
		k := keeper.New(keeper.Options{
			Assets:   registry,
			Updater:  updater.NewManager(o, cfg.UpdateWorkers, m, logger),
			Risk:     riskMgr,
			Expirer:  lm,
			Health:   o,
			Gauges:   m,
			Hours:    hours,
			Interval: cfg.KeeperInterval,
			Logger:   logger,
		})
		go k.Run(ctx)
	}

	// WebSocket components (optional)
	var hub *ws.Hub
	if cfg.WSEnabled {
		encoder, err := ws.NewEncoder()
		if err != nil {
			logger.Error("failed to create websocket encoder", zap.Error(err))
			return 1
		}
		defer encoder.Close()

		hub = ws.NewHub("prices", encoder, logger)
		go hub.Run(ctx)
		go ws.NewStreamer(hub, o, cfg.WSStreamInterval, logger).Run(ctx)

		logger.Info("WebSocket enabled", zap.Duration("streamInterval", cfg.WSStreamInterval))
	}

	srv := server.NewServer(server.Deps{
		Access:    policy,
		Oracle:    o,
		Lifecycle: lm,
		Risk:      riskMgr,
		Vault:     v,
		Ledger:    positions,
		Funds:     book,
		Events:    events,
		Metrics:   m,
		Hub:       hub,
		Reloader:  server.NewReloader(cfg.RegistryFile, policy, o, v, logger),
	}, logger)

	// Create router
	router, err := server.NewRouter(srv, logger)
	if err != nil {
		logger.Error("failed to create router", zap.Error(err))
		return 1
	}

	// No write timeout: /v1/events is a long-lived stream.
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting server", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// Wait for interrupt
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Cancel context to stop background components
	cancel()

	// Graceful HTTP server shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return 1
	}

	logger.Info("server stopped")
	return 0
}
