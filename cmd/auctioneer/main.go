package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/guildhall/auctioneer/internal/api"
	"github.com/guildhall/auctioneer/internal/auction"
	"github.com/guildhall/auctioneer/internal/clock"
	"github.com/guildhall/auctioneer/internal/config"
	"github.com/guildhall/auctioneer/internal/health"
	"github.com/guildhall/auctioneer/internal/leader"
	"github.com/guildhall/auctioneer/internal/notify"
	"github.com/guildhall/auctioneer/internal/store"
	"github.com/guildhall/auctioneer/internal/sweep"
	"github.com/guildhall/auctioneer/internal/telemetry"
	"github.com/guildhall/auctioneer/internal/wallet"

	// Register store drivers so they are available via store.Open.
	_ "github.com/guildhall/auctioneer/internal/store/entstore"
	_ "github.com/guildhall/auctioneer/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load configuration.
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup telemetry.
	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	// Open store using the configured driver (sqlx or ent).
	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "connected to database", slog.String("driver", cfg.Database.Driver))

	// Select the notification backend.
	var notifier notify.Notifier
	switch cfg.Notifier.Kind {
	case "discord":
		discordNotifier, notifyErr := notify.NewDiscordNotifier(cfg.Notifier.Discord, logger)
		if notifyErr != nil {
			return fmt.Errorf("creating discord notifier: %w", notifyErr)
		}
		defer func() {
			if closeErr := discordNotifier.Close(); closeErr != nil {
				logger.Error("discord notifier shutdown error", slog.Any("error", closeErr))
			}
		}()
		notifier = discordNotifier
	default:
		notifier = notify.NewLogNotifier(logger)
	}

	// Initialize the wallet and auction registry.
	walletMgr := wallet.NewManager(repos.Members, repos.Events, logger, tp.TracerProvider)
	registry := auction.NewRegistry(repos.Events, repos.Auctions, repos.Bids,
		walletMgr, notifier, logger, tp.TracerProvider, clk)

	// Recover in-flight auctions from the event journal so that active,
	// pending and unconfirmed auctions survive restarts.
	if n, recoverErr := registry.Recover(ctx); recoverErr != nil {
		return fmt.Errorf("auction recovery: %w", recoverErr)
	} else if n > 0 {
		logger.InfoContext(ctx, "recovered open auctions", slog.Int("count", n))
	}

	// Setup health checks.
	healthHandler := health.NewHandler(clk,
		health.Checker{
			Name:  "database",
			Check: repos.Ping,
		},
	)

	// API and health share one server; the API runs on all replicas.
	apiServer := api.NewServer(registry, walletMgr, repos.Members, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", healthHandler.LivenessHandler())
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler())
	mux.Handle("/v1/", apiServer.Handler())

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
		}
	}()

	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "auctioneer is running", slog.String("version", version))

	// runSweep is the work only one replica should do.
	runSweep := func(ctx context.Context) {
		sweeper := sweep.New(registry, cfg.Sweep.Interval, clk, logger)
		sweeper.Run(ctx)
	}

	switch {
	case !cfg.Sweep.Enabled:
		<-ctx.Done()
	case cfg.LeaderElection.Enabled:
		logger.InfoContext(ctx, "leader election enabled, waiting for leadership...")

		if leaderErr := leader.Run(ctx, cfg.LeaderElection, logger, runSweep, func() {
			logger.Info("lost leadership, shutting down...")
			cancel()
		}); leaderErr != nil {
			return fmt.Errorf("leader election: %w", leaderErr)
		}
	default:
		// Single replica, sweep directly.
		runSweep(ctx)
	}

	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}
