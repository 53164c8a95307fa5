package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jensholdgaard/auctiond/internal/account"
	"github.com/jensholdgaard/auctiond/internal/auction"
	"github.com/jensholdgaard/auctiond/internal/clock"
	"github.com/jensholdgaard/auctiond/internal/config"
	"github.com/jensholdgaard/auctiond/internal/health"
	"github.com/jensholdgaard/auctiond/internal/leader"
	"github.com/jensholdgaard/auctiond/internal/ledger"
	"github.com/jensholdgaard/auctiond/internal/metrics"
	"github.com/jensholdgaard/auctiond/internal/scheduler"
	"github.com/jensholdgaard/auctiond/internal/settlement"
	"github.com/jensholdgaard/auctiond/internal/suggestion"
	"github.com/jensholdgaard/auctiond/internal/telemetry"
	"github.com/jensholdgaard/auctiond/internal/transport/httpapi"
	"github.com/jensholdgaard/auctiond/internal/transport/ws"

	// Register ledger drivers so they are available via ledger.Open.
	_ "github.com/jensholdgaard/auctiond/internal/ledger/memory"
	_ "github.com/jensholdgaard/auctiond/internal/ledger/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	envFile := flag.String("env-file", "", "optional dotenv file loaded before the configuration")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath, *envFile); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if envFile != "" {
		if err := config.LoadEnvFile(envFile); err != nil {
			return err
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

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
	clk, err := clock.NewZoned(clock.Real{}, cfg.Auction.TimeZone)
	if err != nil {
		return err
	}

	store, err := ledger.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening ledger (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer store.Close()

	logger.InfoContext(ctx, "ledger opened",
		slog.String("driver", cfg.Database.Driver),
		slog.String("time_zone", clk.Location().String()),
	)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	auctions := auction.NewManager(store, m, logger, tp.TracerProvider, clk)
	accounts := account.NewManager(store, cfg.Membership.PremiumBonus, logger, tp.TracerProvider, clk)
	settlements := settlement.NewEngine(store, m, logger, tp.TracerProvider, clk)
	suggestions := suggestion.NewEngine(store, logger, tp.TracerProvider, clk)
	sweeper := scheduler.NewSweeper(store, settlements, m, logger, tp.TracerProvider, clk)

	hub := ws.NewHub(auctions, cfg.WebSocket, m, logger)
	auctions.OnBidAccepted(hub.Broadcast)

	healthHandler := health.NewHandler(clk, health.PingCheck("ledger", store))

	gin.SetMode(gin.ReleaseMode)
	router := httpapi.NewRouter(httpapi.Services{
		Auctions:    auctions,
		Accounts:    accounts,
		Settlements: settlements,
		Suggestions: suggestions,
		Sweeps:      sweeper,
		Live:        hub,
	}, httpapi.Options{
		Logger:         logger,
		TracerProvider: tp.TracerProvider,
		Metrics:        m,
		Gatherer:       reg,
		Health:         healthHandler,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
			cancel()
		}
	}()

	// The sweeper runs on the elected leader only; the API runs everywhere.
	var wg sync.WaitGroup
	if cfg.Scheduler.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := leader.RunLeading(ctx, cfg.LeaderElection, logger, func(ctx context.Context) {
				if runErr := sweeper.Run(ctx, cfg.Scheduler.Spec); runErr != nil {
					logger.ErrorContext(ctx, "sweeper failed", slog.Any("error", runErr))
				}
			})
			if err != nil {
				logger.ErrorContext(ctx, "leader election failed", slog.Any("error", err))
			}
		}()
	}

	healthHandler.SetReady(true)
	logger.InfoContext(ctx, "auctiond is running", slog.String("version", version))

	<-ctx.Done()
	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}
	wg.Wait()

	logger.Info("shutdown complete")
	return nil
}
