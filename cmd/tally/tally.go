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

	"tally/internal/api"
	"tally/internal/config"
	"tally/internal/ledger"
	"tally/internal/logger"
	"tally/internal/models"
	"tally/internal/observability"
	"tally/internal/ratelimit"
	"tally/internal/reconcile"
	"tally/internal/tags"
	"tally/internal/version"

	"github.com/redis/go-redis/v9"
)

var configFile = flag.String("config", "", "Path to configuration file")

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	ver := version.GetInfo()

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	// Initialize the ledger
	ledgerInstance, err := initializeLedger(cfg)
	if err != nil {
		slog.Error("Failed to initialize ledger", "error", err)
		os.Exit(1)
	}
	defer ledgerInstance.Close()

	// Wrap the ledger with instrumentation if metrics are enabled
	var activeLedger ledger.Ledger = ledgerInstance
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedLedger(ledgerInstance)
		if err != nil {
			slog.Error("Failed to create instrumented ledger", "error", err)
			os.Exit(1)
		}
		activeLedger = instrumented
	}

	// Connect the shared counter store. A dead store at startup is a warning,
	// not a failure: the engine falls back to local counting until it recovers.
	var remoteCounter ratelimit.Counter
	var counterPing func(ctx context.Context) error
	if cfg.CounterStore.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.CounterStore.Addr,
			Password: cfg.CounterStore.Password,
			DB:       cfg.CounterStore.DB,
			PoolSize: cfg.CounterStore.PoolSize,
		})
		defer client.Close()

		rc := ratelimit.NewRedisCounter(client, cfg.CounterStore.Timeout)
		remoteCounter = rc
		counterPing = rc.Ping

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := rc.Ping(pingCtx); err != nil {
			slog.Warn("Counter store unreachable at startup, rate limiting degrades to local counting",
				"addr", cfg.CounterStore.Addr, "error", err)
		}
		cancel()
	}

	localCounter := ratelimit.NewLocalCounter()
	stopEviction := localCounter.StartEviction(time.Minute)
	defer stopEviction()

	engine := ratelimit.NewEngine(remoteCounter, localCounter, cfg.RateLimit)

	var checker ratelimit.Checker = engine
	if cfg.Metrics.Enabled {
		instrumented, err := observability.NewInstrumentedChecker(engine)
		if err != nil {
			slog.Error("Failed to create instrumented checker", "error", err)
			os.Exit(1)
		}
		checker = instrumented
	}

	// Initialize the tag service and reconciliation sweeper
	tagService := tags.NewService(activeLedger, cfg.Tags.MaxPerOwner)
	sweeper := reconcile.NewSweeper(activeLedger,
		reconcile.WithPace(cfg.Reconcile.PacePerSecond),
		reconcile.WithDriftThreshold(cfg.Reconcile.DriftThreshold),
	)

	// Initialize HTTP handlers
	handlers := api.NewHandlers(tagService, activeLedger, checker, sweeper,
		cfg.Reconcile.ReportDir, ver.Version, counterPing)

	// Setup routes with middleware
	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}

	router := api.SetupRoutes(handlers, routeOpts...)

	// Start the periodic in-process sweep loop if configured
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	if cfg.Reconcile.Interval > 0 {
		go runSweepLoop(sweepCtx, sweeper, cfg.Reconcile)
	}

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		slog.Info("Starting server", "addr", server.Addr, "version", ver.Version)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server")
	stopSweep()

	// Create a deadline to wait for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Shutdown metrics server
	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	// Attempt graceful shutdown
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server shutdown complete")
}

// initializeLedger creates a ledger instance based on configuration
func initializeLedger(cfg *models.Config) (ledger.Ledger, error) {
	switch cfg.Ledger.Type {
	case models.LedgerTypeMemory:
		return ledger.NewMemoryLedger(), nil
	case models.LedgerTypePostgres:
		return ledger.NewPostgresLedger(ledger.Config{
			DSN:          cfg.Ledger.DSN,
			MaxOpenConns: cfg.Ledger.MaxOpenConns,
			TxTimeout:    cfg.Ledger.TxTimeout,
		})
	default:
		return nil, fmt.Errorf("unsupported ledger type: %s", cfg.Ledger.Type)
	}
}

// runSweepLoop runs the reconciliation sweep on a fixed interval until ctx is
// cancelled. Sweep failures are logged and the loop keeps going; a transient
// database problem should not end periodic reconciliation for the process
// lifetime.
func runSweepLoop(ctx context.Context, sweeper *reconcile.Sweeper, cfg models.ReconcileConfig) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := sweeper.ReconcileAll(ctx)
			if err != nil {
				slog.Error("Periodic reconciliation sweep failed", "error", err)
				continue
			}
			if cfg.ReportDir != "" {
				if path, err := report.WriteFile(cfg.ReportDir); err != nil {
					slog.Warn("Failed to write reconciliation report", "dir", cfg.ReportDir, "error", err)
				} else {
					slog.Info("Reconciliation report written", "path", path)
				}
			}
		}
	}
}
