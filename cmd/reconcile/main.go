// Package main is the offline reconciliation sweep. It connects to the
// configured ledger, recomputes every tag's materialized counts from the
// association tables, writes a JSON report, and exits. Exit code 0 means the
// sweep ran (drift or not); 1 means it could not run.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"tally/internal/config"
	"tally/internal/ledger"
	"tally/internal/logger"
	"tally/internal/models"
	"tally/internal/reconcile"
	"tally/internal/version"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	reportDir  = flag.String("report-dir", "", "Directory for the JSON report (overrides configuration)")
	timeout    = flag.Duration("timeout", 10*time.Minute, "Overall sweep timeout")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	log, closer, err := logger.Setup(cfg.Logging, version.GetInfo())
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	ledgerInstance, err := openLedger(cfg)
	if err != nil {
		slog.Error("Failed to open ledger", "error", err)
		os.Exit(1)
	}
	defer ledgerInstance.Close()

	sweeper := reconcile.NewSweeper(ledgerInstance,
		reconcile.WithPace(cfg.Reconcile.PacePerSecond),
		reconcile.WithDriftThreshold(cfg.Reconcile.DriftThreshold),
	)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	report, err := sweeper.ReconcileAll(ctx)
	if err != nil {
		slog.Error("Reconciliation sweep failed", "error", err)
		os.Exit(1)
	}

	dir := cfg.Reconcile.ReportDir
	if *reportDir != "" {
		dir = *reportDir
	}
	if dir != "" {
		path, err := report.WriteFile(dir)
		if err != nil {
			slog.Error("Failed to write reconciliation report", "dir", dir, "error", err)
			os.Exit(1)
		}
		slog.Info("Reconciliation report written", "path", path)
	}
}

func openLedger(cfg *models.Config) (ledger.Ledger, error) {
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
