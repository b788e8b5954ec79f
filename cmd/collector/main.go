// Package main is the entrypoint for the daily audit-event collector.
//
// The collector is designed to be invoked by an external scheduler (cron,
// Heroku Scheduler) once per day, and is safe to re-run or run concurrently
// from multiple schedulers: the run ledger's uniqueness constraint
// guarantees at most one invocation processes a given date.
//
// Exit code 0 means the day's events were fetched and recorded. Every
// other condition (already handled, lock denied, provider failure,
// unexpected error) exits non-zero and is distinguishable through logs.
//
// Usage:
//
//	collector                      # process yesterday (UTC)
//	collector --date=2024-06-01    # process a specific day
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

	"auditledger/internal/collector"
	"auditledger/internal/config"
	"auditledger/internal/db"
	"auditledger/internal/external"
	"auditledger/internal/lock"
	"auditledger/internal/types"
)

func main() {
	dateFlag := flag.String("date", "", "Target date to process (YYYY-MM-DD, default: yesterday UTC)")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)

	var target time.Time
	if *dateFlag != "" {
		target, err = time.Parse(types.ProcessDateLayout, *dateFlag)
		if err != nil {
			logger.Error("invalid --date flag, expected YYYY-MM-DD", "date", *dateFlag, "error", err)
			os.Exit(1)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	outcome, err := run(ctx, cfg, logger, target)
	if err != nil {
		logger.Error("audit events processing failed", "outcome", string(outcome), "error", err)
		os.Exit(1)
	}
	if outcome != collector.OutcomeSuccess {
		logger.Error("audit events processing did not complete", "outcome", string(outcome))
		os.Exit(1)
	}
	logger.Info("audit events processing completed successfully")
}

// run wires the pool, repositories, coordinator, and provider client, then
// executes one invocation of the orchestrator.
func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, target time.Time) (collector.Outcome, error) {
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return collector.OutcomeUnexpectedError, err
	}
	defer pool.Close()

	logger.Info("database connection established")

	repo := db.NewLedgerRepository(pool)
	if err := repo.Migrate(ctx); err != nil {
		return collector.OutcomeUnexpectedError, fmt.Errorf("initializing ledger schema: %w", err)
	}

	c := &collector.Collector{
		Ledger: repo,
		Locks:  lock.NewCoordinator(repo, logger),
		Events: external.NewAuditEventsClient(cfg.Heroku, &http.Client{
			Timeout: cfg.Heroku.RequestTimeout,
		}),
		Logger:         logger,
		StuckThreshold: cfg.Job.StuckThreshold,
	}

	return c.Run(ctx, target)
}

// newLogger builds the process-wide JSON logger at the configured level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
