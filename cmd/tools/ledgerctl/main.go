// Package main implements the ledgerctl CLI for operating on the run
// ledger directly, bypassing the collector and the admin API.
//
// This tool is intended for local development, operational debugging, and
// manual recovery:
//
//	go run ./cmd/tools/ledgerctl init                 # create table + indexes
//	go run ./cmd/tools/ledgerctl status               # show the last 10 records
//	go run ./cmd/tools/ledgerctl cleanup              # reclaim stuck claims
//	go run ./cmd/tools/ledgerctl reset 2024-06-01     # delete a date's record
//
// The tool reads DATABASE_URL from the environment (or a .env file via
// godotenv). The reset command is the administrative force-unlock: it
// frees a date so a future run can claim it again.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"auditledger/internal/db"
	"auditledger/internal/lock"
	"auditledger/internal/types"
)

// statusListLimit is how many recent records the status command shows.
const statusListLimit = 10

var commands = map[string]string{
	"init":    "Create the run_ledger table and indexes",
	"status":  "Show recent processing status (last 10 records)",
	"cleanup": "Mark stuck PROCESSING claims older than the threshold as ERROR",
	"reset":   "Delete the record for a date (YYYY-MM-DD) so it can be reprocessed",
}

func main() {
	thresholdFlag := flag.Duration("threshold", 24*time.Hour, "Stuck-claim age threshold for the cleanup command")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: ledgerctl [flags] <command> [date]\n\n")
		fmt.Fprintf(os.Stderr, "Operate on the audit run ledger directly.\n\nCommands:\n")
		for _, name := range []string{"init", "status", "cleanup", "reset"} {
			fmt.Fprintf(os.Stderr, "  %-8s %s\n", name, commands[name])
		}
		fmt.Fprintf(os.Stderr, "\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	command := flag.Arg(0)
	if _, ok := commands[command]; !ok {
		if command != "" {
			fmt.Fprintf(os.Stderr, "error: unknown command %q\n\n", command)
		}
		flag.Usage()
		os.Exit(1)
	}

	// Load .env for local development (non-fatal if missing).
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := execute(ctx, command, flag.Arg(1), *thresholdFlag, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// execute connects to the database and dispatches the command.
func execute(ctx context.Context, command, dateArg string, threshold time.Duration, logger *slog.Logger) error {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable is required")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return fmt.Errorf("creating database pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}

	repo := db.NewLedgerRepository(pool)

	switch command {
	case "init":
		if err := repo.Migrate(ctx); err != nil {
			return err
		}
		fmt.Println("run_ledger table and indexes created")
		return nil

	case "status":
		return showStatus(ctx, repo)

	case "cleanup":
		coord := lock.NewCoordinator(repo, logger)
		reclaimed, err := coord.CleanupStuck(ctx, threshold)
		if err != nil {
			return err
		}
		if reclaimed == 0 {
			fmt.Println("no stuck claims found")
		} else {
			fmt.Printf("reclaimed %d stuck claim(s)\n", reclaimed)
		}
		return nil

	case "reset":
		return resetDate(ctx, repo, dateArg)
	}
	return fmt.Errorf("unknown command %q", command)
}

// showStatus prints the most recent ledger records in a fixed-width table.
func showStatus(ctx context.Context, repo *db.LedgerRepository) error {
	records, err := repo.ListRecent(ctx, types.RunFilter{}, statusListLimit)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no records found")
		return nil
	}

	fmt.Printf("%-12s %-12s %-8s %-20s\n", "Date", "Status", "Events", "Created")
	fmt.Println("------------------------------------------------------------")
	for _, rec := range records {
		fmt.Printf("%-12s %-12s %-8d %-20s\n",
			rec.ProcessDate.Format(types.ProcessDateLayout),
			string(rec.Status),
			rec.EventsCount,
			rec.CreatedAt.Format("2006-01-02 15:04:05"),
		)
	}
	return nil
}

// resetDate deletes the record for one process date, freeing the date for
// a future claim attempt.
func resetDate(ctx context.Context, repo *db.LedgerRepository, dateArg string) error {
	if dateArg == "" {
		return fmt.Errorf("reset requires a date argument (YYYY-MM-DD)")
	}
	date, err := time.Parse(types.ProcessDateLayout, dateArg)
	if err != nil {
		return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", dateArg)
	}

	rec, err := repo.FindByDate(ctx, date)
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Printf("no record found for %s\n", dateArg)
		return nil
	}

	if err := repo.Delete(ctx, rec.ID); err != nil {
		return err
	}
	fmt.Printf("deleted record for %s (was %s)\n", dateArg, rec.Status)
	return nil
}
