// Package collector implements the per-invocation run orchestration for
// the daily audit-event fetch: a strictly sequential four-state machine
// (start, claim, execute, resolve) over the run ledger.
//
// The orchestrator is safe to re-run, re-trigger, or run concurrently from
// multiple schedulers. At most one invocation holds the PROCESSING claim
// for a date; everything else short-circuits without side effects.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"auditledger/internal/types"
)

// Outcome classifies how an invocation ended. Only OutcomeSuccess maps to
// a zero process exit code; skips and failures are distinguishable through
// logs, not the exit code.
type Outcome string

const (
	// OutcomeSuccess: the day's events were fetched and recorded.
	OutcomeSuccess Outcome = "success"
	// OutcomeAlreadyHandled: a terminal record already existed; nothing ran.
	OutcomeAlreadyHandled Outcome = "already_handled"
	// OutcomeLockDenied: another worker holds or resolved the claim.
	OutcomeLockDenied Outcome = "lock_denied"
	// OutcomeProviderFailed: the provider reported a structured failure.
	OutcomeProviderFailed Outcome = "provider_failed"
	// OutcomeUnexpectedError: an unexpected fault occurred during execution.
	OutcomeUnexpectedError Outcome = "unexpected_error"
)

// Locker is the claim protocol the orchestrator drives. *lock.Coordinator
// satisfies it.
type Locker interface {
	Acquire(ctx context.Context, date time.Time) (bool, error)
	Release(ctx context.Context, date time.Time, final types.RunStatus, eventsCount int, errorMessage *string) error
	CleanupStuck(ctx context.Context, threshold time.Duration) (int, error)
}

// RecordReader is the read-side ledger access used for the idempotency
// short-circuit. *db.LedgerRepository satisfies it.
type RecordReader interface {
	FindByDate(ctx context.Context, date time.Time) (*types.RunRecord, error)
}

// Fetcher is the external fetch capability. *external.AuditEventsClient
// satisfies it. Provider-reported failures arrive as FetchResult.Failure;
// the error return is reserved for unexpected faults.
type Fetcher interface {
	FetchEvents(ctx context.Context, day time.Time) (*types.FetchResult, error)
}

// Collector wires the ledger, the lock coordinator, and the fetch
// capability into one invocation of the daily job.
type Collector struct {
	Ledger         RecordReader
	Locks          Locker
	Events         Fetcher
	Logger         *slog.Logger
	StuckThreshold time.Duration

	// Now is the clock; overridable for tests. Defaults to time.Now.
	Now func() time.Time
}

// Run executes one invocation of the state machine for the target date.
// A zero target defaults to yesterday's UTC calendar date.
//
// The returned error is non-nil only for persistence failures: when the
// ledger itself cannot be read or written the coordination invariant
// cannot be trusted, so the invocation must fail loudly. Provider failures
// and unexpected fetch faults are converted into terminal ledger writes
// and reported through the Outcome.
func (c *Collector) Run(ctx context.Context, target time.Time) (Outcome, error) {
	now := c.now()
	if target.IsZero() {
		target = types.Yesterday(now)
	}
	day := types.NormalizeDate(target)
	dayStr := day.Format(types.ProcessDateLayout)

	logger := c.logger().With(
		"process_date", dayStr,
		"run_id", uuid.New().String(),
	)
	logger.InfoContext(ctx, "starting audit events processing")

	// Repair claims abandoned by previous crashed runs before attempting
	// our own claim, so a stale PROCESSING row for this same date cannot
	// block a manual retry.
	reclaimed, err := c.Locks.CleanupStuck(ctx, c.StuckThreshold)
	if err != nil {
		return OutcomeUnexpectedError, fmt.Errorf("cleanup sweep: %w", err)
	}
	if reclaimed > 0 {
		logger.InfoContext(ctx, "cleanup sweep reclaimed stuck claims", "count", reclaimed)
	}

	// Start: short-circuit on an existing terminal record. This keeps
	// naive re-invocation idempotent without relying on the lock's
	// uniqueness failure path.
	existing, err := c.Ledger.FindByDate(ctx, day)
	if err != nil {
		return OutcomeUnexpectedError, fmt.Errorf("checking existing record: %w", err)
	}
	if existing != nil && existing.Status.IsTerminal() {
		logger.InfoContext(ctx, "process already completed",
			"status", string(existing.Status))
		return OutcomeAlreadyHandled, nil
	}

	// Claim: the atomic insert is the sole exclusion mechanism.
	acquired, err := c.Locks.Acquire(ctx, day)
	if err != nil {
		return OutcomeUnexpectedError, fmt.Errorf("acquiring claim: %w", err)
	}
	if !acquired {
		logger.InfoContext(ctx, "not claimed, skipping; another worker owns this date")
		return OutcomeLockDenied, nil
	}

	// Execute + Resolve: exactly one Release on every path out of the
	// claimed state. Only process death skips it, which is what the
	// cleanup sweep exists to repair.
	result, err := c.Events.FetchEvents(ctx, day)
	if err != nil {
		msg := fmt.Sprintf("unexpected error: %v", err)
		logger.ErrorContext(ctx, "unexpected error during fetch", "error", err)
		if relErr := c.Locks.Release(ctx, day, types.StatusError, 0, &msg); relErr != nil {
			return OutcomeUnexpectedError, relErr
		}
		return OutcomeUnexpectedError, nil
	}

	if result.Failure != nil {
		diag := result.Failure.Diagnostic()
		logger.ErrorContext(ctx, "provider reported failure", "error", diag)
		if relErr := c.Locks.Release(ctx, day, types.StatusFailed, 0, &diag); relErr != nil {
			return OutcomeProviderFailed, relErr
		}
		return OutcomeProviderFailed, nil
	}

	c.logEvents(ctx, logger, result.Events)
	if relErr := c.Locks.Release(ctx, day, types.StatusSuccess, result.Count, nil); relErr != nil {
		return OutcomeSuccess, relErr
	}
	logger.InfoContext(ctx, "successfully processed audit events", "events_count", result.Count)
	return OutcomeSuccess, nil
}

// logEvents reports the audit-trail attributes of each retrieved event.
func (c *Collector) logEvents(ctx context.Context, logger *slog.Logger, events []types.AuditEvent) {
	for i := range events {
		ev := &events[i]
		logger.InfoContext(ctx, "audit event",
			"created_at", ev.CreatedAt,
			"actor_email", ev.ActorEmail(),
			"type", ev.Type,
			"action", ev.Action,
		)
	}
}

func (c *Collector) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *Collector) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
