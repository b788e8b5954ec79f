// Package lock turns the run ledger's uniqueness constraint into an
// exclusive, atomic claim primitive for daily processing runs.
//
// The claim is a lease with no heartbeat renewal: a single claim timestamp
// and a fixed timeout. Each unit of work (one day's fetch) is bounded and
// short, so a renewable lease would add complexity without a correctness
// benefit. The cleanup sweep must never reclaim a claim younger than the
// worst-case expected processing latency.
package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"auditledger/internal/types"
)

// StuckDiagnostic is the standard error message written to claims the
// cleanup sweep reclaims.
const StuckDiagnostic = "claim abandoned, reclaimed by cleanup sweep"

// LedgerStore is the subset of the run ledger repository the coordinator
// needs. *db.LedgerRepository satisfies it.
type LedgerStore interface {
	FindByDate(ctx context.Context, date time.Time) (*types.RunRecord, error)
	Insert(ctx context.Context, rec *types.RunRecord) error
	UpdateStatus(ctx context.Context, id int64, status types.RunStatus, eventsCount int, errorMessage *string, now time.Time) error
	ScanStuck(ctx context.Context, status types.RunStatus, createdBefore time.Time) ([]types.RunRecord, error)
}

// Coordinator implements the claim/release/cleanup protocol over the run
// ledger. Invocations on different machines coordinate exclusively through
// the store's single-row atomic operations; the Coordinator itself holds
// no state beyond its dependencies.
type Coordinator struct {
	store  LedgerStore
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock overrides the coordinator's clock. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// NewCoordinator creates a Coordinator over the given ledger store.
func NewCoordinator(store LedgerStore, logger *slog.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Coordinator{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Acquire attempts to claim exclusive ownership of a date's processing
// slot by inserting a PROCESSING row. The insert and the uniqueness check
// are one atomic store operation -- there is deliberately no prior
// existence check, since a check-then-insert window is exactly the race
// the lock exists to prevent.
//
// Returns (true, nil) when the caller now owns the date, (false, nil) when
// a record for the date already exists (another worker holds or resolved
// the claim), and a non-nil error only when the ledger write itself failed.
func (c *Coordinator) Acquire(ctx context.Context, date time.Time) (bool, error) {
	now := c.now().UTC()
	rec := &types.RunRecord{
		ProcessDate: types.NormalizeDate(date),
		Status:      types.StatusProcessing,
		EventsCount: 0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := c.store.Insert(ctx, rec); err != nil {
		if types.IsCode(err, types.ErrCodeConflictDateClaimed) {
			c.logger.InfoContext(ctx, "claim denied, date already recorded",
				"process_date", rec.ProcessDate.Format(types.ProcessDateLayout))
			return false, nil
		}
		return false, fmt.Errorf("acquiring claim for %s: %w",
			rec.ProcessDate.Format(types.ProcessDateLayout), err)
	}

	c.logger.InfoContext(ctx, "claim acquired",
		"process_date", rec.ProcessDate.Format(types.ProcessDateLayout),
		"record_id", rec.ID)
	return true, nil
}

// Release resolves the PROCESSING claim for a date to a terminal status.
// A missing or already-terminal record is logged as a warning and
// swallowed: the work is already done, and the next scheduled run will
// re-observe the ledger and re-claim if needed. Store write failures
// propagate, since an unwritable ledger voids the coordination invariant.
func (c *Coordinator) Release(ctx context.Context, date time.Time, final types.RunStatus, eventsCount int, errorMessage *string) error {
	day := types.NormalizeDate(date)
	dayStr := day.Format(types.ProcessDateLayout)

	rec, err := c.store.FindByDate(ctx, day)
	if err != nil {
		return fmt.Errorf("locating claim for %s: %w", dayStr, err)
	}
	if rec == nil || rec.Status != types.StatusProcessing {
		c.logger.WarnContext(ctx, "no processing claim found to release",
			"process_date", dayStr,
			"final_status", string(final))
		return nil
	}

	err = c.store.UpdateStatus(ctx, rec.ID, final, eventsCount, errorMessage, c.now().UTC())
	if err != nil {
		if types.IsCode(err, types.ErrCodeNotFoundRun) {
			c.logger.WarnContext(ctx, "claim disappeared before release",
				"process_date", dayStr,
				"record_id", rec.ID)
			return nil
		}
		return fmt.Errorf("releasing claim for %s: %w", dayStr, err)
	}

	c.logger.InfoContext(ctx, "claim released",
		"process_date", dayStr,
		"final_status", string(final),
		"events_count", eventsCount)
	return nil
}

// CleanupStuck force-transitions PROCESSING claims older than the
// threshold to ERROR with a standard diagnostic. This is the recovery path
// for workers that crashed or hung after acquiring a claim: without it, a
// dead worker's row would reject new claims for that date forever.
//
// The reclaimed date stays occupied by the terminal ERROR row; freeing it
// for automatic re-processing requires an administrative delete.
//
// Returns the number of claims reclaimed.
func (c *Coordinator) CleanupStuck(ctx context.Context, threshold time.Duration) (int, error) {
	now := c.now().UTC()
	cutoff := now.Add(-threshold)

	stuck, err := c.store.ScanStuck(ctx, types.StatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("scanning for stuck claims: %w", err)
	}

	reclaimed := 0
	for i := range stuck {
		rec := &stuck[i]
		msg := StuckDiagnostic
		if err := c.store.UpdateStatus(ctx, rec.ID, types.StatusError, 0, &msg, now); err != nil {
			if types.IsCode(err, types.ErrCodeNotFoundRun) {
				// Deleted out from under the sweep; nothing left to repair.
				continue
			}
			return reclaimed, fmt.Errorf("reclaiming stuck claim for %s: %w",
				rec.ProcessDate.Format(types.ProcessDateLayout), err)
		}
		reclaimed++
		c.logger.InfoContext(ctx, "reclaimed stuck claim",
			"process_date", rec.ProcessDate.Format(types.ProcessDateLayout),
			"claimed_at", rec.CreatedAt.Format(time.RFC3339))
	}

	if reclaimed == 0 {
		c.logger.DebugContext(ctx, "no stuck claims found", "cutoff", cutoff.Format(time.RFC3339))
	}
	return reclaimed, nil
}
