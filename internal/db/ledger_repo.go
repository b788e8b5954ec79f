package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"auditledger/internal/types"
)

// pgUniqueViolation is the SQLSTATE Postgres raises when an INSERT hits the
// run_ledger process_date uniqueness constraint.
const pgUniqueViolation = "23505"

// ledgerColumns is the canonical select list, kept in one place so every
// read scans rows identically.
const ledgerColumns = `id, process_date, status, events_count, error_message, created_at, updated_at`

// LedgerRepository provides data access for the run_ledger table: one row
// per business date ever attempted, uniquely keyed by process_date. The
// uniqueness constraint is the lock; Insert surfacing a duplicate-key
// violation as ErrCodeConflictDateClaimed is the mechanism the lock
// coordinator is built on, not a bug path.
type LedgerRepository struct {
	db DBTX
}

// NewLedgerRepository creates a LedgerRepository backed by the given
// database connection (pool or transaction).
func NewLedgerRepository(db DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// FindByDate returns the record for a process date, or (nil, nil) when no
// record exists. Absence is not an error.
func (r *LedgerRepository) FindByDate(ctx context.Context, date time.Time) (*types.RunRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+ledgerColumns+`
		 FROM run_ledger
		 WHERE process_date = $1`,
		types.NormalizeDate(date),
	)

	rec, err := scanRunRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to look up run record", err)
	}
	return rec, nil
}

// Insert creates a new ledger row. It relies on Postgres performing the
// uniqueness check and the insert as one atomic operation; a duplicate
// process_date surfaces as ErrCodeConflictDateClaimed. The generated ID is
// written back into rec.
func (r *LedgerRepository) Insert(ctx context.Context, rec *types.RunRecord) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO run_ledger (process_date, status, events_count, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 RETURNING id`,
		types.NormalizeDate(rec.ProcessDate),
		string(rec.Status),
		rec.EventsCount,
		rec.ErrorMessage,
		rec.CreatedAt,
	).Scan(&rec.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return types.NewAppError(types.ErrCodeConflictDateClaimed,
				fmt.Sprintf("run record for %s already exists", rec.ProcessDate.Format(types.ProcessDateLayout)), err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert run record", err)
	}
	return nil
}

// UpdateStatus overwrites the mutable fields of a record and bumps
// updated_at. Returns ErrCodeNotFoundRun when the record no longer exists;
// callers treat that as a recoverable anomaly, not a fatal fault.
func (r *LedgerRepository) UpdateStatus(ctx context.Context, id int64, status types.RunStatus, eventsCount int, errorMessage *string, now time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE run_ledger
		 SET status = $2, events_count = $3, error_message = $4, updated_at = $5
		 WHERE id = $1`,
		id,
		string(status),
		eventsCount,
		errorMessage,
		now,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update run record", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundRun,
			fmt.Sprintf("run record %d not found", id), nil)
	}
	return nil
}

// ScanStuck returns all records in the given status created before the
// cutoff, oldest first. This backs the cleanup sweep; the (status) and
// (process_date, status) indexes keep it cheap.
func (r *LedgerRepository) ScanStuck(ctx context.Context, status types.RunStatus, createdBefore time.Time) ([]types.RunRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+ledgerColumns+`
		 FROM run_ledger
		 WHERE status = $1 AND created_at < $2
		 ORDER BY created_at ASC`,
		string(status),
		createdBefore,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan stuck run records", err)
	}
	defer rows.Close()

	return collectRunRecords(rows)
}

// Delete removes a record so its date can be reclaimed. This is an
// administrative override, not part of the coordination protocol.
func (r *LedgerRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM run_ledger WHERE id = $1`, id)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete run record", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundRun,
			fmt.Sprintf("run record %d not found", id), nil)
	}
	return nil
}

// ListRecent returns up to limit records matching the filter, newest
// process date first. Used by the admin surface.
func (r *LedgerRepository) ListRecent(ctx context.Context, filter types.RunFilter, limit int) ([]types.RunRecord, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != nil {
		args = append(args, string(*filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, types.NormalizeDate(*filter.From))
		conds = append(conds, fmt.Sprintf("process_date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, types.NormalizeDate(*filter.To))
		conds = append(conds, fmt.Sprintf("process_date <= $%d", len(args)))
	}

	query := `SELECT ` + ledgerColumns + ` FROM run_ledger`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY process_date DESC LIMIT $%d`, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list run records", err)
	}
	defer rows.Close()

	return collectRunRecords(rows)
}

// Migrate creates the run_ledger table and its indexes if they do not
// already exist. The UNIQUE constraint on process_date is the foundation
// of the whole locking scheme and must never be relaxed.
func (r *LedgerRepository) Migrate(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS run_ledger (
		id            BIGSERIAL PRIMARY KEY,
		process_date  DATE NOT NULL UNIQUE,
		status        VARCHAR(20) NOT NULL,
		events_count  INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_run_ledger_status ON run_ledger (status);
	CREATE INDEX IF NOT EXISTS idx_run_ledger_date_status ON run_ledger (process_date, status);`

	if _, err := r.db.Exec(ctx, ddl); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to migrate run_ledger schema", err)
	}
	return nil
}

// scanRunRecord scans one ledger row from a pgx.Row or pgx.Rows.
func scanRunRecord(row pgx.Row) (*types.RunRecord, error) {
	var (
		rec    types.RunRecord
		status string
	)
	if err := row.Scan(
		&rec.ID,
		&rec.ProcessDate,
		&status,
		&rec.EventsCount,
		&rec.ErrorMessage,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	); err != nil {
		return nil, err
	}
	rec.Status = types.RunStatus(status)
	return &rec, nil
}

// collectRunRecords drains rows into a slice, surfacing scan and iteration
// errors as database AppErrors.
func collectRunRecords(rows pgx.Rows) ([]types.RunRecord, error) {
	var records []types.RunRecord
	for rows.Next() {
		rec, err := scanRunRecord(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan run record row", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating run record rows", err)
	}
	return records, nil
}
