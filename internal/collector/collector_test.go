package collector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auditledger/internal/types"
)

var testDay = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

// releaseCall records one Release invocation on the fake locker.
type releaseCall struct {
	date         time.Time
	final        types.RunStatus
	eventsCount  int
	errorMessage *string
}

// fakeLocker scripts the Locker protocol and records every call so tests
// can assert exactly one Release per path.
type fakeLocker struct {
	acquireOK  bool
	acquireErr error
	releaseErr error
	cleanupN   int
	cleanupErr error

	acquired []time.Time
	released []releaseCall
	cleanups int
}

func (f *fakeLocker) Acquire(_ context.Context, date time.Time) (bool, error) {
	f.acquired = append(f.acquired, date)
	return f.acquireOK, f.acquireErr
}

func (f *fakeLocker) Release(_ context.Context, date time.Time, final types.RunStatus, eventsCount int, errorMessage *string) error {
	f.released = append(f.released, releaseCall{date, final, eventsCount, errorMessage})
	return f.releaseErr
}

func (f *fakeLocker) CleanupStuck(_ context.Context, _ time.Duration) (int, error) {
	f.cleanups++
	return f.cleanupN, f.cleanupErr
}

// fakeReader serves a canned record for the idempotency check.
type fakeReader struct {
	rec *types.RunRecord
	err error
}

func (f *fakeReader) FindByDate(_ context.Context, _ time.Time) (*types.RunRecord, error) {
	return f.rec, f.err
}

// fakeFetcher returns a scripted FetchResult and records the requested day.
type fakeFetcher struct {
	result *types.FetchResult
	err    error
	days   []time.Time
}

func (f *fakeFetcher) FetchEvents(_ context.Context, day time.Time) (*types.FetchResult, error) {
	f.days = append(f.days, day)
	return f.result, f.err
}

func newCollector(reader *fakeReader, locker *fakeLocker, fetcher *fakeFetcher) *Collector {
	return &Collector{
		Ledger:         reader,
		Locks:          locker,
		Events:         fetcher,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		StuckThreshold: 24 * time.Hour,
		Now: func() time.Time {
			return time.Date(2026, 6, 2, 1, 0, 0, 0, time.UTC)
		},
	}
}

func successEvents(n int) *types.FetchResult {
	events := make([]types.AuditEvent, n)
	for i := range events {
		events[i] = types.AuditEvent{
			ID:        "evt",
			CreatedAt: "2026-06-01T10:00:00Z",
			Type:      "user",
			Action:    "login",
			Actor:     &types.EventActor{Email: "ops@example.com"},
		}
	}
	return &types.FetchResult{Events: events, Count: n}
}

func TestCollector_Run_Success(t *testing.T) {
	locker := &fakeLocker{acquireOK: true}
	fetcher := &fakeFetcher{result: successEvents(3)}
	c := newCollector(&fakeReader{}, locker, fetcher)

	outcome, err := c.Run(context.Background(), testDay)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)

	require.Len(t, locker.released, 1)
	rel := locker.released[0]
	assert.Equal(t, types.StatusSuccess, rel.final)
	assert.Equal(t, 3, rel.eventsCount)
	assert.Nil(t, rel.errorMessage)
	assert.Equal(t, testDay, rel.date)
	require.Len(t, fetcher.days, 1)
	assert.Equal(t, testDay, fetcher.days[0])
}

func TestCollector_Run_DefaultsToYesterdayUTC(t *testing.T) {
	locker := &fakeLocker{acquireOK: true}
	fetcher := &fakeFetcher{result: successEvents(0)}
	c := newCollector(&fakeReader{}, locker, fetcher)

	// Clock says 2026-06-02T01:00Z, so the zero target means 2026-06-01.
	outcome, err := c.Run(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	require.Len(t, fetcher.days, 1)
	assert.Equal(t, testDay, fetcher.days[0])
}

func TestCollector_Run_ZeroEventsIsSuccess(t *testing.T) {
	locker := &fakeLocker{acquireOK: true}
	c := newCollector(&fakeReader{}, locker, &fakeFetcher{result: successEvents(0)})

	outcome, err := c.Run(context.Background(), testDay)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	require.Len(t, locker.released, 1)
	assert.Equal(t, types.StatusSuccess, locker.released[0].final)
	assert.Equal(t, 0, locker.released[0].eventsCount)
}

func TestCollector_Run_AlreadyHandled(t *testing.T) {
	reader := &fakeReader{rec: &types.RunRecord{
		ProcessDate: testDay,
		Status:      types.StatusSuccess,
	}}
	locker := &fakeLocker{}
	fetcher := &fakeFetcher{}
	c := newCollector(reader, locker, fetcher)

	outcome, err := c.Run(context.Background(), testDay)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyHandled, outcome)

	// The short-circuit happens before claiming or fetching.
	assert.Empty(t, locker.acquired)
	assert.Empty(t, locker.released)
	assert.Empty(t, fetcher.days)
}

func TestCollector_Run_TerminalFailureAlsoShortCircuits(t *testing.T) {
	for _, status := range []types.RunStatus{types.StatusFailed, types.StatusError} {
		t.Run(string(status), func(t *testing.T) {
			reader := &fakeReader{rec: &types.RunRecord{ProcessDate: testDay, Status: status}}
			locker := &fakeLocker{}
			c := newCollector(reader, locker, &fakeFetcher{})

			outcome, err := c.Run(context.Background(), testDay)
			require.NoError(t, err)
			assert.Equal(t, OutcomeAlreadyHandled, outcome)
			assert.Empty(t, locker.acquired)
		})
	}
}

func TestCollector_Run_ProcessingRecordDoesNotShortCircuit(t *testing.T) {
	// A live PROCESSING row is not terminal; the claim attempt decides.
	reader := &fakeReader{rec: &types.RunRecord{ProcessDate: testDay, Status: types.StatusProcessing}}
	locker := &fakeLocker{acquireOK: false}
	c := newCollector(reader, locker, &fakeFetcher{})

	outcome, err := c.Run(context.Background(), testDay)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLockDenied, outcome)
	require.Len(t, locker.acquired, 1)
}

func TestCollector_Run_LockDenied(t *testing.T) {
	locker := &fakeLocker{acquireOK: false}
	fetcher := &fakeFetcher{}
	c := newCollector(&fakeReader{}, locker, fetcher)

	outcome, err := c.Run(context.Background(), testDay)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLockDenied, outcome)
	assert.Empty(t, fetcher.days)
	assert.Empty(t, locker.released)
}

func TestCollector_Run_ProviderFailure(t *testing.T) {
	locker := &fakeLocker{acquireOK: true}
	fetcher := &fakeFetcher{result: &types.FetchResult{
		Failure: &types.ProviderFailure{StatusCode: 401, Message: "unauthorized: Invalid credentials provided"},
	}}
	c := newCollector(&fakeReader{}, locker, fetcher)

	outcome, err := c.Run(context.Background(), testDay)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProviderFailed, outcome)

	require.Len(t, locker.released, 1)
	rel := locker.released[0]
	assert.Equal(t, types.StatusFailed, rel.final)
	assert.Equal(t, 0, rel.eventsCount)
	require.NotNil(t, rel.errorMessage)
	assert.Equal(t, "API request failed with status 401: unauthorized: Invalid credentials provided", *rel.errorMessage)
}

func TestCollector_Run_UnexpectedFetchError(t *testing.T) {
	locker := &fakeLocker{acquireOK: true}
	fetcher := &fakeFetcher{err: errors.New("malformed response body")}
	c := newCollector(&fakeReader{}, locker, fetcher)

	outcome, err := c.Run(context.Background(), testDay)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnexpectedError, outcome)

	require.Len(t, locker.released, 1)
	rel := locker.released[0]
	assert.Equal(t, types.StatusError, rel.final)
	require.NotNil(t, rel.errorMessage)
	assert.Contains(t, *rel.errorMessage, "unexpected error: malformed response body")
}

func TestCollector_Run_CleanupRunsBeforeClaim(t *testing.T) {
	locker := &fakeLocker{acquireOK: true, cleanupN: 2}
	c := newCollector(&fakeReader{}, locker, &fakeFetcher{result: successEvents(1)})

	outcome, err := c.Run(context.Background(), testDay)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
	assert.Equal(t, 1, locker.cleanups)
}

func TestCollector_Run_CleanupErrorIsFatal(t *testing.T) {
	locker := &fakeLocker{cleanupErr: errors.New("connection refused")}
	fetcher := &fakeFetcher{}
	c := newCollector(&fakeReader{}, locker, fetcher)

	outcome, err := c.Run(context.Background(), testDay)
	require.Error(t, err)
	assert.Equal(t, OutcomeUnexpectedError, outcome)
	assert.Empty(t, locker.acquired)
	assert.Empty(t, fetcher.days)
}

func TestCollector_Run_LedgerReadErrorIsFatal(t *testing.T) {
	reader := &fakeReader{err: types.NewAppError(types.ErrCodeInternalDB, "read failed", errors.New("connection refused"))}
	locker := &fakeLocker{}
	c := newCollector(reader, locker, &fakeFetcher{})

	outcome, err := c.Run(context.Background(), testDay)
	require.Error(t, err)
	assert.Equal(t, OutcomeUnexpectedError, outcome)
	assert.Empty(t, locker.acquired)
}

func TestCollector_Run_AcquireErrorIsFatal(t *testing.T) {
	locker := &fakeLocker{acquireErr: errors.New("connection refused")}
	fetcher := &fakeFetcher{}
	c := newCollector(&fakeReader{}, locker, fetcher)

	outcome, err := c.Run(context.Background(), testDay)
	require.Error(t, err)
	assert.Equal(t, OutcomeUnexpectedError, outcome)
	assert.Empty(t, fetcher.days)
}

func TestCollector_Run_ReleaseErrorPropagatesWithOutcome(t *testing.T) {
	locker := &fakeLocker{acquireOK: true, releaseErr: errors.New("connection refused")}
	c := newCollector(&fakeReader{}, locker, &fakeFetcher{result: successEvents(2)})

	outcome, err := c.Run(context.Background(), testDay)
	require.Error(t, err)
	assert.Equal(t, OutcomeSuccess, outcome, "the fetch succeeded even though the resolve write failed")
}

func TestCollector_Run_ExactlyOneReleasePerPath(t *testing.T) {
	cases := []struct {
		name    string
		fetcher *fakeFetcher
	}{
		{"success", &fakeFetcher{result: successEvents(1)}},
		{"provider failure", &fakeFetcher{result: &types.FetchResult{Failure: &types.ProviderFailure{StatusCode: 503, Message: "Service Unavailable"}}}},
		{"unexpected error", &fakeFetcher{err: errors.New("boom")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			locker := &fakeLocker{acquireOK: true}
			c := newCollector(&fakeReader{}, locker, tc.fetcher)

			_, err := c.Run(context.Background(), testDay)
			require.NoError(t, err)
			assert.Len(t, locker.released, 1)
		})
	}
}
