package types

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStatus_IsTerminal(t *testing.T) {
	assert.False(t, StatusProcessing.IsTerminal())
	assert.True(t, StatusSuccess.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusError.IsTerminal())
}

func TestRunStatus_Valid(t *testing.T) {
	for _, s := range []RunStatus{StatusProcessing, StatusSuccess, StatusFailed, StatusError} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, RunStatus("RUNNING").Valid())
	assert.False(t, RunStatus("").Valid())
}

func TestNormalizeDate(t *testing.T) {
	// Midday UTC truncates to midnight.
	in := time.Date(2026, 6, 1, 15, 30, 45, 123, time.UTC)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), NormalizeDate(in))

	// A zoned timestamp normalizes to its UTC calendar date, which can be
	// the previous day.
	zone := time.FixedZone("UTC+9", 9*3600)
	in = time.Date(2026, 6, 1, 3, 0, 0, 0, zone) // 2026-05-31T18:00Z
	assert.Equal(t, time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC), NormalizeDate(in))
}

func TestYesterday(t *testing.T) {
	now := time.Date(2026, 6, 2, 0, 30, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), Yesterday(now))

	// Month boundary.
	now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC), Yesterday(now))

	// Year boundary.
	now = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), Yesterday(now))
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrCodeValidationInvalidDate:   http.StatusBadRequest,
		ErrCodeValidationInvalidStatus: http.StatusBadRequest,
		ErrCodeValidationInvalidLimit:  http.StatusBadRequest,
		ErrCodeNotFoundRun:             http.StatusNotFound,
		ErrCodeConflictDateClaimed:     http.StatusConflict,
		ErrCodeUpstreamRateLimited:     http.StatusTooManyRequests,
		ErrCodeUpstreamUnavailable:     http.StatusBadGateway,
		ErrCodeInternalDB:              http.StatusInternalServerError,
		ErrCodeInternalUnexpected:      http.StatusInternalServerError,
		ErrorCode("something_new"):     http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, code.HTTPStatus(), string(code))
	}
}

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := NewAppError(ErrCodeInternalDB, "failed to insert run record", inner)

	assert.Equal(t, "internal_database_error: failed to insert run record", err.Error())
	assert.Equal(t, inner, errors.Unwrap(err))
}

func TestIsCode(t *testing.T) {
	err := NewAppError(ErrCodeConflictDateClaimed, "run record for 2026-06-01 already exists", nil)
	assert.True(t, IsCode(err, ErrCodeConflictDateClaimed))
	assert.False(t, IsCode(err, ErrCodeNotFoundRun))

	// Wrapped AppErrors are still recognized.
	wrapped := fmt.Errorf("acquiring claim: %w", err)
	assert.True(t, IsCode(wrapped, ErrCodeConflictDateClaimed))

	assert.False(t, IsCode(errors.New("plain"), ErrCodeConflictDateClaimed))
	assert.False(t, IsCode(nil, ErrCodeConflictDateClaimed))
}

func TestSecretString_Redaction(t *testing.T) {
	secret := SecretString("super-secret-token")

	assert.Equal(t, "***REDACTED***", secret.String())
	assert.Equal(t, "***REDACTED***", fmt.Sprintf("%v", secret))
	assert.Equal(t, "super-secret-token", secret.Unmask())

	out, err := json.Marshal(struct {
		Token SecretString `json:"token"`
	}{Token: secret})
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"***REDACTED***"}`, string(out))
}

func TestRequestIDContext(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-123")
	assert.Equal(t, "req-123", GetRequestID(ctx))
	assert.Empty(t, GetRequestID(context.Background()))
}
