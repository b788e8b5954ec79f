package types

import (
	"fmt"
	"time"
)

// ProcessDateLayout is the wire and storage format for process dates.
const ProcessDateLayout = "2006-01-02"

// RunRecord is one row of the run_ledger table: the durable outcome of a
// single day's audit-event fetch. Exactly zero or one record exists per
// process date, enforced by a uniqueness constraint in Postgres rather
// than by application logic.
type RunRecord struct {
	ID           int64     `json:"id"`
	ProcessDate  time.Time `json:"process_date"`
	Status       RunStatus `json:"status"`
	EventsCount  int       `json:"events_count"`
	ErrorMessage *string   `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// NormalizeDate truncates t to its UTC calendar date. All process dates
// flow through this so that ledger keys are stable regardless of the
// caller's clock or zone.
func NormalizeDate(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// Yesterday returns the UTC calendar date immediately before now. It is
// the default target for a scheduled invocation.
func Yesterday(now time.Time) time.Time {
	return NormalizeDate(now).AddDate(0, 0, -1)
}

// AuditEvent is a single entry from the provider's audit-event feed.
// Only the attributes the collector reports are decoded; the rest of the
// payload is retained in Raw for completeness.
type AuditEvent struct {
	ID        string      `json:"id"`
	CreatedAt string      `json:"created_at"`
	Type      string      `json:"type"`
	Action    string      `json:"action"`
	Actor     *EventActor `json:"actor,omitempty"`

	Raw map[string]any `json:"-"`
}

// EventActor identifies who performed an audited action.
type EventActor struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// ActorEmail returns the actor email, or "" when the event carries no actor.
func (e *AuditEvent) ActorEmail() string {
	if e.Actor == nil {
		return ""
	}
	return e.Actor.Email
}

// ProviderFailure is a structured provider-reported fetch failure: the
// provider said no (bad auth, rate limit, not found, provider 5xx) or the
// request never completed. It is data, not a Go error, so the orchestrator
// can distinguish FAILED (provider) from ERROR (unexpected) at the type
// level instead of through a catch-all.
type ProviderFailure struct {
	StatusCode int    `json:"status_code,omitempty"`
	ErrorID    string `json:"error_id,omitempty"`
	Message    string `json:"message"`
}

// Diagnostic renders the failure as the free-text stored in the ledger's
// error_message column.
func (f *ProviderFailure) Diagnostic() string {
	if f.StatusCode > 0 {
		return fmt.Sprintf("API request failed with status %d: %s", f.StatusCode, f.Message)
	}
	return fmt.Sprintf("request failed: %s", f.Message)
}

// FetchResult is the outcome of one audit-event fetch. Exactly one of
// Events/Failure is meaningful: a nil Failure means the events slice (and
// Count) carry the day's feed.
type FetchResult struct {
	Events  []AuditEvent
	Count   int
	Failure *ProviderFailure
}

// RunFilter narrows admin ledger listings. Nil fields are ignored.
type RunFilter struct {
	Status *RunStatus
	From   *time.Time
	To     *time.Time
}
