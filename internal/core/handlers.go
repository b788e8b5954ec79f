package core

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"auditledger/internal/types"
)

// defaultListLimit caps unbounded listings; maxListLimit caps explicit ones.
const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// handleListRuns returns recent ledger records, newest process date first.
// Query parameters: status, from, to (YYYY-MM-DD), limit.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	var filter types.RunFilter

	if raw := r.URL.Query().Get("status"); raw != "" {
		status := types.RunStatus(raw)
		if !status.Valid() {
			Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidStatus,
				fmt.Sprintf("unknown status %q", raw), nil))
			return
		}
		filter.Status = &status
	}

	if from, ok := parseDateParam(w, r, "from"); !ok {
		return
	} else if from != nil {
		filter.From = from
	}
	if to, ok := parseDateParam(w, r, "to"); !ok {
		return
	} else if to != nil {
		filter.To = to
	}

	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxListLimit {
			Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidLimit,
				fmt.Sprintf("limit must be an integer in [1, %d]", maxListLimit), err))
			return
		}
		limit = n
	}

	records, err := s.Ledger.ListRecent(r.Context(), filter, limit)
	if err != nil {
		Error(w, r, err)
		return
	}
	if records == nil {
		records = []types.RunRecord{}
	}
	JSON(w, r, http.StatusOK, records)
}

// handleGetRun returns the record for one process date.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDatePath(w, r)
	if !ok {
		return
	}

	rec, err := s.Ledger.FindByDate(r.Context(), date)
	if err != nil {
		Error(w, r, err)
		return
	}
	if rec == nil {
		Error(w, r, types.NewAppError(types.ErrCodeNotFoundRun,
			fmt.Sprintf("no run record for %s", date.Format(types.ProcessDateLayout)), nil))
		return
	}
	JSON(w, r, http.StatusOK, rec)
}

// handleDeleteRun removes the record for a process date, freeing the date
// for a future claim attempt. This is the administrative force-unlock.
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	date, ok := parseDatePath(w, r)
	if !ok {
		return
	}

	rec, err := s.Ledger.FindByDate(r.Context(), date)
	if err != nil {
		Error(w, r, err)
		return
	}
	if rec == nil {
		Error(w, r, types.NewAppError(types.ErrCodeNotFoundRun,
			fmt.Sprintf("no run record for %s", date.Format(types.ProcessDateLayout)), nil))
		return
	}

	if err := s.Ledger.Delete(r.Context(), rec.ID); err != nil {
		Error(w, r, err)
		return
	}

	s.Logger.InfoContext(r.Context(), "run record deleted",
		"process_date", date.Format(types.ProcessDateLayout),
		"record_id", rec.ID,
		"status", string(rec.Status),
	)
	JSON(w, r, http.StatusOK, map[string]string{
		"deleted": date.Format(types.ProcessDateLayout),
	})
}

// parseDatePath extracts and validates the {date} path parameter. On
// failure it writes the error response and returns ok=false.
func parseDatePath(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := chi.URLParam(r, "date")
	date, err := time.Parse(types.ProcessDateLayout, raw)
	if err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidDate,
			fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", raw), err))
		return time.Time{}, false
	}
	return date, true
}

// parseDateParam parses an optional YYYY-MM-DD query parameter. Returns
// (nil, true) when absent; writes the error response and returns ok=false
// when malformed.
func parseDateParam(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	date, err := time.Parse(types.ProcessDateLayout, raw)
	if err != nil {
		Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidDate,
			fmt.Sprintf("invalid %s date %q, expected YYYY-MM-DD", name, raw), err))
		return nil, false
	}
	return &date, true
}
