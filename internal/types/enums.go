package types

// RunStatus represents the lifecycle state of a daily processing run.
type RunStatus string

const (
	// StatusProcessing marks a claimed, in-flight run. A PROCESSING row is
	// the lock: its presence blocks every other worker from claiming the
	// same process date.
	StatusProcessing RunStatus = "PROCESSING"
	// StatusSuccess marks a run whose fetch completed normally.
	StatusSuccess RunStatus = "SUCCESS"
	// StatusFailed marks a run the provider rejected (auth, rate limit,
	// provider 5xx). The provider diagnostic is stored alongside.
	StatusFailed RunStatus = "FAILED"
	// StatusError marks a run that died to an unexpected fault, or a claim
	// reclaimed by the cleanup sweep.
	StatusError RunStatus = "ERROR"
)

// IsTerminal reports whether the status permits no further automatic
// transition. A date holding a terminal record stays occupied until an
// administrative delete frees it.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusError:
		return true
	}
	return false
}

// Valid reports whether s is one of the four known statuses.
func (s RunStatus) Valid() bool {
	return s == StatusProcessing || s.IsTerminal()
}
