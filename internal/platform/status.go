package platform

// Run statuses reported by the platform plus the synthetic ones the engine
// assigns locally.
const (
	StatusRequested  = "requested"
	StatusQueued     = "queued"
	StatusWaiting    = "waiting"
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"

	// Synthetic terminal states.
	StatusTimedOut     = "timed_out"
	StatusFetchFailed  = "fetch_failed"
	StatusMissingRunID = "missing_run_id"
)

const (
	ConclusionSuccess  = "success"
	ConclusionFailure  = "failure"
	ConclusionTimedOut = "timed_out"
)

// IsTerminal reports whether status will not change further. Every status
// that is not explicitly known to be in flight is terminal.
func IsTerminal(status string) bool {
	switch status {
	case StatusQueued, StatusInProgress, StatusWaiting, StatusPending, StatusRequested:
		return false
	default:
		return true
	}
}

// Rank orders statuses along the run state machine. Terminal states share the
// highest rank.
func Rank(status string) int {
	switch status {
	case "":
		return -1
	case StatusRequested, StatusQueued:
		return 0
	case StatusWaiting, StatusPending:
		return 1
	case StatusInProgress:
		return 2
	default:
		return 3
	}
}
