package engine

import "cihub/internal/platform"

// RunHandle is the pipeline's view of one remote run. Status only moves
// forward along queued/requested < waiting/pending < in_progress < terminal.
type RunHandle struct {
	RunID      *int64
	Status     string
	Conclusion string
}

func NewRunHandle(runID int64) RunHandle {
	return RunHandle{RunID: &runID}
}

// Advance applies an observed status. Regressions are ignored and reported
// as false; so is any change once the handle is terminal.
func (h *RunHandle) Advance(st platform.RunStatus) bool {
	if h.Status != "" && platform.IsTerminal(h.Status) {
		return false
	}
	if platform.Rank(st.Status) < platform.Rank(h.Status) {
		return false
	}
	h.Status = st.Status
	h.Conclusion = st.Conclusion
	return true
}

// Succeeded reports completed/success, the only state the gate accepts.
func (h RunHandle) Succeeded() bool {
	return h.Status == platform.StatusCompleted && h.Conclusion == platform.ConclusionSuccess
}
