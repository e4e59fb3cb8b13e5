package engine

// Event is a lifecycle record. Streaming sinks emit one per line:
//   - invocation.started
//   - target.dispatched
//   - target.located
//   - target.status
//   - target.finished (carries the entry)
//   - invocation.finished
type Event struct {
	Type          string `json:"type"`
	InvocationID  string `json:"invocation_id,omitempty"`
	Target        string `json:"target,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
	RunID         *int64 `json:"run_id,omitempty"`
	Status        string `json:"status,omitempty"`
	Conclusion    string `json:"conclusion,omitempty"`
	Entry         *Entry `json:"entry,omitempty"`
	Targets       int    `json:"targets,omitempty"`
	GatePassed    *bool  `json:"gate_passed,omitempty"`
	ExitCode      int    `json:"exit_code,omitempty"`
}

const (
	EventInvocationStarted  = "invocation.started"
	EventTargetDispatched   = "target.dispatched"
	EventTargetLocated      = "target.located"
	EventTargetStatus       = "target.status"
	EventTargetFinished     = "target.finished"
	EventInvocationFinished = "invocation.finished"
)

// Sink receives events, finished entries and the final report.
type Sink interface {
	Write(v any) error
}

type discardSink struct{}

func (discardSink) Write(any) error { return nil }
