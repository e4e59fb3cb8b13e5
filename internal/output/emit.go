package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"cihub/internal/engine"
)

// EmitSink writes machine-readable output next to the console.
//
// Formats:
//   - json: the AggregateReport, written once on Close
//   - ndjson: every Event as it happens, then the report as the last line
type EmitSink struct {
	writer io.Writer
	format string // "json" | "ndjson"
	mu     sync.Mutex
	report *engine.AggregateReport
}

func NewEmitSink(w io.Writer, format string) (*EmitSink, error) {
	if w == nil {
		return nil, fmt.Errorf("emit sink writer must not be nil")
	}
	if format != "json" && format != "ndjson" {
		return nil, fmt.Errorf("unsupported emit format: %s", format)
	}
	return &EmitSink{writer: w, format: format}, nil
}

func (s *EmitSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch t := v.(type) {
	case *engine.AggregateReport:
		s.report = t
		return nil
	case engine.Event:
		if s.format != "ndjson" {
			return nil
		}
		if err := json.NewEncoder(s.writer).Encode(t); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	default:
		return nil
	}
}

func (s *EmitSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.report == nil {
		return nil
	}
	enc := json.NewEncoder(s.writer)
	var err error
	if s.format == "json" {
		enc.SetIndent("", "  ")
		err = enc.Encode(s.report)
	} else {
		err = enc.Encode(reportLine{Type: "report", AggregateReport: s.report})
	}
	if err != nil {
		return err
	}
	return flushIfPossible(s.writer)
}

// reportLine tags the report when it shares an ndjson stream with events.
type reportLine struct {
	Type string `json:"type"`
	*engine.AggregateReport
}
