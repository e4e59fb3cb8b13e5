package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"

	"cihub/internal/engine"
	"cihub/internal/platform"
)

// ConsoleSink renders progress for humans (text) or machines (json, ndjson).
//
// text prints one line per finished target and a gate summary. json prints
// the AggregateReport on Close. ndjson streams every Event.
type ConsoleSink struct {
	writer  io.Writer
	format  string
	mu      sync.Mutex
	report  *engine.AggregateReport
	allowed map[engine.OutcomeKind]bool
}

// NewConsoleSink builds a console sink. filterOutcomes limits which
// finished targets are printed in text mode (for example "timed_out").
func NewConsoleSink(w io.Writer, format string, filterOutcomes []string) *ConsoleSink {
	if w == nil {
		w = os.Stdout
	}
	if format == "" {
		format = "text"
	}
	s := &ConsoleSink{writer: w, format: format}
	if len(filterOutcomes) > 0 {
		s.allowed = make(map[engine.OutcomeKind]bool)
		for _, o := range filterOutcomes {
			s.allowed[engine.OutcomeKind(strings.ToLower(strings.TrimSpace(o)))] = true
		}
	}
	return s
}

func (s *ConsoleSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.format {
	case "json":
		if rep, ok := v.(*engine.AggregateReport); ok {
			s.report = rep
		}
		return nil
	case "ndjson":
		ev, ok := v.(engine.Event)
		if !ok {
			return nil
		}
		if err := json.NewEncoder(s.writer).Encode(ev); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	case "text":
		switch t := v.(type) {
		case engine.Event:
			if t.Type != engine.EventTargetFinished || t.Entry == nil {
				return nil
			}
			if s.allowed != nil && !s.allowed[t.Entry.Outcome] {
				return nil
			}
			if err := writeEntryLine(s.writer, *t.Entry); err != nil {
				return err
			}
		case *engine.AggregateReport:
			if err := writeSummary(s.writer, t); err != nil {
				return err
			}
		default:
			return nil
		}
		return flushIfPossible(s.writer)
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}

func (s *ConsoleSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.format {
	case "json":
		if s.report == nil {
			return nil
		}
		enc := json.NewEncoder(s.writer)
		enc.SetIndent("", "  ")
		if err := enc.Encode(s.report); err != nil {
			return err
		}
		return flushIfPossible(s.writer)
	case "text", "ndjson":
		return nil
	default:
		return fmt.Errorf("unsupported console format: %s", s.format)
	}
}

var (
	passLabel = color.New(color.FgGreen, color.Bold)
	failLabel = color.New(color.FgRed, color.Bold)
	warnLabel = color.New(color.FgYellow, color.Bold)
)

func entryLabel(e engine.Entry) (string, *color.Color) {
	switch {
	case e.ErrorCategory != "" || e.Excluded:
		return "ERROR", failLabel
	case succeeded(e) && e.SchemaWarning:
		return "WARN", warnLabel
	case succeeded(e):
		return "PASS", passLabel
	default:
		return "FAIL", failLabel
	}
}

func writeEntryLine(w io.Writer, e engine.Entry) error {
	label, c := entryLabel(e)
	if _, err := c.Fprintf(w, "[%s]", label); err != nil {
		return err
	}
	line := fmt.Sprintf(" %s: %s/%s (%s)", e.TargetID, orDash(e.Status), orDash(e.Conclusion), e.Outcome)
	if e.RunID != nil {
		line += fmt.Sprintf(" run %d", *e.RunID)
	}
	if e.Coverage != nil {
		line += fmt.Sprintf(" coverage %s", formatMetric(e.Coverage))
	}
	if e.Error != "" {
		line += " - " + e.Error
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

func writeSummary(w io.Writer, rep *engine.AggregateReport) error {
	c, verdict := passLabel, "PASSED"
	if !rep.Gate.Passed {
		c, verdict = failLabel, "FAILED"
	}
	if _, err := c.Fprintf(w, "gate %s", verdict); err != nil {
		return err
	}
	line := fmt.Sprintf(": %d/%d targets resolved", rep.ResolvedTargets, rep.TotalTargets)
	if rep.CoverageAverage != nil {
		line += ", coverage avg " + formatMetric(rep.CoverageAverage)
	}
	if rep.MutationAverage != nil {
		line += ", mutation avg " + formatMetric(rep.MutationAverage)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

func succeeded(e engine.Entry) bool {
	return e.Status == platform.StatusCompleted && e.Conclusion == platform.ConclusionSuccess
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
