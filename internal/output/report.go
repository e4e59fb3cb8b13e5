package output

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"

	"cihub/internal/engine"
)

// ReportSink renders the AggregateReport as Markdown on Close. With
// appendMode the file is appended to, which is how $GITHUB_STEP_SUMMARY
// expects to be written.
type ReportSink struct {
	path   string
	file   *os.File
	mu     sync.Mutex
	report *engine.AggregateReport
}

func NewReportSink(path string, appendMode bool) (*ReportSink, error) {
	if path == "" {
		return nil, fmt.Errorf("report path required")
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if appendMode {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create report file: %w", err)
	}
	return &ReportSink{path: path, file: f}, nil
}

func (s *ReportSink) Write(v any) error {
	if rep, ok := v.(*engine.AggregateReport); ok {
		s.mu.Lock()
		s.report = rep
		s.mu.Unlock()
	}
	return nil
}

func (s *ReportSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.report != nil {
		_, err = s.file.WriteString(RenderMarkdown(s.report))
	}
	if closeErr := s.file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

// RenderMarkdown renders the report header, the gate verdict, one table row
// per entry and the gate failures.
func RenderMarkdown(rep *engine.AggregateReport) string {
	var b strings.Builder

	verdict := "✅ passed"
	if !rep.Gate.Passed {
		verdict = "❌ failed"
	}
	b.WriteString("# CI Hub Report\n\n")
	fmt.Fprintf(&b, "**Gate:** %s  \n", verdict)
	fmt.Fprintf(&b, "**Invocation:** `%s` (attempt %d", rep.InvocationID, rep.Attempt)
	if rep.Trigger != "" {
		fmt.Fprintf(&b, ", %s", rep.Trigger)
	}
	b.WriteString(")  \n")
	fmt.Fprintf(&b, "**Targets:** %d resolved of %d  \n", rep.ResolvedTargets, rep.TotalTargets)
	if rep.CoverageAverage != nil {
		fmt.Fprintf(&b, "**Coverage (avg):** %s  \n", formatMetric(rep.CoverageAverage))
	}
	if rep.MutationAverage != nil {
		fmt.Fprintf(&b, "**Mutation score (avg):** %s  \n", formatMetric(rep.MutationAverage))
	}
	b.WriteString("\n")

	if len(rep.Entries) == 0 {
		b.WriteString("No targets.\n")
	} else {
		b.WriteString("| Target | Branch | Run | Status | Conclusion | Coverage | Mutation | Outcome |\n")
		b.WriteString("| --- | --- | ---: | --- | --- | ---: | ---: | --- |\n")
		for _, e := range rep.Entries {
			run := "-"
			if e.RunID != nil {
				run = fmt.Sprintf("%d", *e.RunID)
			}
			outcome := string(e.Outcome)
			if e.SchemaWarning {
				outcome += " ⚠️ schema"
			}
			if e.Excluded {
				outcome += " (excluded)"
			}
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s | %s |\n",
				e.TargetID, e.Branch, run, orDash(e.Status), orDash(e.Conclusion),
				formatMetric(e.Coverage), formatMetric(e.MutationScore), outcome)
		}
		b.WriteString("\n")
	}

	if len(rep.Gate.Failures) > 0 {
		b.WriteString("## Gate failures\n\n")
		errs := make(map[string]string, len(rep.Entries))
		for _, e := range rep.Entries {
			errs[e.TargetID] = e.Error
		}
		for _, f := range rep.Gate.Failures {
			fmt.Fprintf(&b, "- **%s**: %s", f.TargetID, f.Reason)
			if msg := errs[f.TargetID]; msg != "" {
				fmt.Fprintf(&b, " - %s", strings.ReplaceAll(msg, "\n", " "))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatMetric(v *float64) string {
	if v == nil {
		return "-"
	}
	return humanize.FtoaWithDigits(*v, 2) + "%"
}
