package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cihub/internal/engine"
)

// FileSink persists output to --out. The format follows the extension
// unless given: .json holds the AggregateReport, .ndjson/.jsonl the event
// stream followed by the report.
type FileSink struct {
	path   string
	format string
	file   *os.File
	mu     sync.Mutex
	report *engine.AggregateReport
}

func NewFileSink(path string, format string) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("output path required")
	}

	if format == "" {
		ext := strings.ToLower(filepath.Ext(path))
		switch ext {
		case ".json":
			format = "json"
		case ".ndjson", ".jsonl":
			format = "ndjson"
		default:
			return nil, fmt.Errorf("cannot infer output format from file extension %q", ext)
		}
	}
	if format != "json" && format != "ndjson" {
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return &FileSink{path: path, format: format, file: f}, nil
}

func (s *FileSink) Write(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch t := v.(type) {
	case *engine.AggregateReport:
		s.report = t
	case engine.Event:
		if s.format == "ndjson" {
			return json.NewEncoder(s.file).Encode(t)
		}
	}
	return nil
}

func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.report != nil {
		enc := json.NewEncoder(s.file)
		if s.format == "json" {
			enc.SetIndent("", "  ")
			err = enc.Encode(s.report)
		} else {
			err = enc.Encode(reportLine{Type: "report", AggregateReport: s.report})
		}
	}
	if closeErr := s.file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
