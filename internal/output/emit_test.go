package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"cihub/internal/engine"
)

func TestEmitSink_JSON(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewEmitSink(&buf, "json")
	if err != nil {
		t.Fatalf("NewEmitSink returned error: %v", err)
	}

	_ = s.Write(engine.Event{Type: engine.EventInvocationStarted})
	_ = s.Write(finished(passedEntry()))
	_ = s.Write(sampleReport())
	if err := s.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	var got engine.AggregateReport
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("failed to unmarshal json output: %v", err)
	}
	if got.TotalTargets != 2 || len(got.Gate.Failures) != 1 {
		t.Fatalf("unexpected report: %+v", got)
	}
}

func TestEmitSink_NDJSON(t *testing.T) {
	var buf bytes.Buffer
	s, err := NewEmitSink(&buf, "ndjson")
	if err != nil {
		t.Fatalf("NewEmitSink returned error: %v", err)
	}

	_ = s.Write(engine.Event{Type: engine.EventInvocationStarted, InvocationID: "inv-1", Targets: 2})
	_ = s.Write(finished(passedEntry()))
	_ = s.Write(sampleReport())
	if err := s.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 ndjson lines, got %d", len(lines))
	}
	var types []string
	for _, line := range lines {
		var e struct {
			Type  string        `json:"type"`
			Entry *engine.Entry `json:"entry"`
		}
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("invalid json line %q: %v", line, err)
		}
		types = append(types, e.Type)
		if e.Type == engine.EventTargetFinished && (e.Entry == nil || e.Entry.TargetID != "acme/api") {
			t.Fatalf("target.finished must carry its entry, got %q", line)
		}
	}
	want := []string{engine.EventInvocationStarted, engine.EventTargetFinished, "report"}
	if strings.Join(types, ",") != strings.Join(want, ",") {
		t.Fatalf("event types: want %v, got %v", want, types)
	}
	if !strings.Contains(lines[2], `"invocation_id":"inv-1"`) {
		t.Fatalf("report line must carry the report fields, got %q", lines[2])
	}
}

func TestEmitSink_CloseWithoutReportWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	s, _ := NewEmitSink(&buf, "json")
	if err := s.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("want no output, got %q", buf.String())
	}
}

func TestEmitSink_InvalidFormat(t *testing.T) {
	if _, err := NewEmitSink(&bytes.Buffer{}, "text"); err == nil {
		t.Fatalf("expected error, got nil")
	}
}

func TestEmitSink_NilWriter(t *testing.T) {
	if _, err := NewEmitSink(nil, "json"); err == nil {
		t.Fatalf("expected error, got nil")
	}
}
