package artifact

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/mod/semver"
)

//go:embed report.schema.json
var reportSchemaJSON string

const reportSchemaURL = "https://cihub.local/schemas/report.schema.json"

var (
	reportSchemaOnce sync.Once
	reportSchema     *jsonschema.Schema
	reportSchemaErr  error
)

// Report is the envelope a hub workflow uploads. Only the version and the
// correlation id are interpreted; metrics are carried through.
type Report struct {
	SchemaVersion string
	CorrelationID string
	Metrics       map[string]any
}

// Number returns metrics[key] when it holds a JSON number.
func (r *Report) Number(key string) (float64, bool) {
	if r == nil {
		return 0, false
	}
	switch v := r.Metrics[key].(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}

func (r *Report) Coverage() *float64      { return r.ptr("coverage") }
func (r *Report) MutationScore() *float64 { return r.ptr("mutation_score") }

func (r *Report) ptr(key string) *float64 {
	if v, ok := r.Number(key); ok {
		return &v
	}
	return nil
}

func compiledReportSchema() (*jsonschema.Schema, error) {
	reportSchemaOnce.Do(func() {
		var doc any
		if err := json.Unmarshal([]byte(reportSchemaJSON), &doc); err != nil {
			reportSchemaErr = fmt.Errorf("parse report schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(reportSchemaURL, doc); err != nil {
			reportSchemaErr = fmt.Errorf("add report schema resource: %w", err)
			return
		}
		reportSchema, reportSchemaErr = compiler.Compile(reportSchemaURL)
	})
	return reportSchema, reportSchemaErr
}

// DecodeReport validates raw against the envelope schema and decodes it.
func DecodeReport(raw []byte) (*Report, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode report: %w", ErrArtifactParse, err)
	}
	schema, err := compiledReportSchema()
	if err != nil {
		return nil, err
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: invalid report: %w", ErrArtifactParse, err)
	}

	obj := doc.(map[string]any)
	rep := &Report{SchemaVersion: obj["schema_version"].(string)}
	// correlation_id wins when a producer writes both keys.
	for _, key := range []string{"correlation_id", "embedded_correlation_id"} {
		if s, ok := obj[key].(string); ok && s != "" {
			rep.CorrelationID = s
			break
		}
	}
	if m, ok := obj["metrics"].(map[string]any); ok {
		rep.Metrics = m
	} else {
		rep.Metrics = map[string]any{}
	}
	return rep, nil
}

// SchemaMajor returns the semver major ("v2") of a schema_version such as
// "2", "2.1" or "v2.1.0", or "" when it is not a version.
func SchemaMajor(version string) string {
	v := strings.TrimSpace(version)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return ""
	}
	return semver.Major(v)
}

func majorString(n int) string { return "v" + strconv.Itoa(n) }
