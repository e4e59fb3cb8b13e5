package platformtest

import (
	"archive/zip"
	"bytes"
	"encoding/json"
)

// DefaultArtifactName and DefaultReportFile follow the hub workflow's upload convention.
const (
	DefaultArtifactName = "ci-report"
	DefaultReportFile   = "report.json"
)

// Payload is the report document a hub workflow uploads.
type Payload struct {
	SchemaVersion string         `json:"schema_version"`
	CorrelationID string         `json:"correlation_id"`
	Metrics       map[string]any `json:"metrics,omitempty"`
}

// ReportZip returns a zip bundle holding report.json with the given payload.
func ReportZip(p Payload) []byte {
	raw, err := json.Marshal(p)
	if err != nil {
		panic(err)
	}
	return Zip(map[string][]byte{DefaultReportFile: raw})
}

// Zip builds an in-memory zip archive from name -> contents.
func Zip(files map[string][]byte) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		if err != nil {
			panic(err)
		}
		if _, err := w.Write(data); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}
