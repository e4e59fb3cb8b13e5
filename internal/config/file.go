package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"cihub/internal/target"
)

// hubFile is the part of the hub file the config owns. The targets list in
// the same document is read by the target package.
//
//	timing:
//	  locator: {initial: 5s, factor: 2, max: 30s, deadline: 30m}
//	  poller:  {initial: 10s, factor: 1.5, max: 60s, deadline: 30m}
//	  grace_window: 2s
//	  list_limit: 10
//	  resolve_window: 20
//	artifact:
//	  name: ci-report
//	  schema_mode: strict
//	publish:
//	  endpoint: minio.internal:9000
//	  bucket: ci-reports
type hubFile struct {
	Timing   timingBlock   `yaml:"timing"`
	Artifact artifactBlock `yaml:"artifact"`
	Publish  publishBlock  `yaml:"publish"`
}

type policyBlock struct {
	Initial  *time.Duration `yaml:"initial"`
	Factor   *float64       `yaml:"factor"`
	Max      *time.Duration `yaml:"max"`
	Deadline *time.Duration `yaml:"deadline"`
}

type timingBlock struct {
	Locator       policyBlock    `yaml:"locator"`
	Poller        policyBlock    `yaml:"poller"`
	GraceWindow   *time.Duration `yaml:"grace_window"`
	ListLimit     *int           `yaml:"list_limit"`
	ResolveWindow *int           `yaml:"resolve_window"`
}

type artifactBlock struct {
	Name             *string        `yaml:"name"`
	ReportFile       *string        `yaml:"report_file"`
	SchemaMode       *string        `yaml:"schema_mode"`
	SchemaMajor      *int           `yaml:"schema_major"`
	DownloadAttempts *int           `yaml:"download_attempts"`
	DownloadBackoff  *time.Duration `yaml:"download_backoff"`
}

type publishBlock struct {
	Endpoint *string `yaml:"endpoint"`
	Bucket   *string `yaml:"bucket"`
	Prefix   *string `yaml:"prefix"`
	Region   *string `yaml:"region"`
	Insecure *bool   `yaml:"insecure"`
}

// ApplyFile overlays the timing, artifact and publish blocks of the hub file
// on c. Keys absent from the file keep their current value, so callers apply
// the file before flags.
func (c *Config) ApplyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read hub file: %w", err)
	}
	return c.ApplyYAML(raw)
}

func (c *Config) ApplyYAML(raw []byte) error {
	var f hubFile
	if err := yaml.Unmarshal(target.ExpandEnv(raw), &f); err != nil {
		return fmt.Errorf("parse hub file: %w", err)
	}

	f.Timing.Locator.apply(&c.Timing.Locator.Initial, &c.Timing.Locator.Factor, &c.Timing.Locator.Max, &c.Timing.Locator.Deadline)
	f.Timing.Poller.apply(&c.Timing.Poller.Initial, &c.Timing.Poller.Factor, &c.Timing.Poller.Max, &c.Timing.Poller.Deadline)
	set(&c.Timing.GraceWindow, f.Timing.GraceWindow)
	set(&c.Timing.ListLimit, f.Timing.ListLimit)
	set(&c.Timing.ResolveWindow, f.Timing.ResolveWindow)

	set(&c.Artifacts.Name, f.Artifact.Name)
	set(&c.Artifacts.ReportFile, f.Artifact.ReportFile)
	set(&c.Artifacts.SchemaMode, f.Artifact.SchemaMode)
	set(&c.Artifacts.ExpectedMajor, f.Artifact.SchemaMajor)
	set(&c.Artifacts.DownloadAttempts, f.Artifact.DownloadAttempts)
	set(&c.Artifacts.DownloadBackoff, f.Artifact.DownloadBackoff)

	set(&c.Publish.Endpoint, f.Publish.Endpoint)
	set(&c.Publish.Bucket, f.Publish.Bucket)
	set(&c.Publish.Prefix, f.Publish.Prefix)
	set(&c.Publish.Region, f.Publish.Region)
	set(&c.Publish.Insecure, f.Publish.Insecure)
	return nil
}

func (p policyBlock) apply(initial *time.Duration, factor *float64, max, deadline *time.Duration) {
	set(initial, p.Initial)
	set(factor, p.Factor)
	set(max, p.Max)
	set(deadline, p.Deadline)
}

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
