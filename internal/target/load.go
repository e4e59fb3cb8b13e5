package target

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// File is the on-disk shape of a targets file.
//
//	defaults:
//	  workflow: hub-ci.yml
//	  branch: main
//	  inputs:
//	    run_tests: true
//	targets:
//	  - repo: acme/payments
//	    language: java
//	    inputs:
//	      coverage_min: 80
type File struct {
	Defaults Entry   `yaml:"defaults"`
	Targets  []Entry `yaml:"targets"`
}

// Entry is one targets[] item. Input values may be any YAML scalar; they are
// stringified because workflow_dispatch inputs are strings on the wire.
type Entry struct {
	ID       string         `yaml:"id"`
	Repo     string         `yaml:"repo"`
	Branch   string         `yaml:"branch"`
	Workflow string         `yaml:"workflow"`
	Language string         `yaml:"language"`
	Inputs   map[string]any `yaml:"inputs"`
}

// LoadFile reads a targets file, expanding ${VAR} references from the environment.
func LoadFile(path string) ([]Target, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read targets file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a targets document and applies defaults.
func Parse(raw []byte) ([]Target, error) {
	var f File
	if err := yaml.Unmarshal(ExpandEnv(raw), &f); err != nil {
		return nil, fmt.Errorf("parse targets file: %w", err)
	}
	if len(f.Targets) == 0 {
		return nil, fmt.Errorf("targets file declares no targets")
	}

	out := make([]Target, 0, len(f.Targets))
	for i, e := range f.Targets {
		t, err := f.resolve(e)
		if err != nil {
			return nil, fmt.Errorf("targets[%d]: %w", i, err)
		}
		out = append(out, t)
	}
	if err := ValidateSet(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ExpandEnv replaces ${VAR} references with environment values. Bare $VAR
// is left alone so shell snippets in inputs survive.
func ExpandEnv(raw []byte) []byte {
	return envVarPattern.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envVarPattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func (f File) resolve(e Entry) (Target, error) {
	owner, repo, err := SplitFullName(e.Repo)
	if err != nil {
		return Target{}, err
	}

	t := Target{
		ID:       strings.TrimSpace(e.ID),
		Owner:    owner,
		Repo:     repo,
		Branch:   firstNonEmpty(e.Branch, f.Defaults.Branch, "main"),
		Workflow: firstNonEmpty(e.Workflow, f.Defaults.Workflow),
		Language: firstNonEmpty(e.Language, f.Defaults.Language),
		Inputs:   make(map[string]string),
	}
	if t.ID == "" {
		t.ID = t.FullName()
	}

	for k, v := range f.Defaults.Inputs {
		t.Inputs[k] = stringify(v)
	}
	for k, v := range e.Inputs {
		t.Inputs[k] = stringify(v)
	}
	return t, nil
}

func stringify(v any) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case string:
		return tv
	case bool:
		if tv {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprint(tv)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// IDs returns the sorted target IDs.
func IDs(targets []Target) []string {
	out := make([]string, 0, len(targets))
	for _, t := range targets {
		out = append(out, t.ID)
	}
	sort.Strings(out)
	return out
}
