// Package target models one remote-execution destination and loads the set of
// targets for an invocation from a YAML file.
package target

import (
	"fmt"
	"strings"

	"cihub/internal/platform"
)

// Target is immutable for the life of one invocation.
type Target struct {
	// ID uniquely identifies the target within an invocation. Defaults to Owner/Repo.
	ID       string
	Owner    string
	Repo     string
	Branch   string
	Workflow string
	Language string
	// Inputs are passed through to the workflow untouched. The engine only adds
	// the correlation id.
	Inputs map[string]string
}

// FullName returns OWNER/REPO.
func (t Target) FullName() string {
	return t.Owner + "/" + t.Repo
}

// WorkflowRef renders the workflow reference as it appears in reports.
func (t Target) WorkflowRef() string {
	return fmt.Sprintf("%s/.github/workflows/%s@%s", t.FullName(), t.Workflow, t.Branch)
}

// Locator returns the platform coordinates of the target's workflow.
func (t Target) Locator() platform.Workflow {
	return platform.Workflow{Owner: t.Owner, Repo: t.Repo, File: t.Workflow, Branch: t.Branch}
}

func (t Target) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("target id is empty")
	}
	if t.Owner == "" || t.Repo == "" {
		return fmt.Errorf("target %s: repo must be OWNER/REPO", t.ID)
	}
	if t.Branch == "" {
		return fmt.Errorf("target %s: branch is empty", t.ID)
	}
	if t.Workflow == "" {
		return fmt.Errorf("target %s: workflow is empty", t.ID)
	}
	if _, ok := t.Inputs[platform.CorrelationInput]; ok {
		return fmt.Errorf("target %s: input %q is reserved", t.ID, platform.CorrelationInput)
	}
	return nil
}

// CloneInputs returns a copy of the inputs map that callers may mutate.
func (t Target) CloneInputs() map[string]string {
	out := make(map[string]string, len(t.Inputs)+1)
	for k, v := range t.Inputs {
		out[k] = v
	}
	return out
}

// ValidateSet checks every target and rejects duplicate IDs.
func ValidateSet(targets []Target) error {
	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		if err := t.Validate(); err != nil {
			return err
		}
		if _, dup := seen[t.ID]; dup {
			return fmt.Errorf("duplicate target id %q (set a distinct id: for each entry)", t.ID)
		}
		seen[t.ID] = struct{}{}
	}
	return nil
}

// SplitFullName parses OWNER/REPO.
func SplitFullName(raw string) (owner, repo string, err error) {
	raw = strings.TrimSpace(raw)
	owner, repo, ok := strings.Cut(raw, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", fmt.Errorf("invalid repository %q: expected OWNER/REPO", raw)
	}
	return owner, repo, nil
}
