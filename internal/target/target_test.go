package target

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTargets = `
defaults:
  workflow: hub-ci.yml
  branch: main
  inputs:
    run_tests: true
    coverage_min: 70
targets:
  - repo: acme/payments
    language: java
    inputs:
      coverage_min: 80
  - repo: acme/search
    branch: develop
    language: python
  - id: acme/payments@release
    repo: acme/payments
    branch: release/1.x
    workflow: ${HUB_WORKFLOW}
`

func TestParse_AppliesDefaultsAndOverrides(t *testing.T) {
	t.Setenv("HUB_WORKFLOW", "release-ci.yml")

	targets, err := Parse([]byte(sampleTargets))
	require.NoError(t, err)
	require.Len(t, targets, 3)

	pay := targets[0]
	assert.Equal(t, "acme/payments", pay.ID)
	assert.Equal(t, "main", pay.Branch)
	assert.Equal(t, "hub-ci.yml", pay.Workflow)
	assert.Equal(t, "java", pay.Language)
	assert.Equal(t, map[string]string{"run_tests": "true", "coverage_min": "80"}, pay.Inputs)

	search := targets[1]
	assert.Equal(t, "develop", search.Branch)
	assert.Equal(t, "70", search.Inputs["coverage_min"])

	rel := targets[2]
	assert.Equal(t, "acme/payments@release", rel.ID)
	assert.Equal(t, "release-ci.yml", rel.Workflow)
	assert.Equal(t, "acme/payments/.github/workflows/release-ci.yml@release/1.x", rel.WorkflowRef())
}

func TestParse_RejectsDuplicateIDs(t *testing.T) {
	_, err := Parse([]byte(`
defaults: {workflow: ci.yml}
targets:
  - repo: acme/a
  - repo: acme/a
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate target id")
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte(`targets: []`))
	assert.ErrorContains(t, err, "no targets")

	_, err = Parse([]byte("targets:\n  - repo: not-a-repo\n    workflow: ci.yml\n"))
	assert.ErrorContains(t, err, "OWNER/REPO")

	_, err = Parse([]byte("targets:\n  - repo: acme/x\n"))
	assert.ErrorContains(t, err, "workflow is empty")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "targets.yaml")
	require.NoError(t, os.WriteFile(p, []byte("targets:\n  - repo: acme/x\n    workflow: ci.yml\n"), 0o644))

	targets, err := LoadFile(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/x"}, IDs(targets))

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestFilter(t *testing.T) {
	targets := []Target{
		{ID: "acme/payments-service", Owner: "acme", Repo: "payments-service"},
		{ID: "acme/search", Owner: "acme", Repo: "search"},
		{ID: "other/billing-service", Owner: "other", Repo: "billing-service"},
	}

	got := Filter(targets, []string{"*-service"}, nil)
	assert.Equal(t, []string{"acme/payments-service", "other/billing-service"}, IDs(got))

	got = Filter(targets, []string{"acme/*"}, []string{"search"})
	assert.Equal(t, []string{"acme/payments-service"}, IDs(got))

	got = Filter(targets, nil, nil)
	assert.Len(t, got, 3)
}

func TestCloneInputsIsIndependent(t *testing.T) {
	tgt := Target{Inputs: map[string]string{"a": "1"}}
	in := tgt.CloneInputs()
	in["b"] = "2"
	assert.NotContains(t, tgt.Inputs, "b")
}

func TestValidate_ReservedInputAndLocator(t *testing.T) {
	tg := Target{ID: "acme/api", Owner: "acme", Repo: "api", Branch: "main", Workflow: "ci.yml",
		Inputs: map[string]string{"correlation_id": "forged"}}
	err := tg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved")

	tg.Inputs = nil
	require.NoError(t, tg.Validate())
	wf := tg.Locator()
	assert.Equal(t, "acme/api", wf.FullName())
	assert.Equal(t, "ci.yml", wf.File)
	assert.Equal(t, "main", wf.Branch)
}
