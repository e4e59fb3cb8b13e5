package cli

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func withoutEnv(keys ...string) []string {
	out := make([]string, 0, len(os.Environ()))
	for _, e := range os.Environ() {
		skip := false
		for _, key := range keys {
			if strings.HasPrefix(e, key+"=") {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, e)
		}
	}
	return out
}

func repoRoot(t *testing.T) string {
	t.Helper()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd failed: %v", err)
	}
	// internal/cli -> repo root
	return filepath.Clean(filepath.Join(wd, "..", ".."))
}

func goExe() string {
	if runtime.GOOS == "windows" {
		return "go.exe"
	}
	return "go"
}

func buildBinary(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("builds the binary")
	}

	outPath := filepath.Join(t.TempDir(), "cihub-test")
	if runtime.GOOS == "windows" {
		outPath += ".exe"
	}

	cmd := exec.Command(goExe(), "build", "-o", outPath, "./cmd/cihub")
	cmd.Dir = repoRoot(t)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to build cihub binary: %v; output=%s", err, string(out))
	}
	return outPath
}

func exitCode(t *testing.T, err error, out []byte) int {
	t.Helper()
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %T: %v; output=%s", err, err, string(out))
	}
	return exitErr.ProcessState.ExitCode()
}

func TestBinary_ExitCode3_WhenTargetsMissing(t *testing.T) {
	binary := buildBinary(t)
	cmd := exec.Command(binary, "run", "--verbose")

	out, err := cmd.CombinedOutput()
	if code := exitCode(t, err, out); code != 3 {
		t.Fatalf("expected exit code 3, got %d; output=%s", code, string(out))
	}
	if !strings.Contains(string(out), "--targets is required") {
		t.Fatalf("expected validation message; output=%s", string(out))
	}
}

func TestBinary_ExitCode3_WhenNoToken(t *testing.T) {
	binary := buildBinary(t)
	hub := writeHubFile(t, hubFile)

	cmd := exec.Command(binary, "dispatch", "--targets", hub, "--state-dir", t.TempDir())
	// Hide env tokens and make `gh` unreachable.
	cmd.Env = append(withoutEnv("GITHUB_TOKEN", "GH_TOKEN", "PATH"), "PATH="+t.TempDir())

	out, err := cmd.CombinedOutput()
	if code := exitCode(t, err, out); code != 3 {
		t.Fatalf("expected exit code 3, got %d; output=%s", code, string(out))
	}
	if !strings.Contains(string(out), "GitHub auth token is required") {
		t.Fatalf("expected auth message; output=%s", string(out))
	}
}
