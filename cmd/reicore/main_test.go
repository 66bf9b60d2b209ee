package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lmcdonald6/ATT-FIN-Real-Estate-AI-BOT/internal/history"
)

func captureOutputWithExitCode(t *testing.T, run func() int) (int, string, string) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stdout failed: %v", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe stderr failed: %v", err)
	}

	os.Stdout = stdoutW
	os.Stderr = stderrW

	code := run()

	_ = stdoutW.Close()
	_ = stderrW.Close()
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdoutBytes, _ := io.ReadAll(stdoutR)
	stderrBytes, _ := io.ReadAll(stderrR)

	_ = stdoutR.Close()
	_ = stderrR.Close()

	return code, string(stdoutBytes), string(stderrBytes)
}

// writeTestConfig lays out a config dir with one plugin manifest and returns
// the config directory path.
func writeTestConfig(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	pluginsDir := filepath.Join(dir, "plugins", "zillow")
	if err := os.MkdirAll(pluginsDir, 0o755); err != nil {
		t.Fatalf("mkdir plugins: %v", err)
	}

	manifest := `name: zillow_data_source
version: 1.0.0
driver: zillow
capabilities:
  - name: zillow.listings
    kind: data_source
`
	if err := os.WriteFile(filepath.Join(pluginsDir, "manifest.yaml"), []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	cfg := `service:
  name: reicore-test
  log_level: error
plugins_dir: ` + filepath.Join(dir, "plugins") + `
history:
  path: ` + filepath.Join(dir, "data", "history.db") + `
plugins:
  zillow_data_source:
    enabled: true
`
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	return dir
}

func TestRunCLIUnknownCommand(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"bogus"})
	})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr, "Unknown command: bogus") {
		t.Errorf("stderr missing unknown-command message: %q", stderr)
	}
}

func TestRunCLINoArgs(t *testing.T) {
	code, _, _ := captureOutputWithExitCode(t, func() int {
		return runCLI(nil)
	})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
}

func TestVersionJSON(t *testing.T) {
	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"version", "--json"})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}

	var info versionInfo
	if err := json.Unmarshal([]byte(stdout), &info); err != nil {
		t.Fatalf("version output is not JSON: %v\n%s", err, stdout)
	}
	if info.Version == "" {
		t.Error("version field is empty")
	}
}

func TestConfigCheckValid(t *testing.T) {
	dir := writeTestConfig(t)

	code, stdout, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", dir})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d (stderr: %s)", code, stderr)
	}
	if !strings.Contains(stdout, "OK:") {
		t.Errorf("expected OK line, got: %q", stdout)
	}
	if !strings.Contains(stdout, "plugins discovered: 1") {
		t.Errorf("expected one discovered plugin, got: %q", stdout)
	}
}

func TestConfigCheckMissing(t *testing.T) {
	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"config", "check", "--config", filepath.Join(t.TempDir(), "nope.yaml")})
	})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr, "FAIL") {
		t.Errorf("expected FAIL on stderr, got: %q", stderr)
	}
}

func TestPluginList(t *testing.T) {
	dir := writeTestConfig(t)

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"plugin", "list", "--config", dir})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(stdout, "zillow_data_source") {
		t.Errorf("plugin missing from listing: %q", stdout)
	}
	if !strings.Contains(stdout, "yes") {
		t.Errorf("enabled flag not shown: %q", stdout)
	}
}

func TestTaskInspect(t *testing.T) {
	dir := writeTestConfig(t)

	ctx := context.Background()
	hist, err := history.Open(ctx, filepath.Join(dir, "data", "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	now := time.Now().UTC()
	done := now.Add(time.Second)
	err = hist.RecordFinal(ctx, history.TaskRecord{
		ID:          "task-abc",
		Capability:  "zillow.listings",
		Priority:    2,
		State:       "succeeded",
		Attempts:    1,
		CreatedAt:   now,
		CompletedAt: &done,
	})
	if err != nil {
		t.Fatalf("record final: %v", err)
	}
	hist.Close()

	code, stdout, _ := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"task", "inspect", "task-abc", "--config", dir})
	})
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	var out struct {
		Task *history.TaskRecord `json:"task"`
	}
	if err := json.Unmarshal([]byte(stdout), &out); err != nil {
		t.Fatalf("inspect output is not JSON: %v\n%s", err, stdout)
	}
	if out.Task == nil || out.Task.Capability != "zillow.listings" {
		t.Errorf("unexpected task record: %+v", out.Task)
	}
}

func TestTaskInspectNotFound(t *testing.T) {
	dir := writeTestConfig(t)

	code, _, stderr := captureOutputWithExitCode(t, func() int {
		return runCLI([]string{"task", "inspect", "missing-id", "--config", dir})
	})
	if code != 1 {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if !strings.Contains(stderr, "Task not found") {
		t.Errorf("expected not-found message, got: %q", stderr)
	}
}
