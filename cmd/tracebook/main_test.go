package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "tracebook.yaml")
	content := "storage:\n  driver: sqlite\n  path: " + filepath.Join(dir, "cli.db") + "\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	if code := run([]string{"frobnicate"}); code != 2 {
		t.Fatalf("run(frobnicate)=%d, want 2", code)
	}
	if code := run(nil); code != 2 {
		t.Fatalf("run()=%d, want 2", code)
	}
}

func TestConfigValidateCommand(t *testing.T) {
	path := writeTestConfig(t)

	var out, errOut bytes.Buffer
	if code := runConfig([]string{"validate", "--config", path}, &out, &errOut); code != 0 {
		t.Fatalf("config validate exit=%d, stderr=%q", code, errOut.String())
	}
	if !strings.Contains(out.String(), "config ok") {
		t.Fatalf("stdout=%q", out.String())
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(bad, []byte("storage:\n  driver: oracle\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	out.Reset()
	errOut.Reset()
	if code := runConfig([]string{"validate", "--config", bad}, &out, &errOut); code != 1 {
		t.Fatalf("config validate exit=%d, want 1", code)
	}
	if !strings.Contains(errOut.String(), "storage.driver") {
		t.Fatalf("stderr=%q", errOut.String())
	}
}

func TestPricingSetAndGetRoundTrip(t *testing.T) {
	path := writeTestConfig(t)

	var out, errOut bytes.Buffer
	code := runPricing([]string{"set", "--config", path, "--input", "0.002", "--output", "0.004", "custom-model"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("pricing set exit=%d, stderr=%q", code, errOut.String())
	}

	out.Reset()
	errOut.Reset()
	code = runPricing([]string{"get", "--config", path, "custom-model"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("pricing get exit=%d, stderr=%q", code, errOut.String())
	}
	if !strings.Contains(out.String(), "custom-model") || !strings.Contains(out.String(), "0.002000") {
		t.Fatalf("stdout=%q", out.String())
	}

	if code := runPricing([]string{"set", "--config", path, "custom-model"}, &out, &errOut); code != 2 {
		t.Fatalf("pricing set without prices exit=%d, want 2", code)
	}
}

func TestPromptsRegisterAndListCommands(t *testing.T) {
	path := writeTestConfig(t)

	var out, errOut bytes.Buffer
	code := runPrompts([]string{"register", "--config", path, "--template", "Write an outline about {topic}", "outline"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("prompts register exit=%d, stderr=%q", code, errOut.String())
	}
	if !strings.Contains(out.String(), "outline v1") {
		t.Fatalf("stdout=%q", out.String())
	}

	// Re-registering identical text must not mint a new version.
	out.Reset()
	code = runPrompts([]string{"register", "--config", path, "--template", "Write an outline about {topic}  ", "outline"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("prompts register (repeat) exit=%d, stderr=%q", code, errOut.String())
	}
	if !strings.Contains(out.String(), "outline v1") {
		t.Fatalf("stdout=%q", out.String())
	}

	out.Reset()
	code = runPrompts([]string{"list", "--config", path, "outline"}, &out, &errOut)
	if code != 0 {
		t.Fatalf("prompts list exit=%d, stderr=%q", code, errOut.String())
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || !strings.Contains(lines[1], "v1") {
		t.Fatalf("stdout=%q", out.String())
	}
}

func TestTracesCommandListsEmptyStore(t *testing.T) {
	path := writeTestConfig(t)

	var out, errOut bytes.Buffer
	if code := runTraces([]string{"--config", path}, &out, &errOut); code != 0 {
		t.Fatalf("traces exit=%d, stderr=%q", code, errOut.String())
	}
	if !strings.Contains(out.String(), "CREATED") {
		t.Fatalf("stdout=%q", out.String())
	}
}

func TestShowCommandReportsMissingTrace(t *testing.T) {
	path := writeTestConfig(t)

	var out, errOut bytes.Buffer
	if code := runShow([]string{"--config", path, "no-such-trace"}, &out, &errOut); code != 1 {
		t.Fatalf("show exit=%d, want 1", code)
	}
	if !strings.Contains(errOut.String(), "not found") {
		t.Fatalf("stderr=%q", errOut.String())
	}
}
