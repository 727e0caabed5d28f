package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/taskmate-ai/taskmate/internal/defaults"
)

// clearUmask sets the process umask to 0 so file permission assertions are
// deterministic. It restores the original umask when the test completes.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

func TestRunInit_FreshDirectory(t *testing.T) {
	clearUmask(t)
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	cfgInfo, err := os.Stat(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("config.yaml not created: %v", err)
	}
	if got := cfgInfo.Mode().Perm(); got != 0o600 {
		t.Errorf("config.yaml permissions = %o, want 0600", got)
	}

	tasksInfo, err := os.Stat(filepath.Join(dir, "data", "tasks.json"))
	if err != nil {
		t.Fatalf("data/tasks.json not created: %v", err)
	}
	if got := tasksInfo.Mode().Perm(); got != 0o644 {
		t.Errorf("tasks.json permissions = %o, want 0644", got)
	}

	data, err := os.ReadFile(filepath.Join(dir, "data", "tasks.json"))
	if err != nil {
		t.Fatal(err)
	}
	var seeded []map[string]any
	if err := json.Unmarshal(data, &seeded); err != nil {
		t.Fatalf("seed tasks are not a JSON array: %v", err)
	}
	if len(seeded) == 0 {
		t.Error("seed task list is empty")
	}

	out := buf.String()
	if strings.Count(out, "✓") != 2 {
		t.Errorf("expected two created marks, got output:\n%s", out)
	}
	if !strings.Contains(out, "taskmate serve") {
		t.Errorf("output missing next-step hint:\n%s", out)
	}
}

func TestRunInit_PreservesExistingFiles(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	custom := []byte("listen:\n  port: 9999\n")
	if err := os.WriteFile(cfgPath, custom, 0o600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	got, err := os.ReadFile(cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, custom) {
		t.Errorf("config.yaml was overwritten:\n%s", got)
	}
	if !strings.Contains(buf.String(), "- "+cfgPath) {
		t.Errorf("expected skip mark for config.yaml, got:\n%s", buf.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "data", "tasks.json")); err != nil {
		t.Errorf("tasks.json should still be created: %v", err)
	}
}

func TestRunInit_Idempotent(t *testing.T) {
	dir := t.TempDir()
	var first, second bytes.Buffer

	if err := runInit(&first, dir); err != nil {
		t.Fatalf("first runInit: %v", err)
	}
	if err := runInit(&second, dir); err != nil {
		t.Fatalf("second runInit: %v", err)
	}
	if strings.Contains(second.String(), "✓") {
		t.Errorf("second run should write nothing, got:\n%s", second.String())
	}

	got, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, defaults.ConfigYAML) {
		t.Error("config.yaml content differs from the embedded example")
	}
}

func TestWriteIfMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "file.txt")

	written, err := writeIfMissing(path, []byte("one"), 0o644)
	if err != nil || !written {
		t.Fatalf("first write = (%v, %v), want (true, nil)", written, err)
	}
	written, err = writeIfMissing(path, []byte("two"), 0o644)
	if err != nil || written {
		t.Fatalf("second write = (%v, %v), want (false, nil)", written, err)
	}
	got, _ := os.ReadFile(path)
	if string(got) != "one" {
		t.Errorf("content = %q, want %q", got, "one")
	}

	if _, err := writeIfMissing(filepath.Join(dir, "missing", "file.txt"), nil, 0o644); err == nil {
		t.Error("expected error writing into a missing directory")
	}
}
