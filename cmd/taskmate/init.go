package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/taskmate-ai/taskmate/internal/defaults"
)

// runInit writes an example config and a seed task list into dir.
// Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing Taskmate workspace in %s\n", dir)

	dataDir := filepath.Join(dir, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dataDir, err)
	}

	// config.yaml may hold API keys.
	files := []struct {
		path    string
		content []byte
		perm    os.FileMode
	}{
		{filepath.Join(dir, "config.yaml"), defaults.ConfigYAML, 0o600},
		{filepath.Join(dataDir, "tasks.json"), defaults.TasksJSON, 0o644},
	}
	for _, f := range files {
		written, err := writeIfMissing(f.path, f.content, f.perm)
		if err != nil {
			return err
		}
		mark := "✓"
		if !written {
			mark = "-"
		}
		fmt.Fprintf(w, "  %s %s\n", mark, f.path)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Set OPENAI_API_KEY and edit config.yaml, then run: taskmate serve")
	return nil
}

// writeIfMissing writes content to path only if nothing exists there.
// It reports whether it wrote.
func writeIfMissing(path string, content []byte, perm os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
