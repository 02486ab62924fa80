package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dhruvshrma/persona-flow/internal/defaults"
)

// runInit writes the example config into dir as personaflow.yaml.
// Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	configPath := filepath.Join(dir, "personaflow.yaml")
	if _, err := os.Stat(configPath); err == nil {
		fmt.Fprintf(w, "%s already exists, leaving it alone\n", configPath)
		return nil
	}

	if err := os.WriteFile(configPath, defaults.ConfigYAML, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", configPath, err)
	}

	fmt.Fprintf(w, "Wrote %s\n", configPath)
	fmt.Fprintln(w, "Set llm.url to your generation service before running serve.")
	return nil
}
