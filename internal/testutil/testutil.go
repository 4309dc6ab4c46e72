// Package testutil provides testing utilities for storyloop tests.
package testutil

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// RequireShell skips the test on platforms without /bin/sh.
func RequireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}
}

// WriteFile writes content to path, creating parent directories.
func WriteFile(t *testing.T, path, content string) string {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write file %s: %v", path, err)
	}
	return path
}

// WriteScript creates an executable /bin/sh script in dir and returns its
// path. Tests use scripts as stand-ins for LLM command-line tools.
func WriteScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	RequireShell(t)

	path := filepath.Join(dir, name)
	content := "#!/bin/sh\n" + strings.TrimLeft(body, "\n")
	if err := os.WriteFile(path, []byte(content), 0755); err != nil {
		t.Fatalf("failed to write script %s: %v", name, err)
	}
	return path
}

// ReadFile returns the content of path, failing the test on error.
func ReadFile(t *testing.T, path string) string {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

// SprintStatusYAML is a small sprint-status file with two epics:
// epic 1 has stories 1.1 and 1.2, epic 2 has stories 2.1 through 2.3.
const SprintStatusYAML = `# generated: 2026-01-10
project: shop
project_key: SHOP
tracking_system: file-system
story_location: docs/stories

development_status:
  # Epic 1: Catalog
  epic-1: in-progress
  1-1-list-products: done
  1-2-product-detail: review
  epic-1-retrospective: optional

  # Epic 2: Checkout
  epic-2: backlog
  2-1-cart: backlog
  2-2-payment: backlog
  2-3-receipt: backlog
  epic-2-retrospective: optional
`

// WriteSprintStatus writes SprintStatusYAML (or content, when non-empty) to
// dir/sprint-status.yaml and returns the path.
func WriteSprintStatus(t *testing.T, dir, content string) string {
	t.Helper()
	if content == "" {
		content = SprintStatusYAML
	}
	return WriteFile(t, filepath.Join(dir, "sprint-status.yaml"), content)
}
