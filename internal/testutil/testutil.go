package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gencache/gencache/internal/auditlog"
	"github.com/gencache/gencache/internal/config"
	"github.com/gencache/gencache/internal/engine"
)

// NewTestEngine opens a cache engine rooted at a fresh temp directory.
// The engine is shut down automatically when the test completes.
func NewTestEngine(t *testing.T) *engine.Engine {
	t.Helper()
	eng, err := engine.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open test engine: %v", err)
	}
	t.Cleanup(eng.Shutdown)
	return eng
}

// NewTestAuditStore opens an audit log backed by a fresh temp directory.
// The store is closed automatically when the test completes.
func NewTestAuditStore(t *testing.T) *auditlog.Store {
	t.Helper()
	dir := t.TempDir()
	st, err := auditlog.Open(filepath.Join(dir, "audit.db"))
	if err != nil {
		t.Fatalf("failed to open test audit store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// NewTestConfig returns a minimal valid config for testing.
func NewTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Cache.DataDir = t.TempDir()
	return cfg
}

// TempDir creates a temporary directory for test data.
func TempDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

// WriteFile writes content to a file in the given directory.
func WriteFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}
	return path
}
