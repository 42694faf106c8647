package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.SocketPath != DefaultSocketPath {
		t.Errorf("expected default socket path %s, got %s", DefaultSocketPath, cfg.SocketPath)
	}
	if cfg.SocketMode != 0o660 {
		t.Errorf("expected default socket mode 0660, got %o", cfg.SocketMode)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pandemic.yaml")

	contents := "socket_path: /tmp/custom.sock\nmax_connections: 50\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("failed to write fixture config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.SocketPath != "/tmp/custom.sock" {
		t.Errorf("expected overridden socket path, got %s", cfg.SocketPath)
	}
	if cfg.MaxConnections != 50 {
		t.Errorf("expected overridden max connections, got %d", cfg.MaxConnections)
	}
	// Unset fields keep their defaults.
	if cfg.SocketMode != 0o660 {
		t.Errorf("expected default socket mode to survive partial override, got %o", cfg.SocketMode)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Errorf("expected error for missing config file")
	}
}
