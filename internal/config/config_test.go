package config

import (
	"os"
	"path/filepath"
	"testing"

	"log/slog"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	if cfg.ControlPort != 5800 {
		t.Fatalf("expected default control port 5800, got %d", cfg.ControlPort)
	}
	if cfg.LogLevel != "INFO" {
		t.Fatalf("expected default log level INFO, got %q", cfg.LogLevel)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IdentityPath != Default().IdentityPath {
		t.Fatalf("expected default identity path, got %q", cfg.IdentityPath)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tincan.yaml")
	body := "identity_path: /var/lib/tincan/id.key\ncontrol_port: 6800\nignored_interfaces:\n  - docker0\n  - virbr0\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IdentityPath != "/var/lib/tincan/id.key" {
		t.Fatalf("unexpected identity path: %q", cfg.IdentityPath)
	}
	if cfg.ControlPort != 6800 {
		t.Fatalf("unexpected control port: %d", cfg.ControlPort)
	}
	if len(cfg.IgnoredInterfaces) != 2 || cfg.IgnoredInterfaces[0] != "docker0" {
		t.Fatalf("unexpected ignored interfaces: %v", cfg.IgnoredInterfaces)
	}
	// Fields absent from the file keep their defaults.
	if cfg.TapName != Default().TapName {
		t.Fatalf("expected default tap name to survive a partial override, got %q", cfg.TapName)
	}
}

func TestSlogLevelMapsSetLoggingLevelVocabulary(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "VERBOSE"
	lvl, err := cfg.SlogLevel()
	if err != nil {
		t.Fatalf("SlogLevel: %v", err)
	}
	if lvl != slog.LevelDebug {
		t.Fatalf("expected LevelDebug for VERBOSE, got %v", lvl)
	}

	cfg.LogLevel = "not-a-level"
	if _, err := cfg.SlogLevel(); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
}
