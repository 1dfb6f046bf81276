package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
device_sources:
  local:
    provider: router.db
    priority: 10
    root: /etc/notch/routerdb
options:
  port: 8800
  credentials: /etc/notch/credentials.yaml
timers:
  session_maint_period: 30
`

func writeTemp(t *testing.T, name, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("writing temp config: %v", err)
	}
	return path
}

func TestLoadParsesSections(t *testing.T) {
	path := writeTemp(t, "notch.yaml", sampleYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	src, ok := cfg.DeviceSources["local"]
	if !ok {
		t.Fatalf("expected device_sources[local] to be present")
	}
	if src.Provider != "router.db" || src.Priority != 10 {
		t.Errorf("unexpected source: %+v", src)
	}
	if cfg.Options.Port != 8800 {
		t.Errorf("Options.Port = %d, want 8800", cfg.Options.Port)
	}
	if got, want := cfg.SessionMaintPeriod().Seconds(), 30.0; got != want {
		t.Errorf("SessionMaintPeriod() = %v, want %v", got, want)
	}
}

func TestSessionMaintPeriodDefault(t *testing.T) {
	var c Config
	if got, want := c.SessionMaintPeriod().Seconds(), DefaultSessionMaintPeriod; got != want {
		t.Errorf("SessionMaintPeriod() = %v, want default %v", got, want)
	}
}

func TestLoadMissingDeviceSources(t *testing.T) {
	path := writeTemp(t, "notch.yaml", "options:\n  port: 1\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for config without device_sources")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
