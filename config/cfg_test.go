package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rupor-github/gencfg"

	"lectern/common"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfiguration_NoFile(t *testing.T) {
	cfg, err := LoadConfiguration("")
	if err != nil {
		t.Fatalf("LoadConfiguration() with empty path error = %v", err)
	}
	if cfg == nil {
		t.Fatal("LoadConfiguration() returned nil config")
	}
	if cfg.Version != 1 {
		t.Errorf("Default config version = %d, want 1", cfg.Version)
	}
}

func TestConfig_DefaultValues(t *testing.T) {
	cfg, err := LoadConfiguration("")
	if err != nil {
		t.Fatalf("LoadConfiguration() error = %v", err)
	}
	e := cfg.Engine

	if e.Device != common.DeviceClassDesktop {
		t.Errorf("Device = %v, want desktop", e.Device)
	}
	checks := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"inflight_wait", e.Resolver.InflightWait, 5 * time.Second},
		{"merge_budget", e.Resolver.MergeBudget, 3 * time.Second},
		{"frame_interval", e.Viewport.FrameInterval, 16 * time.Millisecond},
		{"soft_check", e.Readiness.SoftCheck, 2 * time.Second},
		{"settle", e.Readiness.Settle, 150 * time.Millisecond},
		{"fatal_desktop", e.Readiness.FatalDesktop, 10 * time.Second},
		{"fatal_mobile", e.Readiness.FatalMobile, 15 * time.Second},
		{"debounce", e.Progress.Debounce, 300 * time.Millisecond},
		{"cooldown", e.Navigation.Cooldown, 200 * time.Millisecond},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}

	if g := e.Viewport.Gate(common.DeviceClassDesktop); g.MinWidth != 50 || g.Attempts != 50 {
		t.Errorf("desktop gate = %+v", g)
	}
	if g := e.Viewport.Gate(common.DeviceClassMobile); g.MinHeight != 100 || g.Attempts != 80 {
		t.Errorf("mobile gate = %+v", g)
	}
	if len(e.Themes) < 3 {
		t.Errorf("expected at least 3 themes, got %d", len(e.Themes))
	}
	if _, ok := e.Theme(e.DefaultTheme); !ok {
		t.Errorf("default theme %q is not configured", e.DefaultTheme)
	}
	if cfg.Storage.Path != ":memory:" {
		t.Errorf("Storage.Path = %q, want :memory:", cfg.Storage.Path)
	}
}

func TestLoadConfiguration_WithFile(t *testing.T) {
	path := writeConfig(t, `version: 1
engine:
  device: mobile
  cache:
    size: 4
  readiness:
    fatal_mobile: 20s
backend:
  url: https://merge.example.com
  token: secret-token
`)

	cfg, err := LoadConfiguration(path)
	if err != nil {
		t.Fatalf("LoadConfiguration() error = %v", err)
	}
	if cfg.Engine.Device != common.DeviceClassMobile {
		t.Errorf("Device = %v, want mobile", cfg.Engine.Device)
	}
	if cfg.Engine.Cache.Size != 4 {
		t.Errorf("Cache.Size = %d, want 4", cfg.Engine.Cache.Size)
	}
	if got := cfg.Engine.Readiness.FatalBudget(cfg.Engine.Device); got != 20*time.Second {
		t.Errorf("FatalBudget() = %v, want 20s", got)
	}
	// values absent in file come from template
	if cfg.Engine.Cache.FetchTimeout != 30*time.Second {
		t.Errorf("FetchTimeout = %v, want 30s", cfg.Engine.Cache.FetchTimeout)
	}
	if cfg.Backend.Token.Reveal() != "secret-token" {
		t.Error("Expected backend token to be loaded")
	}
}

func TestLoadConfiguration_NonExistentFile(t *testing.T) {
	if _, err := LoadConfiguration("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for nonexistent file")
	}
}

func TestLoadConfiguration_InvalidYAML(t *testing.T) {
	path := writeConfig(t, `version: 1
engine:
  device: desktop
  invalid indent
`)
	if _, err := LoadConfiguration(path); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestLoadConfiguration_UnknownFields(t *testing.T) {
	path := writeConfig(t, `version: 1
unknown_field: value
`)
	if _, err := LoadConfiguration(path); err == nil {
		t.Error("Expected error for unknown fields")
	}
}

func TestLoadConfiguration_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"invalid version", "version: 2\n"},
		{"unknown device", "version: 1\nengine:\n  device: watch\n"},
		{"zero cache", "version: 1\nengine:\n  cache:\n    size: 0\n"},
		{"unknown default theme", "version: 1\nengine:\n  default_theme: neon\n"},
		{"too few themes", `version: 1
engine:
  themes:
    - {name: light, background: "#fff", text: "#000", link: "#00f"}
`},
		{"duplicate themes", `version: 1
engine:
  themes:
    - {name: light, background: "#fff", text: "#000", link: "#00f"}
    - {name: light, background: "#eee", text: "#111", link: "#00f"}
    - {name: dark, background: "#000", text: "#fff", link: "#0ff"}
`},
		{"fatal budget below soft check", "version: 1\nengine:\n  readiness:\n    fatal_desktop: 1s\n"},
		{"bad backend url", "version: 1\nbackend:\n  url: not a url\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadConfiguration(writeConfig(t, tt.content)); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestLoadConfiguration_WithOptions(t *testing.T) {
	option := func(opts *gencfg.ProcessingOptions) {
		// Options are opaque, just test that we can pass them
	}
	cfg, err := LoadConfiguration("", option)
	if err != nil {
		t.Fatalf("LoadConfiguration() with options error = %v", err)
	}
	if cfg == nil {
		t.Fatal("LoadConfiguration() returned nil config")
	}
}

func TestPrepare(t *testing.T) {
	data, err := Prepare()
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if len(data) == 0 {
		t.Fatal("Prepare() returned empty data")
	}
	if _, err = unmarshalConfig(data, &Config{}, true); err != nil {
		t.Errorf("Prepared config is not valid: %v", err)
	}
}

func TestDump_HidesSecrets(t *testing.T) {
	cfg, err := LoadConfiguration("")
	if err != nil {
		t.Fatalf("LoadConfiguration() error = %v", err)
	}
	cfg.Backend.Token = "very-secret"

	data, err := Dump(cfg)
	if err != nil {
		t.Fatalf("Dump() error = %v", err)
	}
	if strings.Contains(string(data), "very-secret") {
		t.Error("Dump() leaked backend token")
	}
	if !strings.Contains(string(data), SecretStringValue) {
		t.Error("Dump() should contain masked token")
	}

	cfg2 := &Config{}
	if _, err = unmarshalConfig(data, cfg2, false); err != nil {
		t.Fatalf("Dumped config cannot be loaded: %v", err)
	}
	if cfg2.Engine.Readiness.Settle != cfg.Engine.Readiness.Settle {
		t.Errorf("Settle mismatch after dump/load: got %v, want %v", cfg2.Engine.Readiness.Settle, cfg.Engine.Readiness.Settle)
	}
	if cfg2.Engine.Device != cfg.Engine.Device {
		t.Errorf("Device mismatch after dump/load: got %v, want %v", cfg2.Engine.Device, cfg.Engine.Device)
	}
}
