package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"proctord/internal/logging"
	"proctord/internal/proctor"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if cfg.Version != Version {
		t.Errorf("expected version %d, got %d", Version, cfg.Version)
	}
	if cfg.Monitor.HiddenThresholdMs != 5000 {
		t.Errorf("expected hidden threshold 5000ms, got %d", cfg.Monitor.HiddenThresholdMs)
	}
	if cfg.Monitor.BlurThresholdMs != 3000 {
		t.Errorf("expected blur threshold 3000ms, got %d", cfg.Monitor.BlurThresholdMs)
	}
	if cfg.Monitor.InactivityTimeoutSec != 120 {
		t.Errorf("expected inactivity 120s, got %d", cfg.Monitor.InactivityTimeoutSec)
	}
	if cfg.Monitor.AuditCapacity != 50 {
		t.Errorf("expected audit capacity 50, got %d", cfg.Monitor.AuditCapacity)
	}
	if !strings.HasSuffix(cfg.Store.Path, filepath.Join("proctord", "sessions.db")) {
		t.Errorf("unexpected store path %s", cfg.Store.Path)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestDefaultConfigMatchesMonitorDefaults(t *testing.T) {
	got := DefaultConfig().Proctor()
	want := proctor.DefaultConfig()

	if got.HiddenThreshold != want.HiddenThreshold ||
		got.BlurThreshold != want.BlurThreshold ||
		got.InactivityTimeout != want.InactivityTimeout ||
		got.DevToolsPollInterval != want.DevToolsPollInterval ||
		got.DevToolsThreshold != want.DevToolsThreshold ||
		got.FullscreenDelay != want.FullscreenDelay ||
		got.AutoFullscreen != want.AutoFullscreen ||
		got.AuditCapacity != want.AuditCapacity ||
		got.LivenessMin != want.LivenessMin ||
		got.LivenessMax != want.LivenessMax {
		t.Errorf("Proctor() = %+v, want %+v", got, want)
	}
	if len(got.BlockedKeys) != len(want.BlockedKeys) {
		t.Errorf("expected %d blocked keys, got %d", len(want.BlockedKeys), len(got.BlockedKeys))
	}
}

func TestConfigPath(t *testing.T) {
	path := ConfigPath()
	if !strings.HasSuffix(path, filepath.Join("proctord", "config.toml")) {
		t.Errorf("expected path ending with proctord/config.toml, got %s", path)
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Monitor.HiddenThresholdMs != 5000 {
		t.Errorf("expected defaults, got %+v", cfg.Monitor)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
version = 1

[monitor]
hidden_threshold_ms = 8000
inactivity_timeout_sec = 0
auto_fullscreen = false
silent_types = ["inactivity", "orientation_change"]

[keyboard]
use_defaults = false

[[keyboard.blocked]]
key = "F1"
description = "help"

[[keyboard.blocked]]
key = "k"
ctrl = true
shift = true

[store]
path = "/var/lib/proctord/history.db"

[server]
listen = "0.0.0.0:9000"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Monitor.HiddenThresholdMs != 8000 {
		t.Errorf("expected 8000, got %d", cfg.Monitor.HiddenThresholdMs)
	}
	if cfg.Monitor.BlurThresholdMs != 3000 {
		t.Errorf("unset field lost its default: %d", cfg.Monitor.BlurThresholdMs)
	}
	if cfg.Server.Listen != "0.0.0.0:9000" {
		t.Errorf("expected listen 0.0.0.0:9000, got %s", cfg.Server.Listen)
	}

	mon := cfg.Proctor()
	if mon.HiddenThreshold != 8*time.Second {
		t.Errorf("expected 8s, got %v", mon.HiddenThreshold)
	}
	if mon.InactivityTimeout != 0 {
		t.Errorf("expected inactivity disabled, got %v", mon.InactivityTimeout)
	}
	if mon.AutoFullscreen {
		t.Error("expected auto fullscreen off")
	}
	if !mon.IsSilent(proctor.ViolationOrientationChange) {
		t.Error("orientation_change should be silent")
	}
	if len(mon.BlockedKeys) != 2 {
		t.Fatalf("expected 2 blocked keys, got %d", len(mon.BlockedKeys))
	}
	if !mon.BlockedKeys[1].Matches(proctor.KeyPress{Key: "K", Ctrl: true, Shift: true}) {
		t.Errorf("custom combination not applied: %+v", mon.BlockedKeys[1])
	}
}

func TestLoadYAMLAndJSON(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "config.yaml")
	yamlContent := `
version: 1
monitor:
  blur_threshold_ms: 4500
logging:
  level: debug
  format: json
`
	if err := os.WriteFile(yamlPath, []byte(yamlContent), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(yamlPath)
	if err != nil {
		t.Fatalf("Load YAML failed: %v", err)
	}
	if cfg.Monitor.BlurThresholdMs != 4500 {
		t.Errorf("expected 4500, got %d", cfg.Monitor.BlurThresholdMs)
	}
	lc := cfg.LoggerConfig()
	if lc.Level != logging.LevelDebug || lc.Format != logging.FormatJSON {
		t.Errorf("logger config not applied: %+v", lc)
	}

	jsonPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(jsonPath, []byte(`{"version":1,"forward":{"batch_size":7}}`), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(jsonPath)
	if err != nil {
		t.Fatalf("Load JSON failed: %v", err)
	}
	if cfg.Forward.BatchSize != 7 {
		t.Errorf("expected batch size 7, got %d", cfg.Forward.BatchSize)
	}
}

func TestLoadInvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("this is not valid toml {{{"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid TOML")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	for _, name := range []string{"config.toml", "config.yaml", "config.json"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			cfg := DefaultConfig()
			cfg.Monitor.AuditCapacity = 75
			cfg.Keyboard.Blocked = []proctor.KeyCombo{{Key: "F2", Description: "rename"}}

			if err := SaveConfig(cfg, path); err != nil {
				t.Fatalf("SaveConfig: %v", err)
			}
			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if loaded.Monitor.AuditCapacity != 75 {
				t.Errorf("expected 75, got %d", loaded.Monitor.AuditCapacity)
			}
			if len(loaded.Keyboard.Blocked) != 1 || loaded.Keyboard.Blocked[0].Key != "F2" {
				t.Errorf("blocked keys lost: %+v", loaded.Keyboard.Blocked)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("PROCTORD_LISTEN", "127.0.0.1:9999")
	t.Setenv("PROCTORD_STORE_ENABLED", "false")
	t.Setenv("PROCTORD_LOG_LEVEL", "warn")
	t.Setenv("PROCTORD_AUTO_FULLSCREEN", "false")
	t.Setenv("PROCTORD_INACTIVITY_TIMEOUT_SEC", "300")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()
	if cfg.Server.Listen != "127.0.0.1:9999" {
		t.Errorf("listen = %s", cfg.Server.Listen)
	}
	if cfg.Store.Enabled {
		t.Error("store should be disabled")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("level = %s", cfg.Logging.Level)
	}
	if cfg.Monitor.AutoFullscreen {
		t.Error("auto fullscreen should be off")
	}
	if cfg.Monitor.InactivityTimeoutSec != 300 {
		t.Errorf("inactivity = %d", cfg.Monitor.InactivityTimeoutSec)
	}
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"bad version", func(c *Config) { c.Version = 99 }, "version"},
		{"zero hidden threshold", func(c *Config) { c.Monitor.HiddenThresholdMs = 0 }, "monitor.hidden_threshold_ms"},
		{"negative inactivity", func(c *Config) { c.Monitor.InactivityTimeoutSec = -1 }, "monitor.inactivity_timeout_sec"},
		{"inverted liveness", func(c *Config) { c.Monitor.LivenessMinSec = 90 }, "monitor.liveness_min_sec"},
		{"unknown silent type", func(c *Config) { c.Monitor.SilentTypes = []string{"copy_paste"} }, "monitor.silent_types"},
		{"empty blocked key", func(c *Config) { c.Keyboard.Blocked = []proctor.KeyCombo{{Ctrl: true}} }, "keyboard.blocked[0].key"},
		{"bad log level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"file output without path", func(c *Config) { c.Logging.Output = "file"; c.Logging.FilePath = "" }, "logging.file_path"},
		{"store without path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"bad listen", func(c *Config) { c.Server.Listen = "nope" }, "server.listen"},
		{"zero batch", func(c *Config) { c.Forward.BatchSize = 0 }, "forward.batch_size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) {
				t.Fatalf("expected ValidationErrors, got %T", err)
			}
			found := false
			for _, e := range verrs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %v", tt.field, err)
			}
		})
	}
}

func TestValidateStoreDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.Enabled = false
	cfg.Store.Path = ""
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled store needs no path: %v", err)
	}
}

func TestEnsureDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Store.Path = filepath.Join(dir, "data", "sessions.db")
	cfg.Logging.Output = "file"
	cfg.Logging.FilePath = filepath.Join(dir, "logs", "proctord.log")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, sub := range []string{"data", "logs"} {
		if info, err := os.Stat(filepath.Join(dir, sub)); err != nil || !info.IsDir() {
			t.Errorf("%s not created", sub)
		}
	}
}

func TestClone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Monitor.SilentTypes = []string{"inactivity"}
	clone := cfg.Clone()
	clone.Monitor.SilentTypes[0] = "keyboard"
	if cfg.Monitor.SilentTypes[0] != "inactivity" {
		t.Error("Clone shares SilentTypes")
	}
}
