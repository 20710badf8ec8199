package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Sensors.Port != 5000 {
		t.Errorf("expected default port 5000, got %d", cfg.Sensors.Port)
	}
	if cfg.Sensors.RequestTimeout() != 5*time.Second {
		t.Errorf("expected default timeout 5s, got %v", cfg.Sensors.RequestTimeout())
	}
	if cfg.Sensors.Endpoint != "/readings" {
		t.Errorf("expected endpoint /readings, got %q", cfg.Sensors.Endpoint)
	}
	if cfg.History.Limit != 144 {
		t.Errorf("expected history limit 144, got %d", cfg.History.Limit)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("defaults should validate, got %v", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() should fall back to defaults, got error: %v", err)
	}
	if cfg.History.Path != "data.json" {
		t.Errorf("expected default history path, got %q", cfg.History.Path)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
sensors:
  config_path: /etc/poller/sensors.json
  port: 8080
  timeout: 2
history:
  path: /var/lib/poller/data.json
  limit: 10
transformers:
  acme:
    script_code: "function transform(raw) { return {}; }"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Sensors.Port != 8080 || cfg.Sensors.Timeout != 2 {
		t.Errorf("unexpected sensors section: %+v", cfg.Sensors)
	}
	if cfg.Sensors.Endpoint != "/readings" {
		t.Errorf("unset keys should keep defaults, got endpoint %q", cfg.Sensors.Endpoint)
	}
	if cfg.History.Limit != 10 || cfg.History.Path != "/var/lib/poller/data.json" {
		t.Errorf("unexpected history section: %+v", cfg.History)
	}
	if _, ok := cfg.Transformers["acme"]; !ok {
		t.Errorf("expected acme transformer, got %v", cfg.Transformers)
	}
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("ESP32_PORT", "6001")
	t.Setenv("SENSOR_TIMEOUT", "9")
	t.Setenv("POLLER_HISTORY_PATH", "/tmp/other.json")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error: %v", err)
	}
	if cfg.Sensors.Port != 6001 {
		t.Errorf("expected ESP32_PORT override, got %d", cfg.Sensors.Port)
	}
	if cfg.Sensors.Timeout != 9 {
		t.Errorf("expected SENSOR_TIMEOUT override, got %d", cfg.Sensors.Timeout)
	}
	if cfg.History.Path != "/tmp/other.json" {
		t.Errorf("expected POLLER_HISTORY_PATH override, got %q", cfg.History.Path)
	}
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("sensors:\n  port: 0\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected validation error for port 0")
	}
}

func TestWatchWithoutFile(t *testing.T) {
	l := NewLoader("")
	if _, err := l.Load(); err != nil {
		t.Fatal(err)
	}
	if err := l.Watch(func(*Config) error { return nil }); err == nil {
		t.Error("expected error when watching without a file")
	}
}
