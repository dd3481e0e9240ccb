package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.BLE.TargetAddress != "23:06:17:02:84:37" {
		t.Errorf("BLE.TargetAddress = %q, want %q", cfg.BLE.TargetAddress, "23:06:17:02:84:37")
	}
	if cfg.BLE.SecurityLevel != 2 {
		t.Errorf("BLE.SecurityLevel = %d, want 2", cfg.BLE.SecurityLevel)
	}
	if cfg.BLE.ScanLimit != 10000 {
		t.Errorf("BLE.ScanLimit = %d, want 10000", cfg.BLE.ScanLimit)
	}
	if cfg.BLE.ButtonIndex != 4 || cfg.BLE.AlertIndex != 3 {
		t.Errorf("BLE indices = (%d, %d), want (4, 3)", cfg.BLE.ButtonIndex, cfg.BLE.AlertIndex)
	}
	if cfg.BLE.StrictSubscribe {
		t.Error("BLE.StrictSubscribe should default to false")
	}
	if cfg.BLE.ReconnectAttempts != 3 || cfg.BLE.ReconnectMax != 30 {
		t.Errorf("BLE reconnect = (%d, %d), want (3, 30)", cfg.BLE.ReconnectAttempts, cfg.BLE.ReconnectMax)
	}
	if cfg.Loop.PollTimeout != 100*time.Millisecond {
		t.Errorf("Loop.PollTimeout = %v, want 100ms", cfg.Loop.PollTimeout)
	}
	if cfg.Store.ReadLimit != 20 {
		t.Errorf("Store.ReadLimit = %d, want 20", cfg.Store.ReadLimit)
	}
	if cfg.Uplink.Enabled() {
		t.Error("uplink should be disabled by default")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
ble:
  target_address: "a4:c1:38:0b:5e:ed"
  security_level: 1
  scan_limit: 50
  scan_timeout: 3s
  settle_delay: 500ms
  strict_subscribe: true
  button_index: 7
  alert_index: 2
loop:
  poll_timeout: 250ms
  idle_sleep: 0s
store:
  path: /tmp/readings.db
  read_limit: 5
collector:
  name_filter: TP358
  window: 30s
uplink:
  broker: tcp://localhost:1883
  client_id: gw-1
  topic_prefix: home/sensors
  qos: 1
metrics:
  addr: ":9108"
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Target().String() != "A4:C1:38:0B:5E:ED" {
		t.Errorf("Target() = %s, want A4:C1:38:0B:5E:ED", cfg.Target())
	}
	if cfg.BLE.ScanLimit != 50 {
		t.Errorf("BLE.ScanLimit = %d, want 50", cfg.BLE.ScanLimit)
	}
	if cfg.BLE.ScanTimeout != 3*time.Second {
		t.Errorf("BLE.ScanTimeout = %v, want 3s", cfg.BLE.ScanTimeout)
	}
	if cfg.BLE.SettleDelay != 500*time.Millisecond {
		t.Errorf("BLE.SettleDelay = %v, want 500ms", cfg.BLE.SettleDelay)
	}
	if !cfg.BLE.StrictSubscribe {
		t.Error("BLE.StrictSubscribe = false, want true")
	}
	if cfg.BLE.ButtonIndex != 7 || cfg.BLE.AlertIndex != 2 {
		t.Errorf("BLE indices = (%d, %d), want (7, 2)", cfg.BLE.ButtonIndex, cfg.BLE.AlertIndex)
	}
	if cfg.Loop.PollTimeout != 250*time.Millisecond {
		t.Errorf("Loop.PollTimeout = %v, want 250ms", cfg.Loop.PollTimeout)
	}
	if cfg.Store.Path != "/tmp/readings.db" {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, "/tmp/readings.db")
	}
	if cfg.Collector.NameFilter != "TP358" || cfg.Collector.Window != 30*time.Second {
		t.Errorf("Collector = %+v", cfg.Collector)
	}
	if !cfg.Uplink.Enabled() || cfg.Uplink.QoS != 1 || cfg.Uplink.TopicPrefix != "home/sensors" {
		t.Errorf("Uplink = %+v", cfg.Uplink)
	}
	// Unset fields keep their defaults.
	if cfg.Uplink.Timeout != 5*time.Second {
		t.Errorf("Uplink.Timeout = %v, want default 5s", cfg.Uplink.Timeout)
	}
	if cfg.Metrics.Addr != ":9108" {
		t.Errorf("Metrics.Addr = %q, want %q", cfg.Metrics.Addr, ":9108")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("cannot determine home directory")
	}

	yamlContent := `
store:
  path: ~/data/readings.db
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	expected := filepath.Join(home, "data/readings.db")
	if cfg.Store.Path != expected {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, expected)
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("ble: [unclosed"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should fail on malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid target address",
			modify:  func(c *Config) { c.BLE.TargetAddress = "not-a-mac" },
			wantErr: true,
		},
		{
			name:    "security level out of range",
			modify:  func(c *Config) { c.BLE.SecurityLevel = 9 },
			wantErr: true,
		},
		{
			name:    "zero scan limit",
			modify:  func(c *Config) { c.BLE.ScanLimit = 0 },
			wantErr: true,
		},
		{
			name:    "zero scan timeout",
			modify:  func(c *Config) { c.BLE.ScanTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "negative settle delay",
			modify:  func(c *Config) { c.BLE.SettleDelay = -time.Second },
			wantErr: true,
		},
		{
			name:    "same button and alert index",
			modify:  func(c *Config) { c.BLE.AlertIndex = c.BLE.ButtonIndex },
			wantErr: true,
		},
		{
			name:    "negative characteristic index",
			modify:  func(c *Config) { c.BLE.ButtonIndex = -1 },
			wantErr: true,
		},
		{
			name:    "negative reconnect attempts",
			modify:  func(c *Config) { c.BLE.ReconnectAttempts = -1 },
			wantErr: true,
		},
		{
			name:    "reconnects without max backoff",
			modify:  func(c *Config) { c.BLE.ReconnectMax = 0 },
			wantErr: true,
		},
		{
			name: "reconnects disabled ignores max backoff",
			modify: func(c *Config) {
				c.BLE.ReconnectAttempts = 0
				c.BLE.ReconnectMax = 0
			},
			wantErr: false,
		},
		{
			name:    "zero poll timeout",
			modify:  func(c *Config) { c.Loop.PollTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "empty store path",
			modify:  func(c *Config) { c.Store.Path = "" },
			wantErr: true,
		},
		{
			name:    "zero read limit",
			modify:  func(c *Config) { c.Store.ReadLimit = 0 },
			wantErr: true,
		},
		{
			name:    "zero collector window",
			modify:  func(c *Config) { c.Collector.Window = 0 },
			wantErr: true,
		},
		{
			name: "uplink qos out of range",
			modify: func(c *Config) {
				c.Uplink.Broker = "tcp://localhost:1883"
				c.Uplink.QoS = 3
			},
			wantErr: true,
		},
		{
			name: "uplink without topic prefix",
			modify: func(c *Config) {
				c.Uplink.Broker = "tcp://localhost:1883"
				c.Uplink.TopicPrefix = ""
			},
			wantErr: true,
		},
		{
			name: "negative breaker cooldown",
			modify: func(c *Config) {
				c.Uplink.Broker = "tcp://localhost:1883"
				c.Uplink.BreakerCooldown = -time.Second
			},
			wantErr: true,
		},
		{
			name: "negative button rate",
			modify: func(c *Config) {
				c.Uplink.Broker = "tcp://localhost:1883"
				c.Uplink.ButtonRate = -1
			},
			wantErr: true,
		},
		{
			name:    "disabled uplink ignores qos",
			modify:  func(c *Config) { c.Uplink.QoS = 7 },
			wantErr: false,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "blegateway", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}

	if !strings.HasPrefix(string(data), "# blegateway") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.BLE.ScanLimit != 10000 {
		t.Errorf("written config BLE.ScanLimit = %d, want 10000", cfg.BLE.ScanLimit)
	}
	if cfg.Loop.PollTimeout != 100*time.Millisecond {
		t.Errorf("written config Loop.PollTimeout = %v, want 100ms", cfg.Loop.PollTimeout)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "blegateway")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("log_level: debug\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	cfg, err := Resolve("")
	if err != nil {
		t.Fatalf("Resolve(\"\") error = %v", err)
	}
	if cfg.BLE.ScanLimit != Default().BLE.ScanLimit {
		t.Error("Resolve without a config file should return defaults")
	}

	if _, err := WriteDefault(); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	path := DefaultConfigPath()
	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	cfg, err = Resolve("")
	if err != nil {
		t.Fatalf("Resolve(\"\") error = %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Resolve picked LogLevel = %q, want debug from default path", cfg.LogLevel)
	}

	if _, err := Resolve(filepath.Join(tmpHome, "missing.yaml")); err == nil {
		t.Error("Resolve(explicit missing path) should fail")
	}
}
