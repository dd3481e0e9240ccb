package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chaz8081/blegateway/internal/reading"
)

// Config holds all application configuration.
type Config struct {
	BLE       BLEConfig       `yaml:"ble"`
	Loop      LoopConfig      `yaml:"loop"`
	Store     StoreConfig     `yaml:"store"`
	Collector CollectorConfig `yaml:"collector"`
	Uplink    UplinkConfig    `yaml:"uplink"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	LogLevel  string          `yaml:"log_level"`
}

// BLEConfig describes the peripheral the session manager looks for.
type BLEConfig struct {
	TargetAddress   string        `yaml:"target_address"`
	SecurityLevel   int           `yaml:"security_level"`
	ScanLimit       int           `yaml:"scan_limit"`   // highest node identifier probed after a scan
	ScanTimeout     time.Duration `yaml:"scan_timeout"` // how long the radio scans before probing
	SettleDelay     time.Duration `yaml:"settle_delay"` // pause between connect and discovery
	StrictSubscribe bool          `yaml:"strict_subscribe"`
	ButtonIndex     int           `yaml:"button_index"` // characteristic index carrying button notifications
	AlertIndex      int           `yaml:"alert_index"`  // characteristic index of the Immediate Alert level

	ReconnectAttempts int `yaml:"reconnect_attempts"` // session restarts after a lost link; 0 disables
	ReconnectMax      int `yaml:"reconnect_max"`      // max reconnect backoff in seconds
}

// LoopConfig tunes the cooperative notification loop.
type LoopConfig struct {
	PollTimeout time.Duration `yaml:"poll_timeout"`
	IdleSleep   time.Duration `yaml:"idle_sleep"`
}

// StoreConfig locates the aggregated readings database.
type StoreConfig struct {
	Path      string `yaml:"path"`
	ReadLimit int    `yaml:"read_limit"`
}

// CollectorConfig drives the TP357 advertisement collector.
type CollectorConfig struct {
	NameFilter string        `yaml:"name_filter"`
	Window     time.Duration `yaml:"window"`
}

// UplinkConfig holds MQTT settings. An empty broker disables the uplink.
type UplinkConfig struct {
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	TopicPrefix string        `yaml:"topic_prefix"`
	QoS         byte          `yaml:"qos"`
	Timeout     time.Duration `yaml:"timeout"`

	// Consecutive publish failures before the breaker opens, and how long
	// it stays open before probing the broker again.
	BreakerFailures uint32        `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`

	// Button events above this rate (per second) are dropped. 0 disables.
	ButtonRate  float64 `yaml:"button_rate"`
	ButtonBurst int     `yaml:"button_burst"`
}

// Enabled reports whether a broker is configured.
func (u UplinkConfig) Enabled() bool {
	return u.Broker != ""
}

// MetricsConfig holds the Prometheus listener address. Empty disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "blegateway")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	home, _ := os.UserHomeDir()
	storePath := filepath.Join(home, ".local", "share", "blegateway", "sensor_readings.db")

	return &Config{
		BLE: BLEConfig{
			TargetAddress: "23:06:17:02:84:37",
			SecurityLevel: 2,
			ScanLimit:     10000,
			ScanTimeout:   5 * time.Second,
			SettleDelay:   time.Second,
			ButtonIndex:   4,
			AlertIndex:    3,

			ReconnectAttempts: 3,
			ReconnectMax:      30,
		},
		Loop: LoopConfig{
			PollTimeout: 100 * time.Millisecond,
			IdleSleep:   10 * time.Millisecond,
		},
		Store: StoreConfig{
			Path:      storePath,
			ReadLimit: 20,
		},
		Collector: CollectorConfig{
			NameFilter: "TP357",
			Window:     time.Minute,
		},
		Uplink: UplinkConfig{
			ClientID:    "blegateway",
			TopicPrefix: "blegateway",
			Timeout:     5 * time.Second,

			BreakerFailures: 5,
			BreakerCooldown: 30 * time.Second,
			ButtonRate:      2,
			ButtonBurst:     4,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults. Tilde (~) in store.path is expanded to the user's home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.Store.Path = expandTilde(cfg.Store.Path)

	return cfg, nil
}

// Resolve loads the config at path. An empty path falls back to
// DefaultConfigPath when that file exists, and to Default otherwise.
func Resolve(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}

	defaultPath := DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		slog.Info("[CONFIG] loaded", "path", defaultPath)
		return cfg, nil
	}

	slog.Info("[CONFIG] no config file found, using defaults")
	return Default(), nil
}

const defaultHeader = `# blegateway configuration
# Generated with default values. Edit target_address to match your peripheral.
`

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there yet. It returns the written path, or "" when a config is
// already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), data...), 0644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if _, err := reading.ParseMAC(c.BLE.TargetAddress); err != nil {
		return fmt.Errorf("ble.target_address: %w", err)
	}

	if c.BLE.SecurityLevel < 0 || c.BLE.SecurityLevel > 4 {
		return fmt.Errorf("ble.security_level must be between 0 and 4, got %d", c.BLE.SecurityLevel)
	}

	if c.BLE.ScanLimit <= 0 {
		return fmt.Errorf("ble.scan_limit must be > 0")
	}

	if c.BLE.ScanTimeout <= 0 {
		return fmt.Errorf("ble.scan_timeout must be > 0")
	}

	if c.BLE.SettleDelay < 0 {
		return fmt.Errorf("ble.settle_delay must not be negative")
	}

	if c.BLE.ButtonIndex < 0 || c.BLE.AlertIndex < 0 {
		return fmt.Errorf("ble characteristic indices must not be negative")
	}

	if c.BLE.ButtonIndex == c.BLE.AlertIndex {
		return fmt.Errorf("ble.button_index and ble.alert_index must differ, both are %d", c.BLE.ButtonIndex)
	}

	if c.BLE.ReconnectAttempts < 0 {
		return fmt.Errorf("ble.reconnect_attempts must not be negative")
	}

	if c.BLE.ReconnectAttempts > 0 && c.BLE.ReconnectMax <= 0 {
		return fmt.Errorf("ble.reconnect_max must be > 0 when reconnects are enabled")
	}

	if c.Loop.PollTimeout <= 0 {
		return fmt.Errorf("loop.poll_timeout must be > 0")
	}

	if c.Loop.IdleSleep < 0 {
		return fmt.Errorf("loop.idle_sleep must not be negative")
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}

	if c.Store.ReadLimit <= 0 {
		return fmt.Errorf("store.read_limit must be > 0")
	}

	if c.Collector.Window <= 0 {
		return fmt.Errorf("collector.window must be > 0")
	}

	if c.Uplink.Enabled() {
		if c.Uplink.QoS > 2 {
			return fmt.Errorf("uplink.qos must be 0, 1 or 2, got %d", c.Uplink.QoS)
		}
		if c.Uplink.TopicPrefix == "" {
			return fmt.Errorf("uplink.topic_prefix must not be empty when a broker is set")
		}
		if c.Uplink.BreakerCooldown < 0 {
			return fmt.Errorf("uplink.breaker_cooldown must be >= 0")
		}
		if c.Uplink.ButtonRate < 0 {
			return fmt.Errorf("uplink.button_rate must be >= 0")
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// Target returns the parsed target address. Call Validate first.
func (c *Config) Target() reading.MAC {
	mac, _ := reading.ParseMAC(c.BLE.TargetAddress)
	return mac
}

// ParseLogLevel maps a log_level string to a slog level, defaulting to info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
