package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "lanchat"
	// DataDirEnv overrides the data directory when set.
	DataDirEnv = "LANCHAT_DATA_DIR"
	// DefaultListeningPort is the TCP message port used in fixed mode.
	DefaultListeningPort = 45678
	// DefaultDiscoveryPort is the UDP port announcements are sent to and received on.
	DefaultDiscoveryPort = 45677
	// DefaultBroadcastAddress is the limited broadcast address.
	DefaultBroadcastAddress = "255.255.255.255"
	// PortModeAutomatic picks an available port at launch.
	PortModeAutomatic = "automatic"
	// PortModeFixed uses the configured listening port value.
	PortModeFixed = "fixed"
	// MessageLogMemory keeps the message log in a Go slice.
	MessageLogMemory = "memory"
	// MessageLogSQLite keeps the message log in an in-memory SQLite database.
	MessageLogSQLite = "sqlite"
	// configFileName is the persisted configuration file.
	configFileName = "config.json"
)

const (
	DefaultBroadcastInterval = 3 * time.Second
	DefaultFreshnessWindow   = 30 * time.Second
	DefaultTextTimeout       = 5 * time.Second
	DefaultFileTimeout       = 30 * time.Second
	DefaultMaxEnvelopeBytes  = 128 * 1024 * 1024
	DefaultLogLevel          = "info"
)

// Duration is a time.Duration stored in JSON as a string such as "3s".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(raw []byte) error {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config contains persistent local node settings. The node ID is not stored:
// every run announces a fresh one.
type Config struct {
	// DeviceName is the advertised display name. Empty means the OS user name.
	DeviceName string `json:"device_name"`
	PortMode   string `json:"port_mode"`
	// ListeningPort is the TCP message port. Zero in automatic mode.
	ListeningPort    int    `json:"listening_port"`
	DiscoveryPort    int    `json:"discovery_port"`
	BroadcastAddress string `json:"broadcast_address"`

	BroadcastInterval Duration `json:"broadcast_interval"`
	FreshnessWindow   Duration `json:"freshness_window"`
	TextTimeout       Duration `json:"text_timeout"`
	FileTimeout       Duration `json:"file_timeout"`

	MaxEnvelopeBytes         int64 `json:"max_envelope_bytes"`
	MaxConcurrentConnections int64 `json:"max_concurrent_connections"`
	ConnectionRateLimitPerIP int   `json:"connection_rate_limit_per_ip"`

	MessageLog     string `json:"message_log"`
	EnableMDNS     bool   `json:"enable_mdns"`
	MetricsAddress string `json:"metrics_address"`
	LogLevel       string `json:"log_level"`
}

// ListenAddress returns the TCP bind address for the message port.
func (c *Config) ListenAddress() string {
	return fmt.Sprintf(":%d", c.ListeningPort)
}

// DiscoveryAddress returns the UDP bind address for announcements.
func (c *Config) DiscoveryAddress() string {
	return fmt.Sprintf(":%d", c.DiscoveryPort)
}

// BroadcastTarget returns the UDP destination for announcements.
func (c *Config) BroadcastTarget() string {
	return fmt.Sprintf("%s:%d", c.BroadcastAddress, c.DiscoveryPort)
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If LANCHAT_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to config.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectory creates the app data directory if needed.
func EnsureDataDirectory(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create directory %q: %w", dataDir, err)
	}
	return nil
}

// Load reads and unmarshals config.json from disk.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes config.json to disk.
func Save(path string, cfg *Config) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// LoadOrCreate ensures the data directory and config exist, then returns both.
// Missing or invalid fields in an existing file are filled with defaults and
// written back.
func LoadOrCreate() (*Config, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectory(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = Default()
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		PortMode:          PortModeFixed,
		ListeningPort:     DefaultListeningPort,
		DiscoveryPort:     DefaultDiscoveryPort,
		BroadcastAddress:  DefaultBroadcastAddress,
		BroadcastInterval: Duration(DefaultBroadcastInterval),
		FreshnessWindow:   Duration(DefaultFreshnessWindow),
		TextTimeout:       Duration(DefaultTextTimeout),
		FileTimeout:       Duration(DefaultFileTimeout),
		MaxEnvelopeBytes:  DefaultMaxEnvelopeBytes,
		MessageLog:        MessageLogMemory,
		LogLevel:          DefaultLogLevel,
	}
}

func normalizeDefaults(cfg *Config) bool {
	updated := false

	mode := normalizePortMode(cfg.PortMode)
	if mode == "" {
		if cfg.ListeningPort > 0 {
			mode = PortModeFixed
		} else {
			mode = PortModeAutomatic
		}
	}
	if cfg.PortMode != mode {
		cfg.PortMode = mode
		updated = true
	}

	if cfg.PortMode == PortModeFixed && (cfg.ListeningPort <= 0 || cfg.ListeningPort > 65535) {
		cfg.ListeningPort = DefaultListeningPort
		updated = true
	}
	if cfg.PortMode == PortModeAutomatic && cfg.ListeningPort != 0 {
		cfg.ListeningPort = 0
		updated = true
	}

	if cfg.DiscoveryPort <= 0 || cfg.DiscoveryPort > 65535 {
		cfg.DiscoveryPort = DefaultDiscoveryPort
		updated = true
	}
	if strings.TrimSpace(cfg.BroadcastAddress) == "" {
		cfg.BroadcastAddress = DefaultBroadcastAddress
		updated = true
	}

	updated = defaultDuration(&cfg.BroadcastInterval, DefaultBroadcastInterval) || updated
	updated = defaultDuration(&cfg.FreshnessWindow, DefaultFreshnessWindow) || updated
	updated = defaultDuration(&cfg.TextTimeout, DefaultTextTimeout) || updated
	updated = defaultDuration(&cfg.FileTimeout, DefaultFileTimeout) || updated

	if cfg.MaxEnvelopeBytes <= 0 {
		cfg.MaxEnvelopeBytes = DefaultMaxEnvelopeBytes
		updated = true
	}
	if cfg.MaxConcurrentConnections < 0 {
		cfg.MaxConcurrentConnections = 0
		updated = true
	}
	if cfg.ConnectionRateLimitPerIP < 0 {
		cfg.ConnectionRateLimitPerIP = 0
		updated = true
	}

	switch cfg.MessageLog {
	case MessageLogMemory, MessageLogSQLite:
	default:
		cfg.MessageLog = MessageLogMemory
		updated = true
	}

	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = DefaultLogLevel
		updated = true
	}

	return updated
}

func defaultDuration(value *Duration, fallback time.Duration) bool {
	if *value > 0 {
		return false
	}
	*value = Duration(fallback)
	return true
}

func normalizePortMode(mode string) string {
	switch mode {
	case PortModeAutomatic:
		return PortModeAutomatic
	case PortModeFixed:
		return PortModeFixed
	default:
		return ""
	}
}
