// Package config handles configuration loading and validation for proctord.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"proctord/internal/logging"
	"proctord/internal/proctor"
)

// Version is the current configuration schema version.
const Version = 1

// Config is the root proctord configuration.
type Config struct {
	// Version is the configuration schema version.
	Version int `toml:"version" json:"version" yaml:"version"`

	Monitor  MonitorConfig  `toml:"monitor" json:"monitor" yaml:"monitor"`
	Keyboard KeyboardConfig `toml:"keyboard" json:"keyboard" yaml:"keyboard"`
	Logging  LoggingConfig  `toml:"logging" json:"logging" yaml:"logging"`
	Store    StoreConfig    `toml:"store" json:"store" yaml:"store"`
	Server   ServerConfig   `toml:"server" json:"server" yaml:"server"`
	Forward  ForwardConfig  `toml:"forward" json:"forward" yaml:"forward"`
}

// MonitorConfig holds detection thresholds and session timers.
type MonitorConfig struct {
	// HiddenThresholdMs escalates a tab switch to critical.
	HiddenThresholdMs int `toml:"hidden_threshold_ms" json:"hidden_threshold_ms" yaml:"hidden_threshold_ms"`

	// BlurThresholdMs escalates a focus loss to critical.
	BlurThresholdMs int `toml:"blur_threshold_ms" json:"blur_threshold_ms" yaml:"blur_threshold_ms"`

	// InactivityTimeoutSec raises an inactivity warning (0 = disabled).
	InactivityTimeoutSec int `toml:"inactivity_timeout_sec" json:"inactivity_timeout_sec" yaml:"inactivity_timeout_sec"`

	// DevToolsPollMs is the window geometry sampling interval.
	DevToolsPollMs int `toml:"devtools_poll_ms" json:"devtools_poll_ms" yaml:"devtools_poll_ms"`

	// DevToolsThresholdPx is the outer/inner delta treated as an open panel.
	DevToolsThresholdPx int `toml:"devtools_threshold_px" json:"devtools_threshold_px" yaml:"devtools_threshold_px"`

	// FullscreenDelayMs defers the automatic presentation-mode request.
	FullscreenDelayMs int `toml:"fullscreen_delay_ms" json:"fullscreen_delay_ms" yaml:"fullscreen_delay_ms"`

	// AutoFullscreen requests presentation mode on activation.
	AutoFullscreen bool `toml:"auto_fullscreen" json:"auto_fullscreen" yaml:"auto_fullscreen"`

	// SwipeThresholdPx is the horizontal swipe distance.
	SwipeThresholdPx float64 `toml:"swipe_threshold_px" json:"swipe_threshold_px" yaml:"swipe_threshold_px"`

	// AuditCapacity bounds the per-session audit log.
	AuditCapacity int `toml:"audit_capacity" json:"audit_capacity" yaml:"audit_capacity"`

	// LivenessMinSec and LivenessMaxSec bound the status pulse interval.
	LivenessMinSec int `toml:"liveness_min_sec" json:"liveness_min_sec" yaml:"liveness_min_sec"`
	LivenessMaxSec int `toml:"liveness_max_sec" json:"liveness_max_sec" yaml:"liveness_max_sec"`

	// SilentTypes are violation types whose warnings are not toasted.
	SilentTypes []string `toml:"silent_types" json:"silent_types" yaml:"silent_types"`

	// UnloadMessage is shown in the leave-page confirmation.
	UnloadMessage string `toml:"unload_message" json:"unload_message" yaml:"unload_message"`

	// SubscriberBuffer is the violation channel capacity.
	SubscriberBuffer int `toml:"subscriber_buffer" json:"subscriber_buffer" yaml:"subscriber_buffer"`
}

// KeyboardConfig controls the blocked key combinations.
type KeyboardConfig struct {
	// UseDefaults keeps the built-in block list.
	UseDefaults bool `toml:"use_defaults" json:"use_defaults" yaml:"use_defaults"`

	// Blocked adds combinations to the block list.
	Blocked []proctor.KeyCombo `toml:"blocked" json:"blocked" yaml:"blocked"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" json:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `toml:"compress" json:"compress" yaml:"compress"`
	AddSource  bool   `toml:"add_source" json:"add_source" yaml:"add_source"`
}

// StoreConfig holds session history storage configuration.
type StoreConfig struct {
	// Enabled persists forwarded violation batches.
	Enabled bool `toml:"enabled" json:"enabled" yaml:"enabled"`

	// Path is the SQLite database file.
	Path string `toml:"path" json:"path" yaml:"path"`

	// BusyTimeoutMs is the SQLite busy timeout.
	BusyTimeoutMs int `toml:"busy_timeout_ms" json:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

// ServerConfig holds the HTTP and websocket surface configuration.
type ServerConfig struct {
	// Listen is the TCP address to serve on.
	Listen string `toml:"listen" json:"listen" yaml:"listen"`

	// AllowedOrigins restricts websocket origins (empty = same host only).
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins" yaml:"allowed_origins"`

	// MaxMessageBytes bounds a single websocket frame.
	MaxMessageBytes int64 `toml:"max_message_bytes" json:"max_message_bytes" yaml:"max_message_bytes"`

	// SignalsPerSecond and SignalBurst throttle inbound signals per connection.
	SignalsPerSecond float64 `toml:"signals_per_second" json:"signals_per_second" yaml:"signals_per_second"`
	SignalBurst      int     `toml:"signal_burst" json:"signal_burst" yaml:"signal_burst"`

	// WriteTimeoutMs bounds a single outbound frame write.
	WriteTimeoutMs int `toml:"write_timeout_ms" json:"write_timeout_ms" yaml:"write_timeout_ms"`

	// MaxSessions caps concurrent session connections (0 = unbounded).
	MaxSessions int `toml:"max_sessions" json:"max_sessions" yaml:"max_sessions"`
}

// ForwardConfig controls violation batching towards the store.
type ForwardConfig struct {
	// BatchSize flushes once this many violations are buffered.
	BatchSize int `toml:"batch_size" json:"batch_size" yaml:"batch_size"`

	// FlushIntervalMs flushes a partial batch after this long.
	FlushIntervalMs int `toml:"flush_interval_ms" json:"flush_interval_ms" yaml:"flush_interval_ms"`

	// RatePerSecond and Burst limit sink writes.
	RatePerSecond float64 `toml:"rate_per_second" json:"rate_per_second" yaml:"rate_per_second"`
	Burst         int     `toml:"burst" json:"burst" yaml:"burst"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	mon := proctor.DefaultConfig()
	dir := PlatformDataDir()

	return &Config{
		Version: Version,
		Monitor: MonitorConfig{
			HiddenThresholdMs:    int(mon.HiddenThreshold / time.Millisecond),
			BlurThresholdMs:      int(mon.BlurThreshold / time.Millisecond),
			InactivityTimeoutSec: int(mon.InactivityTimeout / time.Second),
			DevToolsPollMs:       int(mon.DevToolsPollInterval / time.Millisecond),
			DevToolsThresholdPx:  mon.DevToolsThreshold,
			FullscreenDelayMs:    int(mon.FullscreenDelay / time.Millisecond),
			AutoFullscreen:       mon.AutoFullscreen,
			SwipeThresholdPx:     mon.SwipeThreshold,
			AuditCapacity:        mon.AuditCapacity,
			LivenessMinSec:       int(mon.LivenessMin / time.Second),
			LivenessMaxSec:       int(mon.LivenessMax / time.Second),
			UnloadMessage:        mon.UnloadMessage,
			SubscriberBuffer:     mon.SubscriberBuffer,
		},
		Keyboard: KeyboardConfig{
			UseDefaults: true,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dir, "logs", "proctord.log"),
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
			Compress:   true,
		},
		Store: StoreConfig{
			Enabled:       true,
			Path:          filepath.Join(dir, "sessions.db"),
			BusyTimeoutMs: 5000,
		},
		Server: ServerConfig{
			Listen:           "127.0.0.1:8470",
			MaxMessageBytes:  64 * 1024,
			SignalsPerSecond: 50,
			SignalBurst:      100,
			WriteTimeoutMs:   5000,
			MaxSessions:      500,
		},
		Forward: ForwardConfig{
			BatchSize:       20,
			FlushIntervalMs: 2000,
			RatePerSecond:   5,
			Burst:           10,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(PlatformConfigDir(), "config.toml")
}

// Load reads configuration from the specified path. A missing file yields
// the defaults. Environment overrides are applied and the result validated.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}
	return NewLoader(path).Load()
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories for the store and log file.
func (c *Config) EnsureDirectories() error {
	var dirs []string
	if c.Store.Enabled && c.Store.Path != "" {
		dirs = append(dirs, filepath.Dir(c.Store.Path))
	}
	if (c.Logging.Output == "file" || c.Logging.Output == "both") && c.Logging.FilePath != "" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return nil
}

// ApplyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables are prefixed with PROCTORD_.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("PROCTORD_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("PROCTORD_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("PROCTORD_STORE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Store.Enabled = b
		}
	}
	if v := os.Getenv("PROCTORD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PROCTORD_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("PROCTORD_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("PROCTORD_AUTO_FULLSCREEN"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Monitor.AutoFullscreen = b
		}
	}
	if v := os.Getenv("PROCTORD_INACTIVITY_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Monitor.InactivityTimeoutSec = n
		}
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Monitor.SilentTypes = append([]string(nil), c.Monitor.SilentTypes...)
	clone.Keyboard.Blocked = append([]proctor.KeyCombo(nil), c.Keyboard.Blocked...)
	clone.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	return &clone
}

// Proctor converts the monitor and keyboard sections into a monitor
// configuration.
func (c *Config) Proctor() *proctor.Config {
	m := c.Monitor
	out := proctor.DefaultConfig()
	out.HiddenThreshold = time.Duration(m.HiddenThresholdMs) * time.Millisecond
	out.BlurThreshold = time.Duration(m.BlurThresholdMs) * time.Millisecond
	out.InactivityTimeout = time.Duration(m.InactivityTimeoutSec) * time.Second
	out.DevToolsPollInterval = time.Duration(m.DevToolsPollMs) * time.Millisecond
	out.DevToolsThreshold = m.DevToolsThresholdPx
	out.FullscreenDelay = time.Duration(m.FullscreenDelayMs) * time.Millisecond
	out.AutoFullscreen = m.AutoFullscreen
	out.SwipeThreshold = m.SwipeThresholdPx
	out.AuditCapacity = m.AuditCapacity
	out.LivenessMin = time.Duration(m.LivenessMinSec) * time.Second
	out.LivenessMax = time.Duration(m.LivenessMaxSec) * time.Second
	out.SubscriberBuffer = m.SubscriberBuffer
	if m.UnloadMessage != "" {
		out.UnloadMessage = m.UnloadMessage
	}
	for _, t := range m.SilentTypes {
		out.AddSilentType(proctor.ViolationType(t))
	}

	var keys []proctor.KeyCombo
	if c.Keyboard.UseDefaults {
		keys = proctor.DefaultBlockedKeys()
	}
	keys = append(keys, c.Keyboard.Blocked...)
	out.BlockedKeys = keys
	return out
}

// LoggerConfig converts the logging section. Invalid values fall back to
// the logging defaults; Validate reports them.
func (c *Config) LoggerConfig() *logging.Config {
	out := logging.DefaultConfig()
	if lvl, err := logging.ParseLevel(c.Logging.Level); err == nil {
		out.Level = lvl
	}
	if f, err := logging.ParseFormat(c.Logging.Format); err == nil {
		out.Format = f
	}
	out.Output = c.Logging.Output
	if c.Logging.FilePath != "" {
		out.FilePath = c.Logging.FilePath
	}
	out.MaxSize = c.Logging.MaxSizeMB
	out.MaxBackups = c.Logging.MaxBackups
	out.MaxAge = c.Logging.MaxAgeDays
	out.Compress = c.Logging.Compress
	out.AddSource = c.Logging.AddSource
	return out
}

// FlushInterval returns the forwarder flush interval.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Forward.FlushIntervalMs) * time.Millisecond
}

// WriteTimeout returns the websocket write timeout.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.Server.WriteTimeoutMs) * time.Millisecond
}
