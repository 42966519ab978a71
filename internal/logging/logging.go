// Package logging builds proctord's slog loggers.
//
// Output goes to stderr, stdout, a size-rotated file or stderr plus the
// file. The level can be changed on a live logger so a config reload takes
// effect without restarting open sessions, and the file can be rotated on
// demand (serve does so on SIGHUP). Attributes that carry credentials are
// masked.
package logging

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is a slog level.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format selects the handler.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Config describes a logger.
type Config struct {
	Level  Level
	Format Format

	// Output is "stderr", "stdout", "file" or "both" (stderr and file).
	Output string

	// FilePath and the rotation limits apply to file output. MaxSize is in
	// megabytes, MaxAge in days.
	FilePath   string
	MaxSize    int
	MaxAge     int
	MaxBackups int
	Compress   bool

	AddSource bool

	// Component is attached to every entry.
	Component string
}

// DefaultConfig logs info and above as text to stderr.
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Output:     "stderr",
		FilePath:   defaultLogPath(),
		MaxSize:    50,
		MaxAge:     14,
		MaxBackups: 5,
		Compress:   true,
		Component:  "proctord",
	}
}

// defaultLogPath follows XDG_STATE_HOME.
func defaultLogPath() string {
	state := os.Getenv("XDG_STATE_HOME")
	if state == "" {
		home, _ := os.UserHomeDir()
		state = filepath.Join(home, ".local", "state")
	}
	return filepath.Join(state, "proctord", "proctord.log")
}

// sink is shared by a logger and everything derived from it.
type sink struct {
	level *slog.LevelVar

	mu   sync.Mutex
	file *lumberjack.Logger
}

// Logger is a slog.Logger bound to its output.
type Logger struct {
	*slog.Logger
	sink *sink
}

// New creates a logger from cfg.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &sink{level: new(slog.LevelVar)}

	var w io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		w = os.Stdout
	case "file", "both":
		f, err := openFile(cfg)
		if err != nil {
			return nil, err
		}
		s.file = f
		w = f
		if strings.EqualFold(cfg.Output, "both") {
			w = io.MultiWriter(os.Stderr, f)
		}
	default:
		w = os.Stderr
	}
	return build(w, cfg, s), nil
}

func build(w io.Writer, cfg *Config, s *sink) *Logger {
	s.level.Set(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:       s.level,
		AddSource:   cfg.AddSource,
		ReplaceAttr: mask,
	}

	var h slog.Handler = slog.NewTextHandler(w, opts)
	if cfg.Format == FormatJSON {
		h = slog.NewJSONHandler(w, opts)
	}
	if cfg.Component != "" {
		h = h.WithAttrs([]slog.Attr{slog.String("component", cfg.Component)})
	}
	return &Logger{Logger: slog.New(h), sink: s}
}

func openFile(cfg *Config) (*lumberjack.Logger, error) {
	if cfg.FilePath == "" {
		return nil, errors.New("logging: file output requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxAge,
		MaxBackups: cfg.MaxBackups,
		Compress:   cfg.Compress,
	}, nil
}

// credentialKeys are substrings of attribute keys whose values are masked.
var credentialKeys = []string{"token", "secret", "password", "authorization", "cookie", "api_key"}

func mask(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(a.Key)
	for _, c := range credentialKeys {
		if strings.Contains(key, c) {
			return slog.String(a.Key, "[REDACTED]")
		}
	}
	return a
}

// WithComponent returns a logger tagged with a different component.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name), sink: l.sink}
}

// SetLevel changes the minimum level of l and every logger derived from it.
func (l *Logger) SetLevel(level Level) {
	l.sink.level.Set(level)
}

// Rotate starts a new log file. It is a no-op without file output.
func (l *Logger) Rotate() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file == nil {
		return nil
	}
	return l.sink.file.Rotate()
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	if l.sink.file == nil {
		return nil
	}
	return l.sink.file.Close()
}

// ParseLevel parses debug, info, warn (or warning) and error. The empty
// string is info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level: %s", s)
}

// ParseFormat parses "text" or "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "text", "":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	}
	return FormatText, fmt.Errorf("unknown log format: %s", s)
}
