package config

import (
	"fmt"
	"net"
	"strings"

	"proctord/internal/proctor"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ValidateConfig performs comprehensive validation of the configuration.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateMonitor(&c.Monitor)...)
	errs = append(errs, validateKeyboard(&c.Keyboard)...)
	errs = append(errs, validateLogging(&c.Logging)...)
	errs = append(errs, validateStore(&c.Store)...)
	errs = append(errs, validateServer(&c.Server)...)
	errs = append(errs, validateForward(&c.Forward)...)

	// Cross-field rules of the monitor itself.
	if len(errs) == 0 {
		if err := c.Proctor().Validate(); err != nil {
			errs = append(errs, ValidationError{Field: "monitor", Message: err.Error()})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateMonitor(m *MonitorConfig) ValidationErrors {
	var errs ValidationErrors

	positive := []struct {
		field string
		value int
	}{
		{"monitor.hidden_threshold_ms", m.HiddenThresholdMs},
		{"monitor.blur_threshold_ms", m.BlurThresholdMs},
		{"monitor.devtools_poll_ms", m.DevToolsPollMs},
		{"monitor.devtools_threshold_px", m.DevToolsThresholdPx},
		{"monitor.audit_capacity", m.AuditCapacity},
		{"monitor.subscriber_buffer", m.SubscriberBuffer},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errs = append(errs, ValidationError{Field: p.field, Message: "must be positive"})
		}
	}

	if m.InactivityTimeoutSec < 0 {
		errs = append(errs, ValidationError{
			Field:   "monitor.inactivity_timeout_sec",
			Message: "cannot be negative (0 disables)",
		})
	}
	if m.FullscreenDelayMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "monitor.fullscreen_delay_ms",
			Message: "cannot be negative",
		})
	}
	if m.SwipeThresholdPx <= 0 {
		errs = append(errs, ValidationError{
			Field:   "monitor.swipe_threshold_px",
			Message: "must be positive",
		})
	}
	if m.LivenessMaxSec > 0 && (m.LivenessMinSec <= 0 || m.LivenessMinSec > m.LivenessMaxSec) {
		errs = append(errs, ValidationError{
			Field:   "monitor.liveness_min_sec",
			Message: "liveness interval must satisfy 0 < min <= max",
		})
	}
	for _, t := range m.SilentTypes {
		if !proctor.ViolationType(t).Valid() {
			errs = append(errs, ValidationError{
				Field:   "monitor.silent_types",
				Message: fmt.Sprintf("unknown violation type: %s", t),
			})
		}
	}

	return errs
}

func validateKeyboard(k *KeyboardConfig) ValidationErrors {
	var errs ValidationErrors
	for i, combo := range k.Blocked {
		if combo.Key == "" {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("keyboard.blocked[%d].key", i),
				Message: "key is required",
			})
		}
	}
	return errs
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch l.Level {
	case "debug", "info", "warn", "error":
		// Valid levels
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("invalid log level: %s (valid: debug, info, warn, error)", l.Level),
		})
	}

	switch l.Format {
	case "text", "json":
		// Valid formats
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("invalid log format: %s (valid: text, json)", l.Format),
		})
	}

	switch l.Output {
	case "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{
				Field:   "logging.file_path",
				Message: fmt.Sprintf("file path is required when output is '%s'", l.Output),
			})
		}
		if l.MaxSizeMB < 1 {
			errs = append(errs, ValidationError{
				Field:   "logging.max_size_mb",
				Message: "max size must be at least 1 MB",
			})
		}
	default:
		errs = append(errs, ValidationError{
			Field:   "logging.output",
			Message: fmt.Sprintf("invalid log output: %s (valid: stdout, stderr, file, both)", l.Output),
		})
	}

	if l.MaxBackups < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_backups",
			Message: "max backups cannot be negative",
		})
	}
	if l.MaxAgeDays < 0 {
		errs = append(errs, ValidationError{
			Field:   "logging.max_age_days",
			Message: "max age cannot be negative",
		})
	}

	return errs
}

func validateStore(s *StoreConfig) ValidationErrors {
	var errs ValidationErrors
	if !s.Enabled {
		return errs
	}
	if s.Path == "" {
		errs = append(errs, ValidationError{
			Field:   "store.path",
			Message: "path is required when the store is enabled",
		})
	}
	if s.BusyTimeoutMs < 0 {
		errs = append(errs, ValidationError{
			Field:   "store.busy_timeout_ms",
			Message: "busy timeout cannot be negative",
		})
	}
	return errs
}

func validateServer(s *ServerConfig) ValidationErrors {
	var errs ValidationErrors

	if _, _, err := net.SplitHostPort(s.Listen); err != nil {
		errs = append(errs, ValidationError{
			Field:   "server.listen",
			Message: fmt.Sprintf("invalid listen address %q: %v", s.Listen, err),
		})
	}
	if s.MaxMessageBytes < 512 {
		errs = append(errs, ValidationError{
			Field:   "server.max_message_bytes",
			Message: "must be at least 512",
		})
	}
	if s.SignalsPerSecond <= 0 {
		errs = append(errs, ValidationError{
			Field:   "server.signals_per_second",
			Message: "must be positive",
		})
	}
	if s.SignalBurst < 1 {
		errs = append(errs, ValidationError{
			Field:   "server.signal_burst",
			Message: "must be at least 1",
		})
	}
	if s.WriteTimeoutMs <= 0 {
		errs = append(errs, ValidationError{
			Field:   "server.write_timeout_ms",
			Message: "must be positive",
		})
	}
	if s.MaxSessions < 0 {
		errs = append(errs, ValidationError{
			Field:   "server.max_sessions",
			Message: "cannot be negative (0 = unbounded)",
		})
	}
	return errs
}

func validateForward(f *ForwardConfig) ValidationErrors {
	var errs ValidationErrors
	if f.BatchSize < 1 {
		errs = append(errs, ValidationError{
			Field:   "forward.batch_size",
			Message: "must be at least 1",
		})
	}
	if f.FlushIntervalMs <= 0 {
		errs = append(errs, ValidationError{
			Field:   "forward.flush_interval_ms",
			Message: "must be positive",
		})
	}
	if f.RatePerSecond <= 0 {
		errs = append(errs, ValidationError{
			Field:   "forward.rate_per_second",
			Message: "must be positive",
		})
	}
	if f.Burst < 1 {
		errs = append(errs, ValidationError{
			Field:   "forward.burst",
			Message: "must be at least 1",
		})
	}
	return errs
}
