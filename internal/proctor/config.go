// Package proctor configuration.
//
// This file contains every tunable of the monitor: detection thresholds,
// polling and timer intervals, the keyboard block list and escalation
// options.
package proctor

import (
	"time"
)

// Config configures a Monitor.
type Config struct {
	// HiddenThreshold is how long the page may stay hidden before the return
	// is escalated to a critical tab_switch.
	// Default: 5s
	HiddenThreshold time.Duration

	// BlurThreshold is how long the window may stay unfocused before the
	// refocus is escalated to a critical window_focus.
	// Default: 3s
	BlurThreshold time.Duration

	// InactivityTimeout raises an inactivity warning when no mouse, keyboard,
	// scroll or touch activity is seen for this long (0 = disabled).
	// Default: 120s
	InactivityTimeout time.Duration

	// DevToolsPollInterval is how often the window geometry is sampled.
	// Default: 500ms
	DevToolsPollInterval time.Duration

	// DevToolsThreshold is the outer/inner dimension delta, in pixels, above
	// which an inspection panel is assumed open. This is a heuristic: docked
	// side panels, split screen and browser zoom can all trip it.
	// Default: 160
	DevToolsThreshold int

	// FullscreenDelay defers the automatic presentation-mode request after
	// activation.
	// Default: 1.5s
	FullscreenDelay time.Duration

	// AutoFullscreen requests presentation mode on activation.
	AutoFullscreen bool

	// SwipeThreshold is the horizontal displacement, in pixels, of a single
	// touch that counts as a swipe.
	// Default: 100
	SwipeThreshold float64

	// AuditCapacity bounds the audit log.
	// Default: 50
	AuditCapacity int

	// LivenessMin and LivenessMax bound the random status pulse interval
	// (LivenessMax = 0 disables the pulse).
	// Default: 25s-60s
	LivenessMin time.Duration
	LivenessMax time.Duration

	// BlockedKeys are the intercepted key combinations.
	BlockedKeys []KeyCombo

	// SilentTypes lists violation types whose warnings are recorded without
	// a toast. Critical violations are never silent.
	SilentTypes []ViolationType

	// UnloadMessage is shown in the native leave-page confirmation.
	UnloadMessage string

	// SubscriberBuffer is the channel capacity of Subscribe.
	SubscriberBuffer int
}

// DefaultConfig returns sensible defaults for the monitor.
func DefaultConfig() *Config {
	return &Config{
		HiddenThreshold:      5 * time.Second,
		BlurThreshold:        3 * time.Second,
		InactivityTimeout:    120 * time.Second,
		DevToolsPollInterval: 500 * time.Millisecond,
		DevToolsThreshold:    160,
		FullscreenDelay:      1500 * time.Millisecond,
		AutoFullscreen:       true,
		SwipeThreshold:       100,
		AuditCapacity:        50,
		LivenessMin:          25 * time.Second,
		LivenessMax:          60 * time.Second,
		BlockedKeys:          DefaultBlockedKeys(),
		UnloadMessage:        "Leaving this page will end your interview. Are you sure?",
		SubscriberBuffer:     100,
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	out := *c
	out.BlockedKeys = append([]KeyCombo(nil), c.BlockedKeys...)
	out.SilentTypes = append([]ViolationType(nil), c.SilentTypes...)
	return &out
}

// WithHiddenThreshold sets the tab-switch escalation threshold.
func (c *Config) WithHiddenThreshold(d time.Duration) *Config {
	c.HiddenThreshold = d
	return c
}

// WithBlurThreshold sets the focus-loss escalation threshold.
func (c *Config) WithBlurThreshold(d time.Duration) *Config {
	c.BlurThreshold = d
	return c
}

// WithInactivityTimeout sets the inactivity timeout.
func (c *Config) WithInactivityTimeout(d time.Duration) *Config {
	c.InactivityTimeout = d
	return c
}

// WithDevToolsThreshold sets the dev-tools dimension delta.
func (c *Config) WithDevToolsThreshold(px int) *Config {
	c.DevToolsThreshold = px
	return c
}

// WithAutoFullscreen enables or disables the deferred fullscreen request.
func (c *Config) WithAutoFullscreen(enabled bool) *Config {
	c.AutoFullscreen = enabled
	return c
}

// WithAuditCapacity sets the audit log capacity.
func (c *Config) WithAuditCapacity(n int) *Config {
	c.AuditCapacity = n
	return c
}

// WithLiveness sets the liveness pulse bounds.
func (c *Config) WithLiveness(min, max time.Duration) *Config {
	c.LivenessMin = min
	c.LivenessMax = max
	return c
}

// WithBlockedKeys replaces the keyboard block list.
func (c *Config) WithBlockedKeys(keys []KeyCombo) *Config {
	c.BlockedKeys = keys
	return c
}

// AddSilentType records warnings of t without a toast.
func (c *Config) AddSilentType(t ViolationType) *Config {
	for _, s := range c.SilentTypes {
		if s == t {
			return c
		}
	}
	c.SilentTypes = append(c.SilentTypes, t)
	return c
}

// IsSilent reports whether warnings of type t are recorded without a toast.
func (c *Config) IsSilent(t ViolationType) bool {
	for _, s := range c.SilentTypes {
		if s == t {
			return true
		}
	}
	return false
}

// Thresholds extracts the values the classifier depends on.
func (c *Config) Thresholds() Thresholds {
	return Thresholds{
		Hidden: c.HiddenThreshold,
		Blur:   c.BlurThreshold,
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.HiddenThreshold <= 0 {
		return ErrInvalidConfig{"hidden threshold must be positive"}
	}
	if c.BlurThreshold <= 0 {
		return ErrInvalidConfig{"blur threshold must be positive"}
	}
	if c.InactivityTimeout < 0 {
		return ErrInvalidConfig{"inactivity timeout cannot be negative"}
	}
	if c.DevToolsPollInterval <= 0 {
		return ErrInvalidConfig{"dev-tools poll interval must be positive"}
	}
	if c.DevToolsThreshold <= 0 {
		return ErrInvalidConfig{"dev-tools threshold must be positive"}
	}
	if c.FullscreenDelay < 0 {
		return ErrInvalidConfig{"fullscreen delay cannot be negative"}
	}
	if c.SwipeThreshold <= 0 {
		return ErrInvalidConfig{"swipe threshold must be positive"}
	}
	if c.AuditCapacity <= 0 {
		return ErrInvalidConfig{"audit capacity must be positive"}
	}
	if c.LivenessMax > 0 && (c.LivenessMin <= 0 || c.LivenessMin > c.LivenessMax) {
		return ErrInvalidConfig{"liveness interval must satisfy 0 < min <= max"}
	}
	for _, k := range c.BlockedKeys {
		if k.Key == "" {
			return ErrInvalidConfig{"blocked key combination has no key"}
		}
	}
	for _, t := range c.SilentTypes {
		if !t.Valid() {
			return ErrInvalidConfig{"unknown silent violation type " + string(t)}
		}
	}
	return nil
}

// ErrInvalidConfig represents a configuration error.
type ErrInvalidConfig struct {
	Message string
}

func (e ErrInvalidConfig) Error() string {
	return "proctor: invalid config: " + e.Message
}
