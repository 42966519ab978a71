// Package proctor platform signal abstraction.
//
// This file defines the cross-platform interface through which the monitor
// observes its environment. Vendor-specific event names are normalised by the
// platform before delivery; adapters only ever see a SignalKind.
package proctor

import (
	"errors"
	"time"
)

// SignalKind identifies a normalised environment signal.
type SignalKind string

const (
	SignalFullscreenChange  SignalKind = "fullscreen_change"
	SignalVisibilityChange  SignalKind = "visibility_change"
	SignalBlur              SignalKind = "blur"
	SignalFocus             SignalKind = "focus"
	SignalKeyDown           SignalKind = "key_down"
	SignalContextMenu       SignalKind = "context_menu"
	SignalBeforeUnload      SignalKind = "before_unload"
	SignalPageShow          SignalKind = "page_show"
	SignalTouchStart        SignalKind = "touch_start"
	SignalTouchMove         SignalKind = "touch_move"
	SignalOrientationChange SignalKind = "orientation_change"
	SignalGestureStart      SignalKind = "gesture_start"
	SignalGestureChange     SignalKind = "gesture_change"
	SignalPinch             SignalKind = "pinch"
	SignalResize            SignalKind = "resize"
	SignalMouseMove         SignalKind = "mouse_move"
	SignalScroll            SignalKind = "scroll"
)

// KeyPress describes a key-down signal.
type KeyPress struct {
	Key   string `json:"key"`
	Ctrl  bool   `json:"ctrl,omitempty"`
	Meta  bool   `json:"meta,omitempty"`
	Shift bool   `json:"shift,omitempty"`
	Alt   bool   `json:"alt,omitempty"`
}

// TouchPoint is one contact of a touch signal.
type TouchPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// WindowMetrics are the outer and inner window dimensions in CSS pixels.
type WindowMetrics struct {
	OuterWidth  int `json:"outer_width"`
	OuterHeight int `json:"outer_height"`
	InnerWidth  int `json:"inner_width"`
	InnerHeight int `json:"inner_height"`
}

// Delta returns the outer/inner difference on each axis.
func (w WindowMetrics) Delta() (dw, dh int) {
	return w.OuterWidth - w.InnerWidth, w.OuterHeight - w.InnerHeight
}

// Signal is a normalised environment signal.
type Signal struct {
	Kind        SignalKind     `json:"kind"`
	At          time.Time      `json:"at,omitempty"`
	Hidden      bool           `json:"hidden,omitempty"`
	Fullscreen  bool           `json:"fullscreen,omitempty"`
	Key         KeyPress       `json:"key,omitempty"`
	Touches     []TouchPoint   `json:"touches,omitempty"`
	Orientation string         `json:"orientation,omitempty"`
	Window      *WindowMetrics `json:"window,omitempty"`

	control Control
}

// Control lets a handler act on the originating platform event.
type Control interface {
	// PreventDefault suppresses the platform's default action.
	PreventDefault()

	// PromptUnload asks the platform to show its native leave-page dialog.
	PromptUnload(message string)
}

// WithControl returns a copy of s bound to ctl.
func (s Signal) WithControl(ctl Control) Signal {
	s.control = ctl
	return s
}

// PreventDefault suppresses the default action, if the platform allows it.
func (s Signal) PreventDefault() {
	if s.control != nil {
		s.control.PreventDefault()
	}
}

// PromptUnload requests the native leave-page confirmation.
func (s Signal) PromptUnload(message string) {
	if s.control != nil {
		s.control.PromptUnload(message)
	}
}

// Capabilities describes feature detection results for a platform.
type Capabilities struct {
	Fullscreen    bool `json:"fullscreen"`
	Touch         bool `json:"touch"`
	GestureEvents bool `json:"gesture_events"`
	WindowMetrics bool `json:"window_metrics"`
}

// Platform is implemented by the host environment.
type Platform interface {
	// Capabilities reports which signal families are available.
	Capabilities() Capabilities

	// Subscribe registers fn for signals of the given kind. The returned
	// cancel function must be safe to call more than once.
	Subscribe(kind SignalKind, fn func(Signal)) (cancel func(), err error)

	// RequestFullscreen asks the platform to enter presentation mode.
	RequestFullscreen() error

	// ExitFullscreen leaves presentation mode.
	ExitFullscreen() error

	// Fullscreen reports whether presentation mode is currently engaged.
	Fullscreen() bool

	// WindowMetrics returns the current window geometry, if known.
	WindowMetrics() (WindowMetrics, bool)
}

var (
	// ErrFullscreenUnsupported is returned when the platform has no presentation mode.
	ErrFullscreenUnsupported = errors.New("proctor: fullscreen not supported")

	// ErrFullscreenDenied is returned when the user or policy refused presentation mode.
	ErrFullscreenDenied = errors.New("proctor: fullscreen permission denied")

	// ErrGestureRequired is returned when presentation mode needs a direct user gesture.
	ErrGestureRequired = errors.New("proctor: fullscreen requires a user gesture")
)

// capabilityError reports whether err is a known, recoverable platform
// capability failure rather than an unexpected one.
func capabilityError(err error) bool {
	return errors.Is(err, ErrFullscreenUnsupported) ||
		errors.Is(err, ErrFullscreenDenied) ||
		errors.Is(err, ErrGestureRequired)
}
