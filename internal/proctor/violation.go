// Package proctor provides in-session integrity monitoring for proctord.
//
// A Monitor observes a running interview session through a Platform, turns
// environment signals (visibility, focus, fullscreen, keyboard, pointer,
// touch, window geometry, activity) into typed violations, keeps per-session
// counters and a bounded audit log, and escalates critical violations to a
// blocking acknowledgment.
//
// Key features:
//   - One adapter per signal family, registered and released atomically
//     with the session
//   - Duration-conditioned severity for visibility and focus loss
//   - Edge-triggered dev-tools heuristic (500ms poll)
//   - Inactivity timeout (120s default)
//   - Deterministic time via an injectable Clock
package proctor

import (
	"fmt"
	"strings"
	"time"
)

// ViolationType classifies a detected integrity signal.
type ViolationType string

const (
	ViolationTabSwitch         ViolationType = "tab_switch"
	ViolationWindowFocus       ViolationType = "window_focus"
	ViolationRightClick        ViolationType = "right_click"
	ViolationDevTools          ViolationType = "dev_tools"
	ViolationKeyboard          ViolationType = "keyboard"
	ViolationFullscreen        ViolationType = "fullscreen"
	ViolationMultiTouch        ViolationType = "multi_touch"
	ViolationSwipeGesture      ViolationType = "swipe_gesture"
	ViolationOrientationChange ViolationType = "orientation_change"
	ViolationInactivity        ViolationType = "inactivity"
	ViolationPageUnload        ViolationType = "page_unload"
	ViolationIOSGesture        ViolationType = "ios_gesture"
)

// ViolationTypes lists every violation type in display order.
var ViolationTypes = []ViolationType{
	ViolationTabSwitch,
	ViolationWindowFocus,
	ViolationRightClick,
	ViolationDevTools,
	ViolationKeyboard,
	ViolationFullscreen,
	ViolationMultiTouch,
	ViolationSwipeGesture,
	ViolationOrientationChange,
	ViolationInactivity,
	ViolationPageUnload,
	ViolationIOSGesture,
}

// Valid reports whether t is a known violation type.
func (t ViolationType) Valid() bool {
	for _, known := range ViolationTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Mobile reports whether t counts towards the mobile gesture tally.
func (t ViolationType) Mobile() bool {
	switch t {
	case ViolationMultiTouch, ViolationSwipeGesture, ViolationOrientationChange, ViolationIOSGesture:
		return true
	}
	return false
}

// Label returns the upper-case form used in audit log lines.
func (t ViolationType) Label() string {
	return strings.ToUpper(string(t))
}

// Severity is the escalation class of a violation.
type Severity string

const (
	// SeverityWarning is shown as a transient, non-blocking notice.
	SeverityWarning Severity = "warning"
	// SeverityCritical requires explicit acknowledgment.
	SeverityCritical Severity = "critical"
)

// Details carries free-form violation context such as durations and counts.
type Details map[string]any

// Violation is an immutable record of a classified integrity signal.
type Violation struct {
	ID        string        `json:"id"`
	Type      ViolationType `json:"type"`
	Message   string        `json:"message"`
	Timestamp time.Time     `json:"timestamp"`
	Severity  Severity      `json:"severity"`
	Details   Details       `json:"details,omitempty"`
}

// Critical reports whether the violation requires acknowledgment.
func (v Violation) Critical() bool {
	return v.Severity == SeverityCritical
}

// AuditLine formats the violation as an audit log entry.
func (v Violation) AuditLine() string {
	return fmt.Sprintf("%s — %s: %s", v.Timestamp.Format("15:04:05"), v.Type.Label(), v.Message)
}

// clone returns a copy whose Details map is not shared with v.
func (v Violation) clone() Violation {
	if v.Details != nil {
		d := make(Details, len(v.Details))
		for k, val := range v.Details {
			d[k] = val
		}
		v.Details = d
	}
	return v
}
