package proctor

import (
	"fmt"
	"time"
)

// EventPhase distinguishes the onset of a condition from its end.
type EventPhase int

const (
	// PhaseOnset indicates the condition just began (page hidden, window blurred).
	PhaseOnset EventPhase = iota
	// PhaseReturn indicates the condition ended; Duration holds its length.
	PhaseReturn
)

// Event is a normalised adapter observation, before classification.
type Event struct {
	Type     ViolationType
	Phase    EventPhase
	At       time.Time
	Duration time.Duration
	// Detail names what was observed: a key combination, a gesture, an
	// orientation or an error.
	Detail string
	// Count is a running tally maintained by the raising adapter.
	Count int
	// Attrs are copied into the violation details.
	Attrs Details
}

// Thresholds are the classifier's duration limits.
type Thresholds struct {
	Hidden time.Duration
	Blur   time.Duration
}

// Classify turns an adapter event into a violation. It reports false when
// the event does not warrant one (a short hidden or blurred period).
//
// Classify is pure: identical inputs produce identical output. The returned
// violation has no ID; the monitor stamps one when recording it.
func Classify(ev Event, th Thresholds) (Violation, bool) {
	v := Violation{
		Type:      ev.Type,
		Timestamp: ev.At,
		Severity:  SeverityWarning,
	}
	details := Details{}

	switch ev.Type {
	case ViolationTabSwitch:
		if ev.Phase == PhaseReturn {
			if ev.Duration < th.Hidden {
				return Violation{}, false
			}
			v.Severity = SeverityCritical
			v.Message = fmt.Sprintf("Page was hidden for %s", formatSeconds(ev.Duration))
			details["duration"] = ev.Duration.Milliseconds()
		} else {
			v.Message = "Tab switched or window minimized"
		}

	case ViolationWindowFocus:
		if ev.Phase == PhaseReturn {
			if ev.Duration < th.Blur {
				return Violation{}, false
			}
			v.Severity = SeverityCritical
			v.Message = fmt.Sprintf("Window was out of focus for %s", formatSeconds(ev.Duration))
			details["duration"] = ev.Duration.Milliseconds()
		} else {
			v.Message = "Interview window lost focus"
		}

	case ViolationFullscreen:
		if ev.Detail != "" {
			v.Message = "Fullscreen request failed: " + ev.Detail
			details["error"] = ev.Detail
		} else {
			v.Severity = SeverityCritical
			v.Message = "Exited fullscreen mode"
		}

	case ViolationKeyboard:
		v.Message = "Blocked keyboard shortcut: " + ev.Detail
		details["combination"] = ev.Detail

	case ViolationRightClick:
		v.Message = "Right-click is disabled during the interview"
		details["count"] = ev.Count

	case ViolationDevTools:
		v.Severity = SeverityCritical
		v.Message = "Developer tools appear to be open"

	case ViolationMultiTouch:
		v.Message = fmt.Sprintf("Multi-touch detected (%d contact points)", ev.Count)
		details["touches"] = ev.Count

	case ViolationSwipeGesture:
		v.Message = "Swipe gesture detected"

	case ViolationOrientationChange:
		v.Message = "Device orientation changed"
		if ev.Detail != "" {
			v.Message += " to " + ev.Detail
			details["orientation"] = ev.Detail
		}

	case ViolationInactivity:
		v.Message = fmt.Sprintf("No activity for %s", formatSeconds(ev.Duration))
		details["idle_ms"] = ev.Duration.Milliseconds()

	case ViolationPageUnload:
		v.Severity = SeverityCritical
		v.Message = "Attempted to leave or reload the interview page"

	case ViolationIOSGesture:
		v.Message = "Platform gesture detected"
		if ev.Detail != "" {
			v.Message += ": " + ev.Detail
			details["gesture"] = ev.Detail
		}

	default:
		return Violation{}, false
	}

	for k, val := range ev.Attrs {
		details[k] = val
	}
	if len(details) > 0 {
		v.Details = details
	}
	return v, true
}

// formatSeconds renders d as whole seconds with one decimal, e.g. "6.0s".
func formatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.1fs", d.Seconds())
}
