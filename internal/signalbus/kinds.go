package signalbus

import (
	"fmt"
	"strings"

	"proctord/internal/proctor"
)

// eventNames maps raw platform event names, including vendor-prefixed
// variants, to normalised signal kinds. Keys are lower case.
var eventNames = map[string]proctor.SignalKind{
	"fullscreenchange":       proctor.SignalFullscreenChange,
	"webkitfullscreenchange": proctor.SignalFullscreenChange,
	"mozfullscreenchange":    proctor.SignalFullscreenChange,
	"msfullscreenchange":     proctor.SignalFullscreenChange,

	"visibilitychange":       proctor.SignalVisibilityChange,
	"webkitvisibilitychange": proctor.SignalVisibilityChange,
	"mozvisibilitychange":    proctor.SignalVisibilityChange,
	"msvisibilitychange":     proctor.SignalVisibilityChange,

	"blur":              proctor.SignalBlur,
	"focus":             proctor.SignalFocus,
	"keydown":           proctor.SignalKeyDown,
	"contextmenu":       proctor.SignalContextMenu,
	"beforeunload":      proctor.SignalBeforeUnload,
	"pageshow":          proctor.SignalPageShow,
	"touchstart":        proctor.SignalTouchStart,
	"touchmove":         proctor.SignalTouchMove,
	"orientationchange": proctor.SignalOrientationChange,
	"gesturestart":      proctor.SignalGestureStart,
	"gesturechange":     proctor.SignalGestureChange,
	"pinch":             proctor.SignalPinch,
	"resize":            proctor.SignalResize,
	"mousemove":         proctor.SignalMouseMove,
	"scroll":            proctor.SignalScroll,
}

// ParseKind normalises a raw event name or an already-normalised kind.
func ParseKind(name string) (proctor.SignalKind, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if kind, ok := eventNames[key]; ok {
		return kind, nil
	}
	for _, kind := range eventNames {
		if string(kind) == key {
			return kind, nil
		}
	}
	return "", fmt.Errorf("signalbus: unknown event %q", name)
}
