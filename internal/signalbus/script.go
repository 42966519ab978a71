package signalbus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"proctord/internal/proctor"
)

// Script actions that drive the monitor rather than the platform.
const (
	ActionActivate        = "activate"
	ActionDeactivate      = "deactivate"
	ActionAcknowledge     = "acknowledge"
	ActionEnterFullscreen = "enter_fullscreen"
	ActionExitFullscreen  = "exit_fullscreen"
	ActionMetrics         = "metrics"
)

// Step is one line of a replay script. Exactly one of Action and Event is
// set.
type Step struct {
	// AtMS is the offset from the start of the script, in milliseconds.
	AtMS int64 `json:"at_ms"`

	Action string `json:"action,omitempty"`
	Event  string `json:"event,omitempty"`

	Hidden      bool                   `json:"hidden,omitempty"`
	Fullscreen  bool                   `json:"fullscreen,omitempty"`
	Key         proctor.KeyPress       `json:"key,omitempty"`
	Touches     []proctor.TouchPoint   `json:"touches,omitempty"`
	Orientation string                 `json:"orientation,omitempty"`
	Window      *proctor.WindowMetrics `json:"window,omitempty"`
}

// Offset returns AtMS as a duration.
func (s Step) Offset() time.Duration {
	return time.Duration(s.AtMS) * time.Millisecond
}

// Signal converts an event step into a normalised signal.
func (s Step) Signal() (proctor.Signal, error) {
	kind, err := ParseKind(s.Event)
	if err != nil {
		return proctor.Signal{}, err
	}
	return proctor.Signal{
		Kind:        kind,
		Hidden:      s.Hidden,
		Fullscreen:  s.Fullscreen,
		Key:         s.Key,
		Touches:     s.Touches,
		Orientation: s.Orientation,
		Window:      s.Window,
	}, nil
}

// ReadScript decodes a JSON-lines replay script. Blank lines and lines
// starting with '#' are skipped. Steps must be in non-decreasing time order.
func ReadScript(r io.Reader) ([]Step, error) {
	var steps []Step
	scanner := bufio.NewScanner(r)
	line := 0
	var last int64
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var s Step
		if err := json.Unmarshal([]byte(text), &s); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		if (s.Action == "") == (s.Event == "") {
			return nil, fmt.Errorf("line %d: exactly one of action and event is required", line)
		}
		if s.Event != "" {
			if _, err := ParseKind(s.Event); err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
		}
		switch s.Action {
		case "", ActionActivate, ActionDeactivate, ActionAcknowledge,
			ActionEnterFullscreen, ActionExitFullscreen, ActionMetrics:
		default:
			return nil, fmt.Errorf("line %d: unknown action %q", line, s.Action)
		}
		if s.AtMS < last {
			return nil, fmt.Errorf("line %d: at_ms %d goes back in time", line, s.AtMS)
		}
		last = s.AtMS
		steps = append(steps, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return steps, nil
}
