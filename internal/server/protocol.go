package server

import (
	"errors"
	"strings"

	"proctord/internal/proctor"
	"proctord/internal/signalbus"
)

// Client actions beyond the replay script actions.
const (
	ActionHello            = "hello"
	ActionFullscreenResult = "fullscreen_result"
	ActionStatus           = "status"
)

// Server frame types.
const (
	FrameNotice  = "notice"
	FrameStatus  = "status"
	FrameCommand = "command"
	FrameOutcome = "outcome"
	FrameError   = "error"
)

// Commands the client must carry out on the page.
const (
	CommandRequestFullscreen = "request_fullscreen"
	CommandExitFullscreen    = "exit_fullscreen"
)

// ClientFrame is one inbound websocket message. It is a replay script step
// (exactly one of action and event) plus the fields only a live client
// sends.
type ClientFrame struct {
	signalbus.Step

	// Capabilities accompanies hello.
	Capabilities *proctor.Capabilities `json:"capabilities,omitempty"`

	// Error accompanies fullscreen_result; empty means the request succeeded.
	Error string `json:"error,omitempty"`
}

// ServerFrame is one outbound websocket message.
type ServerFrame struct {
	Type string `json:"type"`

	Notice *proctor.Notice `json:"notice,omitempty"`
	Status *proctor.Status `json:"status,omitempty"`

	Command string `json:"command,omitempty"`

	// Outcome of an event frame whose default action the client must
	// suppress or whose unload must be confirmed.
	Event        string `json:"event,omitempty"`
	Prevented    bool   `json:"prevented,omitempty"`
	UnloadPrompt string `json:"unload_prompt,omitempty"`

	Error string `json:"error,omitempty"`
}

// ErrFullscreenTimeout is returned when the client does not answer a
// fullscreen command in time.
var ErrFullscreenTimeout = errors.New("server: fullscreen request timed out")

// fullscreenError maps a client-reported failure to the platform error the
// monitor classifies.
func fullscreenError(msg string) error {
	switch strings.ToLower(strings.TrimSpace(msg)) {
	case "":
		return nil
	case "denied", "notallowederror":
		return proctor.ErrFullscreenDenied
	case "unsupported", "notsupportederror":
		return proctor.ErrFullscreenUnsupported
	case "gesture", "gesture_required":
		return proctor.ErrGestureRequired
	}
	return errors.New(msg)
}
