package proctor

import "time"

// SessionPhase is the monitor's position in the session state machine.
type SessionPhase int

const (
	// StateInactive means the host has not activated monitoring, or has
	// deactivated it. No violations are produced.
	StateInactive SessionPhase = iota
	// StateWatching means adapters are registered.
	StateWatching
	// StateWatchingFullscreen means adapters are registered and the page is
	// in presentation mode.
	StateWatchingFullscreen
)

// String returns a human-readable name for the phase.
func (p SessionPhase) String() string {
	switch p {
	case StateWatching:
		return "watching"
	case StateWatchingFullscreen:
		return "watching_fullscreen"
	default:
		return "inactive"
	}
}

// SessionState is the single mutable state of one monitored session. It is
// owned by the Monitor and only ever touched by handlers running under the
// monitor's lock.
type SessionState struct {
	// Active is the host-controlled activation flag.
	Active bool
	// Watching is set once adapters have been registered.
	Watching bool
	// Fullscreen tracks presentation mode.
	Fullscreen bool
	// LastActivityAt is the last mouse, keyboard, scroll or touch activity.
	LastActivityAt time.Time

	// HiddenSince is when the page became hidden (zero while visible).
	HiddenSince time.Time
	// BlurredSince is when the window lost focus (zero while focused).
	BlurredSince time.Time
	// DevToolsOpen latches the dev-tools heuristic between polls.
	DevToolsOpen bool
	// TouchOrigin is the start point of the current single-touch sequence.
	TouchOrigin *TouchPoint
	// SwipeRaised is set once the current touch sequence produced a swipe.
	SwipeRaised bool
	// RightClicks is the context-menu tally.
	RightClicks int
	// Pulses counts liveness pulses; LastPulse is the latest one.
	Pulses    int
	LastPulse time.Time
}

// Phase derives the state machine phase.
func (s *SessionState) Phase() SessionPhase {
	switch {
	case !s.Active || !s.Watching:
		return StateInactive
	case s.Fullscreen:
		return StateWatchingFullscreen
	default:
		return StateWatching
	}
}

// session is one activation's worth of state, counters and resources.
type session struct {
	id        string
	gen       uint64
	cfg       *Config
	startedAt time.Time
	endedAt   time.Time

	state      SessionState
	counters   *Counters
	audit      *AuditLog
	escalator  *Escalator
	violations []Violation

	// releases undo every subscription and timer acquired for the session.
	releases []func()
}

func newSession(id string, gen uint64, cfg *Config, now time.Time) *session {
	return &session{
		id:        id,
		gen:       gen,
		cfg:       cfg,
		startedAt: now,
		state: SessionState{
			Active:         true,
			LastActivityAt: now,
		},
		counters:  NewCounters(),
		audit:     NewAuditLog(cfg.AuditCapacity),
		escalator: NewEscalator(cfg.IsSilent),
	}
}

// record applies v to the counters, audit log and history. It reports
// whether the audit log evicted a line.
func (s *session) record(v Violation) bool {
	s.counters.Record(v)
	s.violations = append(s.violations, v)
	return s.audit.Append(v.AuditLine())
}

// release runs every release function exactly once, newest first.
func (s *session) release() {
	releases := s.releases
	s.releases = nil
	for i := len(releases) - 1; i >= 0; i-- {
		releases[i]()
	}
}
