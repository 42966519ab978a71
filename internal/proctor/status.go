package proctor

import "time"

// Status is a read-only snapshot for the host's status display.
type Status struct {
	SessionID  string       `json:"session_id,omitempty"`
	Phase      SessionPhase `json:"phase"`
	Active     bool         `json:"active"`
	Watching   bool         `json:"watching"`
	Fullscreen bool         `json:"fullscreen"`

	// FullscreenRequired is the standing "enter presentation mode" prompt:
	// active, supported and not engaged.
	FullscreenRequired bool `json:"fullscreen_required"`

	// AwaitingAcknowledgment is set while a critical violation is
	// unconfirmed; PendingMessage is its verbatim message.
	AwaitingAcknowledgment bool   `json:"awaiting_acknowledgment"`
	PendingMessage         string `json:"pending_message,omitempty"`

	Readout      Readout        `json:"readout"`
	Counters     map[string]int `json:"counters"`
	AuditEntries int            `json:"audit_entries"`
	LastPulse    time.Time      `json:"last_pulse,omitempty"`
	StartedAt    time.Time      `json:"started_at,omitempty"`
	EndedAt      time.Time      `json:"ended_at,omitempty"`
}

// Status returns the current snapshot. After deactivation it describes the
// session that just ended until the next activation resets it.
func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.current
	if sess == nil {
		return Status{
			Phase:    StateInactive,
			Counters: NewCounters().Map(),
		}
	}

	st := Status{
		SessionID:    sess.id,
		Phase:        sess.state.Phase(),
		Active:       sess.state.Active,
		Watching:     sess.state.Watching,
		Fullscreen:   sess.state.Fullscreen,
		Readout:      sess.counters.Readout(sess.state.LastActivityAt),
		Counters:     sess.counters.Map(),
		AuditEntries: sess.audit.Len(),
		LastPulse:    sess.state.LastPulse,
		StartedAt:    sess.startedAt,
		EndedAt:      sess.endedAt,
	}
	st.FullscreenRequired = st.Active && !st.Fullscreen && m.platform.Capabilities().Fullscreen
	if v, ok := sess.escalator.Pending(); ok {
		st.AwaitingAcknowledgment = true
		st.PendingMessage = v.Message
	}
	return st
}

// Active reports the host activation flag.
func (m *Monitor) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current != nil && m.current.state.Active
}

// AuditLog returns the audit log lines, oldest first.
func (m *Monitor) AuditLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil
	}
	return m.current.audit.Lines()
}

// Violations returns every violation of the current (or just-ended)
// session, oldest first.
func (m *Monitor) Violations() []Violation {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil
	}
	out := make([]Violation, len(m.current.violations))
	for i, v := range m.current.violations {
		out[i] = v.clone()
	}
	return out
}

// SessionInfo identifies a monitored session.
type SessionInfo struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`
}

// Session returns the identity of the current (or just-ended) session.
func (m *Monitor) Session() (SessionInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return SessionInfo{}, false
	}
	return SessionInfo{
		ID:        m.current.id,
		StartedAt: m.current.startedAt,
		EndedAt:   m.current.endedAt,
	}, true
}

// Snapshot is a consistent copy of one session's record.
type Snapshot struct {
	Session    SessionInfo
	Counters   map[string]int
	Violations []Violation
	AuditLog   []string
}

// Snapshot copies the current (or just-ended) session's record under a
// single lock acquisition.
func (m *Monitor) Snapshot() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.current
	if sess == nil {
		return Snapshot{}, false
	}
	out := Snapshot{
		Session: SessionInfo{
			ID:        sess.id,
			StartedAt: sess.startedAt,
			EndedAt:   sess.endedAt,
		},
		Counters:   sess.counters.Map(),
		Violations: make([]Violation, len(sess.violations)),
		AuditLog:   sess.audit.Lines(),
	}
	for i, v := range sess.violations {
		out.Violations[i] = v.clone()
	}
	return out, true
}
