package store

import "time"

// Session is a stored monitored session.
type Session struct {
	ID        string
	CreatedAt time.Time

	// StartedAt, EndedAt and Digest are set once the sealed log arrives.
	StartedAt  *time.Time
	EndedAt    *time.Time
	Digest     string
	Counters   map[string]int
	Violations int
	Critical   int
	Batches    int
}

// Closed reports whether the session's sealed log has been stored.
func (s *Session) Closed() bool {
	return s.Digest != ""
}

// Duration returns the session length, or zero while it is open.
func (s *Session) Duration() time.Duration {
	if s.StartedAt == nil || s.EndedAt == nil {
		return 0
	}
	return s.EndedAt.Sub(*s.StartedAt)
}

// Stats summarizes the store contents.
type Stats struct {
	Sessions      int64
	OpenSessions  int64
	Violations    int64
	Critical      int64
	ByType        map[string]int64
	SchemaVersion int
}
