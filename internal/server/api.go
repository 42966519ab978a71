package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"proctord/internal/proctor"
	"proctord/internal/report"
	"proctord/internal/store"
)

// History is the read side of the session store.
type History interface {
	Sessions(ctx context.Context) ([]store.Session, error)
	Session(ctx context.Context, id string) (*store.Session, error)
	Violations(ctx context.Context, sessionID string) ([]proctor.Violation, error)
	Log(ctx context.Context, sessionID string) (*report.Log, error)
}

var _ History = (*store.Store)(nil)

// SessionSummary is the API view of a stored session.
type SessionSummary struct {
	ID         string         `json:"id"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	EndedAt    *time.Time     `json:"ended_at,omitempty"`
	Closed     bool           `json:"closed"`
	Digest     string         `json:"digest,omitempty"`
	Counters   map[string]int `json:"counters,omitempty"`
	Violations int            `json:"violation_count"`
	Critical   int            `json:"critical_count"`
	Batches    int            `json:"batches"`
}

// SessionDetail adds the stored violations to a summary.
type SessionDetail struct {
	SessionSummary
	ViolationList []proctor.Violation `json:"violations"`
}

func summarize(s *store.Session) SessionSummary {
	return SessionSummary{
		ID:         s.ID,
		CreatedAt:  s.CreatedAt,
		StartedAt:  s.StartedAt,
		EndedAt:    s.EndedAt,
		Closed:     s.Closed(),
		Digest:     s.Digest,
		Counters:   s.Counters,
		Violations: s.Violations,
		Critical:   s.Critical,
		Batches:    s.Batches,
	}
}

// apiError is the JSON error body.
type apiError struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

func sendError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiError{Status: status, Message: message})
}

func sendJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

// storeError maps a history lookup failure to a response.
func (s *Server) storeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		sendError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, store.ErrNoLog):
		sendError(w, http.StatusNotFound, "session log not yet sealed")
	default:
		s.logger.Error("history lookup failed", "error", err)
		sendError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.history.Sessions(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	out := make([]SessionSummary, 0, len(sessions))
	for i := range sessions {
		out = append(out, summarize(&sessions[i]))
	}
	sendJSON(w, out)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.history.Session(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	vs, err := s.history.Violations(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if vs == nil {
		vs = []proctor.Violation{}
	}
	sendJSON(w, SessionDetail{SessionSummary: summarize(sess), ViolationList: vs})
}

func (s *Server) getSessionLog(w http.ResponseWriter, r *http.Request) {
	l, err := s.history.Log(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.storeError(w, err)
		return
	}
	data, err := l.Marshal()
	if err != nil {
		s.storeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// sameHost reports whether origin names the host the request was sent to.
func sameHost(origin, host string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, host)
}
