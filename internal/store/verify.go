package store

import (
	"context"
	"errors"
	"fmt"
)

// ErrIntegrity is returned when stored violations disagree with the sealed
// session log.
var ErrIntegrity = errors.New("store: integrity check failed")

// VerifySession checks a closed session: its log digest must verify and
// every violation in the log must be stored with the same type and severity.
func (s *Store) VerifySession(ctx context.Context, sessionID string) error {
	l, err := s.Log(ctx, sessionID)
	if err != nil {
		return err
	}

	stored, err := s.Violations(ctx, sessionID)
	if err != nil {
		return err
	}
	byID := make(map[string]int, len(stored))
	for i, v := range stored {
		byID[v.ID] = i
	}

	for _, v := range l.Violations {
		i, ok := byID[v.ID]
		if !ok {
			return fmt.Errorf("%w: violation %s missing", ErrIntegrity, v.ID)
		}
		got := stored[i]
		if got.Type != v.Type || got.Severity != v.Severity {
			return fmt.Errorf("%w: violation %s is %s/%s, log has %s/%s",
				ErrIntegrity, v.ID, got.Type, got.Severity, v.Type, v.Severity)
		}
	}
	if len(stored) != len(l.Violations) {
		return fmt.Errorf("%w: %d violations stored, log has %d", ErrIntegrity, len(stored), len(l.Violations))
	}
	return nil
}

// VerifyAll checks every closed session and returns the IDs that fail.
func (s *Store) VerifyAll(ctx context.Context) ([]string, error) {
	sessions, err := s.Sessions(ctx)
	if err != nil {
		return nil, err
	}

	var failed []string
	for _, sess := range sessions {
		if !sess.Closed() {
			continue
		}
		if err := s.VerifySession(ctx, sess.ID); err != nil {
			if ctx.Err() != nil {
				return failed, ctx.Err()
			}
			failed = append(failed, sess.ID)
		}
	}
	return failed, nil
}
