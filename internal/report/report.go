// Package report serializes monitored sessions for storage and review.
//
// A Log is the complete record of one session: its counters, every
// violation in order and the bounded audit log, sealed with a BLAKE2b-256
// digest over the identity and violation list. Logs and forwarded
// violation batches are validated against embedded JSON schemas before they
// are accepted.
package report

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/blake2b"

	"proctord/internal/proctor"
)

// FormatVersion is the serialized log and batch format version.
const FormatVersion = 1

// ErrDigestMismatch is returned when a log's digest does not match its
// contents.
var ErrDigestMismatch = errors.New("report: digest mismatch")

// Log is the serialized record of one monitored session.
type Log struct {
	Version    int                 `json:"version"`
	SessionID  string              `json:"session_id"`
	StartedAt  time.Time           `json:"started_at"`
	EndedAt    time.Time           `json:"ended_at"`
	Counters   map[string]int      `json:"counters"`
	Violations []proctor.Violation `json:"violations"`
	AuditLog   []string            `json:"audit_log"`
	Digest     string              `json:"digest"`
}

// FromSnapshot builds a sealed log from a monitor snapshot.
func FromSnapshot(s proctor.Snapshot) (*Log, error) {
	l := &Log{
		Version:    FormatVersion,
		SessionID:  s.Session.ID,
		StartedAt:  s.Session.StartedAt,
		EndedAt:    s.Session.EndedAt,
		Counters:   s.Counters,
		Violations: s.Violations,
		AuditLog:   s.AuditLog,
	}
	if l.Counters == nil {
		l.Counters = map[string]int{}
	}
	if l.Violations == nil {
		l.Violations = []proctor.Violation{}
	}
	if l.AuditLog == nil {
		l.AuditLog = []string{}
	}
	if err := l.Seal(); err != nil {
		return nil, err
	}
	return l, nil
}

// digestInput is the sealed portion of a log.
type digestInput struct {
	SessionID  string              `json:"session_id"`
	StartedAt  time.Time           `json:"started_at"`
	EndedAt    time.Time           `json:"ended_at"`
	Violations []proctor.Violation `json:"violations"`
}

func (l *Log) computeDigest() (string, error) {
	data, err := json.Marshal(digestInput{
		SessionID:  l.SessionID,
		StartedAt:  l.StartedAt,
		EndedAt:    l.EndedAt,
		Violations: l.Violations,
	})
	if err != nil {
		return "", fmt.Errorf("encode digest input: %w", err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Seal computes and stores the digest.
func (l *Log) Seal() error {
	d, err := l.computeDigest()
	if err != nil {
		return err
	}
	l.Digest = d
	return nil
}

// Verify recomputes the digest and compares it with the stored one.
func (l *Log) Verify() error {
	d, err := l.computeDigest()
	if err != nil {
		return err
	}
	if d != l.Digest {
		return fmt.Errorf("%w: have %s, computed %s", ErrDigestMismatch, l.Digest, d)
	}
	return nil
}

// Critical returns the number of critical violations.
func (l *Log) Critical() int {
	n := 0
	for _, v := range l.Violations {
		if v.Critical() {
			n++
		}
	}
	return n
}

// Marshal encodes the log as indented JSON.
func (l *Log) Marshal() ([]byte, error) {
	return json.MarshalIndent(l, "", "  ")
}

// Parse validates data against the session log schema, decodes it and
// verifies the digest.
func Parse(data []byte) (*Log, error) {
	if err := ValidateLog(data); err != nil {
		return nil, err
	}
	var l Log
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("decode log: %w", err)
	}
	if err := l.Verify(); err != nil {
		return nil, err
	}
	return &l, nil
}
