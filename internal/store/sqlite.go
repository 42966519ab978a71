package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"proctord/internal/proctor"
	"proctord/internal/report"
)

var (
	// ErrNotFound is returned when a session does not exist.
	ErrNotFound = errors.New("store: session not found")
	// ErrNoLog is returned when a session has no sealed log yet.
	ErrNoLog = errors.New("store: session log not stored")
)

// DefaultBusyTimeout is how long a writer waits on a locked database.
const DefaultBusyTimeout = 5 * time.Second

// Store represents the SQLite session store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the SQLite database at the given path and brings
// its schema up to date.
func Open(path string) (*Store, error) {
	return OpenWithTimeout(path, DefaultBusyTimeout)
}

// OpenWithTimeout is Open with an explicit busy timeout.
func OpenWithTimeout(path string, busyTimeout time.Duration) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=%d", path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := upgrade(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Persist stores a forwarded violation batch. It implements report.Sink.
// Redelivered batches and violations already stored are ignored.
func (s *Store) Persist(ctx context.Context, payload []byte) error {
	b, err := report.DecodeBatch(payload)
	if err != nil {
		return fmt.Errorf("decode batch: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UnixNano()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		b.SessionID, now,
	); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO batches (session_id, seq, received_at, violation_count, final)
		VALUES (?, ?, ?, ?, ?)`,
		b.SessionID, b.Seq, now, len(b.Violations), b.Log != nil,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	if n, err := result.RowsAffected(); err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	} else if n == 0 {
		return nil
	}

	if err := insertViolations(ctx, tx, b.SessionID, b.Violations); err != nil {
		return err
	}

	if b.Log != nil {
		// The log is complete; it also recovers violations whose notices
		// were dropped before forwarding.
		if err := insertViolations(ctx, tx, b.SessionID, b.Log.Violations); err != nil {
			return err
		}
		if err := storeLog(ctx, tx, b.Log); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

func insertViolations(ctx context.Context, tx *sql.Tx, sessionID string, vs []proctor.Violation) error {
	if len(vs) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO violations (id, session_id, type, severity, message, timestamp_ns, details)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, v := range vs {
		var details []byte
		if len(v.Details) > 0 {
			details, err = json.Marshal(v.Details)
			if err != nil {
				return fmt.Errorf("encode violation details: %w", err)
			}
		}
		if _, err := stmt.ExecContext(ctx,
			v.ID, sessionID, string(v.Type), string(v.Severity), v.Message, v.Timestamp.UnixNano(), nullString(details),
		); err != nil {
			return fmt.Errorf("insert violation: %w", err)
		}
	}
	return nil
}

func storeLog(ctx context.Context, tx *sql.Tx, l *report.Log) error {
	logJSON, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode log: %w", err)
	}
	counters, err := json.Marshal(l.Counters)
	if err != nil {
		return fmt.Errorf("encode counters: %w", err)
	}

	var ended *int64
	if !l.EndedAt.IsZero() {
		ns := l.EndedAt.UnixNano()
		ended = &ns
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE sessions SET started_at = ?, ended_at = ?, digest = ?, counters = ?, log = ?
		WHERE id = ?`,
		l.StartedAt.UnixNano(), ended, l.Digest, string(counters), string(logJSON), l.SessionID,
	); err != nil {
		return fmt.Errorf("store log: %w", err)
	}
	return nil
}

const sessionColumns = `
	s.id, s.created_at, s.started_at, s.ended_at, COALESCE(s.digest, ''), s.counters,
	(SELECT COUNT(*) FROM violations v WHERE v.session_id = s.id),
	(SELECT COUNT(*) FROM violations v WHERE v.session_id = s.id AND v.severity = 'critical'),
	(SELECT COUNT(*) FROM batches b WHERE b.session_id = s.id)`

// Sessions returns all sessions, newest first.
func (s *Store) Sessions(ctx context.Context) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions s ORDER BY s.created_at DESC, s.id`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return sessions, nil
}

// Session returns one session.
func (s *Store) Session(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions s WHERE s.id = ?`, id)
	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var (
		sess             Session
		createdAt        int64
		startedAt, ended sql.NullInt64
		counters         sql.NullString
	)
	err := row.Scan(&sess.ID, &createdAt, &startedAt, &ended, &sess.Digest, &counters,
		&sess.Violations, &sess.Critical, &sess.Batches)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}

	sess.CreatedAt = time.Unix(0, createdAt)
	if startedAt.Valid {
		t := time.Unix(0, startedAt.Int64)
		sess.StartedAt = &t
	}
	if ended.Valid {
		t := time.Unix(0, ended.Int64)
		sess.EndedAt = &t
	}
	if counters.Valid {
		if err := json.Unmarshal([]byte(counters.String), &sess.Counters); err != nil {
			return nil, fmt.Errorf("decode counters: %w", err)
		}
	}
	return &sess, nil
}

// Violations returns a session's violations in recording order.
func (s *Store) Violations(ctx context.Context, sessionID string) ([]proctor.Violation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, severity, message, timestamp_ns, details
		FROM violations WHERE session_id = ?
		ORDER BY timestamp_ns, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()

	var out []proctor.Violation
	for rows.Next() {
		var (
			v       proctor.Violation
			typ     string
			sev     string
			ts      int64
			details sql.NullString
		)
		if err := rows.Scan(&v.ID, &typ, &sev, &v.Message, &ts, &details); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		v.Type = proctor.ViolationType(typ)
		v.Severity = proctor.Severity(sev)
		v.Timestamp = time.Unix(0, ts)
		if details.Valid {
			if err := json.Unmarshal([]byte(details.String), &v.Details); err != nil {
				return nil, fmt.Errorf("decode violation details: %w", err)
			}
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate violations: %w", err)
	}
	return out, nil
}

// Log returns a session's sealed log, verified against its digest.
func (s *Store) Log(ctx context.Context, sessionID string) (*report.Log, error) {
	var logJSON sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT log FROM sessions WHERE id = ?`, sessionID).Scan(&logJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query log: %w", err)
	}
	if !logJSON.Valid {
		return nil, ErrNoLog
	}
	return report.Parse([]byte(logJSON.String))
}

// GetStats returns store-wide totals.
func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{ByType: make(map[string]int64)}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN digest IS NULL THEN 1 ELSE 0 END), 0)
		FROM sessions`).Scan(&stats.Sessions, &stats.OpenSessions)
	if err != nil {
		return nil, fmt.Errorf("count sessions: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT type, severity, COUNT(*) FROM violations GROUP BY type, severity`)
	if err != nil {
		return nil, fmt.Errorf("count violations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			typ, sev string
			n        int64
		)
		if err := rows.Scan(&typ, &sev, &n); err != nil {
			return nil, fmt.Errorf("scan violation count: %w", err)
		}
		stats.ByType[typ] += n
		stats.Violations += n
		if sev == string(proctor.SeverityCritical) {
			stats.Critical += n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate violation counts: %w", err)
	}

	if stats.SchemaVersion, err = schemaVersion(s.db); err != nil {
		return nil, err
	}
	return stats, nil
}

func nullString(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}
