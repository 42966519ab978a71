// Package store keeps forwarded violation batches and sealed session logs
// in SQLite.
//
// The schema version lives in SQLite's user_version pragma. Open upgrades an
// older database step by step and refuses one written by a newer proctord.
package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// ErrSchemaTooNew is returned when the database was written by a newer
// proctord.
var ErrSchemaTooNew = errors.New("store: database schema is newer than this build")

// schemaStep upgrades the schema to version.
type schemaStep struct {
	version int
	name    string
	ddl     string
}

var schemaSteps = []schemaStep{
	{1, "sessions and violations", `
CREATE TABLE sessions (
    id          TEXT PRIMARY KEY,
    created_at  INTEGER NOT NULL,
    started_at  INTEGER,
    ended_at    INTEGER,
    digest      TEXT,   -- set with the sealed log
    counters    TEXT,
    log         TEXT
);
CREATE INDEX idx_sessions_created ON sessions(created_at);

CREATE TABLE violations (
    id           TEXT PRIMARY KEY,
    session_id   TEXT NOT NULL REFERENCES sessions(id),
    type         TEXT NOT NULL,
    severity     TEXT NOT NULL,
    message      TEXT NOT NULL,
    timestamp_ns INTEGER NOT NULL,
    details      TEXT
);
CREATE INDEX idx_violations_session ON violations(session_id, timestamp_ns);
CREATE INDEX idx_violations_type ON violations(type);
`},
	{2, "forwarded batches", `
-- A repeated (session_id, seq) is a redelivery.
CREATE TABLE batches (
    session_id      TEXT NOT NULL REFERENCES sessions(id),
    seq             INTEGER NOT NULL,
    received_at     INTEGER NOT NULL,
    violation_count INTEGER NOT NULL,
    final           INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (session_id, seq)
);
`},
}

// latestSchema is the version this build writes.
func latestSchema() int {
	return schemaSteps[len(schemaSteps)-1].version
}

// schemaVersion reads the database's user_version.
func schemaVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// upgrade applies every step above the database's version, each in its own
// transaction together with the version bump.
func upgrade(db *sql.DB) error {
	current, err := schemaVersion(db)
	if err != nil {
		return err
	}
	if current > latestSchema() {
		return fmt.Errorf("%w: v%d, expected at most v%d", ErrSchemaTooNew, current, latestSchema())
	}

	for _, step := range schemaSteps {
		if step.version <= current {
			continue
		}
		if err := applyStep(db, step); err != nil {
			return err
		}
	}
	return checkTables(db)
}

func applyStep(db *sql.DB, step schemaStep) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("schema v%d: %w", step.version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(step.ddl); err != nil {
		return fmt.Errorf("schema v%d (%s): %w", step.version, step.name, err)
	}
	// PRAGMA does not take bind parameters.
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", step.version)); err != nil {
		return fmt.Errorf("schema v%d: set version: %w", step.version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("schema v%d: commit: %w", step.version, err)
	}
	return nil
}

// checkTables confirms the tables the store queries exist.
func checkTables(db *sql.DB) error {
	for _, table := range []string{"sessions", "violations", "batches"} {
		var n int
		err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n)
		if err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if n == 0 {
			return fmt.Errorf("store: table %s missing at schema v%d", table, latestSchema())
		}
	}
	return nil
}
