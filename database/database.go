// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

/*
Package database provides SQLite persistence for content and session records.

The schema is created on open; there is no separate migration step.
Timestamps are stored as Unix integers to keep driver behavior predictable:
publication windows and link dates as seconds, response submissions as
nanoseconds since the concurrent-reply watermark needs sub-second resolution.
*/
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // database/sql driver
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	token   TEXT PRIMARY KEY,
	expires INTEGER NOT NULL,
	payload BLOB NOT NULL
);

CREATE TABLE IF NOT EXISTS pictures (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	mime_type TEXT NOT NULL,
	name      TEXT NOT NULL,
	path      TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS cases (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	picture_id  INTEGER REFERENCES pictures(id),
	publication INTEGER,
	closure     INTEGER,
	title       TEXT NOT NULL,
	body        TEXT,
	proposition TEXT,
	yes_votes   INTEGER NOT NULL DEFAULT 0,
	no_votes    INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS votes (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	case_id    INTEGER NOT NULL REFERENCES cases(id),
	submission INTEGER NOT NULL,
	agree      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS brain_teasers (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	picture_id  INTEGER REFERENCES pictures(id),
	publication INTEGER,
	closure     INTEGER,
	title       TEXT NOT NULL,
	body        TEXT
);

CREATE TABLE IF NOT EXISTS responses (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	brain_teaser_id INTEGER NOT NULL REFERENCES brain_teasers(id),
	submission      INTEGER NOT NULL,
	pseudonym       TEXT NOT NULL,
	upvotes         INTEGER NOT NULL DEFAULT 0,
	downvotes       INTEGER NOT NULL DEFAULT 0,
	message         TEXT
);

CREATE TABLE IF NOT EXISTS links (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	date      INTEGER NOT NULL,
	category  TEXT NOT NULL,
	body      TEXT,
	title_tag TEXT,
	href      TEXT
);

CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires);
CREATE INDEX IF NOT EXISTS idx_responses_teaser ON responses(brain_teaser_id, submission);
`

// DB wraps the SQL connection pool.
type DB struct {
	conn *sql.DB
}

// Open opens (creating if necessary) the database at path and ensures the
// schema exists. Use ":memory:" for an in-process throwaway database.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := path
	if path != ":memory:" {
		// Serialize writers instead of failing fast on lock contention.
		dsn = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", path)
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", path, err)
	}

	// The sqlite driver is happiest with a single writer connection.
	conn.SetMaxOpenConns(1)

	if _, err := conn.ExecContext(ctx, schema); err != nil {
		_ = conn.Close()

		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Database ready")

	return &DB{conn: conn}, nil
}

// Close releases the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}
