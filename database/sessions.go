// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SessionRecord is a stored session: an opaque token, its expiry and an
// opaque payload blob owned by the session layer.
type SessionRecord struct {
	Token   string
	Expires time.Time
	Payload []byte
}

// GetSession loads the session with the given token. Expired sessions are
// treated as absent.
func (db *DB) GetSession(ctx context.Context, token string, now time.Time) (*SessionRecord, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT token, expires, payload FROM sessions WHERE token = ? AND expires > ?`,
		token, now.Unix())

	var (
		rec     SessionRecord
		expires int64
	)

	if err := row.Scan(&rec.Token, &expires, &rec.Payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	rec.Expires = time.Unix(expires, 0)

	return &rec, nil
}

// ReplaceSession atomically removes the former token (if any) and stores the
// new record. Rotation must not leave a window where both tokens, or neither,
// are valid.
func (db *DB) ReplaceSession(ctx context.Context, former string, rec SessionRecord) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin session rotation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if former != "" {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, former); err != nil {
			return fmt.Errorf("failed to retire session token: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO sessions (token, expires, payload) VALUES (?, ?, ?)`,
		rec.Token, rec.Expires.Unix(), rec.Payload); err != nil {
		return fmt.Errorf("failed to store session: %w", err)
	}

	return tx.Commit()
}

// DeleteSession removes a single session token.
func (db *DB) DeleteSession(ctx context.Context, token string) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE token = ?`, token)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}

	return nil
}

// DeleteExpiredSessions removes all sessions whose expiry has passed and
// reports how many were removed.
func (db *DB) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM sessions WHERE expires <= ?`, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return n, nil
}
