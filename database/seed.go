// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package database

import (
	"context"
	"fmt"
	"time"
)

// The insert helpers below back the editorial tooling and the test suites.
// Visitor-facing handlers never create cases, teasers, links or pictures.

// InsertCase stores a new case and returns its id.
func (db *DB) InsertCase(ctx context.Context, c Case) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO cases (picture_id, publication, closure, title, body, proposition, yes_votes, no_votes)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.PictureID, timeOrNil(c.Publication), timeOrNil(c.Closure),
		c.Title, c.Body, c.Proposition, c.YesVotes, c.NoVotes)
	if err != nil {
		return 0, fmt.Errorf("failed to insert case: %w", err)
	}

	return res.LastInsertId()
}

// InsertBrainTeaser stores a new teaser and returns its id.
func (db *DB) InsertBrainTeaser(ctx context.Context, t BrainTeaser) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO brain_teasers (picture_id, publication, closure, title, body)
		 VALUES (?, ?, ?, ?, ?)`,
		t.PictureID, timeOrNil(t.Publication), timeOrNil(t.Closure), t.Title, t.Body)
	if err != nil {
		return 0, fmt.Errorf("failed to insert brain teaser: %w", err)
	}

	return res.LastInsertId()
}

// InsertLink stores a new tips link and returns its id.
func (db *DB) InsertLink(ctx context.Context, l Link) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO links (date, category, body, title_tag, href)
		 VALUES (?, ?, ?, ?, ?)`,
		l.Date.Unix(), l.Category, l.Body, l.TitleTag, l.Href)
	if err != nil {
		return 0, fmt.Errorf("failed to insert link: %w", err)
	}

	return res.LastInsertId()
}

// InsertPicture stores a new media record and returns its id.
func (db *DB) InsertPicture(ctx context.Context, p Picture) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO pictures (mime_type, name, path) VALUES (?, ?, ?)`,
		p.MimeType, p.Name, p.Path)
	if err != nil {
		return 0, fmt.Errorf("failed to insert picture: %w", err)
	}

	return res.LastInsertId()
}

func timeOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}

	return t.Unix()
}
