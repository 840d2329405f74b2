// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"
)

// Case is a published moral dilemma with its running vote tally.
type Case struct {
	ID          int64
	PictureID   *int64
	Publication *time.Time
	Closure     *time.Time
	Title       string
	Body        string
	Proposition string
	YesVotes    int64
	NoVotes     int64
}

// Published reports whether the case is visible at the given time.
func (c *Case) Published(now time.Time) bool {
	return c.Publication != nil && !c.Publication.After(now)
}

// Closed reports whether voting on the case has ended at the given time.
func (c *Case) Closed(now time.Time) bool {
	return c.Closure != nil && !c.Closure.After(now)
}

// BrainTeaser is a published discussion prompt.
type BrainTeaser struct {
	ID          int64
	PictureID   *int64
	Publication *time.Time
	Closure     *time.Time
	Title       string
	Body        string
}

// Published reports whether the teaser is visible at the given time.
func (t *BrainTeaser) Published(now time.Time) bool {
	return t.Publication != nil && !t.Publication.After(now)
}

// Closed reports whether replies to the teaser have ended at the given time.
func (t *BrainTeaser) Closed(now time.Time) bool {
	return t.Closure != nil && !t.Closure.After(now)
}

// Response is a visitor reply to a brain teaser.
type Response struct {
	ID          int64
	BrainTeaser int64
	Submission  time.Time
	Pseudonym   string
	Upvotes     int64
	Downvotes   int64
	Message     string
}

// Link is a dated external reference shown on the tips page.
type Link struct {
	ID       int64
	Date     time.Time
	Category string
	Body     string
	TitleTag string
	Href     string
}

// Link categories as stored in the links table.
const (
	LinkLabour = "labour"
	LinkSite   = "site"
	LinkBook   = "book"
)

// Picture describes a stored media file.
type Picture struct {
	ID       int64
	MimeType string
	Name     string
	Path     string
}

func scanCase(row *sql.Row) (*Case, error) {
	var (
		c           Case
		picture     sql.NullInt64
		publication sql.NullInt64
		closure     sql.NullInt64
		body        sql.NullString
		proposition sql.NullString
	)

	err := row.Scan(&c.ID, &picture, &publication, &closure,
		&c.Title, &body, &proposition, &c.YesVotes, &c.NoVotes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to load case: %w", err)
	}

	if picture.Valid {
		c.PictureID = &picture.Int64
	}
	c.Publication = unixOrNil(publication)
	c.Closure = unixOrNil(closure)
	c.Body = body.String
	c.Proposition = proposition.String

	return &c, nil
}

const caseColumns = `id, picture_id, publication, closure, title, body, proposition, yes_votes, no_votes`

// CurrentCase returns the most recently published case that is visible now.
func (db *DB) CurrentCase(ctx context.Context, now time.Time) (*Case, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM cases
		 WHERE publication IS NOT NULL AND publication <= ?
		 ORDER BY publication DESC LIMIT 1`, now.Unix())

	return scanCase(row)
}

// CaseByID returns a single case regardless of publication state; callers
// decide what unpublished means for them.
func (db *DB) CaseByID(ctx context.Context, id int64) (*Case, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+caseColumns+` FROM cases WHERE id = ?`, id)

	return scanCase(row)
}

// ArchivedCases lists all cases that are published and closed, newest first.
func (db *DB) ArchivedCases(ctx context.Context, now time.Time) ([]Case, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+caseColumns+` FROM cases
		 WHERE publication IS NOT NULL AND publication <= ?
		   AND closure IS NOT NULL AND closure <= ?
		 ORDER BY publication DESC`, now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list archived cases: %w", err)
	}
	defer rows.Close()

	var cases []Case

	for rows.Next() {
		var (
			c           Case
			picture     sql.NullInt64
			publication sql.NullInt64
			closure     sql.NullInt64
			body        sql.NullString
			proposition sql.NullString
		)

		err := rows.Scan(&c.ID, &picture, &publication, &closure,
			&c.Title, &body, &proposition, &c.YesVotes, &c.NoVotes)
		if err != nil {
			return nil, fmt.Errorf("failed to scan case: %w", err)
		}

		if picture.Valid {
			c.PictureID = &picture.Int64
		}
		c.Publication = unixOrNil(publication)
		c.Closure = unixOrNil(closure)
		c.Body = body.String
		c.Proposition = proposition.String

		cases = append(cases, c)
	}

	return cases, rows.Err()
}

// CastVote records a vote on a case, updating the tally and the vote log in
// one transaction. The caller is responsible for publication and closure
// checks.
func (db *DB) CastVote(ctx context.Context, caseID int64, agree bool, now time.Time) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin vote: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	column := "no_votes"
	if agree {
		column = "yes_votes"
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE cases SET `+column+` = `+column+` + 1 WHERE id = ?`, caseID)
	if err != nil {
		return fmt.Errorf("failed to update tally: %w", err)
	}

	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO votes (case_id, submission, agree) VALUES (?, ?, ?)`,
		caseID, now.Unix(), agree); err != nil {
		return fmt.Errorf("failed to log vote: %w", err)
	}

	return tx.Commit()
}

func scanTeaser(row *sql.Row) (*BrainTeaser, error) {
	var (
		t           BrainTeaser
		picture     sql.NullInt64
		publication sql.NullInt64
		closure     sql.NullInt64
		body        sql.NullString
	)

	err := row.Scan(&t.ID, &picture, &publication, &closure, &t.Title, &body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to load brain teaser: %w", err)
	}

	if picture.Valid {
		t.PictureID = &picture.Int64
	}
	t.Publication = unixOrNil(publication)
	t.Closure = unixOrNil(closure)
	t.Body = body.String

	return &t, nil
}

const teaserColumns = `id, picture_id, publication, closure, title, body`

// CurrentBrainTeaser returns the most recently published teaser.
func (db *DB) CurrentBrainTeaser(ctx context.Context, now time.Time) (*BrainTeaser, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+teaserColumns+` FROM brain_teasers
		 WHERE publication IS NOT NULL AND publication <= ?
		 ORDER BY publication DESC LIMIT 1`, now.Unix())

	return scanTeaser(row)
}

// BrainTeaserByID returns a single teaser regardless of publication state.
func (db *DB) BrainTeaserByID(ctx context.Context, id int64) (*BrainTeaser, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+teaserColumns+` FROM brain_teasers WHERE id = ?`, id)

	return scanTeaser(row)
}

// ResponsesSince lists replies to a teaser submitted strictly after the given
// time, oldest first. Pass time.Time{} for the full thread. Submissions are
// stored at nanosecond precision so a reply landing in the same second as the
// caller's watermark still counts as new.
func (db *DB) ResponsesSince(ctx context.Context, teaserID int64, since time.Time) ([]Response, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, brain_teaser_id, submission, pseudonym, upvotes, downvotes, message
		 FROM responses WHERE brain_teaser_id = ? AND submission > ?
		 ORDER BY submission ASC, id ASC`, teaserID, nanosOf(since))
	if err != nil {
		return nil, fmt.Errorf("failed to list responses: %w", err)
	}
	defer rows.Close()

	var responses []Response

	for rows.Next() {
		var (
			r          Response
			submission int64
			message    sql.NullString
		)

		err := rows.Scan(&r.ID, &r.BrainTeaser, &submission,
			&r.Pseudonym, &r.Upvotes, &r.Downvotes, &message)
		if err != nil {
			return nil, fmt.Errorf("failed to scan response: %w", err)
		}

		r.Submission = time.Unix(0, submission)
		r.Message = message.String

		responses = append(responses, r)
	}

	return responses, rows.Err()
}

// InsertResponse stores a new reply and returns its id.
func (db *DB) InsertResponse(ctx context.Context, teaserID int64, pseudonym, message string, now time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`INSERT INTO responses (brain_teaser_id, submission, pseudonym, message)
		 VALUES (?, ?, ?, ?)`, teaserID, now.UnixNano(), pseudonym, message)
	if err != nil {
		return 0, fmt.Errorf("failed to store response: %w", err)
	}

	return res.LastInsertId()
}

// ModerateResponse increments a reply's up or down counter.
func (db *DB) ModerateResponse(ctx context.Context, responseID int64, up bool) error {
	column := "downvotes"
	if up {
		column = "upvotes"
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE responses SET `+column+` = `+column+` + 1 WHERE id = ?`, responseID)
	if err != nil {
		return fmt.Errorf("failed to moderate response: %w", err)
	}

	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}

	return nil
}

// LinksByCategory returns all links of one category, newest first.
func (db *DB) LinksByCategory(ctx context.Context, category string) ([]Link, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, date, category, body, title_tag, href
		 FROM links WHERE category = ? ORDER BY date DESC, id DESC`, category)
	if err != nil {
		return nil, fmt.Errorf("failed to list links: %w", err)
	}
	defer rows.Close()

	var links []Link

	for rows.Next() {
		var (
			l        Link
			date     int64
			body     sql.NullString
			titleTag sql.NullString
			href     sql.NullString
		)

		if err := rows.Scan(&l.ID, &date, &l.Category, &body, &titleTag, &href); err != nil {
			return nil, fmt.Errorf("failed to scan link: %w", err)
		}

		l.Date = time.Unix(date, 0)
		l.Body = body.String
		l.TitleTag = titleTag.String
		l.Href = href.String

		links = append(links, l)
	}

	return links, rows.Err()
}

// PictureByID resolves a media record.
func (db *DB) PictureByID(ctx context.Context, id int64) (*Picture, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT id, mime_type, name, path FROM pictures WHERE id = ?`, id)

	var p Picture

	if err := row.Scan(&p.ID, &p.MimeType, &p.Name, &p.Path); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("failed to load picture: %w", err)
	}

	return &p, nil
}

// nanosOf converts to the stored nanosecond representation; the zero time
// maps below every storable timestamp so it selects the whole thread.
func nanosOf(t time.Time) int64 {
	if t.IsZero() {
		return math.MinInt64
	}

	return t.UnixNano()
}

func unixOrNil(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}

	t := time.Unix(v.Int64, 0)

	return &t
}
