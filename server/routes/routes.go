// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

/*
Package routes implements the public endpoint handlers.

Read endpoints return plain JSON; the token-issuing and write endpoints are
wrapped by the security package and return their payload instead of writing
it (see security.Handler).
*/
package routes

import (
	"strconv"
	"time"

	"codeberg.org/casebook/casebook/database"
	"codeberg.org/casebook/casebook/server/security"
)

// API bundles the dependencies of the endpoint handlers.
type API struct {
	DB    *database.DB
	Guard *security.Guard

	// MediaDir is the directory picture paths are resolved against.
	MediaDir string

	// timeNow is swapped out in tests.
	timeNow func() time.Time
}

// NewAPI returns the handler set backed by db and guarded by guard.
func NewAPI(db *database.DB, guard *security.Guard, mediaDir string) *API {
	return &API{
		DB:       db,
		Guard:    guard,
		MediaDir: mediaDir,
		timeNow:  time.Now,
	}
}

// pathID parses the numeric {id} path variable; ok is false when it is
// missing or malformed.
func pathID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}

	return id, true
}

// isoWeek returns the ISO week number of t, or 0 for the zero time.
func isoWeek(t *time.Time) int {
	if t == nil {
		return 0
	}

	_, week := t.ISOWeek()

	return week
}

// isoTime formats an optional timestamp for a JSON payload.
func isoTime(t *time.Time) any {
	if t == nil {
		return nil
	}

	return t.Format(time.RFC3339)
}
