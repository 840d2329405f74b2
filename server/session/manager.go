// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"codeberg.org/casebook/casebook/database"
	"codeberg.org/casebook/casebook/server/utils"
)

// Manager loads and saves session views against the database.
type Manager struct {
	db         *database.DB
	cookieName string
	lifetime   time.Duration

	// timeNow is swapped out in tests.
	timeNow func() time.Time
}

// NewManager returns a Manager storing sessions in db. Sessions expire
// lifetime after their last save.
func NewManager(db *database.DB, cookieName string, lifetime time.Duration) *Manager {
	return &Manager{
		db:         db,
		cookieName: cookieName,
		lifetime:   lifetime,
		timeNow:    time.Now,
	}
}

// Load resolves the request's session view.
//
// The "t" form field takes precedence over the session cookie: a client that
// carries a rotating token is mid-conversation, and the cookie may lag one
// rotation behind. A token that does not resolve to a live session yields a
// fresh, permanently tainted view under a new token, so replayed or forged
// tokens are never silently upgraded to clean sessions, while the forged
// attempt itself leaves a persisted trace carrying the alleged token. The
// legitimate record the forged token imitated, if any, is left untouched.
func (m *Manager) Load(ctx context.Context, r *http.Request) (*View, error) {
	candidate := utils.GetFormValue(r, "t")
	if candidate == "" {
		if c, err := r.Cookie(m.cookieName); err == nil {
			candidate = c.Value
		}
	}

	fresh := func(alleged string) (*View, error) {
		token, err := GenerateToken()
		if err != nil {
			return nil, err
		}

		view := &View{token: token}
		if alleged != "" {
			view.Taint()
			view.SetAllegedToken(alleged)
		}

		return view, nil
	}

	if candidate == "" {
		return fresh("")
	}

	rec, err := m.db.GetSession(ctx, candidate, m.timeNow())
	if err != nil {
		log.Debug().Str("token", candidate).Msg("Unrecognized session token")

		return fresh(candidate)
	}

	view := &View{token: candidate, former: candidate}

	if err := json.Unmarshal(rec.Payload, &view.data); err != nil {
		// A corrupt payload is treated like a forged token.
		log.Warn().Err(err).Msg("Discarding undecodable session payload")

		return fresh(candidate)
	}

	return view, nil
}

// Save persists the view if it was modified and has a token to be saved
// under, rotating away the former token in the same transaction. The token
// is also mirrored into a cookie so a visitor who loses the in-page token
// (e.g. by reloading) keeps their session.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, r *http.Request, view *View) error {
	if !view.modified || view.token == "" {
		return nil
	}

	raw, err := json.Marshal(view.data)
	if err != nil {
		return fmt.Errorf("failed to encode session payload: %w", err)
	}

	rec := database.SessionRecord{
		Token:   view.token,
		Expires: m.timeNow().Add(m.lifetime),
		Payload: raw,
	}

	former := view.former
	if former == view.token {
		former = ""
	}

	if err := m.db.ReplaceSession(ctx, former, rec); err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     m.cookieName,
		Value:    view.token,
		Path:     "/",
		Expires:  rec.Expires,
		HttpOnly: true,
		Secure:   utils.IsConnectionSecure(r),
		SameSite: http.SameSiteLaxMode,
	})

	view.former = view.token
	view.modified = false

	return nil
}

// Prune removes expired sessions and logs how many were dropped.
func (m *Manager) Prune(ctx context.Context) error {
	n, err := m.db.DeleteExpiredSessions(ctx, m.timeNow())
	if err != nil {
		return err
	}

	if n > 0 {
		log.Info().Int64("count", n).Msg("Pruned expired sessions")
	}

	return nil
}
