// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

/*
Package security gates the write endpoints against scripted abuse.

Three checks cooperate, in order: the natural-request filter (does this look
like a browser-driven asynchronous call?), the token rotator (did the client
present the single-use token issued by the previous response?), and, for
posting endpoints, the CAPTCHA/quarantine gate. Every response, success or
rejection, carries a fresh token, so a well-behaved client always holds
exactly one valid next-token.

Handlers wrapped by Enable or Protect return their JSON payload instead of
writing to the ResponseWriter; the wrapper merges the next token into the
payload and writes the envelope.
*/
package security

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"codeberg.org/casebook/casebook/core/captcha"
	"codeberg.org/casebook/casebook/server/request_context"
	"codeberg.org/casebook/casebook/server/session"
	"codeberg.org/casebook/casebook/server/utils"
)

// Payload is the handler-provided part of a tokenized JSON envelope.
type Payload map[string]any

// Handler is an endpoint that produces a tokenized JSON response.
//
// Handlers set a non-200 status through the request context; the wrapper
// writes the final envelope.
type Handler func(w http.ResponseWriter, r *http.Request) (Payload, error)

// Guard wires the session manager and the CAPTCHA engine into the Enable and
// Protect wrappers.
type Guard struct {
	sessions   *session.Manager
	engine     *captcha.Engine
	humanLag   time.Duration
	quarantine time.Duration
	throttle   time.Duration

	// timeNow is swapped out in tests.
	timeNow func() time.Time
}

// NewGuard returns a configured Guard.
//
// humanLag is the minimum elapsed time between issuing a token and accepting
// it back; quarantine is how long a failed challenge locks a session out of
// posting; throttle is the minimum spacing between unprompted replies.
func NewGuard(sessions *session.Manager, engine *captcha.Engine, humanLag, quarantine, throttle time.Duration) *Guard {
	return &Guard{
		sessions:   sessions,
		engine:     engine,
		humanLag:   humanLag,
		quarantine: quarantine,
		throttle:   throttle,
		timeNow:    time.Now,
	}
}

// Enable wraps a read endpoint: the incoming request is not checked, but the
// response is tokenized so the client can make its first protected request.
func (g *Guard) Enable(h Handler) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		now := g.timeNow()
		ctx := r.Context()

		view, err := g.sessions.Load(ctx, r)
		if err != nil {
			return err
		}

		rc := request_context.FromRequest(r)
		rc.Session = view

		if err := rotate(view, now); err != nil {
			return err
		}

		payload, err := h(w, r)
		if err != nil {
			return err
		}

		return g.respond(ctx, w, r, view, payload)
	}
}

// Protect wraps a write endpoint. The request must pass the natural-request
// filter and the token freshness check before the handler runs; anything
// less taints the session and earns a bare rejection.
func (g *Guard) Protect(h Handler) func(w http.ResponseWriter, r *http.Request) error {
	return func(w http.ResponseWriter, r *http.Request) error {
		now := g.timeNow()
		ctx := r.Context()

		view, err := g.sessions.Load(ctx, r)
		if err != nil {
			return err
		}

		rc := request_context.FromRequest(r)
		rc.Session = view

		if !g.admissible(r, view, now) {
			view.Taint()

			if err := rotate(view, now); err != nil {
				return err
			}

			rc.StatusCode = http.StatusBadRequest

			// No diagnostic detail: a bot should not learn which check
			// it failed.
			return g.respond(ctx, w, r, view, Payload{"status": "rejected"})
		}

		if err := rotate(view, now); err != nil {
			return err
		}

		payload, err := h(w, r)
		if err != nil {
			return err
		}

		return g.respond(ctx, w, r, view, payload)
	}
}

// admissible runs the full conjunctive gate: natural request, clean session,
// a previously issued token that matches the submitted one, and a plausibly
// human delay since that token was issued.
func (g *Guard) admissible(r *http.Request, view *session.View, now time.Time) bool {
	if !natural(r) {
		return false
	}

	if view.Tainted() {
		return false
	}

	// A session that was never issued a token has nothing to present.
	if view.Former() == "" {
		return false
	}

	if utils.GetFormValue(r, "t") != view.Former() {
		return false
	}

	// A replayed token arrives faster than a human could plausibly act.
	return now.Sub(view.LastRequest()) >= g.humanLag
}

// natural reports whether the request carries the fingerprint of a
// browser-driven asynchronous call.
func natural(r *http.Request) bool {
	return r.Header.Get("X-Requested-With") == "XMLHttpRequest" &&
		r.Header.Get("User-Agent") != "" &&
		r.Header.Get("Referer") != ""
}

// rotate issues the next single-use token and records its issue time.
func rotate(view *session.View, now time.Time) error {
	token, err := session.GenerateToken()
	if err != nil {
		return err
	}

	view.SetToken(token)
	view.SetLastRequest(now)

	return nil
}

// respond persists the session and writes the tokenized envelope.
func (g *Guard) respond(ctx context.Context, w http.ResponseWriter, r *http.Request, view *session.View, payload Payload) error {
	if err := g.sessions.Save(ctx, w, r, view); err != nil {
		return err
	}

	if payload == nil {
		payload = Payload{}
	}
	payload["token"] = view.Token()

	rc := request_context.FromRequest(r)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rc.StatusCode)

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Err(err).Str("request_id", rc.RequestID).Msg("Failed to write response envelope")
	}

	return nil
}
