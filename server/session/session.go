// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

/*
Package session implements server-side visitor sessions.

A session is identified by an opaque token that the client echoes back either
as the "t" form field or as a cookie. Tokens are single-use: the security
layer rotates them on every protected round trip, and rotation is atomic at
the database level so a replayed token never resolves to a live session.

All per-visitor state lives in the payload blob; the client only ever sees
the token.
*/
package session

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

const (
	// TokenLength is the length of session tokens in characters.
	TokenLength = 30

	tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// GenerateToken returns a fresh random session token.
func GenerateToken() (string, error) {
	max := big.NewInt(int64(len(tokenAlphabet)))
	buf := make([]byte, TokenLength)

	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("failed to generate session token: %w", err)
		}

		buf[i] = tokenAlphabet[n.Int64()]
	}

	return string(buf), nil
}

// payload is the serialized per-visitor state. Timestamps are Unix
// nanoseconds: the human-lag floor is a sub-second interval, so
// second-granularity storage would round it away.
//
// Field names are part of the stored format; renaming them invalidates
// existing sessions.
type payload struct {
	LastRequest       int64    `json:"last_request,omitempty"`
	Tainted           bool     `json:"tainted,omitempty"`
	CaptchaAnswer     []string `json:"captcha_answer,omitempty"`
	CaptchaExpires    int64    `json:"captcha_expires,omitempty"`
	CaptchaQuarantine int64    `json:"captcha_quarantine,omitempty"`
	LastReply         int64    `json:"last_reply,omitempty"`
	AllegedToken      string   `json:"alleged_token,omitempty"`
}

// View is the in-request handle on a visitor's session.
//
// A View is not safe for concurrent use; each request owns exactly one.
type View struct {
	token    string
	former   string
	data     payload
	modified bool
}

// Token returns the token the view will be saved under, or "" when no token
// has been assigned yet.
func (v *View) Token() string { return v.token }

// Former returns the token the session was loaded under, or "" for a fresh
// session.
func (v *View) Former() string { return v.former }

// Modified reports whether the view carries unsaved changes.
func (v *View) Modified() bool { return v.modified }

// SetToken assigns the token to save the session under. The security layer
// calls this with a fresh token on every protected round trip.
func (v *View) SetToken(token string) {
	v.token = token
	v.modified = true
}

// Tainted reports whether the visitor has been flagged as non-natural.
func (v *View) Tainted() bool { return v.data.Tainted }

// Taint permanently flags the session. The flag is sticky: nothing clears it.
func (v *View) Taint() {
	if !v.data.Tainted {
		v.data.Tainted = true
		v.modified = true
	}
}

// LastRequest returns when the current token was issued, or the zero time.
func (v *View) LastRequest() time.Time { return timeOf(v.data.LastRequest) }

// SetLastRequest records the token issue time.
func (v *View) SetLastRequest(t time.Time) {
	v.data.LastRequest = t.UnixNano()
	v.modified = true
}

// LastReply returns when the visitor last posted a reply, or the zero time.
func (v *View) LastReply() time.Time { return timeOf(v.data.LastReply) }

// SetLastReply records a successful reply submission.
func (v *View) SetLastReply(t time.Time) {
	v.data.LastReply = t.UnixNano()
	v.modified = true
}

// CaptchaAnswer returns the pending challenge's accepted words, or nil when
// no challenge is pending.
func (v *View) CaptchaAnswer() []string { return v.data.CaptchaAnswer }

// CaptchaExpires returns the deadline for answering the pending challenge.
func (v *View) CaptchaExpires() time.Time { return timeOf(v.data.CaptchaExpires) }

// SetCaptcha stores a pending challenge.
func (v *View) SetCaptcha(answer []string, expires time.Time) {
	v.data.CaptchaAnswer = answer
	v.data.CaptchaExpires = expires.UnixNano()
	v.modified = true
}

// ClearCaptcha discards the pending challenge, if any.
func (v *View) ClearCaptcha() {
	if v.data.CaptchaAnswer == nil && v.data.CaptchaExpires == 0 {
		return
	}

	v.data.CaptchaAnswer = nil
	v.data.CaptchaExpires = 0
	v.modified = true
}

// Quarantined reports whether the visitor is serving a challenge quarantine
// at the given time.
func (v *View) Quarantined(now time.Time) bool {
	return v.data.CaptchaQuarantine != 0 && now.UnixNano() < v.data.CaptchaQuarantine
}

// QuarantineDeadline returns when the quarantine lapses, or the zero time
// when none is active.
func (v *View) QuarantineDeadline() time.Time { return timeOf(v.data.CaptchaQuarantine) }

// SetQuarantine starts or extends a challenge quarantine.
func (v *View) SetQuarantine(until time.Time) {
	v.data.CaptchaQuarantine = until.UnixNano()
	v.modified = true
}

// ClearQuarantine ends the quarantine early, typically after a correct
// challenge answer.
func (v *View) ClearQuarantine() {
	if v.data.CaptchaQuarantine == 0 {
		return
	}

	v.data.CaptchaQuarantine = 0
	v.modified = true
}

// AllegedToken returns the unrecognized token this session was forked from,
// or "" for sessions that began legitimately.
func (v *View) AllegedToken() string { return v.data.AllegedToken }

// SetAllegedToken records the forged token behind a tainted fork so the
// persisted record keeps the forensic trail, not just the log.
func (v *View) SetAllegedToken(token string) {
	v.data.AllegedToken = token
	v.modified = true
}

func timeOf(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}

	return time.Unix(0, nanos)
}
