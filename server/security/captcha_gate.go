// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package security

import (
	"time"

	"codeberg.org/casebook/casebook/core/captcha"
	"codeberg.org/casebook/casebook/server/session"
)

// IssueChallenge stores a fresh challenge on the session and returns the
// payload of a challenge response. Issuing a challenge lifts any standing
// quarantine: the visitor is being given a way back in, the stale deadline
// must not outlive it.
func (g *Guard) IssueChallenge(view *session.View) Payload {
	ch := g.engine.Issue()

	view.SetCaptcha(ch.Answer, ch.Expires)
	view.ClearQuarantine()

	return Payload{
		"status":            "captcha",
		"captcha_expires":   ch.Expires.Format(time.RFC3339),
		"captcha_challenge": ch.Text,
	}
}

// ClearForReply runs the CAPTCHA and throttle gates for a reply submission.
// It reports whether the reply may be written; on false the caller should
// respond with IssueChallenge.
//
// A visitor who just solved a challenge is exempt from the throttle for that
// one reply; the challenge already cost them the round trip.
func (g *Guard) ClearForReply(view *session.View, submittedAnswer string) bool {
	now := g.timeNow()
	hadChallenge := len(view.CaptchaAnswer()) > 0

	if !g.captchaSafe(view, submittedAnswer, now) {
		return false
	}

	if hadChallenge {
		return true
	}

	if last := view.LastReply(); !last.IsZero() && now.Sub(last) < g.throttle {
		return false
	}

	return true
}

// captchaSafe is the one-shot challenge evaluation.
//
// A pending challenge is consumed no matter what: the stored answer set and
// deadline are cleared on both success and failure, so a wrong guess cannot
// be refined against the same challenge. Failure starts a quarantine. With
// no challenge pending, an active quarantine rejects until it lapses, and a
// lapsed one is cleared on the way through.
func (g *Guard) captchaSafe(view *session.View, submittedAnswer string, now time.Time) bool {
	if stored := view.CaptchaAnswer(); len(stored) > 0 {
		authorized := submittedAnswer != "" &&
			!view.CaptchaExpires().Before(now) &&
			captcha.Match(stored, submittedAnswer)

		view.ClearCaptcha()

		if authorized {
			view.ClearQuarantine()

			return true
		}

		view.SetQuarantine(now.Add(g.quarantine))

		return false
	}

	if deadline := view.QuarantineDeadline(); !deadline.IsZero() {
		if now.After(deadline) {
			view.ClearQuarantine()

			return true
		}

		return false
	}

	return true
}
