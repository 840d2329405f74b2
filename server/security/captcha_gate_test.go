// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package security

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/casebook/casebook/server/session"
)

func TestIssueChallengeStoresAnswerAndLiftsQuarantine(t *testing.T) {
	g := testGuard(t)
	now := time.Now()

	view := &session.View{}
	view.SetQuarantine(now.Add(20 * time.Minute))

	payload := g.IssueChallenge(view)

	assert.Equal(t, "captcha", payload["status"])
	assert.NotEmpty(t, payload["captcha_challenge"])
	assert.Len(t, view.CaptchaAnswer(), 3)
	assert.False(t, view.Quarantined(now))

	expires, err := time.Parse(time.RFC3339, payload["captcha_expires"].(string))
	require.NoError(t, err)
	assert.WithinDuration(t, now.Add(2*time.Minute), expires, 5*time.Second)
}

func TestClearForReplyWithCorrectAnswer(t *testing.T) {
	g := testGuard(t)

	view := &session.View{}
	g.IssueChallenge(view)

	answer := strings.Join(view.CaptchaAnswer(), " ")

	assert.True(t, g.ClearForReply(view, answer))
	assert.Empty(t, view.CaptchaAnswer(), "challenge must be consumed")
	assert.False(t, view.Quarantined(g.timeNow()))
}

func TestClearForReplyWithWrongAnswerQuarantines(t *testing.T) {
	g := testGuard(t)
	now := g.timeNow()

	view := &session.View{}
	g.IssueChallenge(view)

	assert.False(t, g.ClearForReply(view, "definitely wrong words"))
	assert.Empty(t, view.CaptchaAnswer(), "challenge must be consumed either way")
	assert.True(t, view.Quarantined(now))

	// One-shot: resubmitting the right words against the consumed challenge
	// cannot help while quarantined.
	assert.False(t, g.ClearForReply(view, "anything"))
}

func TestChallengeAnswerExpires(t *testing.T) {
	g := testGuard(t)

	view := &session.View{}
	g.IssueChallenge(view)

	answer := strings.Join(view.CaptchaAnswer(), " ")

	// Submit the correct words after the answer window has closed.
	g.timeNow = func() time.Time { return time.Now().Add(3 * time.Minute) }

	assert.False(t, g.ClearForReply(view, answer))
	assert.True(t, view.Quarantined(g.timeNow()))
}

func TestQuarantineBoundary(t *testing.T) {
	g := testGuard(t)
	now := time.Now()

	view := &session.View{}
	view.SetQuarantine(now.Add(30 * time.Minute))

	// Just before the deadline: still locked out.
	g.timeNow = func() time.Time { return now.Add(30*time.Minute - time.Second) }
	assert.False(t, g.ClearForReply(view, ""))

	// Just after: the quarantine lapses and is cleared on the way through.
	g.timeNow = func() time.Time { return now.Add(30*time.Minute + time.Second) }
	assert.True(t, g.ClearForReply(view, ""))
	assert.True(t, view.QuarantineDeadline().IsZero())
}

func TestQuarantineHoldsThroughItsFinalSecond(t *testing.T) {
	g := testGuard(t)
	now := time.Date(2026, 8, 30, 12, 0, 0, 900_000_000, time.UTC)

	view := &session.View{}
	view.SetQuarantine(now.Add(30 * time.Minute))

	// 100ms shy of the deadline: rounding the stored deadline down to whole
	// seconds would already have opened the gate here.
	g.timeNow = func() time.Time { return now.Add(30*time.Minute - 100*time.Millisecond) }
	assert.False(t, g.ClearForReply(view, ""))

	g.timeNow = func() time.Time { return now.Add(30*time.Minute + time.Millisecond) }
	assert.True(t, g.ClearForReply(view, ""))
}

func TestReplyThrottle(t *testing.T) {
	g := testGuard(t)
	now := time.Now()

	view := &session.View{}
	view.SetLastReply(now.Add(-5 * time.Minute))

	// Within the throttle window with no challenge pending: not cleared.
	g.timeNow = func() time.Time { return now }
	assert.False(t, g.ClearForReply(view, ""))

	// Outside the window: cleared.
	g.timeNow = func() time.Time { return now.Add(6 * time.Minute) }
	view2 := &session.View{}
	view2.SetLastReply(now.Add(-5 * time.Minute))
	assert.True(t, g.ClearForReply(view2, ""))
}

func TestSolvedChallengeBypassesThrottle(t *testing.T) {
	g := testGuard(t)
	now := time.Now()

	view := &session.View{}
	view.SetLastReply(now.Add(-time.Minute))
	g.IssueChallenge(view)

	answer := strings.Join(view.CaptchaAnswer(), " ")

	// Solving the challenge clears the visitor for this reply even though
	// the previous reply was a minute ago.
	assert.True(t, g.ClearForReply(view, answer))
}
