// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package routes

import (
	"errors"
	"net/http"
	"time"
	"unicode/utf8"

	"codeberg.org/casebook/casebook/database"
	"codeberg.org/casebook/casebook/server/request_context"
	"codeberg.org/casebook/casebook/server/security"
	"codeberg.org/casebook/casebook/server/utils"
)

// maxPseudonymLength bounds the pseudonym form field, matching the column
// width the front end enforces client-side.
const maxPseudonymLength = 30

func responsePayload(resp database.Response) map[string]any {
	return map[string]any{
		"id":         resp.ID,
		"pseudonym":  resp.Pseudonym,
		"message":    resp.Message,
		"submission": resp.Submission.Format(time.RFC3339Nano),
		"up":         resp.Upvotes,
		"down":       resp.Downvotes,
	}
}

func (a *API) teaserPayload(r *http.Request, t *database.BrainTeaser, now time.Time) (security.Payload, error) {
	responses, err := a.DB.ResponsesSince(r.Context(), t.ID, time.Time{})
	if err != nil {
		return nil, err
	}

	listed := make([]map[string]any, 0, len(responses))
	for _, resp := range responses {
		listed = append(listed, responsePayload(resp))
	}

	payload := security.Payload{
		"id":          t.ID,
		"title":       t.Title,
		"text":        t.Body,
		"week":        isoWeek(t.Publication),
		"publication": isoTime(t.Publication),
		"closure":     isoTime(t.Closure),
		"responses":   listed,
		// The client echoes this back as last-retrieve so concurrent
		// replies can be detected. Nanosecond formatting keeps the echoed
		// watermark from lagging behind same-second submissions.
		"since": now.Format(time.RFC3339Nano),
	}
	if t.PictureID != nil {
		payload["picture"] = *t.PictureID
	}

	return payload, nil
}

// CurrentReflection handles GET /reflection/: the most recently published
// brain teaser with its reply thread. Wrapped by Guard.Enable so the client
// receives its first token here.
func (a *API) CurrentReflection(w http.ResponseWriter, r *http.Request) (security.Payload, error) {
	now := a.timeNow()

	t, err := a.DB.CurrentBrainTeaser(r.Context(), now)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotFound
		}

		return nil, err
	}

	return a.teaserPayload(r, t, now)
}

// ReflectionByID handles GET /reflection/{id}. Wrapped by Guard.Enable.
func (a *API) ReflectionByID(w http.ResponseWriter, r *http.Request) (security.Payload, error) {
	id, ok := pathID(utils.GetPathVar(r, "id"))
	if !ok {
		return nil, ErrNotFound
	}

	t, err := a.DB.BrainTeaserByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotFound
		}

		return nil, err
	}

	return a.teaserPayload(r, t, a.timeNow())
}

// Reply handles POST /reflection/{id}/reply. Wrapped by Guard.Protect.
//
// Form fields: p (pseudonym), r (message), last-retrieve (the since value of
// the client's last thread retrieval), ca (challenge answer, optional).
//
// Gate order: unknown id, closed thread, malformed fields, CAPTCHA and
// throttle, concurrent-reply detection, then the actual insert.
func (a *API) Reply(w http.ResponseWriter, r *http.Request) (security.Payload, error) {
	rc := request_context.FromRequest(r)
	now := a.timeNow()

	id, ok := pathID(utils.GetPathVar(r, "id"))
	if !ok {
		return nil, ErrNotFound
	}

	t, err := a.DB.BrainTeaserByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotFound
		}

		return nil, err
	}

	if t.Closed(now) || !t.Published(now) {
		rc.StatusCode = http.StatusBadRequest

		return security.Payload{"status": "closed"}, nil
	}

	pseudonym := utils.GetFormValue(r, "p")
	message := utils.GetFormValue(r, "r")
	lastRetrieve, parseErr := time.Parse(time.RFC3339, utils.GetFormValue(r, "last-retrieve"))

	if pseudonym == "" || message == "" ||
		utf8.RuneCountInString(pseudonym) > maxPseudonymLength || parseErr != nil {
		rc.StatusCode = http.StatusBadRequest

		return security.Payload{"status": "invalid"}, nil
	}

	view := rc.Session
	if !a.Guard.ClearForReply(view, utils.GetFormValue(r, "ca")) {
		return a.Guard.IssueChallenge(view), nil
	}

	// Replies that landed since the client last saw the thread would be
	// silently talked past; surface them instead of posting.
	concurrent, err := a.DB.ResponsesSince(r.Context(), id, lastRetrieve)
	if err != nil {
		return nil, err
	}

	if len(concurrent) > 0 {
		listed := make([]map[string]any, 0, len(concurrent))
		for _, resp := range concurrent {
			listed = append(listed, responsePayload(resp))
		}

		return security.Payload{
			"status": "ninja",
			"new":    listed,
			"since":  now.Format(time.RFC3339Nano),
		}, nil
	}

	if _, err := a.DB.InsertResponse(r.Context(), id, pseudonym, message, now); err != nil {
		return nil, err
	}

	view.SetLastReply(now)

	return security.Payload{"status": "success"}, nil
}

// Moderate handles POST /reply/{id}/moderate. Wrapped by Guard.Protect.
//
// Form field: choice ("up" or "down").
func (a *API) Moderate(w http.ResponseWriter, r *http.Request) (security.Payload, error) {
	rc := request_context.FromRequest(r)

	id, ok := pathID(utils.GetPathVar(r, "id"))
	if !ok {
		return nil, ErrNotFound
	}

	choice := utils.GetFormValue(r, "choice")
	if choice != "up" && choice != "down" {
		rc.StatusCode = http.StatusBadRequest

		return security.Payload{"status": "invalid"}, nil
	}

	if err := a.DB.ModerateResponse(r.Context(), id, choice == "up"); err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotFound
		}

		return nil, err
	}

	return security.Payload{"status": "success"}, nil
}
