// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package routes

import (
	"errors"
	"net/http"

	"codeberg.org/casebook/casebook/database"
	"codeberg.org/casebook/casebook/server/request_context"
	"codeberg.org/casebook/casebook/server/security"
	"codeberg.org/casebook/casebook/server/utils"
)

func casePayload(c *database.Case) map[string]any {
	payload := map[string]any{
		"id":          c.ID,
		"title":       c.Title,
		"text":        c.Body,
		"proposition": c.Proposition,
		"week":        isoWeek(c.Publication),
		"publication": isoTime(c.Publication),
		"closure":     isoTime(c.Closure),
		"yes":         c.YesVotes,
		"no":          c.NoVotes,
	}
	if c.PictureID != nil {
		payload["picture"] = *c.PictureID
	}

	return payload
}

// CurrentCase handles GET /case/: the most recently published case.
func (a *API) CurrentCase(w http.ResponseWriter, r *http.Request) error {
	c, err := a.DB.CurrentCase(r.Context(), a.timeNow())
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrNotFound
		}

		return err
	}

	return WriteJSON(w, http.StatusOK, casePayload(c))
}

// CaseArchive handles GET /case/archive: all published cases whose
// voting window has closed, newest first.
func (a *API) CaseArchive(w http.ResponseWriter, r *http.Request) error {
	cases, err := a.DB.ArchivedCases(r.Context(), a.timeNow())
	if err != nil {
		return err
	}

	payloads := make([]map[string]any, 0, len(cases))
	for i := range cases {
		payloads = append(payloads, casePayload(&cases[i]))
	}

	return WriteJSON(w, http.StatusOK, map[string]any{"cases": payloads})
}

// CaseByID handles GET /case/{id}.
func (a *API) CaseByID(w http.ResponseWriter, r *http.Request) error {
	id, ok := pathID(utils.GetPathVar(r, "id"))
	if !ok {
		return ErrNotFound
	}

	c, err := a.DB.CaseByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return ErrNotFound
		}

		return err
	}

	return WriteJSON(w, http.StatusOK, casePayload(c))
}

// Vote handles POST /case/vote. Wrapped by Guard.Protect.
//
// Form fields: id (case), choice ("yes" or "no").
func (a *API) Vote(w http.ResponseWriter, r *http.Request) (security.Payload, error) {
	rc := request_context.FromRequest(r)
	now := a.timeNow()

	id, ok := pathID(utils.GetFormValue(r, "id"))
	if !ok {
		rc.StatusCode = http.StatusBadRequest

		return security.Payload{"status": "invalid"}, nil
	}

	choice := utils.GetFormValue(r, "choice")
	if choice != "yes" && choice != "no" {
		rc.StatusCode = http.StatusBadRequest

		return security.Payload{"status": "invalid"}, nil
	}

	c, err := a.DB.CaseByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrNotFound
		}

		return nil, err
	}

	if c.Closed(now) || !c.Published(now) {
		rc.StatusCode = http.StatusBadRequest

		return security.Payload{"status": "closed"}, nil
	}

	if err := a.DB.CastVote(r.Context(), id, choice == "yes", now); err != nil {
		return nil, err
	}

	return security.Payload{"status": "success"}, nil
}
