// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package routes

import (
	"net/http"

	"codeberg.org/casebook/casebook/database"
)

// Tips handles GET /tips/: external references grouped by category.
//
// Labour-code tips are bare titles, site links carry an href, and book tips
// carry the author in the title tag column.
func (a *API) Tips(w http.ResponseWriter, r *http.Request) error {
	labour, err := a.DB.LinksByCategory(r.Context(), database.LinkLabour)
	if err != nil {
		return err
	}

	site, err := a.DB.LinksByCategory(r.Context(), database.LinkSite)
	if err != nil {
		return err
	}

	book, err := a.DB.LinksByCategory(r.Context(), database.LinkBook)
	if err != nil {
		return err
	}

	return WriteJSON(w, http.StatusOK, map[string]any{
		"labour": linkList(labour, func(l database.Link) map[string]any {
			return map[string]any{"title": l.Body}
		}),
		"site": linkList(site, func(l database.Link) map[string]any {
			return map[string]any{"title": l.Body, "href": l.Href}
		}),
		"book": linkList(book, func(l database.Link) map[string]any {
			return map[string]any{"title": l.Body, "author": l.TitleTag}
		}),
	})
}

func linkList(links []database.Link, shape func(database.Link) map[string]any) []map[string]any {
	listed := make([]map[string]any, 0, len(links))
	for _, l := range links {
		listed = append(listed, shape(l))
	}

	return listed
}
