// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package middleware

import (
	"net/http"
	"strings"
)

// slashedCollections are the canonical collection paths; the front end
// requests them with the trailing slash.
var slashedCollections = []string{
	"/case",
	"/reflection",
	"/tips",
}

// NormalizeURL is a middleware that handles URL normalization by:
// 1. Adding the trailing slash to bare collection paths.
// 2. Removing trailing slashes from all other URLs (except root).
func NormalizeURL(w http.ResponseWriter, r *http.Request, next http.Handler) {
	if isBareCollection(r) {
		addTrailingSlash(w, r)

		return
	}

	if hasStrayTrailingSlash(r) {
		removeTrailingSlash(w, r)

		return
	}

	// No normalization needed, continue to next handler
	next.ServeHTTP(w, r)
}

// isBareCollection checks if a request path is a collection path missing its
// trailing slash.
func isBareCollection(r *http.Request) bool {
	for _, p := range slashedCollections {
		if r.URL.Path == p {
			return true
		}
	}

	return false
}

// addTrailingSlash redirects to the canonical slashed collection path.
func addTrailingSlash(w http.ResponseWriter, r *http.Request) {
	url := r.URL
	url.Path += "/"

	http.Redirect(w, r, url.String(), http.StatusPermanentRedirect)
}

// hasStrayTrailingSlash checks if a request path carries a trailing slash
// that is not part of a canonical collection path.
func hasStrayTrailingSlash(r *http.Request) bool {
	path := r.URL.Path
	if path == "/" || !strings.HasSuffix(path, "/") {
		return false
	}

	for _, p := range slashedCollections {
		if path == p+"/" {
			return false
		}
	}

	return true
}

// removeTrailingSlash removes trailing slash and redirects.
func removeTrailingSlash(w http.ResponseWriter, r *http.Request) {
	url := r.URL
	url.Path = strings.TrimSuffix(url.Path, "/")

	http.Redirect(w, r, url.String(), http.StatusPermanentRedirect)
}
