// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package middleware

import (
	"net/http"

	"github.com/klauspost/compress/gzhttp"
)

// gzipWrapper is built once; gzhttp pools its writers internally.
var gzipWrapper = func() func(http.Handler) http.HandlerFunc {
	wrapper, err := gzhttp.NewWrapper(gzhttp.MinSize(1024))
	if err != nil {
		// Only reachable with invalid options.
		panic(err)
	}

	return wrapper
}()

// Compress transparently gzips responses for clients that accept it.
//
// Media responses are already-compressed image files; gzhttp skips them via
// its default content-type filter.
func Compress(w http.ResponseWriter, r *http.Request, next http.Handler) {
	gzipWrapper(next).ServeHTTP(w, r)
}
