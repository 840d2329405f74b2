// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package middleware

import (
	"errors"
	"maps"
	"net/http"
	"net/http/httptest"

	"github.com/rs/zerolog/log"

	"codeberg.org/casebook/casebook/config"
	"codeberg.org/casebook/casebook/core/audit"
	"codeberg.org/casebook/casebook/server/request_context"
	"codeberg.org/casebook/casebook/server/routes"
)

// CatchError wraps HTTP handlers that return an error, providing centralized
// error handling, response buffering, and request logging.
//
// It operates as follows:
//  1. It times the request for logging purposes.
//  2. It wraps the execution of the given handler, which has the signature
//     `func(w http.ResponseWriter, r *http.Request) error`. The handler's
//     output is buffered using an httptest.ResponseRecorder.
//  3. Any error returned by the handler is stored in the request context.
//
// After the handler runs, it decides on the final response:
//   - A routes.ErrNotFound error becomes a plain 404 JSON response.
//   - Any other error returned without an HTTP error status code already
//     written (i.e., status < 400) is treated as an unhandled internal
//     error: the buffered response is discarded and a generic 500 JSON
//     response is sent instead.
//   - Otherwise the buffered response is written to the client as-is.
//
// Finally, it logs the completed request details (status, duration, error,
// etc.) via the audit package.
func CatchError(handler func(w http.ResponseWriter, r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := request_context.FromRequest(r)

		span := audit.Span{
			Destination: audit.ToUser,
			RequestID:   ctx.RequestID,
			Method:      r.Method,
			URL:         r.URL.String(),
		}

		_ = span.Begin(r.Context())
		defer span.End()

		recorder := httptest.NewRecorder()

		// Execute the handler, capturing its output and any returned error.
		err := handler(recorder, r)

		ctx.RequestError = err

		switch {
		case errors.Is(err, routes.ErrNotFound):
			ctx.StatusCode = http.StatusNotFound

			routes.WriteError(w, ctx.StatusCode, "not found")

		case err != nil && recorder.Code < http.StatusBadRequest:
			// An unhandled error occurred. Discard the recorder's contents
			// and send a generic error response.
			ctx.StatusCode = http.StatusInternalServerError

			routes.WriteError(w, ctx.StatusCode, "internal server error")

		default:
			// This is a successful response or a handled error. We trust the
			// recorder's output.
			if recorder.Code == 0 {
				recorder.Code = http.StatusOK
			}

			ctx.StatusCode = recorder.Code // Ensure ctx.StatusCode reflects the actual code for logging.
			maps.Copy(w.Header(), recorder.Header())
			w.WriteHeader(recorder.Code)

			if _, err := recorder.Body.WriteTo(w); err != nil {
				log.Err(err).Msg("Failed to write response body")
			}
		}

		span.StatusCode = ctx.StatusCode
		span.Error = ctx.RequestError

		// Log the application response if not excluded.
		if !config.Global.ShouldSkipServerLogging(r.URL.Path) {
			span.Log()
		}
	}
}
