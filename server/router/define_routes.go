// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package router

import (
	"fmt"
	"io/fs"
	"net/http"
	"net/http/pprof"

	"codeberg.org/casebook/casebook/config"
	"codeberg.org/casebook/casebook/server/assets"
	"codeberg.org/casebook/casebook/server/middleware"
	"codeberg.org/casebook/casebook/server/routes"
)

// DefineRoutes sets up all the routes for the application using our custom Router.
//
// It returns a *Router without middleware.
func (router *Router) DefineRoutes(api *routes.API) {
	fileServerHandler := fileServer()

	// Serve specific files from the root of the 'assets' subdirectory.
	router.Handle("GET /manifest.json", fileServerHandler)
	router.Handle("GET /robots.txt", fileServerHandler)

	// Serve files from subdirectories within 'assets'.
	// Patterns ending in "/" are prefix matches.
	router.Handle("GET /css/", fileServerHandler)
	router.Handle("GET /js/", fileServerHandler)

	// Case routes
	router.HandleFunc("GET /case/{$}", middleware.CatchError(api.CurrentCase))
	router.HandleFunc("GET /case/archive", middleware.CatchError(api.CaseArchive))
	router.HandleFunc("GET /case/{id}", middleware.CatchError(api.CaseByID))
	router.HandleFunc("POST /case/vote", middleware.CatchError(api.Guard.Protect(api.Vote)))

	// Reflection routes
	router.HandleFunc("GET /reflection/{$}", middleware.CatchError(api.Guard.Enable(api.CurrentReflection)))
	router.HandleFunc("GET /reflection/{id}", middleware.CatchError(api.Guard.Enable(api.ReflectionByID)))
	router.HandleFunc("POST /reflection/{id}/reply", middleware.CatchError(api.Guard.Protect(api.Reply)))

	// Reply moderation routes
	router.HandleFunc("POST /reply/{id}/moderate", middleware.CatchError(api.Guard.Protect(api.Moderate)))

	// Tips routes
	router.HandleFunc("GET /tips/{$}", middleware.CatchError(api.Tips))

	// Media routes
	router.HandleFunc("GET /media/{id}", middleware.CatchError(api.Media))
	router.HandleFunc("GET /media/{id}/{size}", middleware.CatchError(api.Media))

	// Index page routes
	// /{$} matches only the root path
	router.Handle("GET /{$}", fileServerHandler)

	if config.Global.Development.InDevelopment {
		registerDebugRoutes(router)
	}
}

// Serve static files from embedded assets.
func fileServer() http.HandlerFunc {
	staticContentFS, err := fs.Sub(assets.FS, "assets")
	if err != nil {
		panic(fmt.Errorf("failed to create sub-filesystem for embedded 'assets' directory: %w", err))
	}

	fileServer := http.FileServer(http.FS(staticContentFS))
	fileServerHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "max-age=3600")
		// Using a strong ETag for static files embedded via go:embed
		// ref: https://www.rfc-editor.org/rfc/rfc9110#weak.and.strong.validators
		//
		// Since go:embed requires rebuilding when files change, we use a per-instance
		// cache ID to ensure browsers fetch fresh content after any deployment.
		w.Header().Set("ETag", config.Global.Instance.InstanceID)
		fileServer.ServeHTTP(w, r)
	})

	return fileServerHandler
}

func registerDebugRoutes(router *Router) {
	router.HandleFunc("GET /debug/pprof/", pprof.Index)
	router.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
	router.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
	router.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
	router.HandleFunc("GET /debug/pprof/trace", pprof.Trace)
}
