// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package router

import (
	"codeberg.org/casebook/casebook/config"
	"codeberg.org/casebook/casebook/server/middleware"
	"codeberg.org/casebook/casebook/server/middleware/limiter"
	"codeberg.org/casebook/casebook/server/middleware/set_request_context"
)

func (router *Router) RegisterMiddleware() {
	// the first middleware is the most outer / first executed one
	router.Use(middleware.WithServerTiming)
	router.Use(middleware.NormalizeURL)                // canonicalize trailing slashes
	router.Use(set_request_context.WithRequestContext) // needed for everything else
	router.Use(middleware.SetResponseHeaders)          // all pages need this
	router.Use(middleware.Compress)

	if config.Global.Limiter.Enabled {
		limiter.Init()

		router.Use(limiter.Evaluate)
	}
}
