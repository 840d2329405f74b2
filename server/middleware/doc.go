// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

/*
Package middleware provides HTTP request handling functionality for Casebook.

Route definitions are centralized in the router package's DefineRoutes
function; the middleware chain itself is assembled in RegisterMiddleware.
*/
package middleware
