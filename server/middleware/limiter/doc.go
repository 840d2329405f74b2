// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

// Package limiter provides network-based rate limiting and bot
// filtering for incoming HTTP requests.
//
// Clients are grouped by their IP network, with shared token buckets
// applied depending on the network's history. Requests may also be
// rejected outright based on explicit IP lists or header heuristics.
package limiter
