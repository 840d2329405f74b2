// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package limiter

import (
	"math"
	"net/http"
	"strconv"

	"github.com/rs/zerolog/log"

	"codeberg.org/casebook/casebook/config"
	"codeberg.org/casebook/casebook/server/routes"
)

// Rate limiting header names.
//
// ref: https://www.ietf.org/archive/id/draft-polli-ratelimit-headers-02.html
const (
	HeaderRateLimitLimit     string = "RateLimit-Limit" // This is intended.
	HeaderRateLimitRemaining string = "RateLimit-Remaining"
	HeaderRateLimitReset     string = "RateLimit-Reset"
	HeaderRateLimitStatus    string = "RateLimit-Status" // Non-standard.
)

// excludedPaths won't have traffic filtered by the limiter middleware.
var excludedPaths = []string{
	"/css/",
	"/js/",
	"/manifest.json",
	"/robots.txt",
}

// Evaluate is the entrypoint to the limiter middleware.
//
// The logic was originally based on the reference SearXNG code in searx/botdetection.
//
// Header checks apply to all non-excluded requests rather than a single
// endpoint; better to enumerate goodness via excluded paths than badness.
func Evaluate(w http.ResponseWriter, r *http.Request, next http.Handler) {
	defer DoCleanup()

	client, err := newClientInfo(r)
	if client == nil || err != nil {
		log.Error().Err(err).Msg("Could not identify client for rate limiting")

		routes.WriteError(w, http.StatusForbidden, "could not identify client")

		return
	}

	// 1: Fast-path exclusions - check if the path is completely exempt from filtering.
	if client.isExcludedPath(r) {
		next.ServeHTTP(w, r)

		return
	}

	// 2: IP-based filtering - explicit allow/deny lists take precedence.
	if allowed, blocked := client.checkIPLists(); allowed {
		log.Info().
			Str("ip", client.ip.String()).
			Str("network", client.network.String()).
			Msg("Request allowed, IP in pass-list")
		next.ServeHTTP(w, r)

		return
	} else if blocked {
		log.Warn().
			Str("ip", client.ip.String()).
			Str("network", client.network.String()).
			Msg("Request blocked, IP in block-list")

		routes.WriteError(w, http.StatusForbidden, "IP in block-list")

		return
	}

	// 3: Local network filtering (optional based on configuration).
	if !config.Global.Limiter.FilterLocal && client.isLocalLink() {
		next.ServeHTTP(w, r)

		return
	}

	// 4: Check request headers (conditionally).
	if config.Global.Limiter.CheckHeaders {
		if blockReason := client.blockedByHeaders(r); blockReason != "" {
			log.Warn().
				Str("ip", client.ip.String()).
				Str("network", client.network.String()).
				Str("reason", blockReason).
				Msg("Request blocked, headers")

			routes.WriteError(w, http.StatusForbidden, blockReason)

			return
		}
	}

	// 5: Network history - clients that survive the header checks count as
	// non-suspicious towards their network's history.
	client.clearSuspiciousStatus()

	client.limiter = getOrCreateLimiter(client.network.String(), client.isSuspicious)
	updateNetworkHistory(client.limiter, client.network.String(), client.isSuspicious)

	// 6: Rate limiting - apply limits based on the network's status.
	if blockReason := checkRateLimit(client.limiter, client.network.String()); blockReason != "" {
		log.Warn().
			Str("ip", client.ip.String()).
			Str("network", client.network.String()).
			Str("fingerprint", client.fingerprint).
			Bool("suspicious", client.isSuspicious).
			Str("reason", blockReason).
			Msg("Request blocked, exceeded rate limit")
		addRateLimitHeaders(w, client)

		routes.WriteError(w, http.StatusTooManyRequests, blockReason)

		return
	}

	// All checks passed - serve the request.
	addRateLimitHeaders(w, client)
	next.ServeHTTP(w, r)
}

// addRateLimitHeaders adds rate limiting information to the response headers.
func addRateLimitHeaders(w http.ResponseWriter, client *ClientInfo) {
	if client == nil || client.limiter == nil {
		return
	}

	client.limiter.mu.Lock()
	defer client.limiter.mu.Unlock()

	limiter := client.limiter.limiter

	// Get current tokens and limit info.
	currentTokens := limiter.Tokens()
	burst := limiter.Burst()
	limit := limiter.Limit()

	// Calculate tokens remaining (can't exceed burst).
	remaining := int(math.Min(float64(burst), currentTokens))

	// Calculate seconds until full bucket replenishment (if not already full).
	var resetTime int64

	if currentTokens < float64(burst) {
		tokenDeficit := float64(burst) - currentTokens
		if limit > 0 {
			resetTime = int64(math.Ceil(tokenDeficit / float64(limit)))
		}
	}

	// Add Rate-Limit headers.
	resetStr := strconv.FormatInt(resetTime, 10)

	w.Header().Set(HeaderRateLimitLimit, strconv.Itoa(burst))
	w.Header().Set(HeaderRateLimitRemaining, strconv.Itoa(remaining))
	w.Header().Set(HeaderRateLimitReset, resetStr)

	// Add Retry-After header if rate limited (remaining = 0).
	// Retry-After should be seconds.
	if remaining <= 0 && resetTime >= 0 {
		w.Header().Set("Retry-After", resetStr)
	}

	// Add status headers.
	var statusValue string
	if client.isSuspicious {
		statusValue = "Suspicious"
	} else {
		statusValue = "Normal"
	}

	w.Header().Set(HeaderRateLimitStatus, statusValue)
}
