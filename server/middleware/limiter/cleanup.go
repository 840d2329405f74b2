// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package limiter

import (
	"time"

	"github.com/rs/zerolog/log"
)

var lastCleanupAt time.Time

// DoCleanup schedules a background sweep of expired limiters, at most
// once per CleanupInterval.
func DoCleanup() {
	now := time.Now()
	if lastCleanupAt.IsZero() {
		lastCleanupAt = now
		return
	}

	if now.Sub(lastCleanupAt) < CleanupInterval {
		return
	}

	lastCleanupAt = now

	go func() {
		cleanupExpiredLimiters()

		dur := time.Since(now)
		log.Info().Time("start", now).Dur("dur", dur).Msg("limiter cleanup")
	}()
}
