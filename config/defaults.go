// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package config

import "time"

const (
	// Default permanent session lifetime in days.
	defaultSessionLifetimeDays = 31
	// Default minimum human reaction floor in milliseconds.
	defaultHumanLagMs = 200
	// Default captcha answer window in minutes.
	defaultAnswerWindowMinutes = 2
	// Default posting quarantine after a failed captcha, in minutes.
	defaultQuarantineMinutes = 30
	// Default reply throttle window in minutes.
	defaultReplyThrottleMinutes = 10

	hoursPerDay = 24
)

// SetDefaults populates the configuration with default values.
func (cfg *ServerConfig) SetDefaults() {
	cfg.Basic.Host = "localhost"
	cfg.Basic.Port = "8282"

	cfg.Database.Path = "./data/casebook.db"

	cfg.Media.Directory = "./data/media"

	cfg.Session.CookieName = "casebook_session"
	cfg.Session.Lifetime = defaultSessionLifetimeDays * hoursPerDay * time.Hour
	cfg.Session.HumanLag = defaultHumanLagMs * time.Millisecond
	cfg.Session.CleanupInterval = time.Hour

	cfg.Captcha.DataFile = "./data/captcha.json"
	cfg.Captcha.Normals = 7
	cfg.Captcha.Oddballs = 3
	cfg.Captcha.AnswerWindow = defaultAnswerWindowMinutes * time.Minute
	cfg.Captcha.QuarantineWindow = defaultQuarantineMinutes * time.Minute
	cfg.Captcha.ReplyThrottle = defaultReplyThrottleMinutes * time.Minute

	cfg.Log.Level = "info"

	cfg.Limiter.Enabled = false
	cfg.Limiter.FilterLocal = false
	cfg.Limiter.IPv4Prefix = 24
	cfg.Limiter.IPv6Prefix = 48
	cfg.Limiter.CheckHeaders = true
	cfg.Limiter.StateFilepath = "./data/limiter-state.json"
}
