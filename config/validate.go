// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package config

import (
	"errors"
	"os"
	"regexp"
	"strconv"
)

// validation errors.
var (
	errUnixSocketWithHostPort       = errors.New("unix socket configured - cannot specify Host and Port simultaneously")
	errUnixSocketInvalidPermissions = errors.New("invalid Basic.UnixSocketPermissions value")
	errInvalidIPv4Prefix            = errors.New("IPv4 prefix must be between 0 and 32")
	errInvalidIPv6Prefix            = errors.New("IPv6 prefix must be between 0 and 128")
	errInvalidCaptchaCounts         = errors.New("captcha Normals and Oddballs must be positive")
	errNonPositiveWindow            = errors.New("session and captcha windows must be positive")
	errEmptyDatabasePath            = errors.New("database path cannot be empty")
	errEmptySessionCookieName       = errors.New("session cookie name cannot be empty")
)

var (
	fileModeOctalRegexp  = regexp.MustCompile(`^0?[0-7]{3}$`)
	fileModeStringRegexp = regexp.MustCompile(`^(?:[r-][w-][x-]){3}$`)
)

const maxIPv4Prefix, maxIPv6Prefix = 32, 128

// validateAndSet validates the server configuration and populates some fields.
func (cfg *ServerConfig) validateAndSet() error {
	if cfg.Basic.UnixSocket != "" {
		// Defaults are fine; an explicitly configured TCP address is not.
		defaults := ServerConfig{}
		defaults.SetDefaults()

		if (cfg.Basic.Host != "" && cfg.Basic.Host != defaults.Basic.Host) ||
			(cfg.Basic.Port != "" && cfg.Basic.Port != defaults.Basic.Port) {
			return errUnixSocketWithHostPort
		}

		mode, err := parseSocketPermissions(cfg.Basic.RawUnixSocketPermissions)
		if err != nil {
			return err
		}

		cfg.Basic.UnixSocketPermissions = mode
	}

	if cfg.Database.Path == "" {
		return errEmptyDatabasePath
	}

	if cfg.Session.CookieName == "" {
		return errEmptySessionCookieName
	}

	if cfg.Session.Lifetime <= 0 || cfg.Session.HumanLag <= 0 ||
		cfg.Captcha.AnswerWindow <= 0 || cfg.Captcha.QuarantineWindow <= 0 ||
		cfg.Captcha.ReplyThrottle <= 0 {
		return errNonPositiveWindow
	}

	if cfg.Captcha.Normals <= 0 || cfg.Captcha.Oddballs <= 0 {
		return errInvalidCaptchaCounts
	}

	if cfg.Limiter.IPv4Prefix < 0 || cfg.Limiter.IPv4Prefix > maxIPv4Prefix {
		return errInvalidIPv4Prefix
	}

	if cfg.Limiter.IPv6Prefix < 0 || cfg.Limiter.IPv6Prefix > maxIPv6Prefix {
		return errInvalidIPv6Prefix
	}

	return nil
}

// parseSocketPermissions accepts either octal ("0666") or symbolic
// ("rw-rw-rw-") notation; empty input selects 0666.
func parseSocketPermissions(raw string) (os.FileMode, error) {
	switch {
	case raw == "":
		return 0o666, nil
	case fileModeOctalRegexp.MatchString(raw):
		rawModeUint64, _ := strconv.ParseUint(raw, 8, 32)

		return os.FileMode(rawModeUint64), nil
	case fileModeStringRegexp.MatchString(raw):
		mode := os.FileMode(0)

		for i, c := range raw {
			if c != '-' {
				const bitsInByte = 8

				mode |= 1 << (bitsInByte - i)
			}
		}

		return mode, nil
	default:
		return 0, errUnixSocketInvalidPermissions
	}
}
