// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetDefaults(t *testing.T) {
	t.Parallel()

	var cfg ServerConfig

	cfg.SetDefaults()

	assert.Equal(t, "localhost", cfg.Basic.Host)
	assert.Equal(t, "8282", cfg.Basic.Port)
	assert.Equal(t, 31*24*time.Hour, cfg.Session.Lifetime)
	assert.Equal(t, 200*time.Millisecond, cfg.Session.HumanLag)
	assert.Equal(t, 7, cfg.Captcha.Normals)
	assert.Equal(t, 3, cfg.Captcha.Oddballs)
	assert.Equal(t, 2*time.Minute, cfg.Captcha.AnswerWindow)
	assert.Equal(t, 30*time.Minute, cfg.Captcha.QuarantineWindow)
	assert.Equal(t, 10*time.Minute, cfg.Captcha.ReplyThrottle)
	assert.False(t, cfg.Limiter.Enabled)

	require.NoError(t, cfg.validateAndSet())
}

func TestReadEnvOverride(t *testing.T) {
	t.Setenv("CASEBOOK_PORT", "9090")
	t.Setenv("CASEBOOK_SESSION_HUMAN_LAG", "350ms")
	t.Setenv("CASEBOOK_LIMITER", "true")
	t.Setenv("CASEBOOK_LIMITER_PASS_IPS", "10.0.0.1, 10.0.0.2")

	var cfg ServerConfig

	cfg.SetDefaults()
	require.NoError(t, readEnv(&cfg))

	assert.Equal(t, "9090", cfg.Basic.Port)
	assert.Equal(t, 350*time.Millisecond, cfg.Session.HumanLag)
	assert.True(t, cfg.Limiter.Enabled)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, cfg.Limiter.PassIPs)
}

func TestReadEnvWithoutOverwriteKeepsValue(t *testing.T) {
	t.Setenv("CASEBOOK_UNIXSOCKET", "/tmp/env.sock")

	var cfg ServerConfig

	cfg.Basic.UnixSocket = "/tmp/yaml.sock"
	require.NoError(t, readEnv(&cfg))

	// UnixSocket has no overwrite option, so the YAML value wins.
	assert.Equal(t, "/tmp/yaml.sock", cfg.Basic.UnixSocket)
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	var cfg ServerConfig

	cfg.SetDefaults()
	cfg.Limiter.IPv4Prefix = 48
	assert.ErrorIs(t, cfg.validateAndSet(), errInvalidIPv4Prefix)

	cfg.SetDefaults()
	cfg.Captcha.Oddballs = 0
	assert.ErrorIs(t, cfg.validateAndSet(), errInvalidCaptchaCounts)

	cfg.SetDefaults()
	cfg.Database.Path = ""
	assert.ErrorIs(t, cfg.validateAndSet(), errEmptyDatabasePath)
}

func TestParseSocketPermissions(t *testing.T) {
	t.Parallel()

	mode, err := parseSocketPermissions("")
	require.NoError(t, err)
	assert.Equal(t, "-rw-rw-rw-", mode.Perm().String())

	mode, err = parseSocketPermissions("0644")
	require.NoError(t, err)
	assert.Equal(t, "-rw-r--r--", mode.Perm().String())

	mode, err = parseSocketPermissions("rwxr-x---")
	require.NoError(t, err)
	assert.Equal(t, "-rwxr-x---", mode.Perm().String())

	_, err = parseSocketPermissions("banana")
	assert.ErrorIs(t, err, errUnixSocketInvalidPermissions)
}
