// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package config

// BuildVersion is the release version reported in response headers.
//
// Overridden at build time:
//
//	go build -ldflags "-X codeberg.org/casebook/casebook/config.BuildVersion=v1.2.3"
var BuildVersion = "dev"
