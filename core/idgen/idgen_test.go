// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package idgen

import (
	"strings"
	"testing"
	"time"
)

func TestMake(t *testing.T) {
	t.Parallel()

	now := time.Now()

	if strings.ReplaceAll(now.Format("15:04:05"), ":", "") != maketime(now) {
		t.Error("time part incorrect")
	}

	seen := make(map[string]bool)

	for range 32 {
		id := Make()
		if seen[id] {
			t.Errorf("duplicate id: %s", id)
		}

		seen[id] = true
	}
}
