// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package limiter

import (
	"bytes"
	"testing"
	"time"
)

func TestAddClientToHistory(t *testing.T) {
	t.Parallel()

	var history clientHistory

	// Fill half the buffer with suspicious clients.
	for range MaxNetworkClientHistory / 2 {
		addClientToHistory(&history, true)
	}

	if history.count != MaxNetworkClientHistory/2 {
		t.Errorf("expected count %d, got %d", MaxNetworkClientHistory/2, history.count)
	}

	if history.suspicious != MaxNetworkClientHistory/2 {
		t.Errorf("expected %d suspicious, got %d", MaxNetworkClientHistory/2, history.suspicious)
	}

	// Fill the rest with normal clients.
	for range MaxNetworkClientHistory / 2 {
		addClientToHistory(&history, false)
	}

	if history.count != MaxNetworkClientHistory {
		t.Errorf("expected full buffer, got count %d", history.count)
	}

	// Overwrite the oldest (suspicious) entries with normal ones and
	// verify the suspicious count drops accordingly.
	for range MaxNetworkClientHistory / 2 {
		addClientToHistory(&history, false)
	}

	if history.suspicious != 0 {
		t.Errorf("expected 0 suspicious after overwrite, got %d", history.suspicious)
	}
}

func TestEvaluateLimiterChange(t *testing.T) {
	t.Parallel()

	buildHistory := func(suspicious, total int) clientHistory {
		var history clientHistory
		for i := range total {
			addClientToHistory(&history, i < suspicious)
		}

		return history
	}

	tests := []struct {
		name          string
		history       clientHistory
		wantUpgrade   bool
		wantDowngrade bool
	}{
		{
			name:    "Partial buffer makes no decision",
			history: buildHistory(30, 30),
		},
		{
			name:          "High suspicious ratio downgrades",
			history:       buildHistory(40, MaxNetworkClientHistory), // ratio 0.66
			wantDowngrade: true,
		},
		{
			name:        "Low suspicious ratio upgrades",
			history:     buildHistory(6, MaxNetworkClientHistory), // ratio 0.1
			wantUpgrade: true,
		},
		{
			name:    "Mid ratio keeps current state",
			history: buildHistory(24, MaxNetworkClientHistory), // ratio 0.4
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			upgrade, downgrade := evaluateLimiterChange(tt.history)
			if upgrade != tt.wantUpgrade || downgrade != tt.wantDowngrade {
				t.Errorf("got upgrade=%v downgrade=%v, want upgrade=%v downgrade=%v",
					upgrade, downgrade, tt.wantUpgrade, tt.wantDowngrade)
			}
		})
	}
}

func TestGetOrCreateLimiter(t *testing.T) {
	setupLimiterTest(t)

	regular := getOrCreateLimiter("192.168.1.0/24", false)
	if regular.isSuspicious {
		t.Error("expected regular limiter for non-suspicious client")
	}

	if regular.limiter.Burst() != RegularBurst {
		t.Errorf("expected burst %d, got %d", RegularBurst, regular.limiter.Burst())
	}

	// A second lookup for the same network returns the stored limiter,
	// regardless of the suspicious flag.
	same := getOrCreateLimiter("192.168.1.0/24", true)
	if same != regular {
		t.Error("expected the stored limiter to be reused")
	}

	suspicious := getOrCreateLimiter("10.9.8.0/24", true)
	if !suspicious.isSuspicious {
		t.Error("expected suspicious limiter")
	}

	if suspicious.limiter.Burst() != SuspiciousBurst {
		t.Errorf("expected burst %d, got %d", SuspiciousBurst, suspicious.limiter.Burst())
	}
}

func TestUpdateNetworkHistoryDowngradesAndUpgrades(t *testing.T) {
	setupLimiterTest(t)

	limWrapper := getOrCreateLimiter("172.16.0.0/24", false)

	// Saturate the history with suspicious clients to trigger a downgrade.
	for range MaxNetworkClientHistory {
		updateNetworkHistory(limWrapper, "172.16.0.0/24", true)
	}

	if !limWrapper.isSuspicious {
		t.Fatal("expected limiter to be downgraded")
	}

	if limWrapper.limiter.Burst() != SuspiciousBurst {
		t.Errorf("expected burst %d after downgrade, got %d", SuspiciousBurst, limWrapper.limiter.Burst())
	}

	// Flood with normal clients to push the ratio below the relax threshold.
	for range MaxNetworkClientHistory {
		updateNetworkHistory(limWrapper, "172.16.0.0/24", false)
	}

	if limWrapper.isSuspicious {
		t.Fatal("expected limiter to be upgraded back")
	}

	if limWrapper.limiter.Burst() != RegularBurst {
		t.Errorf("expected burst %d after upgrade, got %d", RegularBurst, limWrapper.limiter.Burst())
	}
}

func TestCheckRateLimit(t *testing.T) {
	setupLimiterTest(t)

	limWrapper := newLimiterWrapper(RegularRate, 2, "203.0.113.0/24", false)

	if reason := checkRateLimit(limWrapper, "203.0.113.0/24"); reason != "" {
		t.Errorf("first request should pass, got %q", reason)
	}

	if reason := checkRateLimit(limWrapper, "203.0.113.0/24"); reason != "" {
		t.Errorf("second request should pass, got %q", reason)
	}

	if reason := checkRateLimit(limWrapper, "203.0.113.0/24"); reason == "" {
		t.Error("third request should exceed the burst of 2")
	}
}

func TestSaveAndInitFileRoundTrip(t *testing.T) {
	setupLimiterTest(t)

	original := getOrCreateLimiter("198.51.100.0/24", true)
	updateNetworkHistory(original, "198.51.100.0/24", true)

	var buf bytes.Buffer
	if err := Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Wipe in-memory state and restore from the serialized form.
	limiters.Range(func(key, _ any) bool {
		limiters.Delete(key)

		return true
	})

	if err := InitFile(&buf); err != nil {
		t.Fatalf("InitFile failed: %v", err)
	}

	restored, found := loadLimiterFromMemory("198.51.100.0/24")
	if !found {
		t.Fatal("expected limiter to be restored from saved state")
	}

	if !restored.isSuspicious {
		t.Error("expected restored limiter to keep its suspicious status")
	}

	if restored.limiter.Burst() != SuspiciousBurst {
		t.Errorf("expected restored burst %d, got %d", SuspiciousBurst, restored.limiter.Burst())
	}
}

func TestInitFileEmptyInput(t *testing.T) {
	setupLimiterTest(t)

	if err := InitFile(bytes.NewReader(nil)); err != nil {
		t.Errorf("empty state should not be an error, got %v", err)
	}
}

func TestCleanupExpiredLimiters(t *testing.T) {
	mockTime := setupLimiterTest(t)

	getOrCreateLimiter("192.0.2.0/24", false)

	// Advance past the expiry window; the limiter's lastAccess is stale.
	mockTime.Sleep(LimiterExpiryDuration + time.Minute)

	cleanupExpiredLimiters()

	if _, found := loadLimiterFromMemory("192.0.2.0/24"); found {
		t.Error("expected stale limiter to be removed")
	}
}
