// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package limiter

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClientInfo(t *testing.T) {
	setupTestConfig(t)

	req := httptest.NewRequest(http.MethodGet, "/case/", nil)
	req.RemoteAddr = "93.184.216.34:443"
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept-Language", "nl")

	client, err := newClientInfo(req)
	if err != nil {
		t.Fatalf("newClientInfo failed: %v", err)
	}

	if got := client.ip.String(); got != "93.184.216.34" {
		t.Errorf("expected ip 93.184.216.34, got %s", got)
	}

	// /24 prefix configured by setupTestConfig.
	if got := client.network.String(); got != "93.184.216.0/24" {
		t.Errorf("expected network 93.184.216.0/24, got %s", got)
	}

	if client.fingerprint == "" {
		t.Error("expected a non-empty fingerprint")
	}
}

func TestNewClientInfoInvalidAddr(t *testing.T) {
	setupTestConfig(t)

	req := httptest.NewRequest(http.MethodGet, "/case/", nil)
	req.RemoteAddr = "not-an-ip:443"

	if _, err := newClientInfo(req); err == nil {
		t.Error("expected an error for an unparseable address")
	}
}

func TestClientFingerprintVariesWithHeaders(t *testing.T) {
	setupTestConfig(t)

	build := func(lang string) *ClientInfo {
		req := httptest.NewRequest(http.MethodGet, "/case/", nil)
		req.RemoteAddr = "93.184.216.34:443"
		req.Header.Set("User-Agent", "Mozilla/5.0")
		req.Header.Set("Accept-Language", lang)

		client, err := newClientInfo(req)
		if err != nil {
			t.Fatalf("newClientInfo failed: %v", err)
		}

		return client
	}

	if build("nl").fingerprint == build("en").fingerprint {
		t.Error("expected fingerprints to differ for different Accept-Language values")
	}
}

func TestCheckIPLists(t *testing.T) {
	setupTestConfig(t)

	setTestPassIPs([]string{"203.0.113.7"})
	setTestBlockIPs([]string{"198.51.100.0/24"})

	tests := []struct {
		name        string
		ip          string
		wantAllowed bool
		wantBlocked bool
	}{
		{"Pass-listed exact match", "203.0.113.7", true, false},
		{"Block-listed by CIDR", "198.51.100.42", false, true},
		{"Unlisted IP", "93.184.216.34", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/case/", nil)
			req.RemoteAddr = tt.ip + ":443"

			client, err := newClientInfo(req)
			if err != nil {
				t.Fatalf("newClientInfo failed: %v", err)
			}

			allowed, blocked := client.checkIPLists()
			if allowed != tt.wantAllowed || blocked != tt.wantBlocked {
				t.Errorf("got allowed=%v blocked=%v, want allowed=%v blocked=%v",
					allowed, blocked, tt.wantAllowed, tt.wantBlocked)
			}
		})
	}
}

func TestIsExcludedPath(t *testing.T) {
	setupTestConfig(t)

	tests := []struct {
		path string
		want bool
	}{
		{"/css/app.css", true},
		{"/js/app.js", true},
		{"/robots.txt", true},
		{"/manifest.json", true},
		{"/case/", false},
		{"/reflection/4/reply", false},
		{"/media/12", false},
	}

	client := &ClientInfo{}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if got := client.isExcludedPath(req); got != tt.want {
			t.Errorf("isExcludedPath(%s) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
