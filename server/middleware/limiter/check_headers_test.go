// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package limiter

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// browserRequest builds a request with the headers a regular browser sends.
func browserRequest(path string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")
	req.Header.Set("Accept-Language", "nl,en;q=0.5")

	return req
}

func TestBlockedByHeaders(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		mutate      func(*http.Request)
		wantBlocked bool
	}{
		{
			name:   "Regular browser request passes",
			mutate: func(_ *http.Request) {},
		},
		{
			name: "Missing User-Agent is blocked",
			mutate: func(r *http.Request) {
				r.Header.Del("User-Agent")
			},
			wantBlocked: true,
		},
		{
			name: "Known bot User-Agent is blocked",
			mutate: func(r *http.Request) {
				r.Header.Set("User-Agent", "Mozilla/5.0 (compatible; Googlebot/2.1)")
			},
			wantBlocked: true,
		},
		{
			name: "curl is blocked",
			mutate: func(r *http.Request) {
				r.Header.Set("User-Agent", "curl/8.5.0")
			},
			wantBlocked: true,
		},
		{
			name: "Missing Accept-Encoding is blocked",
			mutate: func(r *http.Request) {
				r.Header.Del("Accept-Encoding")
			},
			wantBlocked: true,
		},
		{
			name: "Missing Accept-Language is blocked",
			mutate: func(r *http.Request) {
				r.Header.Del("Accept-Language")
			},
			wantBlocked: true,
		},
		{
			name: "Mismatched Accept for page is blocked",
			mutate: func(r *http.Request) {
				r.Header.Set("Accept", "image/avif")
			},
			wantBlocked: true,
		},
		{
			name: "JSON Accept for API path passes",
			mutate: func(r *http.Request) {
				r.URL.Path = "/case/"
				r.Header.Set("Accept", "application/json")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := browserRequest("/")
			tt.mutate(req)

			reason := blockedByHeaders(req)
			if blocked := reason != ""; blocked != tt.wantBlocked {
				t.Errorf("blockedByHeaders() = %q, wantBlocked=%v", reason, tt.wantBlocked)
			}
		})
	}
}

func TestCheckAcceptHeader(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		path      string
		accept    string
		wantMatch bool
	}{
		{"Wildcard accepts anything", "/case/", "*/*", true},
		{"HTML for page", "/", "text/html", true},
		{"JSON for API path", "/reflection/", "application/json", true},
		{"CSS file with matching type", "/css/app.css", "text/css", true},
		{"CSS file with wrong type", "/css/app.css", "text/html", false},
		{"JS file with matching type", "/js/app.js", "text/javascript", true},
		{"Image extension with image type", "/media/cover.png", "image/avif,image/webp", true},
		{"Image extension without image type", "/media/cover.png", "text/html", false},
		{"JSON extension", "/manifest.json", "application/json", true},
		{"Text extension", "/robots.txt", "text/plain", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reason := checkAcceptHeader(tt.path, tt.accept)
			if matched := reason == ""; matched != tt.wantMatch {
				t.Errorf("checkAcceptHeader(%s, %s) = %q, wantMatch=%v",
					tt.path, tt.accept, reason, tt.wantMatch)
			}
		})
	}
}

func TestCheckSecFetch(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")

	if reason := checkSecFetch(req); reason != "" {
		t.Errorf("complete Sec-Fetch headers should pass, got %q", reason)
	}

	req.Header.Del("Sec-Fetch-Mode")

	if reason := checkSecFetch(req); !strings.Contains(reason, "Sec-Fetch-Mode") {
		t.Errorf("expected the missing header to be named, got %q", reason)
	}

	req.Header.Del("Sec-Fetch-Site")

	if reason := checkSecFetch(req); !strings.Contains(reason, "Sec-Fetch headers") {
		t.Errorf("expected a combined message for multiple missing headers, got %q", reason)
	}
}
