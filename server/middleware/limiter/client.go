// Copyright 2024 - 2026, the Casebook contributors
// SPDX-License-Identifier: AGPL-3.0-only

package limiter

import (
	"errors"
	"hash/fnv"
	"net"
	"net/http"
	"strconv"
	"strings"

	"codeberg.org/casebook/casebook/config"
)

var (
	errMissingClientIP = errors.New("missing client IP")
	errInvalidIPFormat = errors.New("invalid IP format")
	errNilNetwork      = errors.New("could not determine network")
)

// ClientInfo represents an HTTP request with associated network and rate limiting information.
//
// Instances are ephemeral and exist only for the duration of a single HTTP request lifecycle.
type ClientInfo struct {
	ip           net.IP
	network      net.IPNet
	fingerprint  string
	isSuspicious bool
	limiter      *limiterWrapper
}

// newClientInfo constructs a ClientInfo from an HTTP request, resolving IP and network,
// but does not run any checks yet, leaving the isSuspicious and limiter fields uninitialized.
func newClientInfo(r *http.Request) (*ClientInfo, error) {
	var client ClientInfo

	realIP := getClientIP(r)
	if realIP == "" {
		return nil, errMissingClientIP
	}

	parsedIP := net.ParseIP(realIP)
	if parsedIP == nil {
		return nil, errInvalidIPFormat
	}

	network := getNetwork(parsedIP, config.Global.Limiter.IPv4Prefix, config.Global.Limiter.IPv6Prefix)
	if network == nil {
		return nil, errNilNetwork
	}

	return &ClientInfo{
		ip:          parsedIP,
		network:     *network,
		fingerprint: client.generateClientFingerprint(r),
	}, nil
}

// generateClientFingerprint creates a hash from client attributes to act as a fingerprint.
//
// Relatively low entropy, but good enough for our purposes.
func (c *ClientInfo) generateClientFingerprint(r *http.Request) string {
	hasher := fnv.New32()

	_, _ = hasher.Write([]byte(c.network.String() + r.Header.Get("Accept-Language") + r.Header.Get("User-Agent")))

	return strconv.FormatUint(uint64(hasher.Sum32()), 10)
}

// checkIPLists checks if the client's IP is on the pass or block list.
//
// Returns (allowed, blocked) as a tuple - at most one can be true.
func (c *ClientInfo) checkIPLists() (bool, bool) {
	if c.isPassListed() {
		return true, false
	}

	if c.isBlockListed() {
		return false, true
	}

	return false, false
}

// isExcludedPath returns true if the request path matches any
// of the excludedPaths (skip all checks).
func (c *ClientInfo) isExcludedPath(r *http.Request) bool {
	path := r.URL.Path
	for _, p := range excludedPaths {
		if strings.HasPrefix(path, p) {
			return true
		}
	}

	return false
}

// isPassListed returns true if c.ip is in the configured pass list.
func (c *ClientInfo) isPassListed() bool {
	return ipMatchesList(c.ip, config.Global.Limiter.PassIPs)
}

// isBlockListed returns true if c.ip is in the configured block list.
func (c *ClientInfo) isBlockListed() bool {
	return ipMatchesList(c.ip, config.Global.Limiter.BlockIPs)
}

// isLocalLink returns true if c.ip is a link-local address.
//
// Supports both IPv4 and IPv6.
func (c *ClientInfo) isLocalLink() bool {
	// covers 169.254.0.0/16 for IPv4 and fe80::/10 for IPv6
	return c.ip.IsLinkLocalUnicast()
}

// blockedByHeaders checks for suspicious request headers.
//
// Returns a non-empty string with the block reason if blocked.
func (c *ClientInfo) blockedByHeaders(r *http.Request) string {
	return blockedByHeaders(r)
}

// clearSuspiciousStatus sets the isSuspicious field for this client
// to false, effectively giving it a clean slate.
func (c *ClientInfo) clearSuspiciousStatus() {
	c.isSuspicious = false
}
