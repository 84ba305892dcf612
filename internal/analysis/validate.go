/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package analysis

import (
	"net"
	"net/url"
	"strings"
)

// blockedSuffixes are internal-network name suffixes that must never be
// sent to the gateway from the client side.
var blockedSuffixes = []string{".local", ".internal", ".corp"}

// ValidateURL performs the client-side pre-flight check: the URL must be
// absolute https with a non-empty host, and the host must not resolve into
// a known internal namespace. The gateway re-validates independently.
func ValidateURL(raw string, extraBlockedHosts []string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &ValidationError{Reason: "not a parseable URL"}
	}
	if u.Scheme != "https" {
		return &ValidationError{Reason: "scheme must be https"}
	}
	host := u.Hostname()
	if host == "" {
		return &ValidationError{Reason: "missing host"}
	}

	lower := strings.ToLower(host)
	if lower == "localhost" {
		return &BlockedHostError{Host: host}
	}
	// Literal internal addresses are rejected here without resolving;
	// DNS-based checks happen in the gateway, which sees every hop.
	if ip := net.ParseIP(host); ip != nil {
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return &BlockedHostError{Host: host}
		}
	}
	for _, suffix := range blockedSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return &BlockedHostError{Host: host}
		}
	}
	for _, blocked := range extraBlockedHosts {
		if strings.EqualFold(host, blocked) {
			return &BlockedHostError{Host: host}
		}
	}
	return nil
}
