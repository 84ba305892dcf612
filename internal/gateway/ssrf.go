/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package gateway implements the server-side analysis pipeline: URL
// safety validation, redirect-safe media retrieval, oracle dispatch, and
// the service that ties them together.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/friendsincode/veriscan/internal/config"
)

// internalSuffixes are always refused regardless of policy file contents.
var internalSuffixes = []string{".local", ".internal", ".corp"}

// RefusalError marks a URL rejected by the safety rules, as opposed to a
// URL that merely failed to fetch.
type RefusalError struct {
	Reason string
}

func (e *RefusalError) Error() string { return e.Reason }

func refuse(format string, args ...any) error {
	return &RefusalError{Reason: fmt.Sprintf(format, args...)}
}

// Validator decides whether a URL is safe to fetch from the gateway's
// network position. Every hostname is resolved and every resulting
// address checked, so DNS tricks cannot smuggle in a private target.
type Validator struct {
	policy   config.Policy
	resolver interface {
		LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
	}
	ipCheck func(net.IP) bool
}

// NewValidator builds a validator over the given policy.
func NewValidator(policy config.Policy) *Validator {
	return &Validator{policy: policy, resolver: net.DefaultResolver, ipCheck: disallowedIP}
}

// ValidateURL checks scheme, host shape, blocklists and resolved
// addresses. A nil return means the URL may be fetched.
func (v *Validator) ValidateURL(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return refuse("unparseable URL")
	}
	return v.validateParsed(ctx, u)
}

func (v *Validator) validateParsed(ctx context.Context, u *url.URL) error {
	// http/https is a hard ceiling; the policy can only narrow it
	// further (e.g. https-only), never admit another scheme.
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return refuse("scheme %q not allowed", scheme)
	}
	if allowed := v.policy.AllowedSchemes; len(allowed) > 0 {
		ok := false
		for _, s := range allowed {
			if strings.EqualFold(s, scheme) {
				ok = true
				break
			}
		}
		if !ok {
			return refuse("scheme %q not allowed", scheme)
		}
	}

	host := u.Hostname()
	if host == "" {
		return refuse("missing host")
	}

	lower := strings.ToLower(host)
	for _, suffix := range internalSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return refuse("host %q is in a blocked namespace", host)
		}
	}
	for _, suffix := range v.policy.BlockedSuffixes {
		if strings.HasSuffix(lower, strings.ToLower(suffix)) {
			return refuse("host %q is in a blocked namespace", host)
		}
	}
	for _, blocked := range v.policy.BlockedHosts {
		if strings.EqualFold(host, blocked) {
			return refuse("host %q is blocked by policy", host)
		}
	}

	// Literal IPs are checked directly; names are resolved and every
	// returned address must be public.
	if ip := net.ParseIP(host); ip != nil {
		if v.ipCheck(ip) {
			return refuse("address %s is not publicly routable", ip)
		}
		return nil
	}

	addrs, err := v.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return refuse("resolving %q: %v", host, err)
	}
	if len(addrs) == 0 {
		return refuse("host %q resolves to no addresses", host)
	}
	for _, addr := range addrs {
		if v.ipCheck(addr.IP) {
			return refuse("host %q resolves to non-public address %s", host, addr.IP)
		}
	}
	return nil
}

// disallowedIP rejects loopback, private, link-local, multicast,
// unspecified and otherwise non-global addresses.
func disallowedIP(ip net.IP) bool {
	switch {
	case ip.IsLoopback(),
		ip.IsPrivate(),
		ip.IsLinkLocalUnicast(),
		ip.IsLinkLocalMulticast(),
		ip.IsMulticast(),
		ip.IsUnspecified(),
		ip.IsInterfaceLocalMulticast():
		return true
	}
	// Reserved ranges not covered by the stdlib helpers.
	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4[0] == 0:
			return true
		case ip4[0] == 100 && ip4[1]&0xc0 == 64: // 100.64/10 carrier-grade NAT
			return true
		case ip4[0] == 192 && ip4[1] == 0 && ip4[2] == 0: // 192.0.0/24
			return true
		case ip4[0] == 192 && ip4[1] == 0 && ip4[2] == 2: // TEST-NET-1
			return true
		case ip4[0] == 198 && ip4[1]&0xfe == 18: // 198.18/15 benchmarking
			return true
		case ip4[0] >= 240: // 240/4 reserved
			return true
		}
	}
	return false
}
