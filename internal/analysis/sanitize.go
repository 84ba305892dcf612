/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package analysis

import (
	"net/url"
	"strings"
)

// sensitiveParams are query keys stripped before a URL leaves the client.
var sensitiveParams = map[string]struct{}{
	"token":        {},
	"key":          {},
	"session":      {},
	"auth":         {},
	"password":     {},
	"access_token": {},
	"api_key":      {},
	"secret":       {},
}

// SanitizeURL removes credential-bearing query parameters and drops the
// fragment. Matching is case-insensitive on the parameter name. The input
// is returned unchanged when it does not parse as a URL.
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	q := u.Query()
	changed := false
	for name := range q {
		if _, ok := sensitiveParams[strings.ToLower(name)]; ok {
			q.Del(name)
			changed = true
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	u.Fragment = ""
	return u.String()
}
