/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DefaultMaxRedirects caps how many redirect hops a fetch will follow.
const DefaultMaxRedirects = 5

// userAgent identifies gateway fetches to media hosts.
const userAgent = "VeriScan-Gateway/1.0"

// ErrTooManyRedirects marks a redirect chain longer than the cap.
var ErrTooManyRedirects = errors.New("too many redirects")

// ErrMediaTooLarge marks a download that exceeded the size ceiling.
var ErrMediaTooLarge = errors.New("media exceeds size limit")

// Fetcher downloads media with every redirect hop re-validated against
// the SSRF rules and the body streamed under a hard size ceiling.
type Fetcher struct {
	validator    *Validator
	client       *http.Client
	maxRedirects int
}

// NewFetcher builds a fetcher. The client must not follow redirects on
// its own; hops are followed manually so each target is re-checked.
func NewFetcher(validator *Validator, timeout time.Duration, maxRedirects int) *Fetcher {
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}
	return &Fetcher{
		validator: validator,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		maxRedirects: maxRedirects,
	}
}

// Fetch validates rawURL, follows up to maxRedirects hops validating
// each one, and reads at most maxBytes of body. The final URL after
// redirects is returned alongside the content.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string, maxBytes int64) ([]byte, string, error) {
	current, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", fmt.Errorf("unparseable URL")
	}

	for hop := 0; ; hop++ {
		if hop > f.maxRedirects {
			return nil, "", ErrTooManyRedirects
		}
		if err := f.validator.validateParsed(ctx, current); err != nil {
			return nil, "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current.String(), nil)
		if err != nil {
			return nil, "", err
		}
		req.Header.Set("User-Agent", userAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, "", err
		}

		if isRedirect(resp.StatusCode) {
			location := resp.Header.Get("Location")
			resp.Body.Close()
			if location == "" {
				return nil, "", fmt.Errorf("redirect without location")
			}
			next, err := current.Parse(location)
			if err != nil {
				return nil, "", fmt.Errorf("unparseable redirect target")
			}
			current = next
			continue
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, "", fmt.Errorf("media host returned %d", resp.StatusCode)
		}
		if resp.ContentLength > 0 && resp.ContentLength > maxBytes {
			resp.Body.Close()
			return nil, "", ErrMediaTooLarge
		}

		body, err := readCapped(resp.Body, maxBytes)
		resp.Body.Close()
		if err != nil {
			return nil, "", err
		}
		return body, current.String(), nil
	}
}

// readCapped streams r into memory, failing once more than maxBytes
// arrive. Content-Length lies, so the cap is enforced on the stream.
func readCapped(r io.Reader, maxBytes int64) ([]byte, error) {
	limited := io.LimitReader(r, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > maxBytes {
		return nil, ErrMediaTooLarge
	}
	return body, nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently,
		http.StatusFound,
		http.StatusSeeOther,
		http.StatusTemporaryRedirect,
		http.StatusPermanentRedirect:
		return true
	}
	return false
}
