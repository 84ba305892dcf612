/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/friendsincode/veriscan/internal/ratelimit"
)

// DefaultTimeout bounds a single gateway round trip.
const DefaultTimeout = 10 * time.Second

// ScanResult is the interpreted detection outcome for one media URL.
type ScanResult struct {
	IsDeepfake bool    `json:"is_deepfake"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model"`
	Analysis   string  `json:"analysis,omitempty"`
}

// Client talks to the gateway's analyze endpoint.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	authToken    string
	blockedHosts []string
	outbound     *ratelimit.Window
	logger       zerolog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithAuthToken attaches a bearer token to every request.
func WithAuthToken(token string) Option {
	return func(c *Client) { c.authToken = token }
}

// WithBlockedHosts extends the client-side host blocklist.
func WithBlockedHosts(hosts []string) Option {
	return func(c *Client) { c.blockedHosts = hosts }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRateLimit caps outbound analyze calls to max per window. A capped
// call fails immediately with a RateLimitError instead of queueing.
func WithRateLimit(max int, window time.Duration) Option {
	return func(c *Client) {
		if max > 0 {
			c.outbound = ratelimit.NewWindow(max, window)
		}
	}
}

// New creates a gateway client with tracing-instrumented transport.
func New(baseURL string, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With().Str("component", "analysis").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type analyzeRequest struct {
	URL       string `json:"url"`
	MediaType string `json:"media_type"`
}

// Analyze validates and sanitizes the media URL, submits it, and retries
// transient failures with exponential backoff. The returned result is
// shape-checked before it is trusted.
func (c *Client) Analyze(ctx context.Context, mediaURL, mediaType string) (*ScanResult, error) {
	if err := ValidateURL(mediaURL, c.blockedHosts); err != nil {
		return nil, err
	}
	if c.outbound != nil && !c.outbound.Allow("analyze") {
		return nil, &RateLimitError{RetryAfter: c.outbound.RetryAfter("analyze")}
	}
	sanitized := SanitizeURL(mediaURL)

	var result *ScanResult
	err := withRetries(ctx, func() error {
		var attemptErr error
		result, attemptErr = c.doAnalyze(ctx, sanitized, mediaType)
		return attemptErr
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Client) doAnalyze(ctx context.Context, mediaURL, mediaType string) (*ScanResult, error) {
	body, err := json.Marshal(analyzeRequest{URL: mediaURL, MediaType: mediaType})
	if err != nil {
		return nil, fmt.Errorf("encoding analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &TransientNetworkError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return decodeResult(resp.Body)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp)}
	case resp.StatusCode >= 500:
		return nil, &TransientNetworkError{Err: fmt.Errorf("gateway returned %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusForbidden:
		return nil, &BlockedHostError{Host: hostOf(mediaURL)}
	default:
		msg := readErrorMessage(resp.Body)
		return nil, &ValidationError{Reason: fmt.Sprintf("gateway returned %d: %s", resp.StatusCode, msg)}
	}
}

// decodeResult enforces the response contract: is_deepfake must be a bool,
// confidence a number in [0,1], and model a non-empty string. A body that
// fails to decode at all is a transport problem worth retrying; a body
// that decodes but violates the shape is terminal.
func decodeResult(r io.Reader) (*ScanResult, error) {
	var raw struct {
		IsDeepfake *bool    `json:"is_deepfake"`
		Confidence *float64 `json:"confidence"`
		Model      string   `json:"model"`
		Analysis   string   `json:"analysis"`
	}
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, &TransientNetworkError{Err: fmt.Errorf("decoding analyze response: %w", err)}
	}
	if raw.IsDeepfake == nil || raw.Confidence == nil || raw.Model == "" {
		return nil, &ValidationError{Reason: "analyze response missing required fields"}
	}
	if *raw.Confidence < 0 || *raw.Confidence > 1 {
		return nil, &ValidationError{Reason: fmt.Sprintf("confidence %f out of range", *raw.Confidence)}
	}
	return &ScanResult{
		IsDeepfake: *raw.IsDeepfake,
		Confidence: *raw.Confidence,
		Model:      raw.Model,
		Analysis:   raw.Analysis,
	}, nil
}

func parseRetryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Minute
}

func readErrorMessage(r io.Reader) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(r, 4096)).Decode(&payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	return "request rejected"
}

func hostOf(raw string) string {
	if req, err := http.NewRequest(http.MethodGet, raw, nil); err == nil {
		return req.URL.Hostname()
	}
	return raw
}
