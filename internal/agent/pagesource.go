/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package agent

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"
)

// PageSource retrieves the HTML of a page for media discovery.
type PageSource interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// HTTPSource fetches the raw server-rendered HTML. Fast, but misses
// media injected by scripts.
type HTTPSource struct {
	Client *http.Client
}

// NewHTTPSource creates a plain HTTP page source.
func NewHTTPSource(timeout time.Duration) *HTTPSource {
	return &HTTPSource{Client: &http.Client{Timeout: timeout}}
}

func (s *HTTPSource) Fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "VeriScan-Agent/1.0")

	resp, err := s.Client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("page returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// RenderedSource drives a headless Chrome via Rod so script-injected
// players are visible to discovery.
type RenderedSource struct {
	browser *rod.Browser
	lnch    *launcher.Launcher
	timeout time.Duration
	logger  zerolog.Logger
}

// NewRenderedSource launches a local headless Chrome.
func NewRenderedSource(timeout time.Duration, logger zerolog.Logger) (*RenderedSource, error) {
	l := launcher.New().Headless(true)
	wsURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	b := rod.New().ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("connecting to browser: %w", err)
	}

	return &RenderedSource{
		browser: b,
		lnch:    l,
		timeout: timeout,
		logger:  logger.With().Str("component", "pagesource").Logger(),
	}, nil
}

func (s *RenderedSource) Fetch(ctx context.Context, pageURL string) (string, error) {
	page, err := s.browser.Page(proto.TargetCreateTarget{URL: ""})
	if err != nil {
		return "", fmt.Errorf("creating tab: %w", err)
	}
	defer page.Close()

	navCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		return "", fmt.Errorf("navigating to %s: %w", pageURL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		s.logger.Warn().Err(err).Str("url", pageURL).Msg("page load wait timed out, using partial DOM")
	}

	res, err := page.Context(navCtx).Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", fmt.Errorf("reading DOM: %w", err)
	}
	return res.Value.Str(), nil
}

// Close shuts down the browser and its launcher temp dirs.
func (s *RenderedSource) Close() error {
	var err error
	if s.browser != nil {
		err = s.browser.Close()
	}
	if s.lnch != nil {
		s.lnch.Cleanup()
	}
	return err
}

// FileSource reads a saved page from disk, or stdin when the path is "-".
type FileSource struct{}

func (FileSource) Fetch(_ context.Context, path string) (string, error) {
	if path == "-" {
		body, err := io.ReadAll(os.Stdin)
		return string(body), err
	}
	body, err := os.ReadFile(path)
	return string(body), err
}
