/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/veriscan/internal/config"
	"github.com/friendsincode/veriscan/internal/events"
	"github.com/friendsincode/veriscan/internal/ratelimit"
	"github.com/friendsincode/veriscan/internal/telemetry"
)

// InvalidInputError marks a request the caller must fix. Maps to 400.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string { return e.Reason }

// BlockedError marks a URL refused by the safety rules. Maps to 403.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string { return e.Reason }

// RateLimitedError carries the reset hint. Maps to 429.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// FetchError marks a media host failure. Maps to 502.
type FetchError struct {
	Err error
}

func (e *FetchError) Error() string { return fmt.Sprintf("fetching media: %v", e.Err) }
func (e *FetchError) Unwrap() error { return e.Err }

// Stats is the gateway's live counter snapshot.
type Stats struct {
	Requests    int64 `json:"requests"`
	Threats     int64 `json:"threats"`
	RateLimited int64 `json:"rate_limited"`
	Blocked     int64 `json:"blocked"`
}

// Service runs the full analysis pipeline for one request: admission,
// safety validation, capped download, oracle dispatch.
type Service struct {
	cfg       *config.Config
	validator *Validator
	fetcher   *Fetcher
	oracle    Oracle
	limiter   ratelimit.Limiter
	bus       *events.Bus
	logger    zerolog.Logger

	requests    atomic.Int64
	threats     atomic.Int64
	rateLimited atomic.Int64
	blocked     atomic.Int64
}

// NewService wires the pipeline. bus may be nil.
func NewService(cfg *config.Config, validator *Validator, fetcher *Fetcher, oracle Oracle, limiter ratelimit.Limiter, bus *events.Bus, logger zerolog.Logger) *Service {
	return &Service{
		cfg:       cfg,
		validator: validator,
		fetcher:   fetcher,
		oracle:    oracle,
		limiter:   limiter,
		bus:       bus,
		logger:    logger.With().Str("component", "gateway").Logger(),
	}
}

// Analyze handles one analysis request for callerID. The caller's quota
// is charged before any network activity happens on their behalf.
func (s *Service) Analyze(ctx context.Context, callerID, rawURL, mediaType string) (*Detection, error) {
	s.requests.Add(1)
	timer := telemetry.NewAnalysisTimer()

	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if mediaType != "video" && mediaType != "audio" {
		timer.Observe("validation_error")
		return nil, &InvalidInputError{Reason: "media_type must be video or audio"}
	}
	if err := rejectNonRemote(rawURL); err != nil {
		timer.Observe("validation_error")
		return nil, err
	}

	if ok, retryAfter := s.limiter.Allow(ctx, callerID); !ok {
		s.rateLimited.Add(1)
		timer.Observe("rate_limited")
		return nil, &RateLimitedError{RetryAfter: retryAfter}
	}

	if err := s.validator.ValidateURL(ctx, rawURL); err != nil {
		s.blocked.Add(1)
		timer.Observe("blocked_host")
		s.logger.Warn().Str("caller", callerID).Str("url", rawURL).Err(err).Msg("URL refused")
		return nil, &BlockedError{Reason: err.Error()}
	}

	content, finalURL, err := s.fetcher.Fetch(ctx, rawURL, s.cfg.MaxSizeBytes(mediaType))
	if err != nil {
		switch {
		case errors.Is(err, ErrMediaTooLarge):
			timer.Observe("validation_error")
			return nil, &InvalidInputError{Reason: "media exceeds the size limit"}
		case errors.Is(err, ErrTooManyRedirects):
			s.blocked.Add(1)
			timer.Observe("blocked_host")
			return nil, &BlockedError{Reason: "redirect chain too long"}
		default:
			// Validation failures on redirect hops surface here too.
			var refusal *RefusalError
			if errors.As(err, &refusal) {
				s.blocked.Add(1)
				timer.Observe("blocked_host")
				return nil, &BlockedError{Reason: err.Error()}
			}
			timer.Observe("failed")
			return nil, &FetchError{Err: err}
		}
	}

	det, err := s.oracle.Detect(ctx, content, mediaType, finalURL)
	if err != nil {
		timer.Observe("failed")
		return nil, err
	}
	timer.Observe("success")

	if det.IsDeepfake {
		s.threats.Add(1)
	}
	if s.bus != nil {
		s.bus.Publish(events.EventScanComplete, events.Payload{
			"caller":      callerID,
			"url":         rawURL,
			"is_deepfake": det.IsDeepfake,
			"confidence":  det.Confidence,
			"model":       det.Model,
		})
	}
	return det, nil
}

// Stats snapshots the live counters.
func (s *Service) Stats() Stats {
	return Stats{
		Requests:    s.requests.Load(),
		Threats:     s.threats.Load(),
		RateLimited: s.rateLimited.Load(),
		Blocked:     s.blocked.Load(),
	}
}

// rejectNonRemote refuses local filesystem paths and other non-URL
// inputs at the boundary before they touch the validator.
func rejectNonRemote(raw string) error {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return &InvalidInputError{Reason: "url is required"}
	}
	u, err := url.Parse(trimmed)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return &InvalidInputError{Reason: "url must be an absolute http(s) URL"}
	}
	if strings.EqualFold(u.Scheme, "file") {
		return &InvalidInputError{Reason: "local paths are not accepted"}
	}
	return nil
}
