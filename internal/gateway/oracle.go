/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/veriscan/internal/telemetry"
)

// Detection is the oracle's answer for one media payload.
type Detection struct {
	IsDeepfake bool    `json:"is_deepfake"`
	Confidence float64 `json:"confidence"`
	Model      string  `json:"model"`
	Analysis   string  `json:"analysis,omitempty"`
}

// Oracle scores media content.
type Oracle interface {
	Detect(ctx context.Context, content []byte, mediaType, sourceURL string) (*Detection, error)
}

// HTTPOracle dispatches media to an external detection model over HTTP
// multipart upload.
type HTTPOracle struct {
	baseURL  string
	modelTag string
	client   *http.Client
	logger   zerolog.Logger
}

// NewHTTPOracle builds an oracle client.
func NewHTTPOracle(baseURL, modelTag string, timeout time.Duration, logger zerolog.Logger) *HTTPOracle {
	return &HTTPOracle{
		baseURL:  baseURL,
		modelTag: modelTag,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "oracle").Logger(),
	}
}

func (o *HTTPOracle) Detect(ctx context.Context, content []byte, mediaType, sourceURL string) (*Detection, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("media", "media")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(content); err != nil {
		return nil, err
	}
	mw.WriteField("media_type", mediaType)
	mw.WriteField("source_url", sourceURL)
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/detect", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("oracle dispatch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("oracle returned %d", resp.StatusCode)
	}

	var det Detection
	if err := json.NewDecoder(resp.Body).Decode(&det); err != nil {
		return nil, fmt.Errorf("decoding oracle response: %w", err)
	}
	if det.Confidence < 0 || det.Confidence > 1 {
		return nil, fmt.Errorf("oracle confidence %f out of range", det.Confidence)
	}
	if det.Model == "" {
		det.Model = o.modelTag
	}
	return &det, nil
}

// FallbackOracle answers when the real model is unreachable. Its
// responses identify themselves so downstream consumers never mistake
// them for genuine detections.
type FallbackOracle struct{}

// FallbackModelTag marks detections produced without a real model.
const FallbackModelTag = "fallback-unavailable"

func (FallbackOracle) Detect(_ context.Context, _ []byte, _, _ string) (*Detection, error) {
	telemetry.OracleFallbackTotal.Inc()
	return &Detection{
		IsDeepfake: false,
		Confidence: 0,
		Model:      FallbackModelTag,
		Analysis:   "detection model unavailable",
	}, nil
}

// OracleWithFallback tries the primary oracle and degrades to the
// fallback on any error.
type OracleWithFallback struct {
	Primary  Oracle
	Fallback Oracle
	Logger   zerolog.Logger
}

func (o *OracleWithFallback) Detect(ctx context.Context, content []byte, mediaType, sourceURL string) (*Detection, error) {
	det, err := o.Primary.Detect(ctx, content, mediaType, sourceURL)
	if err == nil {
		return det, nil
	}
	o.Logger.Warn().Err(err).Msg("primary oracle failed, using fallback")
	return o.Fallback.Detect(ctx, content, mediaType, sourceURL)
}
