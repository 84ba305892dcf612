/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package reports records user-submitted deepfake reports and forwards
// them to downstream consumers over NATS. NATS being down never fails a
// submission; forwarding is best effort, persistence is not.
package reports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/veriscan/internal/analysis"
	"github.com/friendsincode/veriscan/internal/events"
	"github.com/friendsincode/veriscan/internal/models"
)

// SubjectReportSubmitted is the NATS subject reports are forwarded on.
const SubjectReportSubmitted = "veriscan.reports.submitted"

// Submission is one incoming report. ReportedAt is the caller's own
// detection time; zero means the server assigns the current time.
type Submission struct {
	PageURL    string    `json:"page_url"`
	Confidence float64   `json:"confidence"`
	CallerID   string    `json:"caller_id"`
	ReportedAt time.Time `json:"reported_at"`
}

// Service persists reports and forwards them.
type Service struct {
	db     *gorm.DB
	nc     *nats.Conn
	bus    *events.Bus
	logger zerolog.Logger
}

// New creates the report service. natsURL may be empty; forwarding then
// happens only on the in-process bus.
func New(db *gorm.DB, natsURL string, bus *events.Bus, logger zerolog.Logger) *Service {
	s := &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "reports").Logger(),
	}
	if natsURL == "" {
		return s
	}

	nc, err := nats.Connect(natsURL,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		s.logger.Warn().Err(err).Msg("NATS unavailable, report forwarding limited to in-process bus")
		return s
	}
	s.nc = nc
	s.logger.Info().Str("url", natsURL).Msg("NATS report forwarding connected")
	return s
}

// Submit validates, persists and forwards one report. The page URL is
// sanitized first so submitted credentials never reach storage or NATS.
func (s *Service) Submit(ctx context.Context, sub Submission) (*models.Report, error) {
	reportedAt := sub.ReportedAt
	if reportedAt.IsZero() {
		reportedAt = time.Now()
	}
	report := &models.Report{
		ID:         uuid.NewString(),
		PageURL:    analysis.SanitizeURL(sub.PageURL),
		Confidence: sub.Confidence,
		CallerID:   sub.CallerID,
		ReportedAt: reportedAt,
	}
	if err := s.db.WithContext(ctx).Create(report).Error; err != nil {
		return nil, err
	}

	s.forward(report)
	return report, nil
}

// Recent lists the most recently submitted reports, newest first.
func (s *Service) Recent(ctx context.Context, limit int) ([]models.Report, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []models.Report
	err := s.db.WithContext(ctx).
		Order("reported_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (s *Service) forward(report *models.Report) {
	if s.bus != nil {
		s.bus.Publish(events.EventReportSubmitted, events.Payload{
			"id":         report.ID,
			"page_url":   report.PageURL,
			"confidence": report.Confidence,
		})
	}
	if s.nc == nil {
		return
	}
	payload, err := json.Marshal(report)
	if err != nil {
		s.logger.Error().Err(err).Msg("encoding report for NATS")
		return
	}
	if err := s.nc.Publish(SubjectReportSubmitted, payload); err != nil {
		s.logger.Warn().Err(err).Msg("forwarding report to NATS")
	}
}

// Close drains the NATS connection.
func (s *Service) Close() error {
	if s.nc != nil {
		return s.nc.Drain()
	}
	return nil
}
