/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package notifications presents threat alerts to the user, throttled so
// a hostile page cannot flood the desktop. Throttling gates presentation
// only; detection results are recorded upstream regardless.
package notifications

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/veriscan/internal/events"
	"github.com/friendsincode/veriscan/internal/ratelimit"
	"github.com/friendsincode/veriscan/internal/telemetry"
)

// DefaultPerMinute is the notification ceiling.
const DefaultPerMinute = 3

// Notifier delivers one rendered alert. The default implementation logs;
// desktop integrations substitute their own.
type Notifier interface {
	Notify(title, body string) error
}

// LogNotifier writes alerts to the structured log.
type LogNotifier struct {
	Logger zerolog.Logger
}

func (n *LogNotifier) Notify(title, body string) error {
	n.Logger.Info().Str("title", title).Str("body", body).Msg("threat notification")
	return nil
}

// Service consumes threat events from the bus and presents at most
// max-per-window notifications.
type Service struct {
	bus      *events.Bus
	gate     *ratelimit.Window
	notifier Notifier
	logger   zerolog.Logger
}

// New creates the notification service. perMinute <= 0 applies the default.
func New(bus *events.Bus, notifier Notifier, perMinute int, logger zerolog.Logger) *Service {
	if perMinute <= 0 {
		perMinute = DefaultPerMinute
	}
	return &Service{
		bus:      bus,
		gate:     ratelimit.NewWindow(perMinute, time.Minute),
		notifier: notifier,
		logger:   logger.With().Str("component", "notifications").Logger(),
	}
}

// Run subscribes to threat events until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	sub := s.bus.Subscribe(events.EventThreatDetected)
	defer s.bus.Unsubscribe(events.EventThreatDetected, sub)

	s.logger.Info().Msg("notification service started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("notification service stopped")
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			s.handle(payload)
		}
	}
}

func (s *Service) handle(payload events.Payload) {
	if notify, ok := payload["notify"].(bool); ok && !notify {
		s.logger.Debug().Msg("notification suppressed, protection disabled during scan")
		return
	}
	if !s.gate.Allow("notifications") {
		telemetry.NotificationsSuppressed.Inc()
		s.logger.Debug().Msg("notification suppressed by rate gate")
		return
	}

	confidence, _ := payload["confidence"].(float64)
	url, _ := payload["url"].(string)
	title := "AI-generated media detected"
	body := fmt.Sprintf("%s (%.0f%% confidence)", url, confidence*100)
	if err := s.notifier.Notify(title, body); err != nil {
		s.logger.Warn().Err(err).Msg("delivering notification")
		return
	}
	s.bus.Publish(events.EventNotification, events.Payload{"title": title, "body": body})
}
