/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scanner

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/friendsincode/veriscan/internal/analysis"
	"github.com/friendsincode/veriscan/internal/classify"
	"github.com/friendsincode/veriscan/internal/events"
	"github.com/friendsincode/veriscan/internal/state"
	"github.com/friendsincode/veriscan/internal/telemetry"
)

// DefaultQueueSize bounds the scan queue. Items discovered while the
// queue is full are dropped, not blocked on.
const DefaultQueueSize = 50

// Analyzer is the slice of the analysis client the scheduler needs.
type Analyzer interface {
	Analyze(ctx context.Context, mediaURL, mediaType string) (*analysis.ScanResult, error)
}

// Scheduler feeds deduplicated media items through a bounded queue into
// a single analysis consumer.
type Scheduler struct {
	queue     chan MediaItem
	dedup     *DedupCache
	analyzer  Analyzer
	store     *state.Store
	bus       *events.Bus
	threshold float64
	logger    zerolog.Logger

	mu      sync.Mutex
	enabled bool

	wg sync.WaitGroup
}

// NewScheduler wires the scan pipeline. bus may be nil.
func NewScheduler(analyzer Analyzer, store *state.Store, dedup *DedupCache, bus *events.Bus, queueSize int, threshold float64, logger zerolog.Logger) *Scheduler {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if threshold <= 0 {
		threshold = classify.DefaultThreshold
	}
	return &Scheduler{
		queue:     make(chan MediaItem, queueSize),
		dedup:     dedup,
		analyzer:  analyzer,
		store:     store,
		bus:       bus,
		threshold: threshold,
		logger:    logger.With().Str("component", "scheduler").Logger(),
		enabled:   true,
	}
}

// SetEnabled toggles protection. Disabling stops new enqueues
// immediately; items already in flight finish and their results are
// recorded, but their notifications are suppressed.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.enabled = enabled
	s.mu.Unlock()
}

// Enabled reports the current protection toggle.
func (s *Scheduler) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// Enqueue offers one discovered item to the queue and returns the state
// it ended up in. Duplicates and unfetchable URLs never enter the queue;
// a full queue drops the item.
func (s *Scheduler) Enqueue(item MediaItem) ScanState {
	if item.State == StateSkipped || !Fetchable(item.URL) {
		item.State = StateSkipped
		return item.State
	}
	if !s.Enabled() {
		s.logger.Debug().Str("url", item.URL).Msg("protection disabled, item dropped")
		return StateUnscanned
	}
	if s.dedup.Seen(item.URL) {
		item.State = StateDuplicate
		return item.State
	}

	item.State = StatePending
	select {
	case s.queue <- item:
		s.publish(events.EventScanStarted, events.Payload{"url": analysis.SanitizeURL(item.URL), "media_type": item.MediaType})
		return StatePending
	default:
		// The dedup entry only belongs to items that actually entered
		// the queue; a dropped item must stay scannable later.
		s.dedup.Remove(item.URL)
		s.logger.Warn().Str("url", analysis.SanitizeURL(item.URL)).Msg("scan queue full, item dropped")
		return StateUnscanned
	}
}

// Run drains the queue until ctx is cancelled. It is the only consumer;
// ordering within the queue is FIFO.
func (s *Scheduler) Run(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()

	s.logger.Info().Msg("scan scheduler started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("scan scheduler stopped")
			return
		case item := <-s.queue:
			s.process(ctx, item)
		}
	}
}

// Wait blocks until the consumer loop has exited.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) process(ctx context.Context, item MediaItem) {
	// History and the events stream are display paths; credentials in
	// query strings must never reach either.
	safeURL := analysis.SanitizeURL(item.URL)
	safePage := analysis.SanitizeURL(item.PageURL)

	timer := telemetry.NewAnalysisTimer()
	result, err := s.analyzer.Analyze(ctx, item.URL, item.MediaType)
	if err != nil {
		timer.Observe("failed")
		if !validTransition(item.State, StateError) {
			s.logger.Error().Str("state", string(item.State)).Msg("unexpected state on failure path")
		}
		item.State = StateError
		s.logger.Warn().Err(err).Str("url", safeURL).Msg("analysis failed")
		s.publish(events.EventScanError, events.Payload{"url": safeURL, "error": err.Error()})
		return
	}
	timer.Observe("success")
	item.State = StateComplete

	verdict := classify.ClassifyWithThreshold(result.Confidence, result.IsDeepfake, s.threshold)
	telemetry.VerdictsTotal.WithLabelValues(string(verdict.Label)).Inc()

	// A disable that landed while this item was in flight still lets the
	// result be recorded; only the user-facing notification is gated.
	notify := s.Enabled()

	if _, err := s.store.AtomicIncrement(ctx, state.KeyScanCount, 1); err != nil {
		s.logger.Error().Err(err).Msg("recording scan count")
	}

	if verdict.Label == classify.AIGenerated {
		if _, err := s.store.AtomicIncrement(ctx, state.KeyThreatsDetected, 1); err != nil {
			s.logger.Error().Err(err).Msg("recording threat count")
		}
		rec := state.ThreatRecord{
			MediaURL:   safeURL,
			PageURL:    safePage,
			Confidence: result.Confidence,
			Model:      result.Model,
			DetectedAt: item.DiscoveredAt,
		}
		if err := s.store.AppendThreat(ctx, rec); err != nil {
			s.logger.Error().Err(err).Msg("recording threat")
		}
		s.publish(events.EventThreatDetected, events.Payload{
			"url":        safeURL,
			"page_url":   safePage,
			"confidence": result.Confidence,
			"model":      result.Model,
			"notify":     notify,
		})
	}

	s.publish(events.EventVerdict, events.Payload{
		"url":     safeURL,
		"label":   string(verdict.Label),
		"percent": verdict.ConfidencePercent,
	})
	s.publish(events.EventScanComplete, events.Payload{"url": safeURL})
}

func (s *Scheduler) publish(typ events.EventType, payload events.Payload) {
	if s.bus != nil {
		s.bus.Publish(typ, payload)
	}
}
