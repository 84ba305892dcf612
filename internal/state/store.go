/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package state

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/veriscan/internal/events"
	"github.com/friendsincode/veriscan/internal/models"
)

// Well-known store keys.
const (
	KeyScanCount       = "scanCount"
	KeyThreatsDetected = "threatsDetected"
	KeyThreatLog       = "threatLog"
	KeyLastThreat      = "lastThreat"
	KeyEnabled         = "extensionEnabled"
	KeyConsent         = "userConsent"
)

// DefaultHistoryLimit bounds the threat log length.
const DefaultHistoryLimit = 100

// writeRetries bounds re-attempts when a backend write fails under
// contention. Backoff grows linearly.
const (
	writeRetries      = 3
	writeRetryBackoff = 50 * time.Millisecond
)

// ThreatRecord is one confirmed detection in the bounded history.
type ThreatRecord struct {
	MediaURL   string    `json:"media_url"`
	PageURL    string    `json:"page_url,omitempty"`
	Confidence float64   `json:"confidence"`
	Model      string    `json:"model"`
	DetectedAt time.Time `json:"detected_at"`
}

// Settings is the user-controlled protection state. Protection defaults
// on; consent defaults off and must be granted explicitly.
type Settings struct {
	Enabled      bool `json:"enabled"`
	ConsentGiven bool `json:"consent_given"`
}

// Store serializes read-modify-write cycles over a KV backend so that
// concurrent writers never lose updates.
type Store struct {
	kv           KV
	lock         *fifoMutex
	bus          *events.Bus
	historyLimit int
	logger       zerolog.Logger
}

// New creates a store over the given backend. bus may be nil.
func New(kv KV, bus *events.Bus, historyLimit int, logger zerolog.Logger) *Store {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Store{
		kv:           kv,
		lock:         newFIFOMutex(),
		bus:          bus,
		historyLimit: historyLimit,
		logger:       logger.With().Str("component", "state").Logger(),
	}
}

// AtomicIncrement adds amount to a numeric counter and returns the new
// value. The whole read-modify-write runs inside the FIFO lock.
func (s *Store) AtomicIncrement(ctx context.Context, key string, amount int64) (int64, error) {
	if err := s.lock.Lock(ctx); err != nil {
		return 0, err
	}
	defer s.lock.Unlock()

	values, err := s.kv.Get(ctx, models.TierSync, []string{key})
	if err != nil {
		return 0, fmt.Errorf("reading counter %q: %w", key, err)
	}

	var current int64
	if raw, ok := values[key]; ok {
		if err := json.Unmarshal(raw, &current); err != nil {
			return 0, fmt.Errorf("counter %q holds non-numeric value: %w", key, err)
		}
	}
	next := current + amount

	encoded, _ := json.Marshal(next)
	if err := s.setWithRetries(ctx, models.TierSync, map[string]json.RawMessage{key: encoded}); err != nil {
		return 0, err
	}
	s.publishState(key)
	return next, nil
}

// AtomicUpdate runs mutate over the current values of keys and commits
// the returned batch, all inside the FIFO lock. mutate receives only the
// keys that exist; returning a nil map commits nothing.
func (s *Store) AtomicUpdate(ctx context.Context, tier models.StateTier, keys []string, mutate func(map[string]json.RawMessage) (map[string]json.RawMessage, error)) error {
	if err := s.lock.Lock(ctx); err != nil {
		return err
	}
	defer s.lock.Unlock()

	values, err := s.kv.Get(ctx, tier, keys)
	if err != nil {
		return fmt.Errorf("reading state batch: %w", err)
	}

	updated, err := mutate(values)
	if err != nil {
		return err
	}
	if len(updated) == 0 {
		return nil
	}
	if err := s.setWithRetries(ctx, tier, updated); err != nil {
		return err
	}
	for k := range updated {
		s.publishState(k)
	}
	return nil
}

// AppendThreat records a detection in the bounded history. When the log
// is full the oldest entry is dropped; the newest entry is always last.
// The full history lives in the local tier; only the small lastThreat
// summary is written to the size-constrained sync tier.
func (s *Store) AppendThreat(ctx context.Context, rec ThreatRecord) error {
	err := s.AtomicUpdate(ctx, models.TierLocal, []string{KeyThreatLog},
		func(values map[string]json.RawMessage) (map[string]json.RawMessage, error) {
			var log []ThreatRecord
			if raw, ok := values[KeyThreatLog]; ok {
				if err := json.Unmarshal(raw, &log); err != nil {
					s.logger.Warn().Err(err).Msg("threat log corrupt, starting fresh")
					log = nil
				}
			}
			log = append(log, rec)
			if len(log) > s.historyLimit {
				log = log[len(log)-s.historyLimit:]
			}
			encoded, err := json.Marshal(log)
			if err != nil {
				return nil, fmt.Errorf("encoding threat log: %w", err)
			}
			return map[string]json.RawMessage{KeyThreatLog: encoded}, nil
		})
	if err != nil {
		return err
	}

	latest, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding threat record: %w", err)
	}
	return s.AtomicUpdate(ctx, models.TierSync, []string{KeyLastThreat},
		func(map[string]json.RawMessage) (map[string]json.RawMessage, error) {
			return map[string]json.RawMessage{KeyLastThreat: latest}, nil
		})
}

// LastThreat returns the most recent detection, or nil when none exists.
func (s *Store) LastThreat(ctx context.Context) (*ThreatRecord, error) {
	values, err := s.kv.Get(ctx, models.TierSync, []string{KeyLastThreat})
	if err != nil {
		return nil, err
	}
	raw, ok := values[KeyLastThreat]
	if !ok || string(raw) == "null" {
		return nil, nil
	}
	var rec ThreatRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decoding last threat: %w", err)
	}
	return &rec, nil
}

// ThreatLog returns the recorded history, oldest first.
func (s *Store) ThreatLog(ctx context.Context) ([]ThreatRecord, error) {
	values, err := s.kv.Get(ctx, models.TierLocal, []string{KeyThreatLog})
	if err != nil {
		return nil, err
	}
	raw, ok := values[KeyThreatLog]
	if !ok {
		return nil, nil
	}
	var log []ThreatRecord
	if err := json.Unmarshal(raw, &log); err != nil {
		return nil, fmt.Errorf("decoding threat log: %w", err)
	}
	return log, nil
}

// Counter reads a numeric counter; missing keys read as zero.
func (s *Store) Counter(ctx context.Context, key string) (int64, error) {
	values, err := s.kv.Get(ctx, models.TierSync, []string{key})
	if err != nil {
		return 0, err
	}
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("counter %q holds non-numeric value: %w", key, err)
	}
	return n, nil
}

// Settings reads the protection settings, applying defaults for keys
// that have never been written.
func (s *Store) Settings(ctx context.Context) (Settings, error) {
	out := Settings{Enabled: true, ConsentGiven: false}

	values, err := s.kv.Get(ctx, models.TierSync, []string{KeyEnabled, KeyConsent})
	if err != nil {
		return out, err
	}
	if raw, ok := values[KeyEnabled]; ok {
		if err := json.Unmarshal(raw, &out.Enabled); err != nil {
			return out, fmt.Errorf("decoding %s: %w", KeyEnabled, err)
		}
	}
	if raw, ok := values[KeyConsent]; ok {
		if err := json.Unmarshal(raw, &out.ConsentGiven); err != nil {
			return out, fmt.Errorf("decoding %s: %w", KeyConsent, err)
		}
	}
	return out, nil
}

// SetEnabled flips the protection toggle and announces the change.
func (s *Store) SetEnabled(ctx context.Context, enabled bool) error {
	encoded, _ := json.Marshal(enabled)
	if err := s.lock.Lock(ctx); err != nil {
		return err
	}
	err := s.setWithRetries(ctx, models.TierSync, map[string]json.RawMessage{KeyEnabled: encoded})
	s.lock.Unlock()
	if err != nil {
		return err
	}
	if s.bus != nil {
		s.bus.Publish(events.EventProtectionChanged, events.Payload{"enabled": enabled})
	}
	return nil
}

// SetConsent records the user's analysis consent decision.
func (s *Store) SetConsent(ctx context.Context, given bool) error {
	encoded, _ := json.Marshal(given)
	if err := s.lock.Lock(ctx); err != nil {
		return err
	}
	defer s.lock.Unlock()
	return s.setWithRetries(ctx, models.TierSync, map[string]json.RawMessage{KeyConsent: encoded})
}

// Reset clears counters and history while leaving settings untouched.
func (s *Store) Reset(ctx context.Context) error {
	zero, _ := json.Marshal(int64(0))
	empty, _ := json.Marshal([]ThreatRecord{})

	if err := s.lock.Lock(ctx); err != nil {
		return err
	}
	defer s.lock.Unlock()
	if err := s.setWithRetries(ctx, models.TierSync, map[string]json.RawMessage{
		KeyScanCount:       zero,
		KeyThreatsDetected: zero,
		KeyLastThreat:      json.RawMessage("null"),
	}); err != nil {
		return err
	}
	return s.setWithRetries(ctx, models.TierLocal, map[string]json.RawMessage{
		KeyThreatLog: empty,
	})
}

// setWithRetries commits a batch, re-attempting backend failures with
// linear backoff. The caller already holds the FIFO lock.
func (s *Store) setWithRetries(ctx context.Context, tier models.StateTier, values map[string]json.RawMessage) error {
	var err error
	for attempt := 0; attempt <= writeRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * writeRetryBackoff):
			}
		}
		if err = s.kv.Set(ctx, tier, values); err == nil {
			return nil
		}
		s.logger.Warn().Err(err).Int("attempt", attempt+1).Msg("state write failed")
	}
	return fmt.Errorf("state write exhausted retries: %w", err)
}

func (s *Store) publishState(key string) {
	if s.bus != nil {
		s.bus.Publish(events.EventStateChanged, events.Payload{"key": key})
	}
}
