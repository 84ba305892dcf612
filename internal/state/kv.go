/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package state implements the coordinated key-value store shared between
// the scanner and its UI surfaces. Values live in one of two tiers: sync
// (replicated, durable) and local (per-installation).
package state

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/friendsincode/veriscan/internal/models"
)

// ErrNotFound marks a key absent from the store.
var ErrNotFound = errors.New("state: key not found")

// ChangeFunc observes committed writes. keys holds the changed key names.
type ChangeFunc func(tier models.StateTier, keys []string)

// KV is the storage backend contract. Get returns only the keys that
// exist; Set commits a batch atomically per call.
type KV interface {
	Get(ctx context.Context, tier models.StateTier, keys []string) (map[string]json.RawMessage, error)
	Set(ctx context.Context, tier models.StateTier, values map[string]json.RawMessage) error
	OnChange(fn ChangeFunc)
}

// MemoryKV is the in-process backend used by the agent and by tests.
type MemoryKV struct {
	mu        sync.RWMutex
	tiers     map[models.StateTier]map[string]json.RawMessage
	listeners []ChangeFunc
}

// NewMemoryKV creates an empty in-memory backend.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		tiers: map[models.StateTier]map[string]json.RawMessage{
			models.TierSync:  {},
			models.TierLocal: {},
		},
	}
}

func (m *MemoryKV) Get(_ context.Context, tier models.StateTier, keys []string) (map[string]json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := m.tiers[tier][k]; ok {
			cp := make(json.RawMessage, len(v))
			copy(cp, v)
			out[k] = cp
		}
	}
	return out, nil
}

func (m *MemoryKV) Set(_ context.Context, tier models.StateTier, values map[string]json.RawMessage) error {
	m.mu.Lock()
	keys := make([]string, 0, len(values))
	for k, v := range values {
		cp := make(json.RawMessage, len(v))
		copy(cp, v)
		m.tiers[tier][k] = cp
		keys = append(keys, k)
	}
	listeners := make([]ChangeFunc, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(tier, keys)
	}
	return nil
}

func (m *MemoryKV) OnChange(fn ChangeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, fn)
}

// GormKV persists state entries through the shared database handle, used
// by the gateway to survive restarts.
type GormKV struct {
	db *gorm.DB

	mu        sync.Mutex
	listeners []ChangeFunc
}

// NewGormKV wraps an open database connection.
func NewGormKV(db *gorm.DB) *GormKV {
	return &GormKV{db: db}
}

func (g *GormKV) Get(ctx context.Context, tier models.StateTier, keys []string) (map[string]json.RawMessage, error) {
	var rows []models.StateEntry
	err := g.db.WithContext(ctx).
		Where("tier = ? AND key IN ?", tier, keys).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[string]json.RawMessage, len(rows))
	for _, row := range rows {
		out[row.Key] = json.RawMessage(row.Value)
	}
	return out, nil
}

func (g *GormKV) Set(ctx context.Context, tier models.StateTier, values map[string]json.RawMessage) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for k, v := range values {
			entry := models.StateEntry{
				Key:       k,
				Tier:      tier,
				Value:     []byte(v),
				UpdatedAt: time.Now(),
			}
			res := tx.Where("key = ? AND tier = ?", k, tier).
				Assign(map[string]any{"value": entry.Value, "updated_at": entry.UpdatedAt}).
				FirstOrCreate(&entry)
			if res.Error != nil {
				return res.Error
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	g.mu.Lock()
	listeners := make([]ChangeFunc, len(g.listeners))
	copy(listeners, g.listeners)
	g.mu.Unlock()

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	for _, fn := range listeners {
		fn(tier, keys)
	}
	return nil
}

func (g *GormKV) OnChange(fn ChangeFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, fn)
}
