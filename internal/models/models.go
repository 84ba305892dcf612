/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// StateTier names the persistence tier a key lives in.
type StateTier string

const (
	// TierSync is the small, synchronized tier (counters, toggles, last threat).
	TierSync StateTier = "sync"
	// TierLocal is the larger, locally-scoped tier (history, dedup snapshot).
	TierLocal StateTier = "local"
)

// StateEntry is one key of the persistent key-value state store.
type StateEntry struct {
	Key       string    `gorm:"primaryKey;size:128" json:"key"`
	Tier      StateTier `gorm:"type:varchar(8);index;not null" json:"tier"`
	Value     []byte    `gorm:"type:blob" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Report is a community-review submission about a scanned page.
type Report struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id"`
	PageURL    string    `gorm:"type:text;not null" json:"page_url"`
	Confidence float64   `gorm:"not null" json:"confidence"`
	ReportedAt time.Time `gorm:"index;not null" json:"reported_at"`
	CallerID   string    `gorm:"size:64;index" json:"caller_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
