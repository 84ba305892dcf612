/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scanner discovers media on pages and schedules it for
// analysis: discovery feeds a dedup cache, deduped items enter a bounded
// queue, and a single consumer drains the queue through the analysis
// client.
package scanner

import (
	"strings"
	"time"
)

// ScanState tracks one media item through its lifecycle.
type ScanState string

const (
	// StateUnscanned is the initial state for newly discovered media.
	StateUnscanned ScanState = "unscanned"
	// StatePending marks an item queued or in flight.
	StatePending ScanState = "pending"
	// StateComplete marks an item with a recorded verdict.
	StateComplete ScanState = "complete"
	// StateError marks an item whose analysis terminally failed.
	StateError ScanState = "error"
	// StateDuplicate marks an item already seen in the dedup cache.
	StateDuplicate ScanState = "duplicate"
	// StateSkipped marks an item whose URL scheme cannot be fetched
	// server-side (blob:, data:, about:, javascript:).
	StateSkipped ScanState = "skipped"
)

// MediaItem is one discovered media element.
type MediaItem struct {
	URL          string
	MediaType    string // "video" or "audio"
	PageURL      string
	State        ScanState
	DiscoveredAt time.Time
}

// unfetchableSchemes are URL schemes the gateway can never retrieve.
var unfetchableSchemes = []string{"blob:", "data:", "about:", "javascript:"}

// Fetchable reports whether a URL is worth sending for analysis at all.
func Fetchable(rawURL string) bool {
	lower := strings.ToLower(strings.TrimSpace(rawURL))
	if lower == "" {
		return false
	}
	for _, scheme := range unfetchableSchemes {
		if strings.HasPrefix(lower, scheme) {
			return false
		}
	}
	return true
}

// validTransition enumerates the allowed state machine edges.
func validTransition(from, to ScanState) bool {
	switch from {
	case StateUnscanned:
		return to == StatePending || to == StateDuplicate || to == StateSkipped
	case StatePending:
		return to == StateComplete || to == StateError
	default:
		return false
	}
}
