/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package logbuffer provides an in-memory ring buffer for capturing logs.
package logbuffer

import (
	"encoding/json"
	"sync"
	"time"
)

// LogEntry represents a single log entry.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
	Raw       string         `json:"raw,omitempty"`
}

// Buffer is a thread-safe ring buffer for log entries.
type Buffer struct {
	mu       sync.RWMutex
	entries  []LogEntry
	capacity int
	head     int
	count    int
}

// New creates a new log buffer with the specified capacity.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 10000
	}
	return &Buffer{
		entries:  make([]LogEntry, capacity),
		capacity: capacity,
	}
}

// Add adds a log entry to the buffer.
func (b *Buffer) Add(entry LogEntry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.entries[b.head] = entry
	b.head = (b.head + 1) % b.capacity
	if b.count < b.capacity {
		b.count++
	}
}

// GetAll returns all log entries in chronological order.
func (b *Buffer) GetAll() []LogEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	result := make([]LogEntry, b.count)
	if b.count == 0 {
		return result
	}

	start := 0
	if b.count == b.capacity {
		start = b.head
	}

	for i := 0; i < b.count; i++ {
		idx := (start + i) % b.capacity
		result[i] = b.entries[idx]
	}

	return result
}

// QueryParams filters entries returned by Query.
type QueryParams struct {
	Level     string    // Filter by level (debug, info, warn, error)
	Component string    // Filter by component field
	Since     time.Time // Only entries after this time
	Limit     int       // Max entries to return (0 = all)
}

// Query returns filtered log entries, oldest first.
func (b *Buffer) Query(params QueryParams) []LogEntry {
	all := b.GetAll()

	filtered := make([]LogEntry, 0, len(all))
	for _, entry := range all {
		if params.Level != "" && entry.Level != params.Level {
			continue
		}
		if params.Component != "" && entry.Component != params.Component {
			continue
		}
		if !params.Since.IsZero() && !entry.Timestamp.After(params.Since) {
			continue
		}
		filtered = append(filtered, entry)
	}

	if params.Limit > 0 && len(filtered) > params.Limit {
		filtered = filtered[len(filtered)-params.Limit:]
	}
	return filtered
}

// Write implements io.Writer so the buffer can hang off zerolog's multi writer.
// Lines that are not zerolog JSON are stored raw.
func (b *Buffer) Write(p []byte) (int, error) {
	entry := LogEntry{Timestamp: time.Now(), Raw: string(p)}

	var decoded map[string]any
	if err := json.Unmarshal(p, &decoded); err == nil {
		if lvl, ok := decoded["level"].(string); ok {
			entry.Level = lvl
		}
		if msg, ok := decoded["message"].(string); ok {
			entry.Message = msg
		}
		if comp, ok := decoded["component"].(string); ok {
			entry.Component = comp
		}
		fields := make(map[string]any)
		for k, v := range decoded {
			switch k {
			case "level", "message", "component", "time":
			default:
				fields[k] = v
			}
		}
		if len(fields) > 0 {
			entry.Fields = fields
		}
	}

	b.Add(entry)
	return len(p), nil
}
