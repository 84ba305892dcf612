/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package classify maps raw detection scores onto user-facing verdicts.
package classify

import (
	"math"
	"time"
)

// Label is the three-state classification outcome.
type Label string

const (
	AIGenerated    Label = "AI_GENERATED"
	HumanGenerated Label = "HUMAN_GENERATED"
	Unknown        Label = "UNKNOWN"
)

// DefaultThreshold is the minimum confidence for a definite verdict.
// Comparison is inclusive at the boundary.
const DefaultThreshold = 0.70

// Display durations for non-persistent verdicts. The low-certainty verdict
// dwells longer than the confident human one.
const (
	HumanExpiry   = 5 * time.Second
	UnknownExpiry = 15 * time.Second
)

// Verdict is the derived classification consumed by the rendering surface.
type Verdict struct {
	Label             Label         `json:"label"`
	ConfidencePercent int           `json:"confidence_percent"`
	Persistent        bool          `json:"persistent"`
	ExpiresAfter      time.Duration `json:"expires_after,omitempty"`
}

// Classify derives a verdict from a confidence score and the oracle's AI flag.
// It is pure: identical inputs always produce identical output.
func Classify(confidence float64, isAI bool) Verdict {
	return ClassifyWithThreshold(confidence, isAI, DefaultThreshold)
}

// ClassifyWithThreshold is Classify with an explicit decision threshold.
func ClassifyWithThreshold(confidence float64, isAI bool, threshold float64) Verdict {
	percent := int(math.Round(confidence * 100))
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	switch {
	case confidence >= threshold && isAI:
		return Verdict{Label: AIGenerated, ConfidencePercent: percent, Persistent: true}
	case confidence >= threshold:
		return Verdict{Label: HumanGenerated, ConfidencePercent: percent, ExpiresAfter: HumanExpiry}
	default:
		return Verdict{Label: Unknown, ConfidencePercent: percent, ExpiresAfter: UnknownExpiry}
	}
}
