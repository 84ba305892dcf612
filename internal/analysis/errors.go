/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package analysis submits media URLs to the gateway and interprets the
// detection response. Errors are classified so the scheduler knows which
// failures are worth retrying.
package analysis

import (
	"errors"
	"fmt"
	"time"
)

// ValidationError marks input the gateway rejected as malformed or unsafe.
// Never retried.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// BlockedHostError marks a URL whose host the client refuses to send out.
type BlockedHostError struct {
	Host string
}

func (e *BlockedHostError) Error() string {
	return fmt.Sprintf("host %q is blocked from analysis", e.Host)
}

// TransientNetworkError wraps timeouts and 5xx responses. Retryable.
type TransientNetworkError struct {
	Err error
}

func (e *TransientNetworkError) Error() string {
	return fmt.Sprintf("transient network failure: %v", e.Err)
}

func (e *TransientNetworkError) Unwrap() error { return e.Err }

// RateLimitError carries the server's reset hint so callers can back off
// precisely instead of guessing.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// StorageContentionError marks a lost read-modify-write race in the
// coordinated store. Retryable a bounded number of times.
type StorageContentionError struct {
	Key string
}

func (e *StorageContentionError) Error() string {
	return fmt.Sprintf("storage contention on %q", e.Key)
}

// IsRetryable reports whether err represents a failure that a later
// attempt could plausibly succeed at.
func IsRetryable(err error) bool {
	var transient *TransientNetworkError
	var contention *StorageContentionError
	return errors.As(err, &transient) || errors.As(err, &contention)
}
