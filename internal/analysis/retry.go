/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package analysis

import (
	"context"
	"time"
)

// MaxRetries bounds how many times a failed attempt is repeated.
const MaxRetries = 3

// BackoffDelay returns the wait before retry number attempt (1-based):
// 2^attempt seconds, so 2s, 4s, 8s.
func BackoffDelay(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

// withRetries runs fn up to MaxRetries+1 times, sleeping the backoff
// delay between attempts. Non-retryable errors abort immediately, as
// does context cancellation.
func withRetries(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !IsRetryable(err) || attempt >= MaxRetries {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(BackoffDelay(attempt + 1)):
		}
	}
}
