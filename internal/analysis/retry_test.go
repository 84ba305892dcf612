package analysis

import (
	"errors"
	"testing"
	"time"
)

func TestBackoffDelayDoubles(t *testing.T) {
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
	}
	for _, c := range cases {
		if got := BackoffDelay(c.attempt); got != c.want {
			t.Fatalf("BackoffDelay(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestIsRetryableClassification(t *testing.T) {
	if !IsRetryable(&TransientNetworkError{Err: errors.New("timeout")}) {
		t.Fatal("transient network errors are retryable")
	}
	if !IsRetryable(&StorageContentionError{Key: "scanCount"}) {
		t.Fatal("storage contention is retryable")
	}
	if IsRetryable(&ValidationError{Reason: "bad scheme"}) {
		t.Fatal("validation errors must not be retried")
	}
	if IsRetryable(&RateLimitError{RetryAfter: time.Minute}) {
		t.Fatal("rate limit errors must not be blindly retried")
	}
	if IsRetryable(&BlockedHostError{Host: "x.corp"}) {
		t.Fatal("blocked host errors must not be retried")
	}
}

func TestIsRetryableSeesWrappedErrors(t *testing.T) {
	wrapped := errors.Join(errors.New("context"), &TransientNetworkError{Err: errors.New("reset")})
	if !IsRetryable(wrapped) {
		t.Fatal("wrapped transient error should still be retryable")
	}
}
