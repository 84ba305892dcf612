package ratelimit

import (
	"sync"
	"testing"
	"time"
)

func TestWindowAdmitsUpToMax(t *testing.T) {
	w := NewWindow(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !w.Allow("caller") {
			t.Fatalf("request %d should be admitted", i+1)
		}
	}
	if w.Allow("caller") {
		t.Fatal("request beyond max should be rejected")
	}
}

func TestWindowExpiryReadmits(t *testing.T) {
	w := NewWindow(2, time.Minute)
	current := time.Unix(1000, 0)
	w.now = func() time.Time { return current }

	if !w.Allow("k") || !w.Allow("k") {
		t.Fatal("first two should be admitted")
	}
	if w.Allow("k") {
		t.Fatal("third within window should be rejected")
	}

	current = current.Add(61 * time.Second)
	if !w.Allow("k") {
		t.Fatal("request after window elapsed should be admitted")
	}
}

func TestWindowKeysAreIndependent(t *testing.T) {
	w := NewWindow(1, time.Minute)
	if !w.Allow("a") {
		t.Fatal("a should be admitted")
	}
	if !w.Allow("b") {
		t.Fatal("b should be admitted independently")
	}
	if w.Allow("a") {
		t.Fatal("a at capacity")
	}
}

func TestWindowRetryAfter(t *testing.T) {
	w := NewWindow(1, time.Minute)
	current := time.Unix(2000, 0)
	w.now = func() time.Time { return current }

	w.Allow("k")
	current = current.Add(20 * time.Second)
	if got := w.RetryAfter("k"); got != 40*time.Second {
		t.Fatalf("retry-after = %v, want 40s", got)
	}

	if got := w.RetryAfter("other"); got != 0 {
		t.Fatalf("untouched key should have zero retry-after, got %v", got)
	}
}

func TestWindowRemaining(t *testing.T) {
	w := NewWindow(3, time.Minute)
	w.Allow("k")
	if got := w.Remaining("k"); got != 2 {
		t.Fatalf("remaining = %d, want 2", got)
	}
}

func TestWindowConcurrentCallers(t *testing.T) {
	w := NewWindow(50, time.Minute)
	var wg sync.WaitGroup
	admitted := make(chan bool, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted <- w.Allow("shared")
		}()
	}
	wg.Wait()
	close(admitted)

	count := 0
	for ok := range admitted {
		if ok {
			count++
		}
	}
	if count != 50 {
		t.Fatalf("exactly 50 of 100 should be admitted, got %d", count)
	}
}
