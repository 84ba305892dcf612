package scanner

import (
	"fmt"
	"testing"
	"time"
)

func TestDedupSeenRecordsFirstUse(t *testing.T) {
	c := NewDedupCache(10)
	if c.Seen("https://a/1.mp4") {
		t.Fatal("first sighting should report new")
	}
	if !c.Seen("https://a/1.mp4") {
		t.Fatal("second sighting should report duplicate")
	}
}

func TestDedupEvictsOldestInserted(t *testing.T) {
	c := NewDedupCache(3)
	for i := 0; i < 3; i++ {
		c.Seen(fmt.Sprintf("https://a/%d.mp4", i))
	}

	// Re-checking entry 0 must not refresh its position.
	if !c.Seen("https://a/0.mp4") {
		t.Fatal("entry 0 should still be present")
	}

	c.Seen("https://a/3.mp4")
	if c.Contains("https://a/0.mp4") {
		t.Fatal("entry 0 was oldest inserted and should be evicted")
	}
	if !c.Contains("https://a/1.mp4") {
		t.Fatal("entry 1 should survive")
	}
}

func TestDedupClear(t *testing.T) {
	c := NewDedupCache(5)
	c.Seen("https://a/1.mp4")
	c.Clear()
	if c.Len() != 0 {
		t.Fatalf("len = %d after clear", c.Len())
	}
	if c.Seen("https://a/1.mp4") {
		t.Fatal("cleared URL should read as new")
	}
}

func TestDebouncerCoalescesBurst(t *testing.T) {
	fired := make(chan struct{}, 10)
	d := NewDebouncer(50*time.Millisecond, func() { fired <- struct{}{} })
	defer d.Stop()

	for i := 0; i < 5; i++ {
		d.Trigger()
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("debouncer never fired")
	}

	select {
	case <-fired:
		t.Fatal("burst should coalesce into one invocation")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDebouncerStopPreventsFire(t *testing.T) {
	fired := make(chan struct{}, 1)
	d := NewDebouncer(30*time.Millisecond, func() { fired <- struct{}{} })
	d.Trigger()
	d.Stop()

	select {
	case <-fired:
		t.Fatal("stopped debouncer must not fire")
	case <-time.After(100 * time.Millisecond):
	}
}
