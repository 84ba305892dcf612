package scanner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/veriscan/internal/analysis"
	"github.com/friendsincode/veriscan/internal/events"
	"github.com/friendsincode/veriscan/internal/state"
)

type fakeAnalyzer struct {
	mu      sync.Mutex
	calls   []string
	result  *analysis.ScanResult
	err     error
	release chan struct{}
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, mediaURL, mediaType string) (*analysis.ScanResult, error) {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	f.calls = append(f.calls, mediaURL)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestScheduler(t *testing.T, fa *fakeAnalyzer, bus *events.Bus) (*Scheduler, *state.Store) {
	t.Helper()
	store := state.New(state.NewMemoryKV(), bus, 100, zerolog.Nop())
	sched := NewScheduler(fa, store, NewDedupCache(500), bus, 50, 0.70, zerolog.Nop())
	return sched, store
}

func item(url string) MediaItem {
	return MediaItem{URL: url, MediaType: "video", PageURL: "https://page.example.com", State: StateUnscanned, DiscoveredAt: time.Now()}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestSchedulerProcessesAndRecords(t *testing.T) {
	fa := &fakeAnalyzer{result: &analysis.ScanResult{IsDeepfake: true, Confidence: 0.91, Model: "guardian-v2"}}
	bus := events.NewBus()
	sched, store := newTestScheduler(t, fa, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	if got := sched.Enqueue(item("https://cdn.example.com/a.mp4")); got != StatePending {
		t.Fatalf("enqueue state = %s, want pending", got)
	}

	waitFor(t, func() bool {
		n, _ := store.Counter(context.Background(), state.KeyScanCount)
		return n == 1
	})

	threats, _ := store.Counter(context.Background(), state.KeyThreatsDetected)
	if threats != 1 {
		t.Fatalf("threats = %d, want 1", threats)
	}
	log, _ := store.ThreatLog(context.Background())
	if len(log) != 1 || log[0].MediaURL != "https://cdn.example.com/a.mp4" {
		t.Fatalf("unexpected threat log %+v", log)
	}
}

func TestSchedulerDeduplicates(t *testing.T) {
	fa := &fakeAnalyzer{result: &analysis.ScanResult{Confidence: 0.2, Model: "guardian-v2"}}
	sched, _ := newTestScheduler(t, fa, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	if got := sched.Enqueue(item("https://cdn.example.com/a.mp4")); got != StatePending {
		t.Fatalf("first enqueue = %s", got)
	}
	if got := sched.Enqueue(item("https://cdn.example.com/a.mp4")); got != StateDuplicate {
		t.Fatalf("second enqueue = %s, want duplicate", got)
	}

	waitFor(t, func() bool { return fa.callCount() == 1 })
	time.Sleep(50 * time.Millisecond)
	if fa.callCount() != 1 {
		t.Fatalf("analyzer called %d times, want 1", fa.callCount())
	}
}

func TestSchedulerSkipsUnfetchable(t *testing.T) {
	fa := &fakeAnalyzer{}
	sched, _ := newTestScheduler(t, fa, nil)

	if got := sched.Enqueue(item("blob:https://x/abc")); got != StateSkipped {
		t.Fatalf("blob URL state = %s, want skipped", got)
	}
	if fa.callCount() != 0 {
		t.Fatal("skipped items must not reach the analyzer")
	}
}

func TestSchedulerDropsWhenQueueFull(t *testing.T) {
	release := make(chan struct{})
	fa := &fakeAnalyzer{release: release, result: &analysis.ScanResult{Confidence: 0.1, Model: "m"}}
	store := state.New(state.NewMemoryKV(), nil, 100, zerolog.Nop())
	sched := NewScheduler(fa, store, NewDedupCache(500), nil, 2, 0.70, zerolog.Nop())

	// No consumer running: the queue fills at its capacity of 2.
	if got := sched.Enqueue(item("https://a/1.mp4")); got != StatePending {
		t.Fatalf("first = %s", got)
	}
	if got := sched.Enqueue(item("https://a/2.mp4")); got != StatePending {
		t.Fatalf("second = %s", got)
	}
	if got := sched.Enqueue(item("https://a/3.mp4")); got != StateUnscanned {
		t.Fatalf("overflow item state = %s, want unscanned drop", got)
	}
	close(release)
}

func TestSchedulerDroppedItemStaysScannable(t *testing.T) {
	release := make(chan struct{})
	fa := &fakeAnalyzer{release: release, result: &analysis.ScanResult{Confidence: 0.1, Model: "m"}}
	store := state.New(state.NewMemoryKV(), nil, 100, zerolog.Nop())
	dedup := NewDedupCache(500)
	sched := NewScheduler(fa, store, dedup, nil, 1, 0.70, zerolog.Nop())

	// No consumer running: the second item overflows the size-1 queue.
	if got := sched.Enqueue(item("https://a/1.mp4")); got != StatePending {
		t.Fatalf("first = %s", got)
	}
	if got := sched.Enqueue(item("https://a/2.mp4")); got != StateUnscanned {
		t.Fatalf("overflow = %s, want unscanned drop", got)
	}
	if dedup.Contains("https://a/2.mp4") {
		t.Fatal("dropped item must not be recorded as seen")
	}

	// Once the consumer drains the queue, the dropped URL schedules
	// normally instead of reading as a duplicate.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)
	close(release)
	waitFor(t, func() bool { return fa.callCount() == 1 })

	if got := sched.Enqueue(item("https://a/2.mp4")); got != StatePending {
		t.Fatalf("re-enqueue after drop = %s, want pending", got)
	}
	waitFor(t, func() bool { return fa.callCount() == 2 })
}

func TestSchedulerSanitizesRecordedURLs(t *testing.T) {
	fa := &fakeAnalyzer{result: &analysis.ScanResult{IsDeepfake: true, Confidence: 0.93, Model: "guardian-v2"}}
	bus := events.NewBus()
	sched, store := newTestScheduler(t, fa, bus)
	threatSub := bus.Subscribe(events.EventThreatDetected)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	sched.Enqueue(MediaItem{
		URL:          "https://cdn.example.com/a.mp4?token=s3cret&quality=hd",
		MediaType:    "video",
		PageURL:      "https://page.example.com/story?session=xyz",
		State:        StateUnscanned,
		DiscoveredAt: time.Now(),
	})

	waitFor(t, func() bool {
		n, _ := store.Counter(context.Background(), state.KeyThreatsDetected)
		return n == 1
	})

	log, _ := store.ThreatLog(context.Background())
	if len(log) != 1 {
		t.Fatalf("threat log length = %d", len(log))
	}
	if log[0].MediaURL != "https://cdn.example.com/a.mp4?quality=hd" {
		t.Fatalf("media URL not sanitized in history: %q", log[0].MediaURL)
	}
	if log[0].PageURL != "https://page.example.com/story" {
		t.Fatalf("page URL not sanitized in history: %q", log[0].PageURL)
	}

	select {
	case payload := <-threatSub:
		if payload["url"] != "https://cdn.example.com/a.mp4?quality=hd" {
			t.Fatalf("event media URL not sanitized: %v", payload["url"])
		}
		if payload["page_url"] != "https://page.example.com/story" {
			t.Fatalf("event page URL not sanitized: %v", payload["page_url"])
		}
	case <-time.After(time.Second):
		t.Fatal("threat event not published")
	}
}

func TestSchedulerDisableStopsEnqueues(t *testing.T) {
	fa := &fakeAnalyzer{result: &analysis.ScanResult{Confidence: 0.1, Model: "m"}}
	sched, _ := newTestScheduler(t, fa, nil)

	sched.SetEnabled(false)
	if got := sched.Enqueue(item("https://a/1.mp4")); got != StateUnscanned {
		t.Fatalf("enqueue while disabled = %s, want drop", got)
	}
}

func TestSchedulerInFlightRecordedNotificationSuppressed(t *testing.T) {
	release := make(chan struct{})
	fa := &fakeAnalyzer{release: release, result: &analysis.ScanResult{IsDeepfake: true, Confidence: 0.95, Model: "guardian-v2"}}
	bus := events.NewBus()
	sched, store := newTestScheduler(t, fa, bus)

	threatSub := bus.Subscribe(events.EventThreatDetected)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	sched.Enqueue(item("https://cdn.example.com/a.mp4"))
	sched.SetEnabled(false) // lands while the item is in flight
	close(release)

	waitFor(t, func() bool {
		n, _ := store.Counter(context.Background(), state.KeyThreatsDetected)
		return n == 1
	})

	select {
	case payload := <-threatSub:
		if notify, _ := payload["notify"].(bool); notify {
			t.Fatal("notification should be suppressed for results completing after disable")
		}
	case <-time.After(time.Second):
		t.Fatal("threat event not published")
	}
}

func TestSchedulerErrorPathPublishes(t *testing.T) {
	fa := &fakeAnalyzer{err: &analysis.ValidationError{Reason: "bad"}}
	bus := events.NewBus()
	sched, store := newTestScheduler(t, fa, bus)
	errSub := bus.Subscribe(events.EventScanError)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	sched.Enqueue(item("https://cdn.example.com/bad.mp4"))

	select {
	case payload := <-errSub:
		if payload["url"] != "https://cdn.example.com/bad.mp4" {
			t.Fatalf("unexpected error payload %+v", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("scan error event not published")
	}

	if n, _ := store.Counter(context.Background(), state.KeyScanCount); n != 0 {
		t.Fatalf("failed scans must not bump the scan counter, got %d", n)
	}
}

func TestSchedulerManyItemsAllProcessed(t *testing.T) {
	fa := &fakeAnalyzer{result: &analysis.ScanResult{Confidence: 0.3, Model: "m"}}
	sched, store := newTestScheduler(t, fa, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	for i := 0; i < 20; i++ {
		sched.Enqueue(item(fmt.Sprintf("https://cdn.example.com/%d.mp4", i)))
	}

	waitFor(t, func() bool {
		n, _ := store.Counter(context.Background(), state.KeyScanCount)
		return n == 20
	})
}
