package notifications

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/veriscan/internal/events"
)

type captureNotifier struct {
	mu    sync.Mutex
	seen  []string
	delay time.Duration
}

func (c *captureNotifier) Notify(title, body string) error {
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	c.seen = append(c.seen, body)
	c.mu.Unlock()
	return nil
}

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

func threatPayload(url string, notify bool) events.Payload {
	return events.Payload{"url": url, "confidence": 0.9, "notify": notify}
}

func TestServiceDeliversWithinBudget(t *testing.T) {
	bus := events.NewBus()
	sink := &captureNotifier{}
	svc := New(bus, sink, 3, zerolog.Nop())

	for i := 0; i < 2; i++ {
		svc.handle(threatPayload("https://a/x.mp4", true))
	}
	if sink.count() != 2 {
		t.Fatalf("delivered %d, want 2", sink.count())
	}
}

func TestServiceThrottlesBeyondBudget(t *testing.T) {
	bus := events.NewBus()
	sink := &captureNotifier{}
	svc := New(bus, sink, 3, zerolog.Nop())

	for i := 0; i < 10; i++ {
		svc.handle(threatPayload("https://a/x.mp4", true))
	}
	if sink.count() != 3 {
		t.Fatalf("delivered %d, want exactly 3 within the window", sink.count())
	}
}

func TestServiceHonorsSuppressionFlag(t *testing.T) {
	bus := events.NewBus()
	sink := &captureNotifier{}
	svc := New(bus, sink, 3, zerolog.Nop())

	svc.handle(threatPayload("https://a/x.mp4", false))
	if sink.count() != 0 {
		t.Fatal("suppressed payloads must not be presented")
	}
}

func TestServiceConsumesBusEvents(t *testing.T) {
	bus := events.NewBus()
	sink := &captureNotifier{}
	svc := New(bus, sink, 3, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Run(ctx)
	time.Sleep(20 * time.Millisecond) // let the subscription register

	bus.Publish(events.EventThreatDetected, threatPayload("https://a/x.mp4", true))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sink.count() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("bus event never delivered a notification")
}
