package notify

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"siegebot/internal/eventbus"
	"siegebot/internal/sched"
	"siegebot/pkg/logx"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingSender) Send(ctx context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, text)
	return nil
}

func (r *recordingSender) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.sent...)
}

func waitSent(t *testing.T, r *recordingSender, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := r.all(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d alerts, got %v", n, r.all())
	return nil
}

func TestAlertDelivery(t *testing.T) {
	t.Parallel()
	rec := &recordingSender{}
	svc := New(logx.Nop(), rec, Options{RatePerSec: 100})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	svc.Alert("profile alpha paused")
	got := waitSent(t, rec, 1)
	if got[0] != "profile alpha paused" {
		t.Fatalf("sent = %q", got[0])
	}
}

func TestDedupWindowSuppressesRepeats(t *testing.T) {
	t.Parallel()
	rec := &recordingSender{}
	svc := New(logx.Nop(), rec, Options{RatePerSec: 100, DedupWindow: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	svc.Alert("same alert")
	svc.Alert("same alert")
	svc.Alert("different alert")

	got := waitSent(t, rec, 2)
	time.Sleep(50 * time.Millisecond)
	if got = rec.all(); len(got) != 2 {
		t.Fatalf("sent %d alerts, want 2 (one deduped): %v", len(got), got)
	}
}

func TestWatchBusRendersProfileEvents(t *testing.T) {
	t.Parallel()
	rec := &recordingSender{}
	svc := New(logx.Nop(), rec, Options{RatePerSec: 100})
	bus := eventbus.New()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()
	go func() { _ = svc.WatchBus(bus)(ctx) }()

	time.Sleep(20 * time.Millisecond)
	bus.Publish(eventbus.Event{
		Type: eventbus.ProfilePaused,
		Data: sched.TaskEvent{Profile: "alpha", Detail: "captcha on screen"},
	})
	// Routine task completions stay quiet.
	bus.Publish(eventbus.Event{
		Type: eventbus.TaskCompleted,
		Data: sched.TaskEvent{Profile: "alpha", Task: "harvest/alpha"},
	})

	got := waitSent(t, rec, 1)
	if !strings.Contains(got[0], "alpha") || !strings.Contains(got[0], "captcha") {
		t.Fatalf("alert = %q", got[0])
	}
	time.Sleep(50 * time.Millisecond)
	if got = rec.all(); len(got) != 1 {
		t.Fatalf("sent %d alerts, want only the pause: %v", len(got), got)
	}
}
