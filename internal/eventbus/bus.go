// Package eventbus provides a small in-memory fanout used to decouple the
// scheduling core from observers (notify pipeline, diagnostics).
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Slow subscribers may lose events (bounded buffers, no backpressure).
//   - Event.Data should be small and JSON-serializable.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the scheduling core.
const (
	TaskStarted       = "task.started"
	TaskCompleted     = "task.completed"
	TaskFailed        = "task.failed"
	TaskRescheduled   = "task.rescheduled"
	ProfileStopped    = "profile.stopped"
	ProfilePaused     = "profile.paused"
	ProfileResumed    = "profile.resumed"
	BootstrapReady    = "bootstrap.ready"
	BootstrapRetrying = "bootstrap.retrying"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Sends hold the read lock; Unsubscribe takes the write lock before
	// closing, so we never send on a closed channel.
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
			// subscriber is slow: drop
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
	return ch, unsub
}
