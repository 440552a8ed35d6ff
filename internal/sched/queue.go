package sched

import (
	"context"
	"sort"
	"sync"
	"time"
)

// DelayQueue holds the pending tasks of one profile and hands them out one
// at a time.
//
// Selection order on each Take:
//  1. A task in a preemptive class is returned immediately, scheduled time
//     ignored. Ties break by class rank, then ascending remaining delay.
//  2. Otherwise only ready tasks (scheduled time <= now) are eligible,
//     ordered by class rank, then ascending remaining delay (most overdue
//     first within a class).
//  3. With nothing eligible, Take sleeps until the earliest scheduled time
//     or until Offer/Replace/Remove wakes it.
//
// The queue never duplicates identity: Offer on an existing key replaces
// the stored task.
type DelayQueue struct {
	classes []Classifier

	mu     sync.Mutex
	tasks  map[Key]*Task
	closed bool

	// wake carries at most one pending notification; stateless beyond that.
	wake chan struct{}
}

func NewDelayQueue(classes []Classifier) *DelayQueue {
	return &DelayQueue{
		classes: classes,
		tasks:   make(map[Key]*Task),
		wake:    make(chan struct{}, 1),
	}
}

// Offer inserts the task, replacing any task with the same key.
func (q *DelayQueue) Offer(t *Task) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.tasks[t.Key()] = t
	q.mu.Unlock()
	q.notify()
	return nil
}

// OfferIfAbsent inserts the task only when no task with the same key is
// held, reporting whether it was inserted. The worker uses it to re-offer a
// finished task without clobbering a replacement queued while it ran.
func (q *DelayQueue) OfferIfAbsent(t *Task) (bool, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false, ErrQueueClosed
	}
	if _, held := q.tasks[t.Key()]; held {
		q.mu.Unlock()
		return false, nil
	}
	q.tasks[t.Key()] = t
	q.mu.Unlock()
	q.notify()
	return true, nil
}

// Remove drops the task with the given key, reporting whether it was held.
// A task currently checked out by Take is not in the queue and is unaffected.
func (q *DelayQueue) Remove(k Key) bool {
	q.mu.Lock()
	_, ok := q.tasks[k]
	delete(q.tasks, k)
	q.mu.Unlock()
	if ok {
		q.notify()
	}
	return ok
}

// Get returns the stored task for the key, if any.
func (q *DelayQueue) Get(k Key) (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	t, ok := q.tasks[k]
	return t, ok
}

func (q *DelayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Snapshot lists the held tasks ordered as Take would consider them at now.
func (q *DelayQueue) Snapshot(now time.Time) []*Task {
	q.mu.Lock()
	out := make([]*Task, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, t)
	}
	q.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool {
		return q.less(out[i], out[j], now)
	})
	return out
}

// Close wakes any blocked Take with ErrQueueClosed and rejects further
// offers. Held tasks remain readable via Snapshot for diagnostics.
func (q *DelayQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.notify()
}

func (q *DelayQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// less orders a before b for selection purposes at the given instant.
func (q *DelayQueue) less(a, b *Task, now time.Time) bool {
	ra, rb := classify(q.classes, a), classify(q.classes, b)
	if ra != rb {
		return ra < rb
	}
	return a.RemainingDelay(now) < b.RemainingDelay(now)
}

// pick returns the task Take would hand out at now, or, when none is
// eligible, the earliest upcoming scheduled time. Caller holds q.mu.
func (q *DelayQueue) pick(now time.Time) (*Task, time.Time) {
	var (
		best    *Task
		preempt bool
		next    time.Time
	)
	for _, t := range q.tasks {
		rank := classify(q.classes, t)
		pre := rank < len(q.classes) && q.classes[rank].Preemptive
		if !pre && !t.Ready(now) {
			if at := t.ScheduledAt(); next.IsZero() || at.Before(next) {
				next = at
			}
			continue
		}
		switch {
		case best == nil:
			best, preempt = t, pre
		case pre && !preempt:
			best, preempt = t, pre
		case pre == preempt && q.less(t, best, now):
			best, preempt = t, pre
		}
	}
	return best, next
}

// Take blocks until a task is eligible and removes it from the queue. The
// caller owns the task until it re-offers it. Returns ErrQueueClosed after
// Close, or the context error on cancellation.
func (q *DelayQueue) Take(ctx context.Context) (*Task, error) {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		now := time.Now()
		t, next := q.pick(now)
		if t != nil {
			delete(q.tasks, t.Key())
			q.mu.Unlock()
			return t, nil
		}
		q.mu.Unlock()

		var tc <-chan time.Time
		if !next.IsZero() {
			timer.Reset(next.Sub(now))
			tc = timer.C
		}
		select {
		case <-ctx.Done():
			if tc != nil && !timer.Stop() {
				<-timer.C
			}
			return nil, ctx.Err()
		case <-q.wake:
			if tc != nil && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-tc:
		}
	}
}
