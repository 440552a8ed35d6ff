package sched

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testClasses() []Classifier {
	return []Classifier{
		{
			Name:       "session",
			Preemptive: true,
			Match:      func(t *Task) bool { return t.Key().Kind == "bootstrap" },
		},
		{
			Name:  "latency.arena",
			Match: func(t *Task) bool { return t.Key().Kind == "arena" },
		},
		{
			Name:  "latency.rally",
			Match: func(t *Task) bool { return t.Key().Kind == "rally" },
		},
	}
}

func mkTask(kind Kind, distinct string, in time.Duration) *Task {
	return NewTask(TaskSpec{
		Kind:     kind,
		Profile:  "p1",
		Distinct: distinct,
		FirstRun: time.Now().Add(in),
		Exec:     func(ctx context.Context, r *Run) error { return nil },
	})
}

func takeNow(t *testing.T, q *DelayQueue) *Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	task, err := q.Take(ctx)
	if err != nil {
		t.Fatalf("Take: %v", err)
	}
	return task
}

func TestTakePreemptiveIgnoresDelay(t *testing.T) {
	t.Parallel()
	q := NewDelayQueue(testClasses())

	if err := q.Offer(mkTask("harvest", "", -time.Minute)); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	// Scheduled far in the future, but its class is preemptive.
	if err := q.Offer(mkTask("bootstrap", "", time.Hour)); err != nil {
		t.Fatalf("Offer: %v", err)
	}

	if got := takeNow(t, q).Key().Kind; got != "bootstrap" {
		t.Fatalf("first take = %q, want bootstrap", got)
	}
	if got := takeNow(t, q).Key().Kind; got != "harvest" {
		t.Fatalf("second take = %q, want harvest", got)
	}
}

func TestTakeOrdersByClassThenDelay(t *testing.T) {
	t.Parallel()

	// All ready. Class order decides between kinds; extra overdue time on a
	// lower-ranked kind must not promote it. Within a class the most overdue
	// runs first. Both scenarios swap which latency kind is more overdue to
	// pin their order as fixed rather than delay-driven.
	cases := []struct {
		name         string
		arena, rally time.Duration
	}{
		{"arena more overdue", -30 * time.Minute, -time.Minute},
		{"rally more overdue", -time.Minute, -30 * time.Minute},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			q := NewDelayQueue(testClasses())
			for _, tk := range []*Task{
				mkTask("harvest", "", -10*time.Minute),
				mkTask("arena", "", tc.arena),
				mkTask("rally", "r1", tc.rally),
				mkTask("mail", "", -time.Hour),
			} {
				if err := q.Offer(tk); err != nil {
					t.Fatalf("Offer: %v", err)
				}
			}

			want := []Kind{"arena", "rally", "mail", "harvest"}
			for i, w := range want {
				if got := takeNow(t, q).Key().Kind; got != w {
					t.Fatalf("take %d = %q, want %q", i, got, w)
				}
			}
		})
	}
}

func TestOfferIfAbsentKeepsReplacement(t *testing.T) {
	t.Parallel()
	q := NewDelayQueue(testClasses())

	replacement := mkTask("train", "", time.Hour)
	if err := q.Offer(replacement); err != nil {
		t.Fatalf("Offer: %v", err)
	}

	// A finished instance of the same task must not displace the queued
	// replacement.
	stale := mkTask("train", "", -time.Minute)
	inserted, err := q.OfferIfAbsent(stale)
	if err != nil {
		t.Fatalf("OfferIfAbsent: %v", err)
	}
	if inserted {
		t.Fatal("stale instance displaced the queued replacement")
	}
	if got, ok := q.Get(stale.Key()); !ok || got != replacement {
		t.Fatal("replacement no longer held after OfferIfAbsent")
	}

	q.Remove(stale.Key())
	inserted, err = q.OfferIfAbsent(stale)
	if err != nil {
		t.Fatalf("OfferIfAbsent: %v", err)
	}
	if !inserted {
		t.Fatal("OfferIfAbsent refused an absent key")
	}
}

func TestTakeWaitsForDelay(t *testing.T) {
	t.Parallel()
	q := NewDelayQueue(testClasses())

	if err := q.Offer(mkTask("harvest", "", 60*time.Millisecond)); err != nil {
		t.Fatalf("Offer: %v", err)
	}

	start := time.Now()
	task := takeNow(t, q)
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("Take returned after %v, want >= 50ms", elapsed)
	}
	if task.Key().Kind != "harvest" {
		t.Fatalf("got %q", task.Key().Kind)
	}
}

func TestTakeWakesOnOffer(t *testing.T) {
	t.Parallel()
	q := NewDelayQueue(testClasses())

	got := make(chan *Task, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		task, err := q.Take(ctx)
		if err == nil {
			got <- task
		}
	}()

	time.Sleep(20 * time.Millisecond)
	if err := q.Offer(mkTask("mail", "", 0)); err != nil {
		t.Fatalf("Offer: %v", err)
	}

	select {
	case task := <-got:
		if task.Key().Kind != "mail" {
			t.Fatalf("got %q", task.Key().Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Take did not wake on Offer")
	}
}

func TestOfferReplacesSameKey(t *testing.T) {
	t.Parallel()
	q := NewDelayQueue(testClasses())

	first := mkTask("train", "", time.Hour)
	second := mkTask("train", "", -time.Second)
	if err := q.Offer(first); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if err := q.Offer(second); err != nil {
		t.Fatalf("Offer: %v", err)
	}

	if n := q.Len(); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
	if got := takeNow(t, q); got != second {
		t.Fatalf("take returned the replaced task")
	}
}

func TestRemove(t *testing.T) {
	t.Parallel()
	q := NewDelayQueue(testClasses())

	task := mkTask("patrol", "", time.Hour)
	if err := q.Offer(task); err != nil {
		t.Fatalf("Offer: %v", err)
	}
	if !q.Remove(task.Key()) {
		t.Fatal("Remove = false, want true")
	}
	if q.Remove(task.Key()) {
		t.Fatal("second Remove = true, want false")
	}
	if n := q.Len(); n != 0 {
		t.Fatalf("Len = %d, want 0", n)
	}
}

func TestTakeAfterClose(t *testing.T) {
	t.Parallel()
	q := NewDelayQueue(testClasses())

	done := make(chan error, 1)
	go func() {
		_, err := q.Take(context.Background())
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case err := <-done:
		if !errors.Is(err, ErrQueueClosed) {
			t.Fatalf("Take err = %v, want ErrQueueClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Take did not return after Close")
	}

	if err := q.Offer(mkTask("mail", "", 0)); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("Offer after Close = %v, want ErrQueueClosed", err)
	}
}

func TestSnapshotOrder(t *testing.T) {
	t.Parallel()
	q := NewDelayQueue(testClasses())

	for _, tk := range []*Task{
		mkTask("harvest", "", time.Minute),
		mkTask("bootstrap", "", time.Hour),
		mkTask("arena", "", time.Second),
	} {
		if err := q.Offer(tk); err != nil {
			t.Fatalf("Offer: %v", err)
		}
	}

	snap := q.Snapshot(time.Now())
	want := []Kind{"bootstrap", "arena", "harvest"}
	if len(snap) != len(want) {
		t.Fatalf("snapshot len = %d, want %d", len(snap), len(want))
	}
	for i, w := range want {
		if snap[i].Key().Kind != w {
			t.Fatalf("snapshot[%d] = %q, want %q", i, snap[i].Key().Kind, w)
		}
	}
}
