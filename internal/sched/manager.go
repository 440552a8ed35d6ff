package sched

import (
	"context"
	"fmt"
	"sync"
	"time"

	"siegebot/internal/eventbus"
	"siegebot/internal/runtime/supervisor"
	"siegebot/pkg/logx"
)

// WorkerState is the lifecycle state of one profile's worker.
type WorkerState string

const (
	WorkerRunning WorkerState = "running"
	WorkerPaused  WorkerState = "paused"
	WorkerStopped WorkerState = "stopped"
)

// ProfileStatus is a diagnostic snapshot of one profile's queue.
type ProfileStatus struct {
	Profile string
	State   WorkerState
	Current string // key of the task being run, empty when idle
	Pending []PendingTask
}

// PendingTask describes one queued task for diagnostics.
type PendingTask struct {
	Key         Key
	ScheduledAt time.Time
	Recurring   bool
}

// Manager owns one delay queue and one worker goroutine per profile. The
// worker is the only goroutine that touches a profile's emulator, which is
// what serializes task execution per account.
type Manager struct {
	log     logx.Logger
	bus     eventbus.Bus
	sup     *supervisor.Supervisor
	classes []Classifier

	mu       sync.Mutex
	profiles map[string]*profileQueue
}

type profileQueue struct {
	id     string
	queue  *DelayQueue
	runner *Runner
	log    logx.Logger

	// stopTake cancels only the Take wait; a run in flight finishes under
	// the worker's own context so tasks stop between runs, not mid-run.
	stopTake context.CancelFunc

	mu      sync.Mutex
	state   WorkerState
	current Key
	busy    bool
	resume  chan struct{}
}

func NewManager(log logx.Logger, bus eventbus.Bus, sup *supervisor.Supervisor, classes []Classifier) *Manager {
	return &Manager{
		log:      log,
		bus:      bus,
		sup:      sup,
		classes:  classes,
		profiles: make(map[string]*profileQueue),
	}
}

// StartProfile creates the profile's queue, seeds it with the given tasks,
// and launches its worker under the supervisor.
func (m *Manager) StartProfile(id string, runner *Runner, tasks []*Task) error {
	m.mu.Lock()
	if _, ok := m.profiles[id]; ok {
		m.mu.Unlock()
		return fmt.Errorf("profile %q already started", id)
	}
	pq := &profileQueue{
		id:     id,
		queue:  NewDelayQueue(m.classes),
		runner: runner,
		log:    m.log.With(logx.String("profile", id)),
		state:  WorkerRunning,
	}
	m.profiles[id] = pq
	m.mu.Unlock()

	for _, t := range tasks {
		if err := pq.queue.Offer(t); err != nil {
			return err
		}
	}

	m.sup.Go("worker:"+id, func(ctx context.Context) error {
		return m.workProfile(ctx, pq)
	})
	return nil
}

// Offer routes a task to its profile's queue, replacing any task with the
// same key.
func (m *Manager) Offer(t *Task) error {
	pq, err := m.profile(t.Key().Profile)
	if err != nil {
		return err
	}
	return pq.queue.Offer(t)
}

// Remove drops a pending task.
func (m *Manager) Remove(k Key) (bool, error) {
	pq, err := m.profile(k.Profile)
	if err != nil {
		return false, err
	}
	return pq.queue.Remove(k), nil
}

// RunNow pulls a pending task forward so the worker picks it up next within
// its priority class. The task currently in flight is never interrupted.
func (m *Manager) RunNow(k Key) error {
	pq, err := m.profile(k.Profile)
	if err != nil {
		return err
	}
	t, ok := pq.queue.Get(k)
	if !ok {
		return fmt.Errorf("no pending task %s", k)
	}
	t.Reschedule(time.Now())
	// Re-offer to wake the worker; same key, so this replaces in place.
	return pq.queue.Offer(t)
}

// RunNowTask offers a freshly built task scheduled for now. With replace set,
// a pending task with the same identity is superseded so the new parameters
// take effect immediately; without it, a duplicate identity is an error.
func (m *Manager) RunNowTask(t *Task, replace bool) error {
	pq, err := m.profile(t.Key().Profile)
	if err != nil {
		return err
	}
	if !replace {
		if _, ok := pq.queue.Get(t.Key()); ok {
			return fmt.Errorf("task %s already pending", t.Key())
		}
	}
	t.Reschedule(time.Now())
	return pq.queue.Offer(t)
}

// SyncTasks reconciles the profile's pending set with a freshly built task
// list, typically after a config reload. Pending tasks absent from the new
// list are removed unless retain says otherwise; matching keys are replaced
// in place with the old cadence kept, so a reload does not make every duty
/// fire at once. The task in flight is never touched: if it tries to re-offer
// itself after the sync, the replacement wins.
func (m *Manager) SyncTasks(id string, tasks []*Task, retain func(Key) bool) error {
	pq, err := m.profile(id)
	if err != nil {
		return err
	}

	want := make(map[Key]bool, len(tasks))
	for _, t := range tasks {
		want[t.Key()] = true
	}
	for _, old := range pq.queue.Snapshot(time.Now()) {
		k := old.Key()
		if !want[k] && (retain == nil || !retain(k)) {
			pq.queue.Remove(k)
		}
	}

	for _, t := range tasks {
		if old, ok := pq.queue.Get(t.Key()); ok {
			t.Reschedule(old.ScheduledAt())
		}
		if err := pq.queue.Offer(t); err != nil {
			// Queue closed; the profile stopped mid-sync.
			return err
		}
	}
	return nil
}

// StopProfile stops the profile's worker after the current task finishes and
// closes its queue.
func (m *Manager) StopProfile(id string) error {
	pq, err := m.profile(id)
	if err != nil {
		return err
	}
	pq.mu.Lock()
	if pq.stopTake != nil {
		pq.stopTake()
	}
	if pq.resume != nil {
		close(pq.resume)
		pq.resume = nil
	}
	pq.state = WorkerStopped
	pq.mu.Unlock()
	pq.queue.Close()
	return nil
}

// Resume unblocks a worker paused for operator intervention. The task that
// triggered the pause was re-offered at pause time and runs again promptly.
func (m *Manager) Resume(id string) error {
	pq, err := m.profile(id)
	if err != nil {
		return err
	}
	pq.mu.Lock()
	defer pq.mu.Unlock()
	if pq.state != WorkerPaused || pq.resume == nil {
		return fmt.Errorf("profile %q is not paused", id)
	}
	close(pq.resume)
	pq.resume = nil
	pq.state = WorkerRunning
	return nil
}

// Status reports the state of every profile queue.
func (m *Manager) Status() []ProfileStatus {
	m.mu.Lock()
	pqs := make([]*profileQueue, 0, len(m.profiles))
	for _, pq := range m.profiles {
		pqs = append(pqs, pq)
	}
	m.mu.Unlock()

	now := time.Now()
	out := make([]ProfileStatus, 0, len(pqs))
	for _, pq := range pqs {
		pq.mu.Lock()
		st := ProfileStatus{Profile: pq.id, State: pq.state}
		if pq.busy {
			st.Current = pq.current.String()
		}
		pq.mu.Unlock()
		for _, t := range pq.queue.Snapshot(now) {
			st.Pending = append(st.Pending, PendingTask{
				Key:         t.Key(),
				ScheduledAt: t.ScheduledAt(),
				Recurring:   t.Recurring(),
			})
		}
		out = append(out, st)
	}
	return out
}

func (m *Manager) profile(id string) (*profileQueue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pq, ok := m.profiles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProfile, id)
	}
	return pq, nil
}

// workProfile is the per-profile worker loop. It exits on queue close,
// context cancellation, or a fatal task error.
func (m *Manager) workProfile(ctx context.Context, pq *profileQueue) error {
	takeCtx, cancelTake := context.WithCancel(ctx)
	defer cancelTake()
	pq.mu.Lock()
	pq.stopTake = cancelTake
	pq.mu.Unlock()

	defer m.markStopped(pq)

	for {
		t, err := pq.queue.Take(takeCtx)
		if err != nil {
			// Queue closed or profile stopped; both are clean exits.
			return nil
		}

		pq.mu.Lock()
		pq.current, pq.busy = t.Key(), true
		pq.mu.Unlock()

		requeue, runErr := pq.runner.Execute(ctx, t)

		pq.mu.Lock()
		pq.busy = false
		pq.mu.Unlock()

		if requeue {
			// A sync may have queued a replacement while this run was in
			// flight; the replacement wins over the stale instance.
			// Best effort: the queue only rejects after close, and then
			// the worker is exiting anyway.
			_, _ = pq.queue.OfferIfAbsent(t)
		}

		switch {
		case runErr == nil:
		case IsFatal(runErr):
			pq.log.Error("stopping profile worker on fatal task error", logx.Err(runErr))
			m.publishProfile(eventbus.ProfileStopped, pq.id, runErr.Error())
			return runErr
		case IsIntervention(runErr):
			if err := m.pause(ctx, pq, runErr); err != nil {
				return err
			}
		}
	}
}

// pause parks the worker until Resume or shutdown.
func (m *Manager) pause(ctx context.Context, pq *profileQueue, cause error) error {
	pq.mu.Lock()
	if pq.state == WorkerStopped {
		pq.mu.Unlock()
		return nil
	}
	resume := make(chan struct{})
	pq.resume = resume
	pq.state = WorkerPaused
	pq.mu.Unlock()

	pq.log.Warn("profile paused, waiting for operator", logx.Err(cause))
	m.publishProfile(eventbus.ProfilePaused, pq.id, cause.Error())

	select {
	case <-ctx.Done():
		return nil
	case <-resume:
	}

	// StopProfile also closes the resume channel; do not report a resume
	// when the wake was actually a stop.
	pq.mu.Lock()
	stopped := pq.state == WorkerStopped
	pq.mu.Unlock()
	if stopped {
		return nil
	}

	pq.log.Info("profile resumed")
	m.publishProfile(eventbus.ProfileResumed, pq.id, "")
	return nil
}

func (m *Manager) markStopped(pq *profileQueue) {
	pq.mu.Lock()
	pq.state = WorkerStopped
	pq.mu.Unlock()
}

func (m *Manager) publishProfile(typ, profile, detail string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(eventbus.Event{
		Type: typ,
		Data: TaskEvent{Profile: profile, Detail: detail},
	})
}
