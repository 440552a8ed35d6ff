// Package sched is the scheduling core: the task contract and lifecycle
// wrapper, the priority delay queue, and the per-profile queue manager.
//
// Feature behavior (what a duty actually does on screen) lives in
// internal/duty; this package only knows how to order, gate, and run tasks.
package sched

import (
	"context"
	"sync"
	"time"
)

// Kind names a duty type ("bootstrap", "arena", ...). Kinds are data: the
// core never switches on concrete kinds, it consults the classifier table.
type Kind string

// Key is task identity. Two tasks with equal keys represent the same
// recurring duty for the same profile and are interchangeable: the manager
// replaces rather than duplicates them.
//
// Distinct allows multiple simultaneous instances of one kind for one
// profile (e.g. one rally task per target monster).
type Key struct {
	Kind     Kind
	Profile  string
	Distinct string
}

func (k Key) String() string {
	s := string(k.Kind) + "/" + k.Profile
	if k.Distinct != "" {
		s += "/" + k.Distinct
	}
	return s
}

// Location is a task's required starting screen.
type Location int

const (
	LocationAny Location = iota
	LocationHome
	LocationWorld
)

func (l Location) String() string {
	switch l {
	case LocationHome:
		return "home"
	case LocationWorld:
		return "world"
	default:
		return "any"
	}
}

// Navigator is the screen-navigation collaborator.
type Navigator interface {
	// Ensure brings the game to the given location.
	Ensure(ctx context.Context, loc Location) error
	// Reset returns the game to a neutral screen between tasks.
	Reset(ctx context.Context) error
}

// ExecFunc is the per-duty behavior invoked by the lifecycle wrapper.
//
// Contract: every code path must end in r.Reschedule/RescheduleIn (optionally
// plus r.Retire) or rely on an earlier call in the same invocation; the
// queue re-derives delay from the task's scheduled time alone. The lifecycle
// wrapper treats a run that neither rescheduled nor retired as a defect and
// applies the default retry backoff.
type ExecFunc func(ctx context.Context, r *Run) error

// TaskSpec describes a task to be constructed.
type TaskSpec struct {
	Kind     Kind
	Profile  string
	Distinct string

	// Location the task requires before execute; default LocationAny.
	Location Location

	// UsesStamina marks the task as consuming the regenerating resource.
	// Such tasks refresh and spend through the profile's tracker and must
	// reschedule to the tracker's next-available time when short.
	UsesStamina bool

	// Recurring tasks are re-offered after each successful run.
	Recurring bool

	// SkipPreconditions exempts the task from the process, location, and
	// stamina preflight. Only the session bootstrap needs this: nothing is
	// verifiable before the game is up.
	SkipPreconditions bool

	// FirstRun is the initial scheduled time; zero means "now".
	FirstRun time.Time

	// State is opaque task-local state that survives across runs (e.g. the
	// bootstrap phase). Per-run data must NOT live here: duties reload
	// everything else from the profile snapshot at the start of each run.
	State any

	Exec ExecFunc
}

// Task is one unit of recurring, self-rescheduling work bound to a profile.
//
// Scheduling fields are guarded by a mutex because Reschedule is called from
// the worker goroutine mid-run while diagnostics may snapshot concurrently.
type Task struct {
	key         Key
	location    Location
	usesStamina bool
	skipPre     bool
	exec        ExecFunc

	// State survives across runs. Documented per duty; see TaskSpec.State.
	State any

	mu          sync.Mutex
	scheduledAt time.Time
	recurring   bool
	lastRun     time.Time
}

func NewTask(spec TaskSpec) *Task {
	first := spec.FirstRun
	if first.IsZero() {
		first = time.Now()
	}
	return &Task{
		key:         Key{Kind: spec.Kind, Profile: spec.Profile, Distinct: spec.Distinct},
		location:    spec.Location,
		usesStamina: spec.UsesStamina,
		skipPre:     spec.SkipPreconditions,
		exec:        spec.Exec,
		State:       spec.State,
		scheduledAt: first,
		recurring:   spec.Recurring,
	}
}

func (t *Task) Key() Key           { return t.key }
func (t *Task) Location() Location { return t.location }
func (t *Task) UsesStamina() bool  { return t.usesStamina }

// SkipsPreconditions reports whether the run preflight is bypassed for this
// task. See TaskSpec.SkipPreconditions.
func (t *Task) SkipsPreconditions() bool { return t.skipPre }

// ScheduledAt returns the absolute instant the task becomes eligible to run.
func (t *Task) ScheduledAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scheduledAt
}

// Ready reports whether the task is eligible at the given instant.
func (t *Task) Ready(now time.Time) bool {
	return !t.ScheduledAt().After(now)
}

// RemainingDelay is negative when the task is overdue.
func (t *Task) RemainingDelay(now time.Time) time.Duration {
	return t.ScheduledAt().Sub(now)
}

// Reschedule sets the next execution instant. Callable any number of times
// during a run; the last call wins.
func (t *Task) Reschedule(at time.Time) {
	t.mu.Lock()
	t.scheduledAt = at
	t.mu.Unlock()
}

func (t *Task) Recurring() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recurring
}

func (t *Task) SetRecurring(v bool) {
	t.mu.Lock()
	t.recurring = v
	t.mu.Unlock()
}

func (t *Task) LastRun() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRun
}

func (t *Task) markStarted(now time.Time) {
	t.mu.Lock()
	t.lastRun = now
	t.mu.Unlock()
}

// Classifier assigns queue priority. Classifiers are evaluated top to bottom;
// a task's class is the first match, and earlier classes outrank later ones.
// Unmatched tasks rank below every class.
type Classifier struct {
	Name string

	// Preemptive classes are handed out by Take regardless of their
	// scheduled time: session bootstrap must run before anything else
	// touches the emulator.
	Preemptive bool

	Match func(*Task) bool
}

// classify returns the rank (index) of the first matching classifier, or
// len(classes) when none match.
func classify(classes []Classifier, t *Task) int {
	for i, c := range classes {
		if c.Match != nil && c.Match(t) {
			return i
		}
	}
	return len(classes)
}
