package sched

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"siegebot/internal/eventbus"
	"siegebot/pkg/logx"
)

// Outcome labels a finished run.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeRecovered    Outcome = "recovered"
	OutcomeFatal        Outcome = "fatal"
	OutcomeIntervention Outcome = "intervention"
)

// Record is the history entry produced for every run.
type Record struct {
	ID       string
	Profile  string
	Kind     Kind
	Distinct string
	Started  time.Time
	Duration time.Duration
	Outcome  Outcome
	Error    string
}

// ProfileSource refreshes and persists per-profile state around a run.
type ProfileSource interface {
	// Refresh reloads the profile snapshot before a run. A failure here is
	// tolerated: the run proceeds on the cached snapshot.
	Refresh(ctx context.Context, profileID string) error
	// Persist writes the profile snapshot after a run marked it dirty.
	Persist(ctx context.Context, profileID string) error
}

// ProcessChecker reports whether the game process is alive on the device.
// The emulator controller satisfies this.
type ProcessChecker interface {
	IsProcessRunning(ctx context.Context) (bool, error)
}

// StaminaRefresher revalidates a profile's stamina pool before a consuming
// task runs.
type StaminaRefresher interface {
	RefreshStamina(profileID string, now time.Time)
}

// RecordSink receives finished run records.
type RecordSink interface {
	Record(ctx context.Context, rec Record)
}

// RecordFunc adapts a function to RecordSink.
type RecordFunc func(ctx context.Context, rec Record)

func (f RecordFunc) Record(ctx context.Context, rec Record) { f(ctx, rec) }

// Run is the handle a task's ExecFunc drives its own scheduling through.
type Run struct {
	task    *Task
	log     logx.Logger
	started time.Time

	rescheduled bool
	retired     bool
	dirty       bool
}

func (r *Run) Task() *Task      { return r.task }
func (r *Run) Log() logx.Logger { return r.log }

// Reschedule sets the task's next execution instant. The last call during a
// run wins.
func (r *Run) Reschedule(at time.Time) {
	r.task.Reschedule(at)
	r.rescheduled = true
}

// RescheduleIn reschedules relative to now.
func (r *Run) RescheduleIn(d time.Duration) {
	r.Reschedule(time.Now().Add(d))
}

// Retire stops the task from being re-offered after this run.
func (r *Run) Retire() {
	r.retired = true
	r.task.SetRecurring(false)
}

// MarkStateDirty requests a profile persist after the run completes.
func (r *Run) MarkStateDirty() { r.dirty = true }

// Runner wraps task execution in the fixed lifecycle every run goes
// through: profile refresh, process check, screen positioning, stamina
// revalidation, execute, error classification, state persist, reschedule
// guard, and record keeping.
type Runner struct {
	Log      logx.Logger
	Bus      eventbus.Bus
	Nav      Navigator
	Game     ProcessChecker
	Stamina  StaminaRefresher
	Profiles ProfileSource
	Records  RecordSink

	// RetryBackoff is applied when a run fails recoverably or forgets to
	// reschedule itself.
	RetryBackoff time.Duration
}

const defaultRetryBackoff = 5 * time.Minute

func (rn *Runner) backoff() time.Duration {
	if rn.RetryBackoff > 0 {
		return rn.RetryBackoff
	}
	return defaultRetryBackoff
}

// Execute runs one task through the full lifecycle. The returned error is
// non-nil only for the escalating tiers: a fatal error stops the profile's
// worker, an intervention error pauses it. Recoverable failures are absorbed
// here, with the task pushed out by the retry backoff.
//
// requeue reports whether the caller must re-offer the task. It is true even
// on fatal and intervention returns so the task survives a later resume.
func (rn *Runner) Execute(ctx context.Context, t *Task) (requeue bool, err error) {
	started := time.Now()
	t.markStarted(started)

	log := rn.Log.With(
		logx.String("task", t.Key().String()),
		logx.String("kind", string(t.Key().Kind)),
	)
	r := &Run{task: t, log: log, started: started}

	rn.publish(eventbus.TaskStarted, t, "")
	log.Debug("task starting", logx.Time("scheduled_at", t.ScheduledAt()))

	// Profile refresh failures are tolerated: the run proceeds on the
	// cached snapshot rather than stalling the whole profile.
	if rn.Profiles != nil {
		if perr := rn.Profiles.Refresh(ctx, t.Key().Profile); perr != nil {
			log.Warn("profile refresh failed, running on cached snapshot", logx.Err(perr))
		}
	}

	runErr := rn.preflight(ctx, t)
	if runErr == nil {
		runErr = rn.execute(ctx, t, r)
	}

	outcome := OutcomeOK
	switch {
	case runErr == nil:
	case IsFatal(runErr):
		outcome, err = OutcomeFatal, runErr
		log.Error("task failed fatally", logx.Err(runErr))
	case IsIntervention(runErr):
		outcome, err = OutcomeIntervention, runErr
		log.Error("task needs operator intervention", logx.Err(runErr))
	case errors.Is(runErr, context.Canceled):
		// Shutdown mid-run. Leave the schedule as the task set it, or
		// untouched so the task re-runs on the next start.
		outcome = OutcomeRecovered
		log.Debug("task canceled", logx.Err(runErr))
	default:
		// Recoverable errors must be handled inside the task; one escaping
		// to here is a bug in the duty, not a reason to stop the profile.
		outcome = OutcomeRecovered
		log.Error("unhandled recoverable error escaped task, retrying later",
			logx.Err(runErr), logx.Duration("backoff", rn.backoff()))
		r.RescheduleIn(rn.backoff())
	}

	if r.dirty && rn.Profiles != nil {
		if perr := rn.Profiles.Persist(ctx, t.Key().Profile); perr != nil {
			log.Error("profile persist failed", logx.Err(perr))
		}
	}

	// A recurring task that finished without touching its own schedule
	// would spin hot on the queue. Treat it as a defect and back it off.
	if !r.rescheduled && !r.retired && t.Recurring() && outcome == OutcomeOK {
		log.Error("task completed without rescheduling, applying default backoff",
			logx.Duration("backoff", rn.backoff()))
		r.RescheduleIn(rn.backoff())
	}

	rn.record(ctx, t, started, outcome, runErr)

	switch outcome {
	case OutcomeOK:
		rn.publish(eventbus.TaskCompleted, t, "")
		if !r.retired {
			rn.publish(eventbus.TaskRescheduled, t, "")
		}
	default:
		rn.publish(eventbus.TaskFailed, t, string(outcome))
	}

	if rn.Nav != nil && ctx.Err() == nil {
		if nerr := rn.Nav.Reset(ctx); nerr != nil {
			log.Warn("screen reset failed", logx.Err(nerr))
		}
	}

	log.Debug("task finished",
		logx.String("outcome", string(outcome)),
		logx.Duration("elapsed", time.Since(started)))

	return t.Recurring() && !r.retired, err
}

// preflight runs the fixed preconditions between the profile refresh and the
// task body: game process alive, screen at the required location, stamina
// revalidated. The session bootstrap skips all three since nothing is
// verifiable before the game is up.
func (rn *Runner) preflight(ctx context.Context, t *Task) error {
	if t.SkipsPreconditions() {
		return nil
	}
	if rn.Game != nil {
		alive, err := rn.Game.IsProcessRunning(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return Intervention(fmt.Errorf("process check: %w", err))
		}
		if !alive {
			return Fatalf("game process not running")
		}
	}
	if rn.Nav != nil && t.Location() != LocationAny {
		if err := rn.Nav.Ensure(ctx, t.Location()); err != nil {
			return fmt.Errorf("ensure %s screen: %w", t.Location(), err)
		}
	}
	if rn.Stamina != nil && t.UsesStamina() {
		rn.Stamina.RefreshStamina(t.Key().Profile, time.Now())
	}
	return nil
}

// execute invokes the task body with a panic guard. A panicking duty is a
// bug; it is downgraded to a recoverable failure so the profile keeps
// running.
func (rn *Runner) execute(ctx context.Context, t *Task, r *Run) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("task %s panicked: %v", t.Key(), rec)
			rn.Log.Error("task panic",
				logx.String("task", t.Key().String()),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())))
		}
	}()
	if t.exec == nil {
		return fmt.Errorf("task %s has no exec func", t.Key())
	}
	return t.exec(ctx, r)
}

func (rn *Runner) record(ctx context.Context, t *Task, started time.Time, outcome Outcome, runErr error) {
	if rn.Records == nil {
		return
	}
	rec := Record{
		ID:       uuid.NewString(),
		Profile:  t.Key().Profile,
		Kind:     t.Key().Kind,
		Distinct: t.Key().Distinct,
		Started:  started,
		Duration: time.Since(started),
		Outcome:  outcome,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	rn.Records.Record(ctx, rec)
}

// TaskEvent is the payload attached to task lifecycle events.
type TaskEvent struct {
	Profile string `json:"profile"`
	Task    string `json:"task"`
	Kind    string `json:"kind"`
	Detail  string `json:"detail,omitempty"`
}

func (rn *Runner) publish(typ string, t *Task, detail string) {
	if rn.Bus == nil {
		return
	}
	rn.Bus.Publish(eventbus.Event{
		Type: typ,
		Data: TaskEvent{
			Profile: t.Key().Profile,
			Task:    t.Key().String(),
			Kind:    string(t.Key().Kind),
			Detail:  detail,
		},
	})
}
