package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"siegebot/pkg/logx"
)

// tracer records lifecycle collaborator calls in order.
type tracer struct {
	mu    sync.Mutex
	steps []string

	refreshErr error
	ensureErr  error
	persistErr error

	gameDown bool
	aliveErr error

	records []Record
}

func (tr *tracer) add(step string) {
	tr.mu.Lock()
	tr.steps = append(tr.steps, step)
	tr.mu.Unlock()
}

func (tr *tracer) Refresh(ctx context.Context, profileID string) error {
	tr.add("refresh")
	return tr.refreshErr
}

func (tr *tracer) Persist(ctx context.Context, profileID string) error {
	tr.add("persist")
	return tr.persistErr
}

func (tr *tracer) Ensure(ctx context.Context, loc Location) error {
	tr.add("ensure:" + loc.String())
	return tr.ensureErr
}

func (tr *tracer) Reset(ctx context.Context) error {
	tr.add("reset")
	return nil
}

func (tr *tracer) IsProcessRunning(ctx context.Context) (bool, error) {
	tr.add("alive")
	return !tr.gameDown, tr.aliveErr
}

func (tr *tracer) RefreshStamina(profileID string, now time.Time) {
	tr.add("stamina")
}

func (tr *tracer) Record(ctx context.Context, rec Record) {
	tr.add("record")
	tr.mu.Lock()
	tr.records = append(tr.records, rec)
	tr.mu.Unlock()
}

func (tr *tracer) got() []string {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return append([]string(nil), tr.steps...)
}

func newRunner(tr *tracer) *Runner {
	return &Runner{
		Log:          logx.Nop(),
		Nav:          tr,
		Game:         tr,
		Stamina:      tr,
		Profiles:     tr,
		Records:      tr,
		RetryBackoff: time.Minute,
	}
}

func TestExecuteStepOrder(t *testing.T) {
	t.Parallel()
	tr := &tracer{}
	rn := newRunner(tr)

	task := NewTask(TaskSpec{
		Kind:        "patrol",
		Profile:     "p1",
		Location:    LocationHome,
		UsesStamina: true,
		Recurring:   true,
		Exec: func(ctx context.Context, r *Run) error {
			tr.add("exec")
			r.MarkStateDirty()
			r.RescheduleIn(10 * time.Minute)
			return nil
		},
	})

	requeue, err := rn.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !requeue {
		t.Fatal("requeue = false, want true for a recurring task")
	}

	want := []string{"refresh", "alive", "ensure:home", "stamina", "exec", "persist", "record", "reset"}
	got := tr.got()
	if len(got) != len(want) {
		t.Fatalf("steps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step %d = %q, want %q (%v)", i, got[i], want[i], got)
		}
	}
	if tr.records[0].Outcome != OutcomeOK {
		t.Fatalf("outcome = %q, want ok", tr.records[0].Outcome)
	}
}

func TestExecuteToleratesRefreshFailure(t *testing.T) {
	t.Parallel()
	tr := &tracer{refreshErr: errors.New("storage offline")}
	rn := newRunner(tr)

	ran := false
	task := NewTask(TaskSpec{
		Kind:    "mail",
		Profile: "p1",
		Exec: func(ctx context.Context, r *Run) error {
			ran = true
			r.Retire()
			return nil
		},
	})

	if _, err := rn.Execute(context.Background(), task); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !ran {
		t.Fatal("task did not run despite a tolerated refresh failure")
	}
}

func TestExecuteFatalWhenGameDown(t *testing.T) {
	t.Parallel()
	tr := &tracer{gameDown: true}
	rn := newRunner(tr)

	ran := false
	task := NewTask(TaskSpec{
		Kind:      "harvest",
		Profile:   "p1",
		Recurring: true,
		Exec: func(ctx context.Context, r *Run) error {
			ran = true
			r.Retire()
			return nil
		},
	})

	requeue, err := rn.Execute(context.Background(), task)
	if !IsFatal(err) {
		t.Fatalf("err = %v, want fatal with the game process gone", err)
	}
	if ran {
		t.Fatal("task body ran with the game process gone")
	}
	if !requeue {
		t.Fatal("requeue = false; the task must survive for a later restart")
	}
}

func TestExecuteInterventionWhenProcessCheckFails(t *testing.T) {
	t.Parallel()
	tr := &tracer{aliveErr: errors.New("device offline")}
	rn := newRunner(tr)

	task := NewTask(TaskSpec{
		Kind:      "mail",
		Profile:   "p1",
		Recurring: true,
		Exec:      func(ctx context.Context, r *Run) error { return nil },
	})

	_, err := rn.Execute(context.Background(), task)
	if !IsIntervention(err) {
		t.Fatalf("err = %v, want intervention when the device is unreachable", err)
	}
}

func TestExecuteExemptTaskSkipsPreflight(t *testing.T) {
	t.Parallel()
	tr := &tracer{gameDown: true}
	rn := newRunner(tr)

	ran := false
	task := NewTask(TaskSpec{
		Kind:              "bootstrap",
		Profile:           "p1",
		Recurring:         true,
		SkipPreconditions: true,
		Exec: func(ctx context.Context, r *Run) error {
			ran = true
			r.Retire()
			return nil
		},
	})

	if _, err := rn.Execute(context.Background(), task); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !ran {
		t.Fatal("exempt task did not run with the game down")
	}
	for _, step := range tr.got() {
		if step == "alive" || step == "stamina" {
			t.Fatalf("preflight step %q ran for an exempt task", step)
		}
	}
}

func TestExecuteFatalPropagates(t *testing.T) {
	t.Parallel()
	tr := &tracer{}
	rn := newRunner(tr)

	task := NewTask(TaskSpec{
		Kind:      "bootstrap",
		Profile:   "p1",
		Recurring: true,
		Exec: func(ctx context.Context, r *Run) error {
			r.RescheduleIn(time.Minute)
			return Fatalf("game version unsupported")
		},
	})

	requeue, err := rn.Execute(context.Background(), task)
	if !IsFatal(err) {
		t.Fatalf("err = %v, want fatal", err)
	}
	if !requeue {
		t.Fatal("requeue = false; the task must survive for a later restart")
	}
	if tr.records[0].Outcome != OutcomeFatal {
		t.Fatalf("outcome = %q, want fatal", tr.records[0].Outcome)
	}
}

func TestExecuteInterventionPropagates(t *testing.T) {
	t.Parallel()
	tr := &tracer{}
	rn := newRunner(tr)

	task := NewTask(TaskSpec{
		Kind:      "bootstrap",
		Profile:   "p1",
		Recurring: true,
		Exec: func(ctx context.Context, r *Run) error {
			r.RescheduleIn(time.Second)
			return Interventionf("captcha on screen")
		},
	})

	_, err := rn.Execute(context.Background(), task)
	if !IsIntervention(err) {
		t.Fatalf("err = %v, want intervention", err)
	}
	if tr.records[0].Outcome != OutcomeIntervention {
		t.Fatalf("outcome = %q, want intervention", tr.records[0].Outcome)
	}
}

func TestExecuteAbsorbsRecoverableError(t *testing.T) {
	t.Parallel()
	tr := &tracer{}
	rn := newRunner(tr)

	before := time.Now()
	task := NewTask(TaskSpec{
		Kind:      "train",
		Profile:   "p1",
		Recurring: true,
		Exec: func(ctx context.Context, r *Run) error {
			return errors.New("button not found")
		},
	})

	requeue, err := rn.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("recoverable error escaped Execute: %v", err)
	}
	if !requeue {
		t.Fatal("requeue = false, want true")
	}
	if at := task.ScheduledAt(); at.Before(before.Add(rn.RetryBackoff / 2)) {
		t.Fatalf("retry backoff not applied, scheduled at %v", at)
	}
	if tr.records[0].Outcome != OutcomeRecovered {
		t.Fatalf("outcome = %q, want recovered", tr.records[0].Outcome)
	}
}

func TestExecuteAbsorbsPanic(t *testing.T) {
	t.Parallel()
	tr := &tracer{}
	rn := newRunner(tr)

	task := NewTask(TaskSpec{
		Kind:      "patrol",
		Profile:   "p1",
		Recurring: true,
		Exec: func(ctx context.Context, r *Run) error {
			panic("nil template")
		},
	})

	requeue, err := rn.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("panic escaped Execute: %v", err)
	}
	if !requeue {
		t.Fatal("requeue = false, want true")
	}
	if tr.records[0].Outcome != OutcomeRecovered {
		t.Fatalf("outcome = %q, want recovered", tr.records[0].Outcome)
	}
}

func TestExecuteGuardsMissingReschedule(t *testing.T) {
	t.Parallel()
	tr := &tracer{}
	rn := newRunner(tr)

	before := time.Now()
	task := NewTask(TaskSpec{
		Kind:      "tribute",
		Profile:   "p1",
		Recurring: true,
		Exec:      func(ctx context.Context, r *Run) error { return nil },
	})

	if _, err := rn.Execute(context.Background(), task); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if at := task.ScheduledAt(); at.Before(before.Add(rn.RetryBackoff / 2)) {
		t.Fatalf("default backoff not applied, scheduled at %v", at)
	}
}

func TestRescheduleLastCallWins(t *testing.T) {
	t.Parallel()
	tr := &tracer{}
	rn := newRunner(tr)

	final := time.Now().Add(45 * time.Minute)
	task := NewTask(TaskSpec{
		Kind:      "harvest",
		Profile:   "p1",
		Recurring: true,
		Exec: func(ctx context.Context, r *Run) error {
			r.RescheduleIn(5 * time.Minute)
			r.Reschedule(final)
			return nil
		},
	})

	if _, err := rn.Execute(context.Background(), task); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if at := task.ScheduledAt(); !at.Equal(final) {
		t.Fatalf("scheduled at %v, want %v", at, final)
	}
}

func TestRetireStopsRequeue(t *testing.T) {
	t.Parallel()
	tr := &tracer{}
	rn := newRunner(tr)

	task := NewTask(TaskSpec{
		Kind:      "rally",
		Profile:   "p1",
		Distinct:  "r1",
		Recurring: true,
		Exec: func(ctx context.Context, r *Run) error {
			r.Retire()
			return nil
		},
	})

	requeue, err := rn.Execute(context.Background(), task)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if requeue {
		t.Fatal("requeue = true after Retire")
	}
}
