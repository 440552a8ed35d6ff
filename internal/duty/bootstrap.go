package duty

import (
	"context"
	"time"

	"siegebot/internal/eventbus"
	"siegebot/internal/sched"
	"siegebot/internal/vision"
	"siegebot/pkg/logx"
)

// Bootstrap phases, persisted across runs so a restart resumes where the
// bring-up left off.
const (
	PhaseEmulatorDown = "emulator_down"
	PhaseLaunching    = "launching"
	PhaseAwaitingHome = "awaiting_home"
	PhaseReady        = "ready"
)

// BootstrapState is the cross-run state of the session bring-up.
type BootstrapState struct {
	Phase    string
	Attempts int
}

const (
	maxBootstrapAttempts = 5
	homePollRounds       = 10
)

// Overridden in tests.
var (
	launchSettle         = 20 * time.Second
	bootstrapBackoffUnit = 15 * time.Second
)

// NewBootstrapTask builds the session bring-up task. It preempts every
// other duty until the game sits on its home screen, then retires for the
// rest of the process lifetime. It skips the run preflight: the process,
// screen, and stamina checks are meaningless before the game is up.
func NewBootstrapTask(d Deps) *sched.Task {
	return sched.NewTask(sched.TaskSpec{
		Kind:              KindBootstrap,
		Profile:           d.Profile.ID,
		Recurring:         true,
		SkipPreconditions: true,
		State:             &BootstrapState{Phase: PhaseEmulatorDown},
		Exec: func(ctx context.Context, r *sched.Run) error {
			return runBootstrap(ctx, d, r)
		},
	})
}

// runBootstrap advances the bring-up state machine. One invocation attempts
// a full bring-up; on failure it sleeps an attempt-scaled backoff in place
// (the task preempts the queue, so backing off via the schedule would not
// hold) and leaves itself scheduled for an immediate retry.
func runBootstrap(ctx context.Context, d Deps, r *sched.Run) error {
	st, _ := r.Task().State.(*BootstrapState)
	if st == nil {
		st = &BootstrapState{Phase: PhaseEmulatorDown}
		r.Task().State = st
	}
	log := r.Log()

	if st.Attempts > 0 {
		wait := time.Duration(st.Attempts) * bootstrapBackoffUnit
		log.Info("bootstrap retrying",
			logx.Int("attempt", st.Attempts+1),
			logx.Duration("backoff", wait))
		publishBootstrap(d, false, st.Attempts)
		if !sleep(ctx, wait) {
			r.Reschedule(time.Now())
			return nil
		}
	}

	ok, err := tryBringUp(ctx, d, st, log)
	if err != nil {
		return err
	}
	if ok {
		st.Phase = PhaseReady
		st.Attempts = 0
		baselineStamina(ctx, d, r)
		log.Info("game session ready")
		publishBootstrap(d, true, 0)
		r.Retire()
		return nil
	}

	// Retry from a cold game. A half-launched client stuck on a loading or
	// crash screen will not recover by itself.
	st.Attempts++
	st.Phase = PhaseEmulatorDown
	if err := d.Ctrl.Kill(ctx); err != nil {
		log.Warn("game kill failed", logx.Err(err))
	}
	if st.Attempts >= maxBootstrapAttempts {
		return sched.Interventionf("game did not reach home screen after %d launch attempts", st.Attempts)
	}
	r.Reschedule(time.Now())
	return nil
}

// tryBringUp performs one full bring-up attempt. false with nil error means
// the attempt failed retryably.
func tryBringUp(ctx context.Context, d Deps, st *BootstrapState, log logx.Logger) (bool, error) {
	running, err := d.Ctrl.IsProcessRunning(ctx)
	if err != nil {
		// adb itself unreachable: the emulator is down or the cable to it
		// is. Only an operator can fix that.
		return false, sched.Intervention(err)
	}

	if !running {
		st.Phase = PhaseLaunching
		log.Info("game not running, launching",
			logx.String("device", d.Ctrl.Device()))
		if err := d.Ctrl.Launch(ctx); err != nil {
			log.Warn("launch failed", logx.Err(err))
			return false, nil
		}
		if !sleep(ctx, launchSettle) {
			return false, ctx.Err()
		}
	}

	st.Phase = PhaseAwaitingHome
	return awaitHome(ctx, d, log)
}

// awaitHome polls for the home screen, dismissing startup popups on the way.
func awaitHome(ctx context.Context, d Deps, log logx.Logger) (bool, error) {
	for round := 0; round < homePollRounds; round++ {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		cur, err := d.Nav.Current(ctx)
		if err != nil {
			log.Warn("screen check failed", logx.Err(err))
			return false, nil
		}
		if cur == sched.LocationHome {
			return true, nil
		}
		// Login reward dialogs and event popups stack on launch.
		if tapped, err := d.Nav.TapTemplate(ctx, tplDialogClose, defaultFind()); err != nil {
			return false, nil
		} else if !tapped {
			sleep(ctx, 3*time.Second)
		}
	}
	return false, nil
}

// staminaArea is the stamina counter in the persistent HUD, visible on the
// home and world screens alike.
var staminaArea = vision.Rect{Left: 430, Top: 20, Right: 610, Bottom: 70}

// baselineStamina seeds the tracker from the on-screen counter so the
// stamina-gated duties start from the real value, not the persisted guess.
func baselineStamina(ctx context.Context, d Deps, r *sched.Run) bool {
	n, ok := readCounter(ctx, d, staminaArea, r.Log())
	if !ok {
		r.Log().Debug("stamina counter not readable, keeping persisted value")
		return false
	}
	d.Profile.Stamina.SetBaseline(n, time.Now())
	r.MarkStateDirty()
	r.Log().Info("stamina baseline observed", logx.Int("value", n))
	return true
}

func publishBootstrap(d Deps, ready bool, attempts int) {
	if d.Bus == nil {
		return
	}
	typ := eventbus.BootstrapReady
	if !ready {
		typ = eventbus.BootstrapRetrying
	}
	d.Bus.Publish(eventbus.Event{
		Type: typ,
		Data: map[string]any{"profile": d.Profile.ID, "attempts": attempts},
	})
}
