package duty

import (
	"testing"
	"time"

	"siegebot/internal/sched"
)

func fastBootstrap(t *testing.T) {
	t.Helper()
	oldLaunch, oldBackoff := launchSettle, bootstrapBackoffUnit
	launchSettle, bootstrapBackoffUnit = time.Millisecond, time.Millisecond
	t.Cleanup(func() {
		launchSettle, bootstrapBackoffUnit = oldLaunch, oldBackoff
	})
}

func TestBootstrapReadyWhenGameRunning(t *testing.T) {
	fastBootstrap(t)
	ctrl := &fakeCtrl{running: true}
	eye := &fakeEye{found: map[string]bool{tplHomeAnchor: true}}
	d := testDeps(t, ctrl, eye, nil)

	task := NewBootstrapTask(d)
	requeue, err := execute(t, d, task)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if requeue {
		t.Fatal("bootstrap did not retire after reaching ready")
	}
	st := task.State.(*BootstrapState)
	if st.Phase != PhaseReady {
		t.Fatalf("phase = %q, want ready", st.Phase)
	}
	if ctrl.launches != 0 {
		t.Fatalf("launched %d times with the game already up", ctrl.launches)
	}
}

func TestBootstrapLaunchesDeadGame(t *testing.T) {
	fastBootstrap(t)
	ctrl := &fakeCtrl{running: false}
	eye := &fakeEye{found: map[string]bool{tplHomeAnchor: true}}
	d := testDeps(t, ctrl, eye, nil)

	task := NewBootstrapTask(d)
	if _, err := execute(t, d, task); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if ctrl.launches != 1 {
		t.Fatalf("launches = %d, want 1", ctrl.launches)
	}
	if st := task.State.(*BootstrapState); st.Phase != PhaseReady {
		t.Fatalf("phase = %q, want ready", st.Phase)
	}
}

func TestBootstrapEscalatesAfterRepeatedFailure(t *testing.T) {
	fastBootstrap(t)
	ctrl := &fakeCtrl{running: true}
	// Home never shows; only the popup close button, so each round taps
	// instead of sleeping out the poll.
	eye := &fakeEye{found: map[string]bool{tplDialogClose: true}}
	d := testDeps(t, ctrl, eye, nil)

	task := NewBootstrapTask(d)
	var lastErr error
	for i := 0; i < maxBootstrapAttempts+1; i++ {
		requeue, err := execute(t, d, task)
		if err != nil {
			lastErr = err
			break
		}
		if !requeue {
			t.Fatal("bootstrap retired without reaching ready")
		}
	}
	if !sched.IsIntervention(lastErr) {
		t.Fatalf("err = %v, want intervention after %d attempts", lastErr, maxBootstrapAttempts)
	}
	if ctrl.kills == 0 {
		t.Fatal("failed attempts never killed the stuck game")
	}
}

func TestBootstrapInterventionWhenADBUnreachable(t *testing.T) {
	fastBootstrap(t)
	ctrl := &fakeCtrl{runErr: errTest}
	eye := &fakeEye{}
	d := testDeps(t, ctrl, eye, nil)

	task := NewBootstrapTask(d)
	_, err := execute(t, d, task)
	if !sched.IsIntervention(err) {
		t.Fatalf("err = %v, want intervention", err)
	}
}
