package duty

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"siegebot/internal/config"
	"siegebot/internal/emulator"
	"siegebot/internal/profile"
	"siegebot/internal/sched"
	"siegebot/internal/vision"
	"siegebot/pkg/logx"
)

var errTest = errors.New("device offline")

// fakeCtrl scripts the emulator side of a duty run.
type fakeCtrl struct {
	mu       sync.Mutex
	running  bool
	runErr   error
	launches int
	kills    int
	taps     []emulator.Point
	backs    int
	swipes   int
}

func (f *fakeCtrl) Tap(ctx context.Context, p emulator.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.taps = append(f.taps, p)
	return nil
}

func (f *fakeCtrl) Swipe(ctx context.Context, from, to emulator.Point, dur time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swipes++
	return nil
}

func (f *fakeCtrl) KeyHome(ctx context.Context) error { return nil }

func (f *fakeCtrl) KeyBack(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backs++
	return nil
}

func (f *fakeCtrl) Launch(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.launches++
	f.running = true
	return nil
}

func (f *fakeCtrl) Kill(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kills++
	f.running = false
	return nil
}

func (f *fakeCtrl) IsProcessRunning(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running, f.runErr
}

func (f *fakeCtrl) Screencap(ctx context.Context) ([]byte, error) { return []byte("png"), nil }
func (f *fakeCtrl) Device() string                                { return "emulator-5554" }

// fakeEye answers template searches from a fixed table.
type fakeEye struct {
	mu    sync.Mutex
	found map[string]bool
	reads []string
}

func (f *fakeEye) FindTemplate(ctx context.Context, id string, area vision.Rect, opts vision.FindOpts) (vision.Match, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.found[id] {
		return vision.Match{Found: true, At: emulator.Point{X: 100, Y: 200}, Score: 0.97}, nil
	}
	return vision.Match{}, nil
}

func (f *fakeEye) ReadText(ctx context.Context, area vision.Rect, opts vision.OCROpts) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.reads) == 0 {
		return "", nil
	}
	out := f.reads[0]
	f.reads = f.reads[1:]
	return out, nil
}

func testProfileConfig(duties map[string]config.DutyConfig) *config.Config {
	return &config.Config{
		Profiles: []config.ProfileConfig{{
			ID:     "alpha",
			Device: "emulator-5554",
			Duties: duties,
		}},
	}
}

func testDeps(t *testing.T, ctrl *fakeCtrl, eye *fakeEye, duties map[string]config.DutyConfig) Deps {
	t.Helper()
	cfg := testProfileConfig(duties)
	store := profile.NewStore(logx.Nop(), nil, func() *config.Config { return cfg })
	snap, err := store.Load(context.Background(), "alpha")
	if err != nil {
		t.Fatalf("profile load: %v", err)
	}
	return Deps{
		Log:     logx.Nop(),
		Profile: snap,
		Ctrl:    ctrl,
		Eye:     eye,
		Nav:     NewNavigator(logx.Nop(), ctrl, eye, time.Millisecond),
	}
}

// execute runs a task through the real lifecycle wrapper.
func execute(t *testing.T, d Deps, task *sched.Task) (bool, error) {
	t.Helper()
	rn := &sched.Runner{Log: logx.Nop(), Nav: d.Nav, RetryBackoff: time.Minute}
	return rn.Execute(context.Background(), task)
}
