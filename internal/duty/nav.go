package duty

import (
	"context"
	"fmt"
	"time"

	"siegebot/internal/emulator"
	"siegebot/internal/sched"
	"siegebot/internal/vision"
	"siegebot/pkg/logx"
)

// Template ids shared across duties. The sidecar resolves them to image
// assets; the bot only knows the names.
const (
	tplHomeAnchor  = "ui/home_anchor"
	tplWorldAnchor = "ui/world_anchor"
	tplHomeButton  = "ui/home_button"
	tplWorldButton = "ui/world_button"
	tplDialogClose = "ui/dialog_close"
)

// Navigator moves the game between the two top-level screens and backs out
// of whatever a task left open. One instance per profile; it is only ever
// called from that profile's worker goroutine.
type Navigator struct {
	log    logx.Logger
	ctrl   emulator.Controller
	eye    vision.Client
	settle time.Duration // wait after a tap before trusting the screen
}

const (
	defaultSettle = 1500 * time.Millisecond
	maxBackTaps   = 6
)

func NewNavigator(log logx.Logger, ctrl emulator.Controller, eye vision.Client, settle time.Duration) *Navigator {
	if settle <= 0 {
		settle = defaultSettle
	}
	return &Navigator{log: log, ctrl: ctrl, eye: eye, settle: settle}
}

var _ sched.Navigator = (*Navigator)(nil)

// Current identifies the visible top-level screen by its anchor template.
// LocationAny means neither anchor was found.
func (n *Navigator) Current(ctx context.Context) (sched.Location, error) {
	m, err := n.eye.FindTemplate(ctx, tplHomeAnchor, vision.Rect{}, vision.FindOpts{})
	if err != nil {
		return sched.LocationAny, err
	}
	if m.Found {
		return sched.LocationHome, nil
	}
	m, err = n.eye.FindTemplate(ctx, tplWorldAnchor, vision.Rect{}, vision.FindOpts{})
	if err != nil {
		return sched.LocationAny, err
	}
	if m.Found {
		return sched.LocationWorld, nil
	}
	return sched.LocationAny, nil
}

// Ensure brings the game to the requested screen. It assumes the game is
// running; session bootstrap owns getting it there.
func (n *Navigator) Ensure(ctx context.Context, loc sched.Location) error {
	if loc == sched.LocationAny {
		return nil
	}

	cur, err := n.Current(ctx)
	if err != nil {
		return err
	}
	if cur == loc {
		return nil
	}
	if cur == sched.LocationAny {
		// A task may have left a dialog open; back out to known ground first.
		if err := n.Reset(ctx); err != nil {
			return err
		}
		cur = sched.LocationHome
	}
	if cur == loc {
		return nil
	}

	toggle := tplWorldButton
	if loc == sched.LocationHome {
		toggle = tplHomeButton
	}
	m, err := n.eye.FindTemplate(ctx, toggle, vision.Rect{}, vision.FindOpts{MaxAttempts: 3, Delay: n.settle})
	if err != nil {
		return err
	}
	if !m.Found {
		return fmt.Errorf("%s toggle not on screen", loc)
	}
	if err := n.ctrl.Tap(ctx, m.At); err != nil {
		return err
	}
	n.sleep(ctx)

	anchor := tplWorldAnchor
	if loc == sched.LocationHome {
		anchor = tplHomeAnchor
	}
	m, err = n.eye.FindTemplate(ctx, anchor, vision.Rect{}, vision.FindOpts{MaxAttempts: 4, Delay: n.settle})
	if err != nil {
		return err
	}
	if !m.Found {
		return fmt.Errorf("did not reach %s screen", loc)
	}
	return nil
}

// Reset backs out of any open dialog until the home screen anchor shows.
func (n *Navigator) Reset(ctx context.Context) error {
	for i := 0; i < maxBackTaps; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		cur, err := n.Current(ctx)
		if err != nil {
			return err
		}
		if cur == sched.LocationHome {
			return nil
		}
		// Prefer an explicit close button; fall back to the back key.
		m, err := n.eye.FindTemplate(ctx, tplDialogClose, vision.Rect{}, vision.FindOpts{})
		if err != nil {
			return err
		}
		if m.Found {
			if err := n.ctrl.Tap(ctx, m.At); err != nil {
				return err
			}
		} else if err := n.ctrl.KeyBack(ctx); err != nil {
			return err
		}
		n.sleep(ctx)
	}
	return fmt.Errorf("home screen not reachable after %d back steps", maxBackTaps)
}

// TapTemplate finds a template and taps its center. Not finding it is
// reported via found=false, not an error.
func (n *Navigator) TapTemplate(ctx context.Context, id string, opts vision.FindOpts) (bool, error) {
	m, err := n.eye.FindTemplate(ctx, id, vision.Rect{}, opts)
	if err != nil {
		return false, err
	}
	if !m.Found {
		return false, nil
	}
	if err := n.ctrl.Tap(ctx, m.At); err != nil {
		return false, err
	}
	n.sleep(ctx)
	return true, nil
}

func (n *Navigator) sleep(ctx context.Context) {
	t := time.NewTimer(n.settle)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
