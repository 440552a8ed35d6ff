// Package emulator drives one Android emulator instance over adb.
//
// All methods are synchronous and side-effecting; callers own sequencing (the
// scheduling core guarantees one task at a time per profile/device).
package emulator

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"siegebot/pkg/logx"
)

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func (p Point) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Controller is the emulator-control collaborator consumed by tasks.
type Controller interface {
	Tap(ctx context.Context, p Point) error
	Swipe(ctx context.Context, from, to Point, dur time.Duration) error
	KeyHome(ctx context.Context) error
	KeyBack(ctx context.Context) error
	Launch(ctx context.Context) error
	Kill(ctx context.Context) error
	IsProcessRunning(ctx context.Context) (bool, error)
	Screencap(ctx context.Context) ([]byte, error)
	Device() string
}

// Options configures an ADB-backed controller.
type Options struct {
	ADBPath  string // default "adb"
	Device   string // adb serial, e.g. "emulator-5554"
	Package  string
	Activity string // optional; empty falls back to a monkey launch

	// TapsPerSec caps synthetic input speed; the game drops events when
	// hammered faster than its frame loop. 0 applies a safe default.
	TapsPerSec int
}

type adbController struct {
	opt   Options
	log   logx.Logger
	input *rate.Limiter
}

const defaultTapsPerSec = 5

func NewADB(opt Options, log logx.Logger) Controller {
	if strings.TrimSpace(opt.ADBPath) == "" {
		opt.ADBPath = "adb"
	}
	tps := opt.TapsPerSec
	if tps <= 0 {
		tps = defaultTapsPerSec
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &adbController{
		opt:   opt,
		log:   log.With(logx.String("device", opt.Device)),
		input: rate.NewLimiter(rate.Limit(tps), 1),
	}
}

func (c *adbController) Device() string { return c.opt.Device }

// adb runs one adb command against the bound device and returns its stdout.
func (c *adbController) adb(ctx context.Context, args ...string) ([]byte, error) {
	full := args
	if strings.TrimSpace(c.opt.Device) != "" {
		full = append([]string{"-s", c.opt.Device}, args...)
	}
	cmd := exec.CommandContext(ctx, c.opt.ADBPath, full...)
	var out, errb bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errb
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(errb.String())
		if msg == "" {
			msg = strings.TrimSpace(out.String())
		}
		return nil, fmt.Errorf("adb %s: %w (%s)", strings.Join(args, " "), err, msg)
	}
	return out.Bytes(), nil
}

func (c *adbController) Tap(ctx context.Context, p Point) error {
	if err := c.input.Wait(ctx); err != nil {
		return err
	}
	c.log.Trace("tap", logx.Int("x", p.X), logx.Int("y", p.Y))
	_, err := c.adb(ctx, "shell", "input", "tap", strconv.Itoa(p.X), strconv.Itoa(p.Y))
	return err
}

func (c *adbController) Swipe(ctx context.Context, from, to Point, dur time.Duration) error {
	if err := c.input.Wait(ctx); err != nil {
		return err
	}
	if dur <= 0 {
		dur = 300 * time.Millisecond
	}
	c.log.Trace("swipe", logx.String("from", from.String()), logx.String("to", to.String()))
	_, err := c.adb(ctx, "shell", "input", "swipe",
		strconv.Itoa(from.X), strconv.Itoa(from.Y),
		strconv.Itoa(to.X), strconv.Itoa(to.Y),
		strconv.FormatInt(dur.Milliseconds(), 10))
	return err
}

func (c *adbController) KeyHome(ctx context.Context) error {
	_, err := c.adb(ctx, "shell", "input", "keyevent", "KEYCODE_HOME")
	return err
}

func (c *adbController) KeyBack(ctx context.Context) error {
	_, err := c.adb(ctx, "shell", "input", "keyevent", "KEYCODE_BACK")
	return err
}

func (c *adbController) Launch(ctx context.Context) error {
	c.log.Debug("launching game", logx.String("package", c.opt.Package))
	if strings.TrimSpace(c.opt.Activity) != "" {
		_, err := c.adb(ctx, "shell", "am", "start", "-n", c.opt.Package+"/"+c.opt.Activity)
		return err
	}
	_, err := c.adb(ctx, "shell", "monkey", "-p", c.opt.Package,
		"-c", "android.intent.category.LAUNCHER", "1")
	return err
}

func (c *adbController) Kill(ctx context.Context) error {
	c.log.Debug("force-stopping game", logx.String("package", c.opt.Package))
	_, err := c.adb(ctx, "shell", "am", "force-stop", c.opt.Package)
	return err
}

func (c *adbController) IsProcessRunning(ctx context.Context) (bool, error) {
	out, err := c.adb(ctx, "shell", "pidof", c.opt.Package)
	if err != nil {
		// pidof exits non-zero when no process matches; adb surfaces that
		// as a command error, which for this check means "not running".
		if strings.Contains(err.Error(), "exit status") {
			return false, nil
		}
		return false, err
	}
	return strings.TrimSpace(string(out)) != "", nil
}

func (c *adbController) Screencap(ctx context.Context) ([]byte, error) {
	return c.adb(ctx, "exec-out", "screencap", "-p")
}
