package duty

import (
	"context"
	"strconv"
	"strings"
	"time"

	"siegebot/internal/config"
	"siegebot/internal/sched"
	"siegebot/internal/vision"
	"siegebot/pkg/logx"
)

const (
	tplBarracks     = "train/barracks"
	tplTrainButton  = "train/train_button"
	tplTrainConfirm = "train/confirm"
)

// trainQueueArea is where the barracks shows the remaining queue time.
var trainQueueArea = vision.Rect{Left: 780, Top: 120, Right: 1060, Bottom: 180}

// buildTrain keeps the troop training queue busy. After starting a batch it
// reads the queue countdown and schedules the next visit for when the
// barracks frees up instead of polling on the fixed cadence.
func buildTrain(d Deps, cfg config.DutyConfig, s *Schedule) ([]sched.TaskSpec, error) {
	return []sched.TaskSpec{{
		Location: sched.LocationHome,
		Exec: func(ctx context.Context, r *sched.Run) error {
			log := r.Log()

			tapped, err := d.Nav.TapTemplate(ctx, tplBarracks, defaultFind())
			if err != nil || !tapped {
				r.RescheduleIn(d.retry())
				return nil
			}

			started, err := d.Nav.TapTemplate(ctx, tplTrainButton, defaultFind())
			if err != nil {
				r.RescheduleIn(d.retry())
				return nil
			}
			if !started {
				// Queue still busy. Read the countdown and come back then.
				if left, ok := readCountdown(ctx, d, log); ok {
					log.Info("training queue busy", logx.Duration("remaining", left))
					r.RescheduleIn(left + time.Minute)
					return nil
				}
				r.RescheduleIn(d.idle())
				return nil
			}

			if _, err := d.Nav.TapTemplate(ctx, tplTrainConfirm, defaultFind()); err != nil {
				r.RescheduleIn(d.retry())
				return nil
			}

			if left, ok := readCountdown(ctx, d, log); ok {
				log.Info("training started", logx.Duration("batch", left))
				r.RescheduleIn(left + time.Minute)
				return nil
			}
			followSchedule(r, s)
			return nil
		},
	}}, nil
}

// readCountdown OCRs the barracks queue timer ("1:23:45" or "23:45").
func readCountdown(ctx context.Context, d Deps, log logx.Logger) (time.Duration, bool) {
	text, err := d.Eye.ReadText(ctx, trainQueueArea, vision.OCROpts{Whitelist: "0123456789:"})
	if err != nil {
		log.Warn("queue timer unreadable", logx.Err(err))
		return 0, false
	}
	left, ok := parseClock(text)
	return left, ok
}

// parseClock parses "H:MM:SS" or "MM:SS" countdowns.
func parseClock(text string) (time.Duration, bool) {
	parts := strings.Split(strings.TrimSpace(text), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	var total time.Duration
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, false
		}
		total = total*60 + time.Duration(n)*time.Second
	}
	if total <= 0 {
		return 0, false
	}
	return total, true
}
