package duty

import (
	"context"
	"time"

	"siegebot/internal/config"
	"siegebot/internal/sched"
	"siegebot/pkg/logx"
)

const (
	tplRallyButton  = "rally/join"
	tplRallyConfirm = "rally/march"
)

const defaultRallyCost = 25

// buildRally joins rallies against configured world-map targets. One task
// per target so each keeps its own cadence, distinguished by the target
// name in the task key.
func buildRally(d Deps, cfg config.DutyConfig, s *Schedule) ([]sched.TaskSpec, error) {
	targets := settingStrings(cfg.Settings, "targets")
	if len(targets) == 0 {
		targets = []string{"goblin_camp"}
	}
	cost := settingInt(cfg.Settings, "stamina_cost", defaultRallyCost)

	specs := make([]sched.TaskSpec, 0, len(targets))
	for _, target := range targets {
		target := target
		specs = append(specs, sched.TaskSpec{
			Distinct:    target,
			Location:    sched.LocationWorld,
			UsesStamina: true,
			Exec: func(ctx context.Context, r *sched.Run) error {
				return runRally(ctx, d, r, s, target, cost)
			},
		})
	}
	return specs, nil
}

func runRally(ctx context.Context, d Deps, r *sched.Run, s *Schedule, target string, cost int) error {
	log := r.Log().With(logx.String("target", target))

	if !ensureStaminaBaseline(ctx, d, r) {
		log.Warn("stamina unknown, retrying rally later")
		r.RescheduleIn(d.retry())
		return nil
	}
	tr := d.Profile.Stamina
	now := time.Now()
	if tr.Refresh(now) < cost {
		at := tr.NextAvailable(cost, now)
		log.Info("stamina short, deferring rally", logx.Time("next_available", at))
		r.Reschedule(at)
		return nil
	}

	found, err := d.Nav.TapTemplate(ctx, "rally/target_"+target, defaultFind())
	if err != nil {
		r.RescheduleIn(d.retry())
		return nil
	}
	if !found {
		log.Info("target not on screen")
		r.RescheduleIn(d.idle())
		return nil
	}
	if joined, err := d.Nav.TapTemplate(ctx, tplRallyButton, defaultFind()); err != nil || !joined {
		r.RescheduleIn(d.retry())
		return nil
	}
	if marched, err := d.Nav.TapTemplate(ctx, tplRallyConfirm, defaultFind()); err != nil || !marched {
		r.RescheduleIn(d.retry())
		return nil
	}

	// The march is away; mirror the in-game stamina deduction.
	tr.Spend(cost, time.Now())
	r.MarkStateDirty()

	log.Info("rally joined", logx.Int("stamina_cost", cost))
	followSchedule(r, s)
	return nil
}
