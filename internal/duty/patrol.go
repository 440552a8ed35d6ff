package duty

import (
	"context"
	"time"

	"siegebot/internal/config"
	"siegebot/internal/emulator"
	"siegebot/internal/sched"
	"siegebot/pkg/logx"
)

const (
	tplPatrolPoint    = "patrol/point"
	tplPatrolDispatch = "patrol/dispatch"
)

const defaultPatrolCost = 10

// buildPatrol dispatches a scout to whatever patrol point is visible on the
// world map, panning the map a little when none is.
func buildPatrol(d Deps, cfg config.DutyConfig, s *Schedule) ([]sched.TaskSpec, error) {
	cost := settingInt(cfg.Settings, "stamina_cost", defaultPatrolCost)

	return []sched.TaskSpec{{
		Location:    sched.LocationWorld,
		UsesStamina: true,
		Exec: func(ctx context.Context, r *sched.Run) error {
			log := r.Log()

			if !ensureStaminaBaseline(ctx, d, r) {
				log.Warn("stamina unknown, retrying patrol later")
				r.RescheduleIn(d.retry())
				return nil
			}
			tr := d.Profile.Stamina
			now := time.Now()
			if tr.Refresh(now) < cost {
				at := tr.NextAvailable(cost, now)
				log.Info("stamina short, deferring patrol", logx.Time("next_available", at))
				r.Reschedule(at)
				return nil
			}

			found, err := d.Nav.TapTemplate(ctx, tplPatrolPoint, defaultFind())
			if err != nil {
				r.RescheduleIn(d.retry())
				return nil
			}
			if !found {
				// Pan the map a screen to the side and retry once.
				if err := d.Ctrl.Swipe(ctx,
					emulator.Point{X: 800, Y: 400},
					emulator.Point{X: 200, Y: 400},
					400*time.Millisecond); err != nil {
					r.RescheduleIn(d.retry())
					return nil
				}
				if found, err = d.Nav.TapTemplate(ctx, tplPatrolPoint, defaultFind()); err != nil || !found {
					log.Info("no patrol point in reach")
					r.RescheduleIn(d.idle())
					return nil
				}
			}

			if sent, err := d.Nav.TapTemplate(ctx, tplPatrolDispatch, defaultFind()); err != nil || !sent {
				r.RescheduleIn(d.retry())
				return nil
			}

			tr.Spend(cost, time.Now())
			r.MarkStateDirty()
			log.Info("patrol dispatched", logx.Int("stamina_cost", cost))
			followSchedule(r, s)
			return nil
		},
	}}, nil
}
