package duty

import (
	"context"

	"siegebot/internal/config"
	"siegebot/internal/sched"
	"siegebot/internal/vision"
	"siegebot/pkg/logx"
)

const tplResourceBubble = "harvest/resource_bubble"

// buildHarvest collects the resource bubbles that pile up over the home
// screen buildings. Idempotent: collecting twice is a harmless no-op.
func buildHarvest(d Deps, cfg config.DutyConfig, s *Schedule) ([]sched.TaskSpec, error) {
	maxTaps := settingInt(cfg.Settings, "max_taps", 12)

	return []sched.TaskSpec{{
		Location: sched.LocationHome,
		Exec: func(ctx context.Context, r *sched.Run) error {
			collected := 0
			for ; collected < maxTaps; collected++ {
				tapped, err := d.Nav.TapTemplate(ctx, tplResourceBubble, vision.FindOpts{})
				if err != nil {
					r.RescheduleIn(d.retry())
					return nil
				}
				if !tapped {
					break
				}
			}
			r.Log().Info("harvest done", logx.Int("collected", collected))
			followSchedule(r, s)
			return nil
		},
	}}, nil
}
