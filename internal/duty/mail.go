package duty

import (
	"context"

	"siegebot/internal/config"
	"siegebot/internal/sched"
)

const (
	tplMailbox    = "mail/mailbox"
	tplMailClaim  = "mail/claim_all"
	tplMailDelete = "mail/delete_read"
)

// buildMail claims mailbox attachments and clears read mail before the
// inbox hits its cap and new rewards bounce.
func buildMail(d Deps, cfg config.DutyConfig, s *Schedule) ([]sched.TaskSpec, error) {
	clean := settingInt(cfg.Settings, "delete_read", 1) != 0

	return []sched.TaskSpec{{
		Location: sched.LocationHome,
		Exec: func(ctx context.Context, r *sched.Run) error {
			log := r.Log()

			tapped, err := d.Nav.TapTemplate(ctx, tplMailbox, defaultFind())
			if err != nil || !tapped {
				r.RescheduleIn(d.retry())
				return nil
			}
			claimed, err := d.Nav.TapTemplate(ctx, tplMailClaim, defaultFind())
			if err != nil {
				r.RescheduleIn(d.retry())
				return nil
			}
			if clean {
				if _, err := d.Nav.TapTemplate(ctx, tplMailDelete, defaultFind()); err != nil {
					r.RescheduleIn(d.retry())
					return nil
				}
			}

			if claimed {
				log.Info("mail claimed")
			} else {
				log.Debug("mailbox empty")
			}
			followSchedule(r, s)
			return nil
		},
	}}, nil
}
