package duty

import (
	"context"
	"time"

	"siegebot/internal/config"
	"siegebot/internal/sched"
	"siegebot/pkg/logx"
)

const (
	tplTributeHall    = "tribute/hall"
	tplTributeCollect = "tribute/collect_all"
)

// tributeState remembers the last collection day so a mid-day restart does
// not double-visit the hall.
type tributeState struct {
	LastCollected string `json:"last_collected"` // YYYY-MM-DD local
}

// buildTribute collects the daily tribute from the hall once per day.
func buildTribute(d Deps, cfg config.DutyConfig, s *Schedule) ([]sched.TaskSpec, error) {
	return []sched.TaskSpec{{
		Location: sched.LocationHome,
		Exec: func(ctx context.Context, r *sched.Run) error {
			log := r.Log()
			today := time.Now().Format("2006-01-02")

			var st tributeState
			if _, err := d.Profile.DutyState(string(KindTribute), &st); err != nil {
				log.Warn("tribute state unreadable, treating as cold", logx.Err(err))
			}
			if st.LastCollected == today {
				log.Debug("tribute already collected today")
				followSchedule(r, s)
				return nil
			}

			tapped, err := d.Nav.TapTemplate(ctx, tplTributeHall, defaultFind())
			if err != nil || !tapped {
				r.RescheduleIn(d.retry())
				return nil
			}
			collected, err := d.Nav.TapTemplate(ctx, tplTributeCollect, defaultFind())
			if err != nil {
				r.RescheduleIn(d.retry())
				return nil
			}
			if !collected {
				// Hall open but nothing claimable: most likely collected
				// manually. Count the day as done either way.
				log.Debug("no tribute to collect")
			}

			st.LastCollected = today
			if err := d.Profile.SetDutyState(string(KindTribute), st); err != nil {
				log.Warn("tribute state not saved", logx.Err(err))
			} else {
				r.MarkStateDirty()
			}
			log.Info("tribute collected")
			followSchedule(r, s)
			return nil
		},
	}}, nil
}
