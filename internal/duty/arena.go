package duty

import (
	"context"
	"time"

	"siegebot/internal/config"
	"siegebot/internal/sched"
	"siegebot/internal/vision"
	"siegebot/pkg/logx"
)

const (
	tplArenaEntrance = "arena/entrance"
	tplArenaClosed   = "arena/closed"
	tplChallenge     = "arena/challenge"
	tplQuickBattle   = "arena/quick_battle"
	tplBattleResult  = "arena/result_ok"
)

// arenaTicketArea is where the entrance shows the remaining tickets.
var arenaTicketArea = vision.Rect{Left: 900, Top: 40, Right: 1020, Bottom: 90}

// buildArena burns the free arena tickets. Latency matters here: tickets
// stop accruing at the cap and the daily window closes, so the classifier
// ranks arena above the routine duties.
func buildArena(d Deps, cfg config.DutyConfig, s *Schedule) ([]sched.TaskSpec, error) {
	maxFights := settingInt(cfg.Settings, "max_fights", 5)

	return []sched.TaskSpec{{
		Location: sched.LocationHome,
		Exec: func(ctx context.Context, r *sched.Run) error {
			log := r.Log()

			tapped, err := d.Nav.TapTemplate(ctx, tplArenaEntrance, defaultFind())
			if err != nil || !tapped {
				r.RescheduleIn(d.retry())
				return nil
			}

			if m, err := d.Eye.FindTemplate(ctx, tplArenaClosed, vision.Rect{}, vision.FindOpts{}); err == nil && m.Found {
				log.Info("arena window closed")
				followSchedule(r, s)
				return nil
			}

			tickets, _ := readCounter(ctx, d, arenaTicketArea, log)
			if tickets == 0 {
				log.Info("no arena tickets")
				followSchedule(r, s)
				return nil
			}
			if tickets > maxFights {
				tickets = maxFights
			}

			fought := 0
			for ; fought < tickets; fought++ {
				if ok := fightOnce(ctx, d); !ok {
					break
				}
			}
			log.Info("arena done", logx.Int("fights", fought))
			followSchedule(r, s)
			return nil
		},
	}}, nil
}

func fightOnce(ctx context.Context, d Deps) bool {
	tapped, err := d.Nav.TapTemplate(ctx, tplChallenge, defaultFind())
	if err != nil || !tapped {
		return false
	}
	if tapped, err = d.Nav.TapTemplate(ctx, tplQuickBattle, defaultFind()); err != nil || !tapped {
		return false
	}
	// The result screen needs a dismissing tap before the next fight.
	tapped, err = d.Nav.TapTemplate(ctx, tplBattleResult, vision.FindOpts{MaxAttempts: 10, Delay: 3 * time.Second})
	return err == nil && tapped
}
