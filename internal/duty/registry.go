// Package duty implements the recurring game duties and the glue that turns
// profile configuration into scheduled tasks.
package duty

import (
	"fmt"
	"sort"
	"time"

	"siegebot/internal/config"
	"siegebot/internal/emulator"
	"siegebot/internal/eventbus"
	"siegebot/internal/profile"
	"siegebot/internal/sched"
	"siegebot/internal/vision"
	"siegebot/pkg/logx"
)

// Duty kinds. These are wire- and config-visible names; renaming one breaks
// existing config files and persisted duty state.
const (
	KindBootstrap sched.Kind = "bootstrap"
	KindTribute   sched.Kind = "tribute"
	KindHarvest   sched.Kind = "harvest"
	KindTrain     sched.Kind = "train"
	KindArena     sched.Kind = "arena"
	KindRally     sched.Kind = "rally"
	KindMail      sched.Kind = "mail"
	KindPatrol    sched.Kind = "patrol"
)

// Classes is the queue priority table, evaluated top to bottom.
//
// Session bootstrap preempts everything: no other duty can act on a dead
// game. Arena and rally windows close fast, so they outrank the routine
// duties when several are overdue at once. Each holds its own entry so
// their mutual order stays fixed (arena, then rally) instead of flipping
// with whichever happens to be more overdue.
var Classes = []sched.Classifier{
	{
		Name:       "session",
		Preemptive: true,
		Match:      kindIs(KindBootstrap),
	},
	{
		Name:  "latency.arena",
		Match: kindIs(KindArena),
	},
	{
		Name:  "latency.rally",
		Match: kindIs(KindRally),
	},
	{
		Name:  "routine",
		Match: func(*sched.Task) bool { return true },
	},
}

func kindIs(kinds ...sched.Kind) func(*sched.Task) bool {
	return func(t *sched.Task) bool {
		for _, k := range kinds {
			if t.Key().Kind == k {
				return true
			}
		}
		return false
	}
}

// Deps is everything a duty needs to act on one profile. One value per
// profile, shared by all of that profile's tasks; safe because the worker
// serializes them.
type Deps struct {
	Log     logx.Logger
	Bus     eventbus.Bus
	Profile *profile.Snapshot
	Ctrl    emulator.Controller
	Eye     vision.Client
	Nav     *Navigator

	// RetryBackoff delays a duty after an in-task recoverable failure.
	// IdleBackoff delays a duty that found nothing to do.
	RetryBackoff time.Duration
	IdleBackoff  time.Duration
}

func (d Deps) retry() time.Duration {
	if d.RetryBackoff > 0 {
		return d.RetryBackoff
	}
	return 5 * time.Minute
}

func (d Deps) idle() time.Duration {
	if d.IdleBackoff > 0 {
		return d.IdleBackoff
	}
	return 30 * time.Minute
}

// builder turns one configured duty into task specs. Most duties yield one
// task; rally yields one per configured target.
type builder func(d Deps, cfg config.DutyConfig, s *Schedule) ([]sched.TaskSpec, error)

type entry struct {
	defaultSpec string
	build       builder
}

var registry = map[sched.Kind]entry{
	KindTribute: {defaultSpec: "03:00", build: buildTribute},
	KindHarvest: {defaultSpec: "45m", build: buildHarvest},
	KindTrain:   {defaultSpec: "1h", build: buildTrain},
	KindArena:   {defaultSpec: "2h", build: buildArena},
	KindRally:   {defaultSpec: "30m", build: buildRally},
	KindMail:    {defaultSpec: "6h", build: buildMail},
	KindPatrol:  {defaultSpec: "4h", build: buildPatrol},
}

// Kinds lists the configurable duty kinds, sorted, bootstrap excluded
// (bootstrap is unconditional and carries no config).
func Kinds() []string {
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, string(k))
	}
	sort.Strings(out)
	return out
}

// Known reports whether a config key names a real duty. Used by the config
// validator so typos fail the reload instead of being silently ignored.
func Known(kind string) bool {
	_, ok := registry[sched.Kind(kind)]
	return ok
}

// BuildTasks assembles the full task set for one profile: the bootstrap
// task plus one task per enabled configured duty.
func BuildTasks(d Deps) ([]*sched.Task, error) {
	tasks, err := DutyTasks(d)
	if err != nil {
		return nil, err
	}
	return append([]*sched.Task{NewBootstrapTask(d)}, tasks...), nil
}

// DutyTasks builds the configured duty tasks only, bootstrap excluded. Used
// on config reload, where re-running the session bring-up would be wrong.
func DutyTasks(d Deps) ([]*sched.Task, error) {
	var tasks []*sched.Task

	for kind, e := range registry {
		cfg, ok := d.Profile.Duty(string(kind))
		if !ok || !cfg.IsEnabled() {
			continue
		}
		spec := cfg.Schedule
		if spec == "" {
			spec = e.defaultSpec
		}
		s, err := ParseSchedule(spec)
		if err != nil {
			return nil, fmt.Errorf("profile %s duty %s: %w", d.Profile.ID, kind, err)
		}
		specs, err := e.build(d, cfg, s)
		if err != nil {
			return nil, fmt.Errorf("profile %s duty %s: %w", d.Profile.ID, kind, err)
		}
		for _, ts := range specs {
			ts.Kind = kind
			ts.Profile = d.Profile.ID
			ts.Recurring = true
			tasks = append(tasks, sched.NewTask(ts))
		}
	}
	return tasks, nil
}

// followSchedule is the common tail of a successful duty run.
func followSchedule(r *sched.Run, s *Schedule) {
	r.Reschedule(s.Next(time.Now()))
}
