package duty

import (
	"testing"
	"time"

	"siegebot/internal/config"
	"siegebot/internal/sched"
)

func boolPtr(v bool) *bool { return &v }

func TestBuildTasksIncludesBootstrapAndEnabledDuties(t *testing.T) {
	d := testDeps(t, &fakeCtrl{}, &fakeEye{}, map[string]config.DutyConfig{
		"harvest": {},
		"mail":    {Schedule: "3h"},
		"arena":   {Enabled: boolPtr(false)},
	})

	tasks, err := BuildTasks(d)
	if err != nil {
		t.Fatalf("BuildTasks: %v", err)
	}

	kinds := map[sched.Kind]int{}
	for _, task := range tasks {
		kinds[task.Key().Kind]++
	}
	if kinds[KindBootstrap] != 1 {
		t.Fatalf("bootstrap tasks = %d, want 1", kinds[KindBootstrap])
	}
	if kinds[KindHarvest] != 1 || kinds[KindMail] != 1 {
		t.Fatalf("kinds = %v, want harvest and mail present", kinds)
	}
	if kinds[KindArena] != 0 {
		t.Fatal("disabled arena duty produced a task")
	}
	if kinds[KindTribute] != 0 {
		t.Fatal("unconfigured tribute duty produced a task")
	}
}

func TestBuildTasksRallyTargets(t *testing.T) {
	d := testDeps(t, &fakeCtrl{}, &fakeEye{}, map[string]config.DutyConfig{
		"rally": {Settings: map[string]any{
			"targets": []any{"goblin_camp", "ice_giant"},
		}},
	})

	tasks, err := BuildTasks(d)
	if err != nil {
		t.Fatalf("BuildTasks: %v", err)
	}

	var distincts []string
	for _, task := range tasks {
		if task.Key().Kind == KindRally {
			distincts = append(distincts, task.Key().Distinct)
		}
	}
	if len(distincts) != 2 {
		t.Fatalf("rally tasks = %d, want one per target", len(distincts))
	}
	seen := map[string]bool{}
	for _, d := range distincts {
		seen[d] = true
	}
	if !seen["goblin_camp"] || !seen["ice_giant"] {
		t.Fatalf("distincts = %v", distincts)
	}
}

func TestBuildTasksRejectsBadSchedule(t *testing.T) {
	d := testDeps(t, &fakeCtrl{}, &fakeEye{}, map[string]config.DutyConfig{
		"harvest": {Schedule: "whenever"},
	})
	if _, err := BuildTasks(d); err == nil {
		t.Fatal("BuildTasks accepted an unparsable schedule")
	}
}

func TestKnown(t *testing.T) {
	t.Parallel()
	for _, k := range Kinds() {
		if !Known(k) {
			t.Fatalf("Known(%q) = false", k)
		}
	}
	if Known("bootstrap") {
		t.Fatal("bootstrap must not be configurable")
	}
	if Known("smuggling") {
		t.Fatal("Known accepted a made-up kind")
	}
}

func TestClassesRankBootstrapFirst(t *testing.T) {
	t.Parallel()
	q := sched.NewDelayQueue(Classes)
	mk := func(kind sched.Kind, overdue time.Duration) *sched.Task {
		return sched.NewTask(sched.TaskSpec{
			Kind: kind, Profile: "p",
			FirstRun: time.Now().Add(-overdue),
		})
	}
	// Rally is far more overdue than arena; the class table, not delay,
	// must decide between them.
	tasks := []*sched.Task{
		mk(KindHarvest, time.Minute),
		mk(KindRally, time.Hour),
		mk(KindArena, time.Minute),
		mk(KindBootstrap, time.Minute),
	}
	for _, task := range tasks {
		if err := q.Offer(task); err != nil {
			t.Fatalf("Offer: %v", err)
		}
	}
	snap := q.Snapshot(time.Now())
	want := []sched.Kind{KindBootstrap, KindArena, KindRally, KindHarvest}
	for i, w := range want {
		if snap[i].Key().Kind != w {
			t.Fatalf("snapshot[%d] = %q, want %q", i, snap[i].Key().Kind, w)
		}
	}
}
