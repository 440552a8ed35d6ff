// Package app is the composition root: it builds the per-profile stacks
// (emulator controller, vision client, navigator, duties) on top of the
// shared services (config, logging, storage, event bus, notify) and runs
// them under one supervisor.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"siegebot/internal/config"
	"siegebot/internal/duty"
	"siegebot/internal/emulator"
	"siegebot/internal/eventbus"
	"siegebot/internal/notify"
	"siegebot/internal/profile"
	"siegebot/internal/runtime/supervisor"
	"siegebot/internal/sched"
	"siegebot/internal/storage"
	"siegebot/internal/vision"
	"siegebot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	bus      eventbus.Bus
	store    storage.Store // nil when disabled
	profiles *profile.Store
	manager  *sched.Manager
	alerts   *notify.Service
	sup      *supervisor.Supervisor

	mu   sync.Mutex
	deps map[string]duty.Deps // per running profile, for reload re-sync
}

// New loads and validates the config and initializes logging. No goroutines
// run and no external systems are touched until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(validateDuties)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	return &App{
		cfgm: cfgm,
		logs: logs,
		log:  log,
		bus:  eventbus.New(),
		deps: make(map[string]duty.Deps),
	}, nil
}

// validateDuties is the app-level config check: every duty key must name a
// known kind, so a typo fails the reload instead of silently idling a duty.
func validateDuties(ctx context.Context, cfg *config.Config) error {
	for _, p := range cfg.Profiles {
		for kind := range p.Duties {
			if !duty.Known(kind) {
				return fmt.Errorf("profiles.%s: unknown duty %q (known: %v)", p.ID, kind, duty.Kinds())
			}
		}
	}
	return nil
}

// Start opens storage, starts the shared services, and launches one worker
// per configured profile.
func (a *App) Start(ctx context.Context) error {
	cfg := a.cfgm.Get()
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log.With(logx.String("comp", "supervisor"))))

	st, err := openStorage(cfg.Storage, a.log)
	if err != nil {
		return err
	}
	a.store = st

	a.profiles = profile.NewStore(a.log.With(logx.String("comp", "profile")), a.store, a.cfgm.Get)
	a.manager = sched.NewManager(a.log.With(logx.String("comp", "sched")), a.bus, a.sup, duty.Classes)

	if err := a.startNotify(cfg); err != nil {
		// Alerts are best effort even at startup.
		a.log.Warn("notify disabled", logx.Err(err))
	}

	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	a.sup.Go("config.apply", a.watchConfig)

	for _, pc := range cfg.Profiles {
		if err := a.startProfile(ctx, cfg, pc); err != nil {
			return fmt.Errorf("profile %s: %w", pc.ID, err)
		}
	}

	a.log.Info("started",
		logx.Int("profiles", len(cfg.Profiles)),
		logx.String("config", "loaded"))
	return nil
}

func openStorage(sc config.StorageConfig, log logx.Logger) (storage.Store, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return nil, err
	}
	return storage.Open(storage.Config{
		Driver:      sc.Driver,
		Path:        sc.Path,
		BusyTimeout: busy,
	}, log.With(logx.String("comp", "storage")))
}

func (a *App) startNotify(cfg *config.Config) error {
	if !cfg.Notify.Enabled {
		return nil
	}
	sender, err := notify.NewTelegram(cfg.Notify.Token, cfg.Notify.ChatID)
	if err != nil {
		return err
	}
	window, err := config.ParseDurationField("notify.dedup_window", cfg.Notify.DedupWindow)
	if err != nil {
		return err
	}
	a.alerts = notify.New(a.log.With(logx.String("comp", "notify")), sender, notify.Options{
		RatePerSec:  cfg.Notify.RatePerSec,
		DedupWindow: window,
	})
	a.sup.GoRestart("notify.send", a.alerts.Run)
	a.sup.GoRestart("notify.watch", a.alerts.WatchBus(a.bus))
	return nil
}

// startProfile assembles one profile's stack and hands its tasks to the
// queue manager.
func (a *App) startProfile(ctx context.Context, cfg *config.Config, pc config.ProfileConfig) error {
	log := a.log.With(logx.String("profile", pc.ID))

	ctrl := emulator.NewADB(emulator.Options{
		ADBPath:    cfg.Emulator.ADBPath,
		Device:     pc.Device,
		Package:    cfg.Emulator.Package,
		Activity:   cfg.Emulator.Activity,
		TapsPerSec: cfg.Emulator.TapsPerSec,
	}, log.With(logx.String("comp", "adb")))

	visTimeout, err := config.ParseDurationField("emulator.vision.timeout", cfg.Emulator.Vision.Timeout)
	if err != nil {
		return err
	}
	eye := vision.NewHTTP(cfg.Emulator.Vision.BaseURL, visTimeout, ctrl, log.With(logx.String("comp", "vision")))

	settle, err := config.ParseDurationField("engine.location_settle", cfg.Engine.LocationSettle)
	if err != nil {
		return err
	}
	nav := duty.NewNavigator(log.With(logx.String("comp", "nav")), ctrl, eye, settle)

	snap, err := a.profiles.Load(ctx, pc.ID)
	if err != nil {
		return err
	}

	retry, err := config.ParseDurationOrDefault("engine.retry_backoff", cfg.Engine.RetryBackoff, 5*time.Minute)
	if err != nil {
		return err
	}
	idle, err := config.ParseDurationOrDefault("engine.idle_backoff", cfg.Engine.IdleBackoff, 30*time.Minute)
	if err != nil {
		return err
	}

	deps := duty.Deps{
		Log:          log,
		Bus:          a.bus,
		Profile:      snap,
		Ctrl:         ctrl,
		Eye:          eye,
		Nav:          nav,
		RetryBackoff: retry,
		IdleBackoff:  idle,
	}

	tasks, err := duty.BuildTasks(deps)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.deps[pc.ID] = deps
	a.mu.Unlock()

	runner := &sched.Runner{
		Log:          log.With(logx.String("comp", "runner")),
		Bus:          a.bus,
		Nav:          nav,
		Game:         ctrl,
		Stamina:      a.profiles,
		Profiles:     a.profiles,
		Records:      a.recordSink(),
		RetryBackoff: retry,
	}
	return a.manager.StartProfile(pc.ID, runner, tasks)
}

// recordSink writes run records through to storage, best effort.
func (a *App) recordSink() sched.RecordSink {
	if a.store == nil {
		return nil
	}
	return sched.RecordFunc(func(ctx context.Context, rec sched.Record) {
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		err := a.store.AppendRun(wctx, storage.RunRecord{
			ID:       rec.ID,
			Profile:  rec.Profile,
			Kind:     string(rec.Kind),
			Distinct: rec.Distinct,
			Started:  rec.Started,
			Duration: rec.Duration,
			Outcome:  string(rec.Outcome),
			Error:    rec.Error,
		})
		if err != nil {
			a.log.Warn("run record not persisted", logx.Err(err))
		}
	})
}

// watchConfig applies hot-reloadable settings: logging, and the duty task
// sets of the running profiles. Structural changes (adding or removing
// profiles, new devices) need a process restart.
func (a *App) watchConfig(ctx context.Context) error {
	sub := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cfg, ok := <-sub:
			if !ok {
				return nil
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.File.Enabled,
					Path:    cfg.Logging.File.Path,
				},
			})
			a.syncProfiles(ctx, cfg)
			a.log.Info("config reloaded")
		}
	}
}

// syncProfiles rebuilds each running profile's duty tasks from the reloaded
// config and reconciles the pending queues. Pending cadences are kept;
// tasks for disabled duties disappear; the session bring-up is left alone.
func (a *App) syncProfiles(ctx context.Context, cfg *config.Config) {
	a.mu.Lock()
	ids := make([]string, 0, len(a.deps))
	for id := range a.deps {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	for _, id := range ids {
		log := a.log.With(logx.String("profile", id))
		if _, ok := cfg.Profile(id); !ok {
			log.Warn("profile removed from config; restart required to stop it")
			continue
		}
		if err := a.profiles.Refresh(ctx, id); err != nil {
			log.Warn("profile not refreshed on reload", logx.Err(err))
			continue
		}
		a.mu.Lock()
		deps := a.deps[id]
		a.mu.Unlock()
		tasks, err := duty.DutyTasks(deps)
		if err != nil {
			log.Error("reloaded duty config rejected, keeping previous tasks", logx.Err(err))
			continue
		}
		err = a.manager.SyncTasks(id, tasks, func(k sched.Key) bool {
			return k.Kind == duty.KindBootstrap
		})
		if err != nil {
			log.Warn("duty re-sync failed", logx.Err(err))
		}
	}
}

// Resume unpauses a profile stopped for operator intervention.
func (a *App) Resume(profileID string) error { return a.manager.Resume(profileID) }

// StopProfile stops one profile's worker after its current task.
func (a *App) StopProfile(profileID string) error { return a.manager.StopProfile(profileID) }

// Status reports every profile queue plus supervisor goroutine stats.
func (a *App) Status() ([]sched.ProfileStatus, []supervisor.Stat) {
	return a.manager.Status(), a.sup.Stats()
}

// Stop shuts everything down: workers finish their current task, the
// supervisor drains, storage closes.
func (a *App) Stop(ctx context.Context) error {
	if a.sup != nil {
		a.sup.Cancel()
		if err := a.sup.Wait(ctx); err != nil {
			a.log.Warn("shutdown incomplete", logx.Err(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	}
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
