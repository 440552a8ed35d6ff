// Package profile holds the live per-account state: the merged view of
// static configuration and persisted mutable state (stamina, duty blobs).
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"siegebot/internal/config"
	"siegebot/internal/stamina"
	"siegebot/internal/storage"
	"siegebot/pkg/logx"
)

// Snapshot is the working state of one profile. Config-derived fields are
// replaced wholesale on Refresh; the stamina tracker and duty state carry
// across refreshes.
type Snapshot struct {
	ID      string
	Stamina *stamina.Tracker

	mu     sync.Mutex
	name   string
	device string
	duties map[string]config.DutyConfig
	state  map[string]json.RawMessage
}

func (s *Snapshot) Name() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

func (s *Snapshot) Device() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// Duty returns the current config for a duty kind.
func (s *Snapshot) Duty(kind string) (config.DutyConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.duties[kind]
	return d, ok
}

// DutyState decodes the persisted blob for a duty into out. Returns false
// when no blob exists; duties must treat that as a cold start.
func (s *Snapshot) DutyState(kind string, out any) (bool, error) {
	s.mu.Lock()
	raw, ok := s.state[kind]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode %s state: %w", kind, err)
	}
	return true, nil
}

// SetDutyState stores a duty's blob for the next persist.
func (s *Snapshot) SetDutyState(kind string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s state: %w", kind, err)
	}
	s.mu.Lock()
	if s.state == nil {
		s.state = map[string]json.RawMessage{}
	}
	s.state[kind] = raw
	s.mu.Unlock()
	return nil
}

func (s *Snapshot) applyConfig(pc config.ProfileConfig) {
	s.mu.Lock()
	s.name = pc.Name
	s.device = pc.Device
	s.duties = pc.Duties
	s.mu.Unlock()
}

func (s *Snapshot) persistedState() storage.ProfileState {
	st := s.Stamina.Snapshot()
	s.mu.Lock()
	duties := make(map[string]json.RawMessage, len(s.state))
	for k, v := range s.state {
		duties[k] = v
	}
	s.mu.Unlock()
	return storage.ProfileState{
		ProfileID: s.ID,
		SavedAt:   time.Now(),
		Stamina:   storage.StaminaState{Value: st.Value, UpdatedAt: st.UpdatedAt},
		Duties:    duties,
	}
}

// Store loads, caches, and persists profile snapshots. It implements the
// scheduler's profile hooks: Refresh before each run, Persist after runs
// that changed state.
type Store struct {
	log logx.Logger
	db  storage.Store // nil when persistence is disabled
	cfg func() *config.Config

	mu    sync.Mutex
	snaps map[string]*Snapshot
}

func NewStore(log logx.Logger, db storage.Store, cfg func() *config.Config) *Store {
	return &Store{
		log:   log,
		db:    db,
		cfg:   cfg,
		snaps: make(map[string]*Snapshot),
	}
}

// Load builds the snapshot for a profile: config gives the shape, storage
// restores the last persisted stamina value and duty blobs. A storage read
// failure degrades to a cold snapshot rather than blocking startup.
func (s *Store) Load(ctx context.Context, id string) (*Snapshot, error) {
	cfg := s.cfg()
	pc, ok := cfg.Profile(id)
	if !ok {
		return nil, fmt.Errorf("profile %q not configured", id)
	}

	cap := pc.Stamina.Cap
	if cap <= 0 {
		cap = stamina.DefaultCap
	}
	regen, err := config.ParseDurationOrDefault("profiles."+id+".stamina.regen_every", pc.Stamina.RegenEvery, stamina.DefaultRegenEvery)
	if err != nil {
		return nil, fmt.Errorf("profile %q regen_every: %w", id, err)
	}

	snap := &Snapshot{
		ID:      id,
		Stamina: stamina.New(cap, regen),
	}
	snap.applyConfig(pc)

	if s.db != nil {
		saved, found, err := s.db.LoadProfile(ctx, id)
		switch {
		case err != nil:
			s.log.Warn("profile state load failed, starting cold",
				logx.String("profile", id), logx.Err(err))
		case found:
			if !saved.Stamina.UpdatedAt.IsZero() {
				snap.Stamina.Restore(saved.Stamina.Value, saved.Stamina.UpdatedAt)
			}
			snap.mu.Lock()
			snap.state = saved.Duties
			snap.mu.Unlock()
		}
	}

	s.mu.Lock()
	s.snaps[id] = snap
	s.mu.Unlock()
	return snap, nil
}

// Current returns the cached snapshot, if loaded.
func (s *Store) Current(id string) (*Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.snaps[id]
	return snap, ok
}

// Refresh re-applies the live config to the cached snapshot so hot-reloaded
// duty settings take effect on the next run. Stamina and duty state are
// kept. The caller tolerates a failure and runs on the stale snapshot.
func (s *Store) Refresh(ctx context.Context, id string) error {
	snap, ok := s.Current(id)
	if !ok {
		return fmt.Errorf("profile %q not loaded", id)
	}
	pc, ok := s.cfg().Profile(id)
	if !ok {
		return fmt.Errorf("profile %q no longer configured", id)
	}
	snap.applyConfig(pc)
	return nil
}

// RefreshStamina folds elapsed regeneration into the profile's stamina pool
// before a consuming task runs.
func (s *Store) RefreshStamina(id string, now time.Time) {
	if snap, ok := s.Current(id); ok && snap.Stamina != nil {
		snap.Stamina.Refresh(now)
	}
}

// Persist writes the snapshot's mutable state through to storage.
func (s *Store) Persist(ctx context.Context, id string) error {
	if s.db == nil {
		return nil
	}
	snap, ok := s.Current(id)
	if !ok {
		return fmt.Errorf("profile %q not loaded", id)
	}
	if err := s.db.SaveProfile(ctx, snap.persistedState()); err != nil {
		return fmt.Errorf("save profile %q: %w", id, err)
	}
	return nil
}
