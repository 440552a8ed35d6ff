package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration file (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m") unless a
// schedule spec is expected (see DutyConfig.Schedule).
type Config struct {
	Logging  LoggingConfig   `json:"logging"`
	Storage  StorageConfig   `json:"storage,omitempty"`
	Notify   NotifyConfig    `json:"notify,omitempty"`
	Emulator EmulatorConfig  `json:"emulator"`
	Engine   EngineConfig    `json:"engine,omitempty"`
	Profiles []ProfileConfig `json:"profiles"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./siegebot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// NotifyConfig controls outbound operator alerts (Telegram).
type NotifyConfig struct {
	Enabled     bool   `json:"enabled"`
	Token       string `json:"token,omitempty"`
	ChatID      int64  `json:"chat_id,omitempty"`
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	DedupWindow string `json:"dedup_window,omitempty"`
}

// EmulatorConfig describes how to reach the Android emulators and the game.
//
// Per-profile device serials live in ProfileConfig.Device; everything here is
// shared across profiles.
type EmulatorConfig struct {
	ADBPath  string `json:"adb_path,omitempty"` // default: "adb" on PATH
	Package  string `json:"package"`            // game package name
	Activity string `json:"activity,omitempty"` // launch activity (default: monkey launch)

	// TapsPerSec caps synthetic input speed. 0 uses a safe default.
	TapsPerSec int `json:"taps_per_sec,omitempty"`

	Vision VisionConfig `json:"vision"`
}

// VisionConfig points at the CV sidecar that does template matching and OCR.
type VisionConfig struct {
	BaseURL string `json:"base_url"`
	Timeout string `json:"timeout,omitempty"` // per-request; default 15s
}

// EngineConfig tunes the scheduling core.
type EngineConfig struct {
	// RetryBackoff is the default reschedule delay after a transient failure.
	RetryBackoff string `json:"retry_backoff,omitempty"` // default "5m"
	// IdleBackoff is the default reschedule delay after a confirmed
	// "nothing to do" state.
	IdleBackoff string `json:"idle_backoff,omitempty"` // default "30m"
	// LocationSettle is the fixed wait after a navigation step, covering UI
	// animations.
	LocationSettle string `json:"location_settle,omitempty"` // default "1500ms"
}

// ProfileConfig is one configured game session (one emulator + account).
type ProfileConfig struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Device string `json:"device"` // adb serial, e.g. "emulator-5554"

	Stamina StaminaConfig `json:"stamina,omitempty"`

	// Duties maps duty kind -> per-duty settings. Unknown kinds are rejected
	// by the app-level validator so typos surface on reload, not at 3am.
	Duties map[string]DutyConfig `json:"duties"`
}

type StaminaConfig struct {
	Cap        int    `json:"cap,omitempty"`         // default 120
	RegenEvery string `json:"regen_every,omitempty"` // one point per interval; default "6m"
}

// DutyConfig configures a single recurring duty for a profile.
//
// Enabled is a pointer so "omitted" (default true) is distinguishable from an
// explicit false.
type DutyConfig struct {
	Enabled *bool `json:"enabled,omitempty"`

	// Schedule is a cron spec ("0 0 * * *"), an interval ("45m",
	// "interval:2h"), or a daily HH:MM. Empty means the duty's built-in
	// default cadence.
	Schedule string `json:"schedule,omitempty"`

	// Settings are duty-specific knobs, consumed as opaque key/value pairs.
	Settings map[string]any `json:"settings,omitempty"`
}

func (d DutyConfig) IsEnabled() bool {
	return d.Enabled == nil || *d.Enabled
}

// Validate checks structural invariants that don't need collaborators.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Emulator.Package) == "" {
		return fmt.Errorf("emulator.package is required")
	}
	if len(c.Profiles) == 0 {
		return fmt.Errorf("at least one profile is required")
	}

	seen := map[string]bool{}
	for i, p := range c.Profiles {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			return fmt.Errorf("profiles[%d]: id is required", i)
		}
		if seen[id] {
			return fmt.Errorf("profiles[%d]: duplicate id %q", i, id)
		}
		seen[id] = true
		if strings.TrimSpace(p.Device) == "" {
			return fmt.Errorf("profile %q: device is required", id)
		}
		if _, err := ParseDurationField("profile "+id+": stamina.regen_every", p.Stamina.RegenEvery); err != nil {
			return err
		}
	}

	for _, f := range []struct{ path, raw string }{
		{"engine.retry_backoff", c.Engine.RetryBackoff},
		{"engine.idle_backoff", c.Engine.IdleBackoff},
		{"engine.location_settle", c.Engine.LocationSettle},
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"notify.dedup_window", c.Notify.DedupWindow},
		{"emulator.vision.timeout", c.Emulator.Vision.Timeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	if c.Notify.Enabled && strings.TrimSpace(c.Notify.Token) == "" {
		return fmt.Errorf("notify.enabled requires notify.token")
	}
	return nil
}

// Profile returns the profile config with the given id, if present.
func (c *Config) Profile(id string) (ProfileConfig, bool) {
	for _, p := range c.Profiles {
		if p.ID == id {
			return p, true
		}
	}
	return ProfileConfig{}, false
}
