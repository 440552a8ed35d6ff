// Package storage persists what must survive a restart: per-profile duty
// state, the stamina snapshot, and an append-only run audit.
//
// Drivers: "file" (json snapshot + jsonl audit) and "sqlite".
package storage

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled and the bot runs with
// in-memory state only (duty state resets on restart).
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// ProfileState is the persisted mutable state of one profile.
//
// Duty blobs are opaque to this package; each duty owns its own schema and
// must tolerate missing or stale blobs (state is advisory, config is truth).
type ProfileState struct {
	ProfileID string    `json:"profile_id"`
	SavedAt   time.Time `json:"saved_at"`

	Stamina StaminaState `json:"stamina"`

	Duties map[string]json.RawMessage `json:"duties,omitempty"`
}

type StaminaState struct {
	Value     int       `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RunRecord is one task execution, for the audit trail.
// Keep it compact and schema-stable.
type RunRecord struct {
	ID       string        `json:"id"` // uuid
	Profile  string        `json:"profile"`
	Kind     string        `json:"kind"`
	Distinct string        `json:"distinct,omitempty"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Outcome  string        `json:"outcome"` // ok | recovered | fatal | intervention
	Error    string        `json:"error,omitempty"`
}
