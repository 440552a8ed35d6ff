// Package stamina tracks the regenerating in-game resource consumed by some
// duties.
//
// One Tracker per profile. Only that profile's worker goroutine writes to it
// during task execution (the scheduling core serializes tasks per profile),
// but the mutex keeps reads from diagnostics and config reloads safe.
package stamina

import (
	"sync"
	"time"
)

const (
	DefaultCap        = 120
	DefaultRegenEvery = 6 * time.Minute
)

type Tracker struct {
	mu sync.Mutex

	cap        int
	regenEvery time.Duration

	value     int
	updatedAt time.Time
	baselined bool
}

// Snapshot is a point-in-time view for persistence and diagnostics.
type Snapshot struct {
	Value     int       `json:"value"`
	Cap       int       `json:"cap"`
	UpdatedAt time.Time `json:"updated_at"`
	Baselined bool      `json:"baselined"`
}

func New(cap int, regenEvery time.Duration) *Tracker {
	if cap <= 0 {
		cap = DefaultCap
	}
	if regenEvery <= 0 {
		regenEvery = DefaultRegenEvery
	}
	return &Tracker{cap: cap, regenEvery: regenEvery}
}

// SetBaseline records an observed on-screen value (bootstrap OCR, or a task
// that just read the counter). It resets the regen clock.
func (t *Tracker) SetBaseline(value int, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if value < 0 {
		value = 0
	}
	if value > t.cap {
		value = t.cap
	}
	t.value = value
	t.updatedAt = now
	t.baselined = true
}

// Baselined reports whether a baseline was ever observed. Before the
// bootstrap task records one, stamina-gated duties must not trust the value.
func (t *Tracker) Baselined() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baselined
}

// Refresh folds elapsed regeneration into the tracked value and returns it.
func (t *Tracker) Refresh(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refreshLocked(now)
	return t.value
}

func (t *Tracker) refreshLocked(now time.Time) {
	if !t.baselined || t.updatedAt.IsZero() || !now.After(t.updatedAt) {
		return
	}
	regen := int(now.Sub(t.updatedAt) / t.regenEvery)
	if regen <= 0 {
		return
	}
	t.value += regen
	if t.value > t.cap {
		t.value = t.cap
	}
	// Advance by whole regen intervals so the fractional remainder keeps
	// accruing toward the next point.
	t.updatedAt = t.updatedAt.Add(time.Duration(regen) * t.regenEvery)
	if t.value == t.cap {
		t.updatedAt = now
	}
}

// Spend deducts n points if available, refreshing first.
func (t *Tracker) Spend(n int, now time.Time) bool {
	if n <= 0 {
		return true
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refreshLocked(now)
	if !t.baselined || t.value < n {
		return false
	}
	t.value -= n
	return true
}

// NextAvailable returns when at least n points will be available, assuming no
// other spending. Returns now when already available.
func (t *Tracker) NextAvailable(n int, now time.Time) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refreshLocked(now)
	if n <= 0 || t.value >= n {
		return now
	}
	missing := n - t.value
	base := t.updatedAt
	if base.IsZero() {
		base = now
	}
	return base.Add(time.Duration(missing) * t.regenEvery)
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{Value: t.value, Cap: t.cap, UpdatedAt: t.updatedAt, Baselined: t.baselined}
}

// Restore seeds the tracker from a persisted snapshot (best effort; a later
// bootstrap baseline overrides it).
func (t *Tracker) Restore(value int, updatedAt time.Time) {
	if updatedAt.IsZero() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if value < 0 {
		value = 0
	}
	if value > t.cap {
		value = t.cap
	}
	t.value = value
	t.updatedAt = updatedAt
	t.baselined = true
}
