package duty

import (
	"context"
	"strconv"
	"strings"
	"time"

	"siegebot/internal/sched"
	"siegebot/internal/vision"
	"siegebot/pkg/logx"
)

// Settings accessors. Duty settings come from YAML as loosely typed maps;
// missing or mistyped values fall back to the duty's default.

func settingInt(settings map[string]any, key string, def int) int {
	switch v := settings[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

func settingString(settings map[string]any, key, def string) string {
	if v, ok := settings[key].(string); ok && v != "" {
		return v
	}
	return def
}

func settingStrings(settings map[string]any, key string) []string {
	raw, ok := settings[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func defaultFind() vision.FindOpts {
	return vision.FindOpts{MaxAttempts: 3, Delay: 2 * time.Second}
}

// readCounter OCRs a numeric HUD counter rendered as "N" or "N/M" and
// returns the spendable left-hand value.
func readCounter(ctx context.Context, d Deps, area vision.Rect, log logx.Logger) (int, bool) {
	text, err := d.Eye.ReadText(ctx, area, vision.OCROpts{Numeric: true})
	if err != nil {
		log.Warn("counter unreadable", logx.Err(err))
		return 0, false
	}
	if i := strings.IndexByte(text, '/'); i >= 0 {
		text = text[:i]
	}
	n, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ensureStaminaBaseline re-reads the HUD counter when the session bring-up
// never managed to observe one. Without a baseline the tracker refuses to
// regenerate, and a duty that waited for regen would wait forever.
func ensureStaminaBaseline(ctx context.Context, d Deps, r *sched.Run) bool {
	if d.Profile.Stamina.Baselined() {
		return true
	}
	return baselineStamina(ctx, d, r)
}

// sleep waits ctx-aware; false means the context ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
