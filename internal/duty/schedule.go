package duty

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule computes the next run instant for a duty.
//
// Supported forms:
//   - Cron (crontab.guru-style): "*/5 * * * *", "0 3 * * *", "@hourly", "@every 55m"
//   - Interval duration: "45m", "2h30m"
//   - Daily HH:MM local time: "03:30"
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "interval:" or "every:" forces interval parsing
type Schedule struct {
	cron  cron.Schedule // nil unless a cron form
	every time.Duration // > 0 for interval form
	daily time.Duration // offset into the local day for HH:MM form
	isDay bool

	source string // "cron" | "interval" | "daily"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

// ParseSchedule parses a schedule string.
func ParseSchedule(raw string) (*Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(strings.TrimSpace(s[len("interval:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseInterval(strings.TrimSpace(s[len("every:"):]))
	}

	// Whitespace or a leading '@' can only be cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}

	if m := reHHMM.FindStringSubmatch(s); m != nil {
		return parseDaily(m)
	}

	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return nil, fmt.Errorf("interval must be > 0")
		}
		return &Schedule{every: d, source: "interval"}, nil
	}

	return nil, fmt.Errorf(
		"invalid schedule %q (use cron like '0 3 * * *', daily HH:MM like '03:30', or duration like '45m')",
		raw,
	)
}

// MustSchedule is for built-in duty defaults, which are compile-time constants.
func MustSchedule(raw string) *Schedule {
	s, err := ParseSchedule(raw)
	if err != nil {
		panic(err)
	}
	return s
}

func parseCron(expr string) (*Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("cron schedule required after 'cron:'")
	}
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return &Schedule{cron: sched, source: "cron"}, nil
}

func parseInterval(v string) (*Schedule, error) {
	if v == "" {
		return nil, fmt.Errorf("interval required")
	}
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		return parseDaily(m)
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return nil, fmt.Errorf("invalid interval %q (use a Go duration like '45m' or '2h30m')", v)
	}
	if d <= 0 {
		return nil, fmt.Errorf("interval must be > 0")
	}
	return &Schedule{every: d, source: "interval"}, nil
}

func parseDaily(m []string) (*Schedule, error) {
	hh := int(m[1][0] - '0')
	if len(m[1]) == 2 {
		hh = hh*10 + int(m[1][1]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if hh > 23 {
		return nil, fmt.Errorf("invalid hour in %q:%q", m[1], m[2])
	}
	if mm > 59 {
		return nil, fmt.Errorf("invalid minutes in %q:%q", m[1], m[2])
	}
	return &Schedule{
		daily:  time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute,
		isDay:  true,
		source: "daily",
	}, nil
}

// Next returns the first instant strictly after the given time at which the
// schedule fires.
func (s *Schedule) Next(after time.Time) time.Time {
	switch {
	case s.cron != nil:
		return s.cron.Next(after)
	case s.isDay:
		day := time.Date(after.Year(), after.Month(), after.Day(), 0, 0, 0, 0, after.Location())
		at := day.Add(s.daily)
		if !at.After(after) {
			at = at.AddDate(0, 0, 1)
		}
		return at
	default:
		return after.Add(s.every)
	}
}

// Interval reports the fixed period for interval schedules, 0 otherwise.
func (s *Schedule) Interval() time.Duration {
	if s.cron == nil && !s.isDay {
		return s.every
	}
	return 0
}

func (s *Schedule) String() string { return s.source }
