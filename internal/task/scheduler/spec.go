package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SpecKind describes the normalized kind of a schedule string.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// ParsedSpec is a schedule string normalized for cron.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "*/30 * * * * *" (seconds optional), "@hourly", "@every 30s"
//   - Interval duration: "30s", "5m", optionally prefixed with "every:"
type ParsedSpec struct {
	Kind  SpecKind
	Cron  string        // expression handed to cron
	Every time.Duration // interval schedules only
}

var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule validates raw and returns its cron form.
func ParseSchedule(raw string) (ParsedSpec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSpec{}, fmt.Errorf("schedule required")
	}
	s = strings.TrimSpace(strings.TrimPrefix(s, "every:"))

	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return ParsedSpec{}, fmt.Errorf("interval must be > 0")
		}
		return ParsedSpec{Kind: SpecInterval, Cron: "@every " + d.String(), Every: d}, nil
	}

	if _, err := parser.Parse(s); err != nil {
		return ParsedSpec{}, fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *' or a duration like '30s'): %w", raw, err)
	}
	ps := ParsedSpec{Kind: SpecCron, Cron: s}
	if rest, ok := strings.CutPrefix(s, "@every "); ok {
		if d, err := time.ParseDuration(strings.TrimSpace(rest)); err == nil {
			ps.Kind, ps.Every = SpecInterval, d
		}
	}
	return ps, nil
}

// Every is a convenience for fixed-interval jobs.
func Every(d time.Duration) string { return "@every " + d.String() }
