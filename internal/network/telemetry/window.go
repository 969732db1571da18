package telemetry

import (
	"strings"
	"time"
)

// Window selects how far back a history read reaches.
type Window string

const (
	Window5Min  Window = "5min"
	Window1Hour Window = "1hour"
	Window1Day  Window = "1day"
	WindowAll   Window = "all"
)

// ParseWindow maps a query value to a Window. Unknown or empty values mean all.
func ParseWindow(s string) Window {
	switch w := Window(strings.ToLower(strings.TrimSpace(s))); w {
	case Window5Min, Window1Hour, Window1Day:
		return w
	}
	return WindowAll
}

func (w Window) Duration() time.Duration {
	switch w {
	case Window5Min:
		return 5 * time.Minute
	case Window1Hour:
		return time.Hour
	case Window1Day:
		return 24 * time.Hour
	}
	return 0
}

// Includes reports whether ts falls inside the window ending at now. The cutoff is inclusive.
func (w Window) Includes(now, ts time.Time) bool {
	d := w.Duration()
	if d == 0 {
		return true
	}
	return !ts.Before(now.Add(-d))
}
