// Package ts formats times for people reading a terminal.
package ts

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock wraps a clockwork.Clock with helpers for human-readable times.
type Clock struct {
	realClock clockwork.Clock
}

func New(clock clockwork.Clock) *Clock {
	return &Clock{realClock: clock}
}

func NewRealClock() *Clock {
	return New(clockwork.NewRealClock())
}

// Now provides a timestamp truncated to the second, and in local time.
func (c *Clock) Now() time.Time {
	return c.realClock.Now().Local().Truncate(time.Second)
}

// Ago describes t relative to now, to the second: "5m0s ago", "in 30s".
func (c *Clock) Ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := c.realClock.Since(t).Round(time.Second)
	switch {
	case d == 0:
		return "just now"
	case d < 0:
		return "in " + (-d).String()
	default:
		return d.String() + " ago"
	}
}

func (c *Clock) RealClock() clockwork.Clock {
	return c.realClock
}
