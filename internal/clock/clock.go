// Package clock isolates wall-clock reads and the display timezone.
package clock

import (
	"time"

	appLog "elvcal/internal/log"
	"elvcal/internal/model"
)

// Clock supplies the current time and the display location.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

type system struct {
	loc *time.Location
}

// System returns a Clock backed by time.Now in loc (time.Local if nil).
func System(loc *time.Location) Clock {
	if loc == nil {
		loc = time.Local
	}
	return system{loc: loc}
}

func (s system) Now() time.Time           { return time.Now().In(s.loc) }
func (s system) Location() *time.Location { return s.loc }

// Fixed is a Clock frozen at T. Tests use it.
type Fixed struct {
	T   time.Time
	Loc *time.Location
}

func (f Fixed) Now() time.Time {
	return f.T.In(f.Location())
}

func (f Fixed) Location() *time.Location {
	if f.Loc == nil {
		return time.UTC
	}
	return f.Loc
}

// LoadLocation resolves an IANA name, falling back to time.Local.
func LoadLocation(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}

// Window returns [today, today+months) with both ends at local midnight.
func Window(c Clock, months int) model.Window {
	if months <= 0 {
		months = 1
	}
	now := c.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return model.Window{Start: start, End: start.AddDate(0, months, 0)}
}

// DayWindow returns [today, today+days).
func DayWindow(c Clock, days int) model.Window {
	now := c.Now()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return model.Window{Start: start, End: start.AddDate(0, 0, days)}
}

// DateString formats t as YYYY-MM-DD.
func DateString(t time.Time) string {
	return t.Format(time.DateOnly)
}
