package domain

import (
	"strings"
	"time"
)

// DefaultTomorrowM is the local time used for a bare "tomorrow".
const DefaultTomorrowM = 9 * 60

// NextAt returns the next instant, strictly after now, at which the wall clock
// in loc reads mins minutes past midnight. The result is in UTC.
func NextAt(nowUTC time.Time, loc *time.Location, mins int) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	localNow := nowUTC.In(loc)
	at := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), mins/60, mins%60, 0, 0, loc)
	if !at.After(localNow) {
		at = time.Date(localNow.Year(), localNow.Month(), localNow.Day()+1, mins/60, mins%60, 0, 0, loc)
	}
	return at.UTC()
}

// ResolveRemindAt turns a user supplied "when" into an absolute UTC due time.
// Accepted forms: "tomorrow", a clock time ("15:30", "7pm") evaluated in loc,
// or a relative duration ("30m", "1h30m", "90").
func ResolveRemindAt(nowUTC time.Time, when string, loc *time.Location) (time.Time, error) {
	when = strings.TrimSpace(strings.ToLower(when))
	if loc == nil {
		loc = time.UTC
	}

	if when == "tomorrow" {
		localNow := nowUTC.In(loc)
		at := time.Date(localNow.Year(), localNow.Month(), localNow.Day()+1,
			DefaultTomorrowM/60, DefaultTomorrowM%60, 0, 0, loc)
		return at.UTC(), nil
	}

	if mins, err := ParseClock(when); err == nil {
		return NextAt(nowUTC, loc, mins), nil
	}

	d, err := ParseDurationHuman(when)
	if err != nil {
		return time.Time{}, err
	}
	return nowUTC.Add(d).UTC(), nil
}
