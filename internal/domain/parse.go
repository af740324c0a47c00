package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrEmptyDuration   = errors.New("empty duration")
	ErrInvalidDuration = errors.New("invalid duration")
	ErrTooSmall        = errors.New("duration too small")
	ErrTooLarge        = errors.New("duration too large")
	ErrInvalidClock    = errors.New("invalid clock time")
)

var (
	// Optional hours, then optional minutes whose unit may be omitted.
	durationRe = regexp.MustCompile(`^(?:(\d{1,6})\s*h)?\s*(?:(\d{1,6})\s*m?)?$`)
	clockRe    = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
)

// ParseDurationHuman parses human-friendly durations like "30m", "1h30m", "90m", "2h".
// A plain number means minutes, also after hours: "2h30" is 2h30m.
// Constraints: 1m <= d <= 30 days.
func ParseDurationHuman(s string) (time.Duration, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, ErrEmptyDuration
	}
	m := durationRe.FindStringSubmatch(s)
	if m == nil || (m[1] == "" && m[2] == "") {
		return 0, fmt.Errorf("%w: %s", ErrInvalidDuration, s)
	}

	var total time.Duration
	if m[1] != "" {
		h, err := strconv.Atoi(m[1])
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrInvalidDuration, s)
		}
		total += time.Duration(h) * time.Hour
	}
	if m[2] != "" {
		mins, err := strconv.Atoi(m[2])
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrInvalidDuration, s)
		}
		total += time.Duration(mins) * time.Minute
	}

	if total < time.Minute {
		return 0, fmt.Errorf("%w: min 1m", ErrTooSmall)
	}
	if total > 30*24*time.Hour {
		return 0, fmt.Errorf("%w: max 30 days", ErrTooLarge)
	}
	return total, nil
}

// ParseClock parses "15:30", "7pm", "7:30am" into minutes since midnight.
func ParseClock(s string) (int, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	// A bare number is a duration, not a clock.
	if m[2] == "" && m[3] == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidClock, s)
	}
	h, _ := strconv.Atoi(m[1])
	mins := 0
	if m[2] != "" {
		mins, _ = strconv.Atoi(m[2])
	}
	switch m[3] {
	case "am", "pm":
		if h < 1 || h > 12 {
			return 0, fmt.Errorf("%w: hour %d", ErrInvalidClock, h)
		}
		h %= 12
		if m[3] == "pm" {
			h += 12
		}
	default:
		if h > 23 {
			return 0, fmt.Errorf("%w: hour %d", ErrInvalidClock, h)
		}
	}
	if mins > 59 {
		return 0, fmt.Errorf("%w: minute %d", ErrInvalidClock, mins)
	}
	return h*60 + mins, nil
}

// ValidateTZ checks that the tz is a valid IANA location.
func ValidateTZ(tz string) (string, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", err
	}
	return loc.String(), nil
}

// FormatMinutes returns HH:MM for minutes since midnight (00:00..23:59).
func FormatMinutes(mins int) string {
	if mins < 0 {
		mins = 0
	}
	h := mins / 60
	m := mins % 60
	return fmt.Sprintf("%02d:%02d", h, m)
}

// LocalizeTime formats t in the given timezone as "Mon 02 Jan 15:04".
func LocalizeTime(t time.Time, tz string) (string, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return "", err
	}
	return t.In(loc).Format("Mon 02 Jan 15:04"), nil
}
