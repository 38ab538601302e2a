package cron

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	relativePattern = regexp.MustCompile(`^in\s+(\d+)\s+(second|minute|hour|day|week)s?$`)
	dayWordPattern  = regexp.MustCompile(`^(today|tomorrow)\s+at\s+(.+)$`)
	clockPattern    = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?(?::\d{2})?\s*(am|pm|a\.m\.|p\.m\.)?$`)
)

var relativeUnits = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
}

// Layouts with both a date and a time of day.
var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04",
	"Jan 2 2006 15:04",
	"Jan 2, 2006 15:04",
	"January 2 2006 15:04",
	"January 2, 2006 15:04",
	"Jan 2 15:04",
	"January 2 15:04",
}

// Layouts with only a date. Times default to midnight.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"Jan 2 2006",
	"Jan 2, 2006",
	"January 2 2006",
	"January 2, 2006",
	"Jan 2",
	"January 2",
}

// ParseTime turns a human time expression into an absolute UTC time.
// Expressions without a zone are read in now's location. It accepts
// "in N units", "today|tomorrow at <clock>", and absolute dates such as
// "2026-03-01 14:00" or "March 1 at 2pm".
func ParseTime(expr string, now time.Time) (time.Time, bool) {
	raw := strings.TrimSpace(expr)
	lower := strings.ToLower(raw)
	loc := now.Location()

	if m := relativePattern.FindStringSubmatch(lower); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, false
		}
		return now.Add(time.Duration(n) * relativeUnits[m[2]]).UTC(), true
	}

	if m := dayWordPattern.FindStringSubmatch(lower); m != nil {
		hour, minute, ok := parseClock(m[2])
		if !ok {
			return time.Time{}, false
		}
		base := now
		if m[1] == "tomorrow" {
			base = now.AddDate(0, 0, 1)
		}
		y, mo, d := base.Date()
		return time.Date(y, mo, d, hour, minute, 0, 0, loc).UTC(), true
	}

	if t, ok := parseAbsolute(raw, now); ok {
		return t.UTC(), true
	}
	return time.Time{}, false
}

func parseAbsolute(value string, now time.Time) (time.Time, bool) {
	loc := now.Location()
	for _, layout := range dateTimeLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return fillYear(t, now), true
		}
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return fillYear(t, now), true
		}
	}

	// "<date> at <clock>" or "<date> <clock>"
	datePart, clockPart := splitClock(value)
	if datePart == "" {
		return time.Time{}, false
	}
	hour, minute, ok := parseClock(clockPart)
	if !ok {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if d, err := time.ParseInLocation(layout, datePart, loc); err == nil {
			d = fillYear(d, now)
			return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, 0, 0, loc), true
		}
	}
	return time.Time{}, false
}

func splitClock(value string) (string, string) {
	lower := strings.ToLower(value)
	if i := strings.LastIndex(lower, " at "); i > 0 {
		return strings.TrimSpace(value[:i]), strings.TrimSpace(value[i+4:])
	}
	if i := strings.LastIndex(value, " "); i > 0 {
		return strings.TrimSpace(value[:i]), strings.TrimSpace(value[i+1:])
	}
	return "", ""
}

// fillYear gives year-less layouts the current year.
func fillYear(t, now time.Time) time.Time {
	if t.Year() != 0 {
		return t
	}
	return time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, t.Location())
}

// parseClock reads "9", "9am", "9:30 pm", "14:00" and "noon".
func parseClock(value string) (int, int, bool) {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "noon":
		return 12, 0, true
	case "midnight":
		return 0, 0, true
	}
	m := clockPattern.FindStringSubmatch(value)
	if m == nil {
		return 0, 0, false
	}
	hour, _ := strconv.Atoi(m[1])
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if minute > 59 {
		return 0, 0, false
	}
	switch strings.ReplaceAll(m[3], ".", "") {
	case "am":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		if hour != 12 {
			hour += 12
		}
	default:
		if hour > 23 {
			return 0, 0, false
		}
	}
	return hour, minute, true
}
