// Package timeutil holds the pure date and time helpers shared by the
// recurrence engine, the conflict detector and the row mapping layer.
package timeutil

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// InstantLayout is the wire format for stored timestamps. It is fixed width
// and always UTC, so lexical order of two formatted values equals their
// chronological order.
const InstantLayout = "2006-01-02T15:04:05.000Z"

const (
	dateLayout    = "2006-01-02"
	sqlLayout     = "2006-01-02 15:04:05"
	displayLayout = "Jan 2, 2006 3:04 PM"
	clockLayout   = "3:04 PM"
)

// ErrInvalidInstant indicates a timestamp string could not be parsed.
var ErrInvalidInstant = errors.New("timeutil: invalid instant")

// ErrInvalidWeekday indicates a weekday tag is not recognised.
var ErrInvalidWeekday = errors.New("timeutil: invalid weekday")

// FormatInstant renders t in the stored wire format.
func FormatInstant(t time.Time) string {
	return t.UTC().Format(InstantLayout)
}

// Earliest and latest instants InstantLayout can hold at its fixed width.
var (
	MinInstant = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)
	MaxInstant = time.Date(9999, time.December, 31, 23, 59, 59, 999_000_000, time.UTC)
)

// Storable reports whether t formats to a fixed-width instant that parses back
// to the same value.
func Storable(t time.Time) bool {
	return !t.Before(MinInstant) && !t.After(MaxInstant)
}

// TruncateInstant drops the digits InstantLayout does not keep.
func TruncateInstant(t time.Time) time.Time {
	return t.Truncate(time.Millisecond)
}

// ParseInstant parses an RFC 3339 timestamp (any offset) or a
// "2006-01-02 15:04:05" value, which is taken as UTC.
func ParseInstant(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidInstant)
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation(sqlLayout, value, time.UTC); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidInstant, value)
}

// ParseDate parses a calendar date and returns midnight of that day in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidInstant, value)
	}
	return t, nil
}

// FormatDate renders the calendar date of t in loc.
func FormatDate(t time.Time, loc *time.Location) string {
	return in(t, loc).Format(dateLayout)
}

// FormatDisplay renders t for people, e.g. "Mar 10, 2024 9:00 AM".
func FormatDisplay(t time.Time, loc *time.Location) string {
	return in(t, loc).Format(displayLayout)
}

// FormatDisplayRange renders a window, omitting the end date when both ends
// fall on the same calendar day.
func FormatDisplayRange(start, end time.Time, loc *time.Location) string {
	s := in(start, loc)
	e := in(end, loc)
	if SameDay(s, e, loc) {
		return s.Format(displayLayout) + " to " + e.Format(clockLayout)
	}
	return s.Format(displayLayout) + " to " + e.Format(displayLayout)
}

// SameDay reports whether a and b share a calendar date in loc.
func SameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := in(a, loc).Date()
	by, bm, bd := in(b, loc).Date()
	return ay == by && am == bm && ad == bd
}

// Overlaps reports whether the half-open intervals [aStart, aEnd) and
// [bStart, bEnd) intersect. Touching intervals do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AddMonthsClamped moves t by n calendar months in loc, keeping the wall
// clock. When the day of month does not exist in the target month the result
// is clamped to the month's last day (Jan 31 + 1 month = Feb 28/29).
func AddMonthsClamped(t time.Time, n int, loc *time.Location) time.Time {
	local := in(t, loc)
	year, month, day := local.Date()

	total := int(month) - 1 + n
	targetYear := year + floorDiv(total, 12)
	targetMonth := time.Month(floorMod(total, 12) + 1)

	if last := DaysIn(targetYear, targetMonth); day > last {
		day = last
	}
	return time.Date(targetYear, targetMonth, day, local.Hour(), local.Minute(), local.Second(), local.Nanosecond(), local.Location())
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"sun":       time.Sunday,
	"monday":    time.Monday,
	"mon":       time.Monday,
	"tuesday":   time.Tuesday,
	"tue":       time.Tuesday,
	"wednesday": time.Wednesday,
	"wed":       time.Wednesday,
	"thursday":  time.Thursday,
	"thu":       time.Thursday,
	"friday":    time.Friday,
	"fri":       time.Friday,
	"saturday":  time.Saturday,
	"sat":       time.Saturday,
}

// ParseWeekday accepts 0-6 (0 = Sunday), English weekday names and their
// three-letter abbreviations, case-insensitively.
func ParseWeekday(tag string) (time.Weekday, error) {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if day, ok := weekdayNames[tag]; ok {
		return day, nil
	}
	if n, err := strconv.Atoi(tag); err == nil && n >= 0 && n <= 6 {
		return time.Weekday(n), nil
	}
	return time.Sunday, fmt.Errorf("%w: %q", ErrInvalidWeekday, tag)
}

// ValidWeekday reports whether d is one of the seven weekdays.
func ValidWeekday(d time.Weekday) bool {
	return d >= time.Sunday && d <= time.Saturday
}

func in(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		return t
	}
	return t.In(loc)
}

func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int) int {
	return a - floorDiv(a, b)*b
}
