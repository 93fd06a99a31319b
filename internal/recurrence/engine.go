package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/example/facility-booking/internal/timeutil"
)

// Type names the supported recurrence cadences.
type Type string

const (
	// TypeNone yields the template occurrence only.
	TypeNone Type = "none"
	// TypeDaily advances by Interval days.
	TypeDaily Type = "daily"
	// TypeWeekly advances by Interval weeks, optionally restricted to Weekdays.
	TypeWeekly Type = "weekly"
	// TypeMonthly advances by Interval calendar months.
	TypeMonthly Type = "monthly"
)

// DefaultHorizonMonths bounds a rule without an explicit end.
const DefaultHorizonMonths = 3

// DefaultMaxOccurrences caps a single expansion.
const DefaultMaxOccurrences = 500

// Offsets from the anchor never exceed this many days (or the equivalent in
// months). Anything further lies past the last storable year, so a step that
// would land there ends the expansion.
const (
	maxOffsetDays   = 366 * 10000
	maxOffsetMonths = 12 * 10000
)

// ParseType maps a wire tag onto a Type.
func ParseType(tag string) (Type, error) {
	switch t := Type(tag); t {
	case TypeNone, TypeDaily, TypeWeekly, TypeMonthly:
		return t, nil
	case "":
		return TypeNone, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidType, tag)
}

// Rule describes how a template booking repeats.
type Rule struct {
	Type     Type
	Interval int
	Weekdays []time.Weekday
	// Until is the exclusive bound on occurrence starts. When nil the bound is
	// DefaultHorizonMonths after the template start.
	Until *time.Time
}

// Occurrence is one concrete window generated from a rule.
type Occurrence struct {
	Start time.Time
	End   time.Time
}

// Engine expands recurrence rules into occurrences.
type Engine struct {
	location       *time.Location
	maxOccurrences int
}

// NewEngine constructs an Engine doing calendar arithmetic in loc. If loc is
// nil, UTC is used. A non-positive maxOccurrences selects DefaultMaxOccurrences.
func NewEngine(loc *time.Location, maxOccurrences int) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	if maxOccurrences <= 0 {
		maxOccurrences = DefaultMaxOccurrences
	}
	return &Engine{location: loc, maxOccurrences: maxOccurrences}
}

// Location returns the zone used for day and month boundaries.
func (e *Engine) Location() *time.Location {
	if e == nil || e.location == nil {
		return time.UTC
	}
	return e.location
}

// ErrInvalidType indicates the recurrence type is not supported.
var ErrInvalidType = errors.New("recurrence: invalid type")

// ErrInvalidInterval indicates the interval is not a positive integer.
var ErrInvalidInterval = errors.New("recurrence: interval must be at least 1")

// ErrInvalidWeekday indicates a weekday constraint is out of range.
var ErrInvalidWeekday = errors.New("recurrence: invalid weekday")

// ErrInvalidDuration indicates the template end is not after its start.
var ErrInvalidDuration = errors.New("recurrence: end must be after start")

// ErrTooManyOccurrences indicates the rule would exceed the engine's cap.
var ErrTooManyOccurrences = errors.New("recurrence: too many occurrences")

// Expand produces the ordered occurrences implied by rule for the template
// window [start, end).
//
// Semantics:
//   - Every occurrence keeps the template duration.
//   - Occurrence starts are strictly before the rule's Until bound.
//   - Daily and monthly rules advance from the template start; the k-th
//     occurrence is computed from the anchor so month-end clamping never drifts.
//   - Weekly rules with weekdays walk day by day from start, emitting on the
//     selected weekdays and skipping (Interval-1) weeks after each 7-day window.
func (e *Engine) Expand(start, end time.Time, rule Rule) ([]Occurrence, error) {
	if !end.After(start) {
		return nil, ErrInvalidDuration
	}
	if rule.Type == "" {
		rule.Type = TypeNone
	}
	if rule.Type == TypeNone {
		return []Occurrence{{Start: start, End: end}}, nil
	}
	if rule.Interval < 1 {
		return nil, ErrInvalidInterval
	}

	loc := e.Location()
	duration := end.Sub(start)
	until := start.In(loc).AddDate(0, DefaultHorizonMonths, 0)
	if rule.Until != nil {
		until = *rule.Until
	}
	if ceiling := start.In(loc).AddDate(0, 0, maxOffsetDays); until.After(ceiling) {
		until = ceiling
	}

	limit := DefaultMaxOccurrences
	if e != nil && e.maxOccurrences > 0 {
		limit = e.maxOccurrences
	}
	out := make([]Occurrence, 0)
	emit := func(at time.Time) error {
		if at.Before(start) || !at.Before(until) {
			return fmt.Errorf("recurrence: occurrence %s outside [%s, %s)", at, start, until)
		}
		if len(out) >= limit {
			return fmt.Errorf("%w: more than %d", ErrTooManyOccurrences, limit)
		}
		out = append(out, Occurrence{Start: at, End: at.Add(duration)})
		return nil
	}

	anchor := start.In(loc)

	switch rule.Type {
	case TypeDaily:
		for k := 0; ; k++ {
			days, ok := offset(k, rule.Interval, 1, maxOffsetDays)
			if !ok {
				break
			}
			current := anchor.AddDate(0, 0, days)
			if !current.Before(until) {
				break
			}
			if err := emit(current); err != nil {
				return nil, err
			}
		}
	case TypeWeekly:
		weekdaySet, err := weekdaySet(rule.Weekdays)
		if err != nil {
			return nil, err
		}
		if len(weekdaySet) == 0 {
			for k := 0; ; k++ {
				days, ok := offset(k, rule.Interval, 7, maxOffsetDays)
				if !ok {
					break
				}
				current := anchor.AddDate(0, 0, days)
				if !current.Before(until) {
					break
				}
				if err := emit(current); err != nil {
					return nil, err
				}
			}
			break
		}
		// day counts calendar days from the anchor; the wall clock is kept by
		// AddDate across DST changes.
		day := 0
		for walked := 0; ; {
			current := anchor.AddDate(0, 0, day)
			if !current.Before(until) {
				break
			}
			if _, ok := weekdaySet[current.Weekday()]; ok {
				if err := emit(current); err != nil {
					return nil, err
				}
			}
			day++
			walked++
			if walked == 7 {
				skip, ok := offset(1, rule.Interval-1, 7, maxOffsetDays-day)
				if !ok {
					break
				}
				day += skip
				walked = 0
			}
		}
	case TypeMonthly:
		for k := 0; ; k++ {
			months, ok := offset(k, rule.Interval, 1, maxOffsetMonths)
			if !ok {
				break
			}
			current := timeutil.AddMonthsClamped(anchor, months, loc)
			if !current.Before(until) {
				break
			}
			if err := emit(current); err != nil {
				return nil, err
			}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidType, rule.Type)
	}

	return out, nil
}

// offset returns k*unit*interval, or false when it exceeds ceiling.
func offset(k, interval, unit, ceiling int) (int, bool) {
	if k == 0 || interval == 0 {
		return 0, true
	}
	step := k * unit
	if ceiling < 0 || interval > ceiling/step {
		return 0, false
	}
	return step * interval, true
}

func weekdaySet(days []time.Weekday) (map[time.Weekday]struct{}, error) {
	set := make(map[time.Weekday]struct{}, len(days))
	for _, day := range days {
		if !timeutil.ValidWeekday(day) {
			return nil, fmt.Errorf("%w: %d", ErrInvalidWeekday, int(day))
		}
		set[day] = struct{}{}
	}
	return set, nil
}
