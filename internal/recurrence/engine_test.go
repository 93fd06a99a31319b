package recurrence

import (
	"errors"
	"math"
	"math/rand"
	"reflect"
	"testing"
	"testing/quick"
	"time"
)

func TestEngine_Expand(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC, 0)
	// Monday 2024-03-04 09:00-10:00 UTC.
	baseStart := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)
	baseEnd := baseStart.Add(time.Hour)

	t.Run("none returns the template", func(t *testing.T) {
		t.Parallel()
		occ, err := engine.Expand(baseStart, baseEnd, Rule{Type: TypeNone})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(occ) != 1 || !occ[0].Start.Equal(baseStart) || !occ[0].End.Equal(baseEnd) {
			t.Fatalf("unexpected occurrences %v", occ)
		}
	})

	t.Run("daily advances by interval days until the exclusive bound", func(t *testing.T) {
		t.Parallel()
		until := baseStart.AddDate(0, 0, 6)
		occ, err := engine.Expand(baseStart, baseEnd, Rule{Type: TypeDaily, Interval: 2, Until: &until})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []time.Time{baseStart, baseStart.AddDate(0, 0, 2), baseStart.AddDate(0, 0, 4)}
		assertStarts(t, occ, want)
	})

	t.Run("an occurrence exactly at the bound is excluded", func(t *testing.T) {
		t.Parallel()
		until := baseStart.AddDate(0, 0, 2)
		occ, err := engine.Expand(baseStart, baseEnd, Rule{Type: TypeDaily, Interval: 1, Until: &until})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		assertStarts(t, occ, []time.Time{baseStart, baseStart.AddDate(0, 0, 1)})
	})

	t.Run("weekly without weekdays advances by whole weeks", func(t *testing.T) {
		t.Parallel()
		until := baseStart.AddDate(0, 0, 28)
		occ, err := engine.Expand(baseStart, baseEnd, Rule{Type: TypeWeekly, Interval: 1, Until: &until})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		assertStarts(t, occ, []time.Time{
			baseStart,
			baseStart.AddDate(0, 0, 7),
			baseStart.AddDate(0, 0, 14),
			baseStart.AddDate(0, 0, 21),
		})
	})

	t.Run("weekly weekdays from a Wednesday emit Friday before the next Monday", func(t *testing.T) {
		t.Parallel()
		wednesday := time.Date(2024, time.March, 6, 9, 0, 0, 0, time.UTC)
		until := wednesday.AddDate(0, 0, 14)
		occ, err := engine.Expand(wednesday, wednesday.Add(time.Hour), Rule{
			Type:     TypeWeekly,
			Interval: 1,
			Weekdays: []time.Weekday{time.Monday, time.Friday},
			Until:    &until,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		assertStarts(t, occ, []time.Time{
			time.Date(2024, time.March, 8, 9, 0, 0, 0, time.UTC),
			time.Date(2024, time.March, 11, 9, 0, 0, 0, time.UTC),
			time.Date(2024, time.March, 15, 9, 0, 0, 0, time.UTC),
			time.Date(2024, time.March, 18, 9, 0, 0, 0, time.UTC),
		})
		for _, o := range occ {
			if o.Start.Weekday() == time.Wednesday {
				t.Fatalf("unexpected occurrence on the starting Wednesday: %s", o.Start)
			}
		}
	})

	t.Run("weekly weekdays honour the every-N-weeks cadence", func(t *testing.T) {
		t.Parallel()
		until := baseStart.AddDate(0, 0, 35)
		occ, err := engine.Expand(baseStart, baseEnd, Rule{
			Type:     TypeWeekly,
			Interval: 2,
			Weekdays: []time.Weekday{time.Monday, time.Thursday},
			Until:    &until,
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		assertStarts(t, occ, []time.Time{
			baseStart,
			baseStart.AddDate(0, 0, 3),
			baseStart.AddDate(0, 0, 14),
			baseStart.AddDate(0, 0, 17),
			baseStart.AddDate(0, 0, 28),
			baseStart.AddDate(0, 0, 31),
		})
	})

	t.Run("monthly clamps to the last day of short months", func(t *testing.T) {
		t.Parallel()
		jan31 := time.Date(2024, time.January, 31, 14, 0, 0, 0, time.UTC)
		until := time.Date(2024, time.May, 1, 0, 0, 0, 0, time.UTC)
		occ, err := engine.Expand(jan31, jan31.Add(30*time.Minute), Rule{Type: TypeMonthly, Interval: 1, Until: &until})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		assertStarts(t, occ, []time.Time{
			jan31,
			time.Date(2024, time.February, 29, 14, 0, 0, 0, time.UTC),
			time.Date(2024, time.March, 31, 14, 0, 0, 0, time.UTC),
			time.Date(2024, time.April, 30, 14, 0, 0, 0, time.UTC),
		})
	})

	t.Run("defaults the bound to three months", func(t *testing.T) {
		t.Parallel()
		occ, err := engine.Expand(baseStart, baseEnd, Rule{Type: TypeMonthly, Interval: 1})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(occ) != 3 {
			t.Fatalf("expected 3 monthly occurrences within the default horizon, got %d", len(occ))
		}
	})

	t.Run("bound before start yields nothing", func(t *testing.T) {
		t.Parallel()
		until := baseStart.Add(-time.Hour)
		occ, err := engine.Expand(baseStart, baseEnd, Rule{Type: TypeDaily, Interval: 1, Until: &until})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(occ) != 0 {
			t.Fatalf("expected no occurrences, got %d", len(occ))
		}
	})

	t.Run("rejects invalid preconditions", func(t *testing.T) {
		t.Parallel()
		if _, err := engine.Expand(baseEnd, baseStart, Rule{Type: TypeDaily, Interval: 1}); !errors.Is(err, ErrInvalidDuration) {
			t.Fatalf("expected ErrInvalidDuration, got %v", err)
		}
		if _, err := engine.Expand(baseStart, baseEnd, Rule{Type: TypeDaily}); !errors.Is(err, ErrInvalidInterval) {
			t.Fatalf("expected ErrInvalidInterval, got %v", err)
		}
		if _, err := engine.Expand(baseStart, baseEnd, Rule{Type: "yearly", Interval: 1}); !errors.Is(err, ErrInvalidType) {
			t.Fatalf("expected ErrInvalidType, got %v", err)
		}
		if _, err := engine.Expand(baseStart, baseEnd, Rule{Type: TypeWeekly, Interval: 1, Weekdays: []time.Weekday{9}}); !errors.Is(err, ErrInvalidWeekday) {
			t.Fatalf("expected ErrInvalidWeekday, got %v", err)
		}
	})

	t.Run("caps runaway expansions", func(t *testing.T) {
		t.Parallel()
		small := NewEngine(time.UTC, 5)
		until := baseStart.AddDate(1, 0, 0)
		if _, err := small.Expand(baseStart, baseEnd, Rule{Type: TypeDaily, Interval: 1, Until: &until}); !errors.Is(err, ErrTooManyOccurrences) {
			t.Fatalf("expected ErrTooManyOccurrences, got %v", err)
		}
	})

	t.Run("keeps the wall clock across a DST change", func(t *testing.T) {
		t.Parallel()
		ny, err := time.LoadLocation("America/New_York")
		if err != nil {
			t.Skipf("tzdata unavailable: %v", err)
		}
		local := NewEngine(ny, 0)
		start := time.Date(2024, time.March, 8, 9, 0, 0, 0, ny)
		until := start.AddDate(0, 0, 4)
		occ, err := local.Expand(start, start.Add(time.Hour), Rule{Type: TypeDaily, Interval: 1, Until: &until})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, o := range occ {
			if h := o.Start.In(ny).Hour(); h != 9 {
				t.Fatalf("expected 09:00 local, got %s", o.Start.In(ny))
			}
		}
	})
}

type ruleInput struct {
	Type     Type
	Interval int
	Weekdays []time.Weekday
	Start    time.Time
	Duration time.Duration
	Until    time.Time
}

func (ruleInput) Generate(r *rand.Rand, _ int) reflect.Value {
	types := []Type{TypeNone, TypeDaily, TypeWeekly, TypeMonthly}
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC).
		Add(time.Duration(r.Intn(365*24)) * time.Hour).
		Add(time.Duration(r.Intn(4)) * 15 * time.Minute)
	var weekdays []time.Weekday
	for d := time.Sunday; d <= time.Saturday; d++ {
		if r.Intn(3) == 0 {
			weekdays = append(weekdays, d)
		}
	}
	in := ruleInput{
		Type:     types[r.Intn(len(types))],
		Interval: 1 + r.Intn(4),
		Weekdays: weekdays,
		Start:    start,
		Duration: time.Duration(15+r.Intn(8*60)) * time.Minute,
		Until:    start.Add(time.Duration(r.Intn(200*24)) * time.Hour),
	}
	return reflect.ValueOf(in)
}

func TestEngine_ExpandProperties(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC, 10000)

	property := func(in ruleInput) bool {
		until := in.Until
		occ, err := engine.Expand(in.Start, in.Start.Add(in.Duration), Rule{
			Type:     in.Type,
			Interval: in.Interval,
			Weekdays: in.Weekdays,
			Until:    &until,
		})
		if err != nil {
			return false
		}
		for i, o := range occ {
			if o.End.Sub(o.Start) != in.Duration {
				return false
			}
			if in.Type != TypeNone && !o.Start.Before(until) {
				return false
			}
			if o.Start.Before(in.Start) {
				return false
			}
			if i > 0 && !occ[i-1].Start.Before(o.Start) {
				return false
			}
			if in.Type == TypeWeekly && len(in.Weekdays) > 0 && !containsWeekday(in.Weekdays, o.Start.Weekday()) {
				return false
			}
		}
		return true
	}

	if err := quick.Check(property, &quick.Config{MaxCount: 300}); err != nil {
		t.Fatalf("expansion property violated: %v", err)
	}
}

func TestEngine_ExpandHugeIntervals(t *testing.T) {
	t.Parallel()

	engine := NewEngine(time.UTC, 0)
	start := time.Date(2024, time.March, 10, 9, 0, 0, 0, time.UTC)
	until := start.AddDate(0, 3, 0)

	rules := map[string]Rule{
		"daily":            {Type: TypeDaily, Interval: math.MaxInt},
		"daily wrap":       {Type: TypeDaily, Interval: math.MaxInt/2 + 1},
		"weekly":           {Type: TypeWeekly, Interval: math.MaxInt/7 + 1},
		"weekly weekdays":  {Type: TypeWeekly, Interval: math.MaxInt/7 + 1, Weekdays: []time.Weekday{time.Sunday, time.Tuesday}},
		"monthly":          {Type: TypeMonthly, Interval: math.MaxInt / 12},
		"monthly max":      {Type: TypeMonthly, Interval: math.MaxInt},
		"beyond ten years": {Type: TypeDaily, Interval: 366*10000 + 1},
	}
	for name, rule := range rules {
		rule.Until = &until
		occ, err := engine.Expand(start, start.Add(time.Hour), rule)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", name, err)
		}
		for _, o := range occ {
			if o.Start.Before(start) || !o.Start.Before(until) {
				t.Fatalf("%s: occurrence %s outside [%s, %s)", name, o.Start, start, until)
			}
		}
		want := []time.Time{start}
		if name == "weekly weekdays" {
			want = append(want, start.AddDate(0, 0, 2))
		}
		assertStarts(t, occ, want)
	}
}

func TestOffset(t *testing.T) {
	t.Parallel()

	if got, ok := offset(3, 4, 7, maxOffsetDays); !ok || got != 84 {
		t.Fatalf("offset(3, 4, 7) = %d, %v", got, ok)
	}
	if got, ok := offset(0, math.MaxInt, 7, maxOffsetDays); !ok || got != 0 {
		t.Fatalf("the anchor step must always be allowed, got %d, %v", got, ok)
	}
	if _, ok := offset(2, math.MaxInt/2+1, 1, maxOffsetDays); ok {
		t.Fatalf("expected an overflowing offset to be refused")
	}
	if _, ok := offset(1, 1, 1, -1); ok {
		t.Fatalf("expected a negative ceiling to be refused")
	}
}

func assertStarts(t *testing.T, occ []Occurrence, want []time.Time) {
	t.Helper()
	if len(occ) != len(want) {
		t.Fatalf("expected %d occurrences, got %d: %v", len(want), len(occ), occ)
	}
	for i := range want {
		if !occ[i].Start.Equal(want[i]) {
			t.Fatalf("occurrence %d: expected start %s, got %s", i, want[i], occ[i].Start)
		}
	}
}

func containsWeekday(days []time.Weekday, d time.Weekday) bool {
	for _, day := range days {
		if day == d {
			return true
		}
	}
	return false
}
