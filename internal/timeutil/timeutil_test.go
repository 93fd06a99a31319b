package timeutil

import (
	"errors"
	"testing"
	"time"
)

func TestFormatInstant_RoundTrip(t *testing.T) {
	t.Parallel()

	submitted, err := ParseInstant("2024-03-10T09:00:00Z")
	if err != nil {
		t.Fatalf("ParseInstant returned error: %v", err)
	}

	stored := FormatInstant(submitted)
	if stored != "2024-03-10T09:00:00.000Z" {
		t.Fatalf("unexpected stored form %q", stored)
	}

	readBack, err := ParseInstant(stored)
	if err != nil {
		t.Fatalf("ParseInstant(stored) returned error: %v", err)
	}
	if !readBack.Equal(submitted) {
		t.Fatalf("expected %s, got %s", submitted, readBack)
	}
}

func TestParseInstant(t *testing.T) {
	t.Parallel()

	t.Run("normalises offsets to the same instant", func(t *testing.T) {
		t.Parallel()
		got, err := ParseInstant("2024-03-10T18:00:00+09:00")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
		if !got.Equal(want) {
			t.Fatalf("expected %s, got %s", want, got)
		}
	})

	t.Run("accepts sql datetime as UTC", func(t *testing.T) {
		t.Parallel()
		got, err := ParseInstant("2024-03-10 09:00:00")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !got.Equal(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)) {
			t.Fatalf("unexpected instant %s", got)
		}
	})

	t.Run("rejects garbage", func(t *testing.T) {
		t.Parallel()
		if _, err := ParseInstant("next tuesday"); !errors.Is(err, ErrInvalidInstant) {
			t.Fatalf("expected ErrInvalidInstant, got %v", err)
		}
	})
}

func TestFormatInstant_LexicalOrderMatchesChronological(t *testing.T) {
	t.Parallel()

	earlier := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	later := earlier.Add(1500 * time.Millisecond)
	if !(FormatInstant(earlier) < FormatInstant(later)) {
		t.Fatalf("expected %q < %q", FormatInstant(earlier), FormatInstant(later))
	}
}

func TestOverlaps(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 3, 11, 9, 0, 0, 0, time.UTC)
	at := func(h, m int) time.Time { return base.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute) }

	if Overlaps(at(0, 0), at(1, 0), at(1, 0), at(2, 0)) {
		t.Fatalf("touching intervals must not overlap")
	}
	if !Overlaps(at(0, 0), at(1, 0), at(0, 30), at(1, 30)) {
		t.Fatalf("expected partial overlap")
	}
	if !Overlaps(at(0, 0), at(3, 0), at(1, 0), at(2, 0)) {
		t.Fatalf("expected containment to overlap")
	}
}

func TestAddMonthsClamped(t *testing.T) {
	t.Parallel()

	jan31 := time.Date(2024, time.January, 31, 9, 30, 0, 0, time.UTC)

	cases := []struct {
		months int
		want   time.Time
	}{
		{1, time.Date(2024, time.February, 29, 9, 30, 0, 0, time.UTC)},
		{2, time.Date(2024, time.March, 31, 9, 30, 0, 0, time.UTC)},
		{3, time.Date(2024, time.April, 30, 9, 30, 0, 0, time.UTC)},
		{13, time.Date(2025, time.February, 28, 9, 30, 0, 0, time.UTC)},
		{-2, time.Date(2023, time.November, 30, 9, 30, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		if got := AddMonthsClamped(jan31, tc.months, time.UTC); !got.Equal(tc.want) {
			t.Fatalf("AddMonthsClamped(+%d) = %s, want %s", tc.months, got, tc.want)
		}
	}
}

func TestParseWeekday(t *testing.T) {
	t.Parallel()

	for tag, want := range map[string]time.Weekday{
		"monday": time.Monday,
		"FRI":    time.Friday,
		"0":      time.Sunday,
		" 6 ":    time.Saturday,
	} {
		got, err := ParseWeekday(tag)
		if err != nil {
			t.Fatalf("ParseWeekday(%q) returned error: %v", tag, err)
		}
		if got != want {
			t.Fatalf("ParseWeekday(%q) = %s, want %s", tag, got, want)
		}
	}

	for _, tag := range []string{"7", "funday", ""} {
		if _, err := ParseWeekday(tag); !errors.Is(err, ErrInvalidWeekday) {
			t.Fatalf("ParseWeekday(%q) expected ErrInvalidWeekday, got %v", tag, err)
		}
	}
}

func TestFormatDisplayRange(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 3, 25, 9, 30, 0, 0, time.UTC)
	if got := FormatDisplayRange(start, start.Add(time.Hour), time.UTC); got != "Mar 25, 2024 9:30 AM to 10:30 AM" {
		t.Fatalf("unexpected same-day range %q", got)
	}
	if got := FormatDisplayRange(start, start.Add(24*time.Hour), time.UTC); got != "Mar 25, 2024 9:30 AM to Mar 26, 2024 9:30 AM" {
		t.Fatalf("unexpected multi-day range %q", got)
	}
}

func TestStorable(t *testing.T) {
	t.Parallel()

	for _, ts := range []time.Time{MinInstant, MaxInstant, time.Date(2024, 3, 10, 9, 0, 0, 0, time.FixedZone("JST", 9*60*60))} {
		if !Storable(ts) {
			t.Fatalf("expected %s to be storable", ts)
		}
		back, err := ParseInstant(FormatInstant(ts))
		if err != nil || !back.Equal(TruncateInstant(ts)) || len(FormatInstant(ts)) != len(InstantLayout) {
			t.Fatalf("%s did not survive formatting: %v (%v)", ts, back, err)
		}
	}
	for _, ts := range []time.Time{MinInstant.Add(-time.Millisecond), MaxInstant.Add(time.Millisecond), time.Date(-146138510290, 9, 3, 0, 0, 0, 0, time.UTC)} {
		if Storable(ts) {
			t.Fatalf("expected %s to be rejected", ts)
		}
	}
}

func TestTruncateInstant(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 3, 10, 9, 0, 0, 999_999, time.UTC)
	if got := TruncateInstant(ts); !got.Equal(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected truncation %v", got)
	}
}
