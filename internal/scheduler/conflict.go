// Package scheduler holds pure interval helpers shared by the booking writer.
package scheduler

import (
	"sort"
	"time"

	"github.com/example/facility-booking/internal/timeutil"
)

// Window is a half-open interval [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether w and other share any instant. Touching windows do
// not overlap.
func (w Window) Overlaps(other Window) bool {
	return timeutil.Overlaps(w.Start, w.End, other.Start, other.End)
}

// FirstOverlap finds the earliest-starting window that overlaps a window
// starting before it. It returns the two indexes into windows, earlier start
// first, and false when the windows are pairwise disjoint.
func FirstOverlap(windows []Window) (first, second int, ok bool) {
	if len(windows) < 2 {
		return 0, 0, false
	}

	order := make([]int, len(windows))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return windows[order[a]].Start.Before(windows[order[b]].Start)
	})

	// latest tracks the index whose End reaches furthest among windows seen.
	latest := order[0]
	for _, idx := range order[1:] {
		if windows[idx].Start.Before(windows[latest].End) {
			return latest, idx, true
		}
		if windows[idx].End.After(windows[latest].End) {
			latest = idx
		}
	}
	return 0, 0, false
}
