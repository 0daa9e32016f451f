package appointment

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Interval is a half-open range of absolute instants [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps uses half-open semantics, so an interval ending exactly when another starts does not overlap it.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

func (i Interval) Empty() bool {
	return !i.Start.Before(i.End)
}

// FindConflict returns the first occupying appointment of vetID in existing whose interval
// overlaps [start, start+duration). The appointment with id exclude, if set, is ignored.
func FindConflict(existing []Appointment, vetID uuid.UUID, start time.Time, duration time.Duration, exclude *uuid.UUID) (*Appointment, bool) {
	proposed := Interval{Start: start, End: start.Add(duration)}
	for i := range existing {
		a := &existing[i]
		if a.VetID != vetID || !a.Status.Occupying() {
			continue
		}
		if exclude != nil && a.ID == *exclude {
			continue
		}
		if a.Interval().Overlaps(proposed) {
			return a, true
		}
	}
	return nil, false
}

// busyIntervals returns the merged, sorted intervals held by occupying appointments.
func busyIntervals(appts []Appointment) []Interval {
	var out []Interval
	for _, a := range appts {
		if !a.Status.Occupying() {
			continue
		}
		out = append(out, a.Interval())
	}
	return mergeIntervals(out)
}

func mergeIntervals(in []Interval) []Interval {
	if len(in) == 0 {
		return nil
	}
	sorted := make([]Interval, len(in))
	copy(sorted, in)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start.Before(sorted[j].Start)
	})

	merged := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}
