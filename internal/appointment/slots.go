package appointment

import (
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
)

// DayHours is one weekday of a working-hours template. Opens and Closes are minutes after
// local midnight; the open interval is [Opens, Closes).
type DayHours struct {
	Closed bool
	Opens  int
	Closes int
}

// WeeklyHours is a vet's weekly template, indexed by time.Weekday.
type WeeklyHours struct {
	VetID    uuid.UUID
	Location *time.Location
	Days     [7]DayHours
}

func (w WeeklyHours) location() *time.Location {
	if w.Location == nil {
		return time.UTC
	}
	return w.Location
}

func (w WeeklyHours) Validate() error {
	for day, h := range w.Days {
		if h.Closed {
			continue
		}
		if h.Opens < 0 || h.Closes > 24*60 || h.Opens >= h.Closes {
			return fmt.Errorf("%w: invalid hours for %s", ErrInvalidRequest, time.Weekday(day))
		}
	}
	return nil
}

// openInterval resolves the open interval for the local calendar day (y, m, d) in absolute
// instants. Wall-clock construction keeps 09:00 at 09:00 across DST changes.
func (w WeeklyHours) openInterval(y int, m time.Month, d int) (Interval, bool) {
	loc := w.location()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)
	h := w.Days[day.Weekday()]
	if h.Closed || h.Opens >= h.Closes {
		return Interval{}, false
	}
	return Interval{
		Start: time.Date(y, m, d, 0, h.Opens, 0, 0, loc),
		End:   time.Date(y, m, d, 0, h.Closes, 0, 0, loc),
	}, true
}

// AvailableSlots yields candidate start instants of length slot within [from, to) that fall inside
// the vet's open hours and do not overlap any busy interval. Starts are aligned to the opening
// time of each day. The sequence is lazy and may be ranged over more than once.
func AvailableSlots(hours WeeklyHours, busy []Interval, from, to time.Time, slot time.Duration) iter.Seq[time.Time] {
	merged := mergeIntervals(busy)

	return func(yield func(time.Time) bool) {
		if slot <= 0 || !from.Before(to) {
			return
		}
		loc := hours.location()
		y, m, d := from.In(loc).Date()
		next := 0

		for day := time.Date(y, m, d, 0, 0, 0, 0, loc); day.Before(to); {
			dy, dm, dd := day.Date()
			if open, ok := hours.openInterval(dy, dm, dd); ok {
				for t := open.Start; !t.Add(slot).After(open.End); t = t.Add(slot) {
					end := t.Add(slot)
					if end.After(to) {
						break
					}
					if t.Before(from) {
						continue
					}
					for next < len(merged) && !merged[next].End.After(t) {
						next++
					}
					if next < len(merged) && merged[next].Start.Before(end) {
						continue
					}
					if !yield(t.UTC()) {
						return
					}
				}
			}
			day = time.Date(dy, dm, dd+1, 0, 0, 0, 0, loc)
		}
	}
}
