package timerange

import "time"

const stampLayout = "2006_01_02-15_04_05"

// Window is one closed interval [Start, End] at second resolution.
type Window struct {
	Unit  Unit
	Start time.Time
	End   time.Time
}

// Stamp renders the window as "<start>-<end>" for file and directory names.
func (w Window) Stamp() string {
	return w.Start.Format(stampLayout) + "-" + w.End.Format(stampLayout)
}

// CalendarDir is the directory bundles of this window are grouped under:
// per month for day-sized windows, per year otherwise.
func (w Window) CalendarDir() string {
	if w.Unit == UnitDay {
		return w.Start.Format("2006-01")
	}
	return w.Start.Format("2006")
}

// Partition splits [earliest, latest] into windows of spec.Count calendar
// units. The unit containing a window's start counts as its first unit, so
// every window but the last ends at 23:59:59 on the last day of a unit. The
// last window is clamped to end exactly at latest; when latest is the first
// second of a unit, that second joins the preceding window instead of forming
// a window of its own. Windows are contiguous: each starts one second after
// the previous one ends.
//
// Partition returns nil when earliest is not before latest.
func Partition(spec RangeSpec, earliest, latest time.Time) []Window {
	earliest = earliest.Truncate(time.Second)
	latest = latest.Truncate(time.Second)
	if !earliest.Before(latest) || !spec.valid() {
		return nil
	}

	var windows []Window
	start := earliest
	for {
		end := spec.windowEnd(start)
		if !end.Add(time.Second).Before(latest) {
			windows = append(windows, Window{Unit: spec.Unit, Start: start, End: latest})
			return windows
		}
		windows = append(windows, Window{Unit: spec.Unit, Start: start, End: end})
		start = end.Add(time.Second)
	}
}

// windowEnd returns the last second of the spec.Count-th unit counted from
// the unit containing start. time.Date normalises overflowing months and
// days, which gives real month lengths and leap years.
func (s RangeSpec) windowEnd(start time.Time) time.Time {
	y, m, d := start.Date()
	loc := start.Location()
	switch s.Unit {
	case UnitDay:
		return time.Date(y, m, d+s.Count-1, 23, 59, 59, 0, loc)
	case UnitMonth:
		// Day 0 of month m+Count is the last day of month m+Count-1.
		return time.Date(y, m+time.Month(s.Count), 0, 23, 59, 59, 0, loc)
	case UnitYear:
		return time.Date(y+s.Count-1, time.December, 31, 23, 59, 59, 0, loc)
	default:
		panic("timerange: invalid unit " + s.Unit.String())
	}
}
