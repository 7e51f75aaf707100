package timerange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func ts(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02T15:04:05", value)
	require.NoError(t, err)
	return parsed
}

func requireCoverage(t *testing.T, windows []Window, earliest, latest time.Time) {
	t.Helper()
	require.NotEmpty(t, windows)
	require.True(t, windows[0].Start.Equal(earliest), "first window starts at earliest")
	require.True(t, windows[len(windows)-1].End.Equal(latest), "last window ends at latest")
	for i, w := range windows {
		require.False(t, w.End.Before(w.Start), "window %d ends before it starts", i)
		if i > 0 {
			require.True(t, w.Start.Equal(windows[i-1].End.Add(time.Second)),
				"window %d starts at %s, previous ended at %s", i, w.Start, windows[i-1].End)
		}
	}
}

func TestPartition_MonthBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		start   string
		wantEnd string
	}{
		{name: "january", start: "2024-01-01T00:00:00", wantEnd: "2024-01-31T23:59:59"},
		{name: "leap february", start: "2024-02-01T00:00:00", wantEnd: "2024-02-29T23:59:59"},
		{name: "common february", start: "2023-02-01T00:00:00", wantEnd: "2023-02-28T23:59:59"},
		{name: "thirty day month", start: "2024-04-01T00:00:00", wantEnd: "2024-04-30T23:59:59"},
		{name: "december", start: "2023-12-01T00:00:00", wantEnd: "2023-12-31T23:59:59"},
		{name: "mid month start", start: "2024-01-15T10:30:00", wantEnd: "2024-01-31T23:59:59"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := ts(t, tt.start)
			windows := Partition(MustParseRangeSpec("1m"), start, start.AddDate(1, 0, 0))
			require.Equal(t, ts(t, tt.start), windows[0].Start)
			require.Equal(t, ts(t, tt.wantEnd), windows[0].End)
		})
	}
}

func TestPartition_MultiMonthWindows(t *testing.T) {
	earliest := ts(t, "2023-11-01T00:00:00")
	latest := ts(t, "2024-06-15T12:00:00")

	windows := Partition(MustParseRangeSpec("3m"), earliest, latest)

	requireCoverage(t, windows, earliest, latest)
	require.Len(t, windows, 3)
	require.Equal(t, ts(t, "2024-01-31T23:59:59"), windows[0].End)
	require.Equal(t, ts(t, "2024-02-01T00:00:00"), windows[1].Start)
	require.Equal(t, ts(t, "2024-04-30T23:59:59"), windows[1].End)
	require.Equal(t, ts(t, "2024-06-15T12:00:00"), windows[2].End)
}

func TestPartition_YearWindows(t *testing.T) {
	earliest := ts(t, "2020-03-15T00:00:00")
	latest := ts(t, "2023-02-01T00:00:00")

	windows := Partition(MustParseRangeSpec("1y"), earliest, latest)

	requireCoverage(t, windows, earliest, latest)
	require.Len(t, windows, 4)
	require.Equal(t, ts(t, "2020-12-31T23:59:59"), windows[0].End)
	require.Equal(t, ts(t, "2021-01-01T00:00:00"), windows[1].Start)
	require.Equal(t, ts(t, "2021-12-31T23:59:59"), windows[1].End)
	require.Equal(t, ts(t, "2022-12-31T23:59:59"), windows[2].End)
	require.Equal(t, ts(t, "2023-01-01T00:00:00"), windows[3].Start)
}

func TestPartition_DayWindows(t *testing.T) {
	earliest := ts(t, "2024-02-27T08:00:00")
	latest := ts(t, "2024-03-03T06:00:00")

	windows := Partition(MustParseRangeSpec("2d"), earliest, latest)

	requireCoverage(t, windows, earliest, latest)
	require.Len(t, windows, 3)
	require.Equal(t, ts(t, "2024-02-28T23:59:59"), windows[0].End)
	require.Equal(t, ts(t, "2024-03-01T23:59:59"), windows[1].End)
	require.Equal(t, ts(t, "2024-03-02T00:00:00"), windows[2].Start)
	for _, w := range windows {
		require.Equal(t, UnitDay, w.Unit)
	}
}

func TestPartition_SingleClampedWindow(t *testing.T) {
	earliest := ts(t, "2024-01-01T00:00:00")
	latest := ts(t, "2024-01-10T00:00:00")

	windows := Partition(MustParseRangeSpec("1m"), earliest, latest)

	require.Equal(t, []Window{{Unit: UnitMonth, Start: earliest, End: latest}}, windows)
}

func TestPartition_LatestOnUnitBoundary(t *testing.T) {
	earliest := ts(t, "2024-01-01T00:00:00")

	t.Run("latest is last second of unit", func(t *testing.T) {
		latest := ts(t, "2024-01-31T23:59:59")
		windows := Partition(MustParseRangeSpec("1m"), earliest, latest)
		require.Len(t, windows, 1)
		requireCoverage(t, windows, earliest, latest)
	})

	t.Run("latest is first second of next unit", func(t *testing.T) {
		latest := ts(t, "2024-02-01T00:00:00")
		windows := Partition(MustParseRangeSpec("1m"), earliest, latest)
		require.Equal(t, []Window{{Unit: UnitMonth, Start: earliest, End: latest}}, windows)
	})

	t.Run("no zero length trailing window", func(t *testing.T) {
		latest := ts(t, "2024-03-01T00:00:00")
		windows := Partition(MustParseRangeSpec("1m"), earliest, latest)
		require.Len(t, windows, 2)
		requireCoverage(t, windows, earliest, latest)
		require.Equal(t, ts(t, "2024-02-01T00:00:00"), windows[1].Start)
		require.Equal(t, "2024_02_01-00_00_00-2024_03_01-00_00_00", windows[1].Stamp())
	})
}

func TestPartition_EmptyWhenRangeNotIncreasing(t *testing.T) {
	earliest := ts(t, "2024-01-01T00:00:00")

	require.Nil(t, Partition(MustParseRangeSpec("1m"), earliest, earliest))
	require.Nil(t, Partition(MustParseRangeSpec("1m"), earliest, earliest.Add(-time.Hour)))
	require.Nil(t, Partition(RangeSpec{}, earliest, earliest.Add(time.Hour)))
}

func TestPartition_TruncatesToSeconds(t *testing.T) {
	earliest := ts(t, "2024-01-01T00:00:00").Add(300 * time.Millisecond)
	latest := ts(t, "2024-01-05T00:00:00").Add(900 * time.Millisecond)

	windows := Partition(MustParseRangeSpec("1d"), earliest, latest)

	requireCoverage(t, windows, ts(t, "2024-01-01T00:00:00"), ts(t, "2024-01-05T00:00:00"))
	require.Len(t, windows, 5)
}

func TestPartition_CoverageAcrossSpecs(t *testing.T) {
	ranges := []struct{ earliest, latest string }{
		{"2019-12-31T23:59:59", "2024-03-01T00:00:00"},
		{"2024-02-29T12:00:00", "2025-03-01T00:00:01"},
		{"2023-01-31T00:00:00", "2023-05-30T18:45:10"},
	}
	specs := []string{"1d", "3d", "1m", "2m", "5m", "1y", "2y"}

	for _, r := range ranges {
		for _, s := range specs {
			t.Run(s+"/"+r.earliest, func(t *testing.T) {
				earliest, latest := ts(t, r.earliest), ts(t, r.latest)
				windows := Partition(MustParseRangeSpec(s), earliest, latest)
				requireCoverage(t, windows, earliest, latest)
				last := windows[len(windows)-1]
				require.True(t, last.End.After(last.Start), "trailing window is not empty")
				for _, w := range windows[:len(windows)-1] {
					require.Equal(t, 23, w.End.Hour())
					require.Equal(t, 59, w.End.Minute())
					require.Equal(t, 59, w.End.Second())
				}
			})
		}
	}
}

func TestPartition_KeepsLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	earliest := time.Date(2024, 1, 1, 0, 0, 0, 0, loc)
	latest := time.Date(2024, 3, 1, 0, 0, 0, 0, loc)

	windows := Partition(MustParseRangeSpec("1m"), earliest, latest)

	require.Equal(t, time.Date(2024, 1, 31, 23, 59, 59, 0, loc), windows[0].End)
	require.Equal(t, loc, windows[0].End.Location())
}

func TestWindow_StampAndCalendarDir(t *testing.T) {
	w := Window{
		Unit:  UnitMonth,
		Start: ts(t, "2024-01-01T00:00:00"),
		End:   ts(t, "2024-01-31T23:59:59"),
	}
	require.Equal(t, "2024_01_01-00_00_00-2024_01_31-23_59_59", w.Stamp())
	require.Equal(t, "2024", w.CalendarDir())

	w.Unit = UnitDay
	require.Equal(t, "2024-01", w.CalendarDir())

	w.Unit = UnitYear
	require.Equal(t, "2024", w.CalendarDir())
}
