package timerange

import (
	"flag"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRangeSpec(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    RangeSpec
		wantErr bool
	}{
		{name: "one month", input: "1m", want: RangeSpec{Count: 1, Unit: UnitMonth}},
		{name: "upper case unit", input: "6M", want: RangeSpec{Count: 6, Unit: UnitMonth}},
		{name: "days spelled out", input: "2days", want: RangeSpec{Count: 2, Unit: UnitDay}},
		{name: "year spelled out", input: "1year", want: RangeSpec{Count: 1, Unit: UnitYear}},
		{name: "multi digit count", input: "14d", want: RangeSpec{Count: 14, Unit: UnitDay}},
		{name: "zero count", input: "0d", wantErr: true},
		{name: "unknown unit", input: "1x", wantErr: true},
		{name: "no count", input: "abc", wantErr: true},
		{name: "no unit", input: "1", wantErr: true},
		{name: "negative", input: "-1d", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "trailing digits", input: "1m2", wantErr: true},
		{name: "count overflow", input: "99999999999999999999d", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRangeSpec(tt.input)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidRangeSpec)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestRangeSpec_String(t *testing.T) {
	require.Equal(t, "2d", MustParseRangeSpec("2days").String())
	require.Equal(t, "1m", MustParseRangeSpec("1M").String())
	require.Equal(t, "", RangeSpec{}.String())
}

func TestRangeSpec_FlagValue(t *testing.T) {
	spec := MustParseRangeSpec("1m")
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	fs.Var(&spec, "file-time-range", "window size")

	require.NoError(t, fs.Parse([]string{"-file-time-range", "3y"}))
	require.Equal(t, RangeSpec{Count: 3, Unit: UnitYear}, spec)

	fs = flag.NewFlagSet("test", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Var(&spec, "file-time-range", "window size")
	require.Error(t, fs.Parse([]string{"-file-time-range", "0d"}))
}

func TestRangeSpec_UnmarshalText(t *testing.T) {
	var spec RangeSpec
	require.NoError(t, spec.UnmarshalText([]byte("7d")))
	require.Equal(t, RangeSpec{Count: 7, Unit: UnitDay}, spec)

	text, err := spec.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "7d", string(text))

	require.ErrorIs(t, spec.UnmarshalText([]byte("7w")), ErrInvalidRangeSpec)
}

func TestMustParseRangeSpec_Panics(t *testing.T) {
	require.Panics(t, func() { MustParseRangeSpec("abc") })
}
