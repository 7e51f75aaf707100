package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/nemanja-m/cxehelper/internal/orchestrator/core"
	"github.com/nemanja-m/cxehelper/internal/shared/task"
	"github.com/nemanja-m/cxehelper/internal/timerange"
)

type options struct {
	// args is the command line without the program name.
	args       []string
	configPath string
	kinds      []core.JobKind
	earliest   time.Time
	latest     time.Time
	rangeSpec  timerange.RangeSpec
}

// parseArgs reads and validates the command line. Dates are interpreted in
// UTC.
func parseArgs(args []string, output io.Writer) (*options, error) {
	fs := flag.NewFlagSet("cxe-helper", flag.ContinueOnError)
	fs.SetOutput(output)

	opts := &options{
		args:      slices.Clone(args),
		rangeSpec: timerange.MustParseRangeSpec("1m"),
	}
	var (
		runCVE, runCPE   bool
		earliest, latest string
	)
	fs.StringVar(&opts.configPath, "config", "", "path to config file")
	fs.BoolVar(&runCVE, "run-cve", false, "convert CVE records")
	fs.BoolVar(&runCPE, "run-cpe", false, "convert CPE records")
	fs.StringVar(&earliest, "last-modified-earliest", "", "start of the range, YYYY-MM-DDThh:mm:ss")
	fs.StringVar(&latest, "last-modified-latest", "", "end of the range, YYYY-MM-DDThh:mm:ss")
	fs.Var(&opts.rangeSpec, "file-time-range", "window size per bundle, e.g. 1d, 1m, 1y")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	if runCVE {
		opts.kinds = append(opts.kinds, core.JobKindCVE)
	}
	if runCPE {
		opts.kinds = append(opts.kinds, core.JobKindCPE)
	}
	if len(opts.kinds) == 0 {
		return nil, errors.New("at least one of -run-cve or -run-cpe is required")
	}

	var err error
	if opts.earliest, err = parseDate("last-modified-earliest", earliest); err != nil {
		return nil, err
	}
	if opts.latest, err = parseDate("last-modified-latest", latest); err != nil {
		return nil, err
	}
	if opts.latest.Before(opts.earliest) {
		return nil, fmt.Errorf("-last-modified-latest %s is before -last-modified-earliest %s", latest, earliest)
	}

	return opts, nil
}

func parseDate(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, fmt.Errorf("-%s is required", name)
	}
	t, err := time.Parse(task.TimeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("-%s must look like YYYY-MM-DDThh:mm:ss, got %q", name, value)
	}
	return t, nil
}

func kindNames(kinds []core.JobKind) []string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return names
}
