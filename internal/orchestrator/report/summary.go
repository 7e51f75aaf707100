// Package report records what a helper run produced.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nemanja-m/cxehelper/internal/orchestrator/core"
	"github.com/nemanja-m/cxehelper/internal/shared/task"
)

// Summary collects window results as they complete. It is safe for
// concurrent use.
type Summary struct {
	mu sync.Mutex

	StartedAt  time.Time
	FinishedAt time.Time
	Earliest   time.Time
	Latest     time.Time
	RangeSpec  string
	Kinds      []core.JobKind
	Results    []core.WindowResult
	Bundles    []string
	Err        error
}

func NewSummary(earliest, latest time.Time, rangeSpec string, kinds []core.JobKind) *Summary {
	return &Summary{
		StartedAt: time.Now(),
		Earliest:  earliest,
		Latest:    latest,
		RangeSpec: rangeSpec,
		Kinds:     slices.Clone(kinds),
	}
}

func (s *Summary) Add(result core.WindowResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Results = append(s.Results, result)
}

// Finish stamps the end of the run with its outcome. Bundles lists what the
// successful jobs of this run produced, in window order.
func (s *Summary) Finish(err error) {
	results := s.Sorted()
	bundles := make([]string, 0, len(results))
	for _, r := range results {
		if r.Err == nil && r.BundlePath != "" {
			bundles = append(bundles, r.BundlePath)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.FinishedAt = time.Now()
	s.Bundles = bundles
	s.Err = err
}

// Sorted returns the results in window order, kinds in run order within a
// window.
func (s *Summary) Sorted() []core.WindowResult {
	s.mu.Lock()
	results := slices.Clone(s.Results)
	s.mu.Unlock()

	slices.SortStableFunc(results, func(a, b core.WindowResult) int {
		if c := a.Window.Start.Compare(b.Window.Start); c != 0 {
			return c
		}
		return slices.Index(core.AllJobKinds, a.Kind) - slices.Index(core.AllJobKinds, b.Kind)
	})
	return results
}

// Counts returns the number of succeeded and failed jobs.
func (s *Summary) Counts() (succeeded, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.Results {
		if r.Err != nil {
			failed++
		} else {
			succeeded++
		}
	}
	return succeeded, failed
}

type fileReport struct {
	StartedAt  string         `yaml:"started_at"`
	FinishedAt string         `yaml:"finished_at,omitempty"`
	Earliest   string         `yaml:"last_modified_earliest"`
	Latest     string         `yaml:"last_modified_latest"`
	RangeSpec  string         `yaml:"file_time_range"`
	Kinds      []string       `yaml:"kinds"`
	Succeeded  int            `yaml:"succeeded"`
	Failed     int            `yaml:"failed"`
	Error      string         `yaml:"error,omitempty"`
	Windows    []windowReport `yaml:"windows"`
	Bundles    []string       `yaml:"bundles,omitempty"`
}

type windowReport struct {
	Kind     string `yaml:"kind"`
	Start    string `yaml:"start"`
	End      string `yaml:"end"`
	WorkerID string `yaml:"worker_id,omitempty"`
	TaskID   string `yaml:"task_id,omitempty"`
	Bundle   string `yaml:"bundle,omitempty"`
	Duration string `yaml:"duration"`
	Error    string `yaml:"error,omitempty"`
}

func (s *Summary) toFile() fileReport {
	succeeded, failed := s.Counts()
	results := s.Sorted()

	s.mu.Lock()
	defer s.mu.Unlock()

	out := fileReport{
		StartedAt: s.StartedAt.UTC().Format(time.RFC3339),
		Earliest:  s.Earliest.Format(task.TimeLayout),
		Latest:    s.Latest.Format(task.TimeLayout),
		RangeSpec: s.RangeSpec,
		Succeeded: succeeded,
		Failed:    failed,
		Windows:   make([]windowReport, 0, len(results)),
		Bundles:   slices.Clone(s.Bundles),
	}
	if !s.FinishedAt.IsZero() {
		out.FinishedAt = s.FinishedAt.UTC().Format(time.RFC3339)
	}
	if s.Err != nil {
		out.Error = s.Err.Error()
	}
	for _, k := range s.Kinds {
		out.Kinds = append(out.Kinds, k.String())
	}
	for _, r := range results {
		w := windowReport{
			Kind:     r.Kind.String(),
			Start:    r.Window.Start.Format(task.TimeLayout),
			End:      r.Window.End.Format(task.TimeLayout),
			WorkerID: r.WorkerID,
			TaskID:   r.TaskID,
			Bundle:   r.BundlePath,
			Duration: r.Duration.Round(time.Millisecond).String(),
		}
		if r.Err != nil {
			w.Error = r.Err.Error()
		}
		out.Windows = append(out.Windows, w)
	}
	return out
}

// WriteYAML writes the summary to path, creating parent directories.
func (s *Summary) WriteYAML(path string) error {
	data, err := yaml.Marshal(s.toFile())
	if err != nil {
		return fmt.Errorf("report: encode summary: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("report: ensure report dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("report: write summary: %w", err)
	}
	return nil
}
