package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/nemanja-m/cxehelper/internal/timerange"
)

// JobKind names one of the independently toggleable conversion pipelines.
type JobKind string

const (
	JobKindCVE JobKind = "cve"
	JobKindCPE JobKind = "cpe"
)

// AllJobKinds lists the kinds in the order they run within a window.
var AllJobKinds = []JobKind{JobKindCVE, JobKindCPE}

func ParseJobKind(s string) (JobKind, error) {
	kind := JobKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllJobKinds {
		if kind == known {
			return kind, nil
		}
	}
	return "", fmt.Errorf("unknown job kind: %q", s)
}

func (k JobKind) String() string {
	return string(k)
}

// JobSettings are the per-kind parameters of a run.
type JobSettings struct {
	Kind           JobKind
	Module         string
	WorkDir        string
	ResultsPerPage int
}

// WorkerSpec asks a Spawner for one worker process.
type WorkerSpec struct {
	Kind    JobKind
	Module  string
	WorkDir string
	Params  map[string]string
}

// ParamResultsPerPage is the execution parameter carrying the page size.
const ParamResultsPerPage = "RESULTS_PER_PAGE"

type Stage string

const (
	StageWorkspace Stage = "workspace"
	StageSpawn     Stage = "spawn"
	StageReady     Stage = "ready"
	StageSubmit    Stage = "submit"
	StageWait      Stage = "wait"
)

// WindowResult is the outcome of one (window, kind) job.
type WindowResult struct {
	Kind       JobKind
	Window     timerange.Window
	WorkerID   string
	TaskID     string
	BundlePath string
	Duration   time.Duration
	Err        error
}
