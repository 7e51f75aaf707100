// Package service runs conversion jobs window by window, one dedicated worker
// per job.
package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/nemanja-m/cxehelper/internal/orchestrator/core"
	"github.com/nemanja-m/cxehelper/internal/orchestrator/report"
	"github.com/nemanja-m/cxehelper/internal/orchestrator/storage"
	"github.com/nemanja-m/cxehelper/internal/shared/logging"
	"github.com/nemanja-m/cxehelper/internal/shared/pool"
	"github.com/nemanja-m/cxehelper/internal/shared/task"
	"github.com/nemanja-m/cxehelper/internal/timerange"
)

// Options configure an Orchestrator.
type Options struct {
	// Concurrency is the number of jobs in flight. Defaults to 1.
	Concurrency int
	KeepObjects bool
	APIKey      string
	RangeSpec   string
	Jobs        map[core.JobKind]core.JobSettings
}

type Orchestrator struct {
	opts      Options
	spawner   core.Spawner
	probe     core.ReadinessProbe
	submitter core.TaskSubmitter
	layout    storage.Layout
	registry  *core.WorkerRegistry
	logger    logging.Logger
}

func NewOrchestrator(
	opts Options,
	spawner core.Spawner,
	probe core.ReadinessProbe,
	submitter core.TaskSubmitter,
	layout storage.Layout,
	logger logging.Logger,
) *Orchestrator {
	opts.Concurrency = max(opts.Concurrency, 1)
	return &Orchestrator{
		opts:      opts,
		spawner:   spawner,
		probe:     probe,
		submitter: submitter,
		layout:    layout,
		registry:  core.NewWorkerRegistry(),
		logger:    logger,
	}
}

// Registry exposes the live workers of the current run.
func (o *Orchestrator) Registry() *core.WorkerRegistry {
	return o.registry
}

// Run processes every window for every kind, in window order. It stops at the
// first failure. Whatever the outcome, every worker it spawned is terminated
// before Run returns.
func (o *Orchestrator) Run(
	ctx context.Context,
	windows []timerange.Window,
	kinds []core.JobKind,
) (summary *report.Summary, err error) {
	for _, kind := range kinds {
		if _, ok := o.opts.Jobs[kind]; !ok {
			return nil, fmt.Errorf("no settings for job kind %s", kind)
		}
	}

	var earliest, latest time.Time
	if len(windows) > 0 {
		earliest, latest = windows[0].Start, windows[len(windows)-1].End
	}
	summary = report.NewSummary(earliest, latest, o.opts.RangeSpec, kinds)

	defer func() {
		if termErr := o.registry.TerminateAll(); termErr != nil {
			o.logger.Error("Failed to terminate workers", "error", termErr)
			err = errors.Join(err, termErr)
		}
		if err == nil && !o.opts.KeepObjects {
			if rmErr := o.layout.RemoveObjects(); rmErr != nil {
				o.logger.Warn("Failed to remove objects directory", "error", rmErr)
			}
		}
		summary.Finish(err)
	}()

	if len(windows) == 0 || len(kinds) == 0 {
		o.logger.Info("Nothing to do", "windows", len(windows), "kinds", len(kinds))
		return summary, nil
	}

	o.logger.Info("Starting run",
		"windows", len(windows),
		"kinds", kinds,
		"concurrency", o.opts.Concurrency,
	)

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var (
		firstErr error
		failOnce sync.Once
	)
	fail := func(err error) {
		failOnce.Do(func() {
			firstErr = err
			cancel(err)
		})
	}

	p := pool.New(o.opts.Concurrency)
	p.Start()

submit:
	for _, window := range windows {
		for _, kind := range kinds {
			job := func() {
				if runCtx.Err() != nil {
					return
				}
				result := o.runJob(runCtx, kind, window)
				summary.Add(result)
				if result.Err != nil {
					fail(result.Err)
				}
			}
			if err := p.Submit(runCtx, job); err != nil {
				break submit
			}
		}
	}
	p.Close()

	if firstErr != nil {
		return summary, firstErr
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}

	o.logger.Info("Run completed", "jobs", len(windows)*len(kinds))
	return summary, nil
}

// runJob drives one (window, kind) job through its stages. The worker and
// workspace it creates are released on every path.
func (o *Orchestrator) runJob(ctx context.Context, kind core.JobKind, window timerange.Window) (result core.WindowResult) {
	started := time.Now()
	result = core.WindowResult{Kind: kind, Window: window}
	defer func() {
		result.Duration = time.Since(started)
	}()

	fail := func(stage core.Stage, err error) core.WindowResult {
		result.Err = &core.WindowError{Kind: kind, Window: window, Stage: stage, Err: err}
		o.logger.Error("Job failed",
			"kind", kind,
			"window", window.Stamp(),
			"stage", stage,
			"worker_id", result.WorkerID,
			"error", err,
		)
		return result
	}

	settings := o.opts.Jobs[kind]
	log := []any{"kind", kind, "start", window.Start.Format(task.TimeLayout), "end", window.End.Format(task.TimeLayout)}
	o.logger.Info("Processing window", log...)

	workspace, err := o.layout.CreateWorkspace(kind, window)
	if err != nil {
		return fail(core.StageWorkspace, err)
	}
	defer func() {
		if err := storage.RemoveWorkspace(workspace); err != nil {
			o.logger.Warn("Failed to remove workspace", "path", workspace, "error", err)
		}
	}()

	bundlePath, err := o.layout.PrepareBundle(kind, window)
	if err != nil {
		return fail(core.StageWorkspace, err)
	}

	worker, err := o.spawner.Spawn(ctx, core.WorkerSpec{
		Kind:    kind,
		Module:  settings.Module,
		WorkDir: settings.WorkDir,
		Params: map[string]string{
			core.ParamResultsPerPage: strconv.Itoa(settings.ResultsPerPage),
		},
	})
	if err != nil {
		return fail(core.StageSpawn, err)
	}
	result.WorkerID = worker.ID()

	if err := o.registry.Add(worker); err != nil {
		if termErr := worker.Terminate(); termErr != nil {
			err = errors.Join(err, termErr)
		}
		return fail(core.StageSpawn, err)
	}
	defer func() {
		if err := o.registry.Terminate(worker); err != nil {
			o.logger.Error("Failed to terminate worker", "worker_id", worker.ID(), "error", err)
		}
	}()
	o.logger.Debug("Worker spawned", append(log, "worker_id", worker.ID())...)

	if err := o.probe.WaitReady(ctx, worker); err != nil {
		return fail(core.StageReady, err)
	}

	cfg := task.NewConfig(
		window.Start,
		window.End,
		workspace,
		o.layout.BundlesDir(),
		settings.ResultsPerPage,
		o.opts.APIKey,
	)
	handle, err := o.submitter.Submit(ctx, kind, worker.ID(), cfg, o.layout.BundleName(kind, window))
	if err != nil {
		return fail(core.StageSubmit, err)
	}
	result.TaskID = handle.ID()

	if err := handle.Wait(ctx); err != nil {
		return fail(core.StageWait, err)
	}

	result.BundlePath = bundlePath
	o.logger.Info("Window completed",
		append(log, "worker_id", worker.ID(), "task_id", handle.ID(), "bundle", bundlePath)...)
	return result
}
