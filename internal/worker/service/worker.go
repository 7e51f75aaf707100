package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nemanja-m/cxehelper/internal/shared/logging"
	"github.com/nemanja-m/cxehelper/internal/shared/task"
	"github.com/nemanja-m/cxehelper/internal/worker/core"
)

const publishTimeout = 10 * time.Second

// Options configure a worker service.
type Options struct {
	ID   string
	Kind string
	// Queue names the task list to consume. Defaults to Kind.
	Queue string
	// PollTimeout bounds one blocking dequeue.
	PollTimeout time.Duration
	// PingInterval is how often the broker connection is checked.
	PingInterval time.Duration
	// Purge drops pending tasks on Queue before consuming.
	Purge bool
	// OnReadyChange is called whenever readiness flips.
	OnReadyChange func(ready bool)
}

type workerService struct {
	opts     Options
	source   core.TaskSource
	executor core.TaskExecutor
	logger   logging.Logger

	ready atomic.Bool

	mu     sync.RWMutex
	status core.Status
}

func NewWorkerService(
	opts Options,
	source core.TaskSource,
	executor core.TaskExecutor,
	logger logging.Logger,
) core.WorkerService {
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 5 * time.Second
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 10 * time.Second
	}
	if opts.Queue == "" {
		opts.Queue = opts.Kind
	}
	return &workerService{
		opts:     opts,
		source:   source,
		executor: executor,
		logger:   logger,
		status: core.Status{
			WorkerID:  opts.ID,
			Kind:      opts.Kind,
			State:     core.StateStarting,
			StartedAt: time.Now().UTC(),
		},
	}
}

// Run consumes tasks until ctx is done.
func (w *workerService) Run(ctx context.Context) error {
	if err := w.source.Ping(ctx); err != nil {
		return fmt.Errorf("broker unreachable: %w", err)
	}

	if w.opts.Purge {
		n, err := w.source.Purge(ctx, w.opts.Queue)
		if err != nil {
			return err
		}
		if n > 0 {
			w.logger.Warn("Purged pending tasks", "queue", w.opts.Queue, "count", n)
		}
	}

	w.setState(core.StateIdle, "")
	w.setReady(true)
	defer func() {
		w.setReady(false)
		w.setState(core.StateStopped, "")
	}()

	var wg sync.WaitGroup
	wg.Go(func() { w.runHeartbeatLoop(ctx) })
	w.runTaskLoop(ctx)
	wg.Wait()
	return nil
}

func (w *workerService) Ready() bool {
	return w.ready.Load()
}

func (w *workerService) Status() core.Status {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := w.status
	s.Ready = w.ready.Load()
	return s
}

func (w *workerService) setReady(ready bool) {
	if w.ready.Swap(ready) == ready {
		return
	}
	w.logger.Info("Worker readiness changed", "worker_id", w.opts.ID, "ready", ready)
	if w.opts.OnReadyChange != nil {
		w.opts.OnReadyChange(ready)
	}
}

func (w *workerService) setState(state core.State, taskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.State = state
	w.status.CurrentTask = taskID
}

func (w *workerService) record(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status.Processed++
	if err != nil {
		w.status.Failed++
		w.status.LastError = err.Error()
	}
}

func (w *workerService) runHeartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.source.Ping(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				w.logger.Error("Broker ping failed", "error", err)
				w.setReady(false)
			} else {
				w.setReady(true)
			}
		}
	}
}

func (w *workerService) runTaskLoop(ctx context.Context) {
	const (
		minBackoff = 100 * time.Millisecond
		maxBackoff = 5 * time.Second
	)
	backoff := minBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		msg, err := w.source.Dequeue(ctx, w.opts.Queue, w.opts.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("Failed to pull task", "error", err)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, maxBackoff)
			continue
		}
		backoff = minBackoff

		if msg == nil {
			continue
		}

		w.handle(ctx, msg)
	}
}

func (w *workerService) handle(ctx context.Context, msg *task.Message) {
	w.logger.Info("Received task",
		"task_id", msg.ID,
		"kind", msg.Kind,
		"start_date", msg.Config.StartDate,
		"end_date", msg.Config.EndDate,
		"filename", msg.Filename,
	)
	w.setState(core.StateBusy, msg.ID)

	err := w.executor.Execute(ctx, msg)
	w.record(err)
	w.setState(core.StateIdle, "")

	result := &task.Result{
		TaskID:      msg.ID,
		WorkerID:    w.opts.ID,
		Status:      task.StatusSuccess,
		CompletedAt: time.Now().UTC(),
	}
	if err == nil {
		w.logger.Info("Task completed", "task_id", msg.ID)
	} else {
		w.logger.Error("Task execution failed", "task_id", msg.ID, "error", err)
		result.Status = task.StatusFailure
		result.Error = err.Error()
	}

	// The result is still owed when the worker is being stopped mid-task.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if pubErr := w.source.Publish(pubCtx, result); pubErr != nil {
		w.logger.Error("Failed to report task result", "task_id", msg.ID, "error", pubErr)
	}
}

// sleep waits d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
