package core

import (
	"context"

	"github.com/nemanja-m/cxehelper/internal/shared/task"
)

// Worker is a spawned worker process owned by the orchestrator.
type Worker interface {
	ID() string
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Terminate kills the process and waits for it to exit. Calling it again
	// is a no-op that returns the first call's result.
	Terminate() error
}

type Spawner interface {
	Spawn(ctx context.Context, spec WorkerSpec) (Worker, error)
}

// ReadinessProbe blocks until w accepts work.
type ReadinessProbe interface {
	WaitReady(ctx context.Context, w Worker) error
}

// TaskSubmitter hands a task to the worker with the given ID.
type TaskSubmitter interface {
	Submit(ctx context.Context, kind JobKind, workerID string, cfg task.Config, filename string) (TaskHandle, error)
}

// TaskHandle is one in-flight task.
type TaskHandle interface {
	ID() string
	// Wait blocks until the task completes and returns its failure, if any.
	Wait(ctx context.Context) error
}
