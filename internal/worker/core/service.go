package core

import (
	"context"
	"time"

	"github.com/nemanja-m/cxehelper/internal/shared/task"
)

// TaskSource is the broker side of a worker: where tasks come from and
// results go to. Tasks are read from a named list.
type TaskSource interface {
	Ping(ctx context.Context) error
	Purge(ctx context.Context, queue string) (int64, error)
	Dequeue(ctx context.Context, queue string, timeout time.Duration) (*task.Message, error)
	Publish(ctx context.Context, result *task.Result) error
}

type WorkerService interface {
	Run(ctx context.Context) error
	Status() Status
	Ready() bool
}

type TaskExecutor interface {
	Execute(ctx context.Context, msg *task.Message) error
}

type State string

const (
	StateStarting State = "starting"
	StateIdle     State = "idle"
	StateBusy     State = "busy"
	StateStopped  State = "stopped"
)

// Status is a point-in-time snapshot of a worker.
type Status struct {
	WorkerID    string    `json:"worker_id"`
	Kind        string    `json:"kind"`
	State       State     `json:"state"`
	Ready       bool      `json:"ready"`
	CurrentTask string    `json:"current_task,omitempty"`
	Processed   int       `json:"processed"`
	Failed      int       `json:"failed"`
	LastError   string    `json:"last_error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
}
