// Package broker submits conversion tasks to workers through the Redis queue.
package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nemanja-m/cxehelper/internal/orchestrator/core"
	"github.com/nemanja-m/cxehelper/internal/shared/logging"
	"github.com/nemanja-m/cxehelper/internal/shared/queue"
	"github.com/nemanja-m/cxehelper/internal/shared/task"
)

// TaskFailedError is a task the worker reported as FAILURE.
type TaskFailedError struct {
	TaskID   string
	WorkerID string
	Reason   string
}

func (e *TaskFailedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("task %s failed", e.TaskID)
	}
	return fmt.Sprintf("task %s failed: %s", e.TaskID, e.Reason)
}

type Submitter struct {
	queue   *queue.RedisQueue
	timeout time.Duration
	logger  logging.Logger
	now     func() time.Time
}

// NewSubmitter returns a Submitter whose handles wait at most timeout for a
// result. Zero waits until the caller's context ends.
func NewSubmitter(q *queue.RedisQueue, timeout time.Duration, logger logging.Logger) *Submitter {
	return &Submitter{
		queue:   q,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

func (s *Submitter) Submit(
	ctx context.Context,
	kind core.JobKind,
	workerID string,
	cfg task.Config,
	filename string,
) (core.TaskHandle, error) {
	msg := &task.Message{
		ID:          uuid.NewString(),
		Kind:        kind.String(),
		WorkerID:    workerID,
		Filename:    filename,
		Config:      cfg,
		SubmittedAt: s.now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, msg); err != nil {
		return nil, err
	}

	s.logger.Debug("Task submitted",
		"task_id", msg.ID,
		"kind", msg.Kind,
		"worker_id", workerID,
		"filename", filename,
		"start_date", cfg.StartDate,
		"end_date", cfg.EndDate,
	)

	return &handle{id: msg.ID, queue: s.queue, timeout: s.timeout}, nil
}

type handle struct {
	id      string
	queue   *queue.RedisQueue
	timeout time.Duration
}

func (h *handle) ID() string {
	return h.id
}

func (h *handle) Wait(ctx context.Context) error {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	result, err := h.queue.AwaitResult(ctx, h.id)
	if err != nil {
		return fmt.Errorf("waiting for task %s: %w", h.id, err)
	}

	if result.Status != task.StatusSuccess {
		return &TaskFailedError{TaskID: h.id, WorkerID: result.WorkerID, Reason: result.Error}
	}
	return nil
}
