package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nemanja-m/cxehelper/internal/shared/task"
	"github.com/nemanja-m/cxehelper/internal/worker/core"
)

type mockTaskSource struct {
	mu sync.Mutex

	pingCount int
	pingErr   error

	purged   int
	purgeErr error
	queues   []string

	tasks      []*task.Message
	taskIndex  int
	dequeueErr error

	published  []*task.Result
	publishErr error
}

func (m *mockTaskSource) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingCount++
	return m.pingErr
}

func (m *mockTaskSource) Purge(ctx context.Context, queue string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purged++
	m.queues = append(m.queues, queue)
	return int64(len(m.tasks) - m.taskIndex), m.purgeErr
}

func (m *mockTaskSource) Dequeue(ctx context.Context, queue string, timeout time.Duration) (*task.Message, error) {
	m.mu.Lock()
	m.queues = append(m.queues, queue)
	if m.dequeueErr != nil {
		m.mu.Unlock()
		return nil, m.dequeueErr
	}
	if m.taskIndex < len(m.tasks) {
		msg := m.tasks[m.taskIndex]
		m.taskIndex++
		m.mu.Unlock()
		return msg, nil
	}
	m.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, nil
	}
}

func (m *mockTaskSource) Publish(ctx context.Context, result *task.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, result)
	return m.publishErr
}

func (m *mockTaskSource) results() []*task.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*task.Result(nil), m.published...)
}

type mockExecutor struct {
	mu            sync.Mutex
	executedTasks []string
	execErr       error
	block         chan struct{}
}

func (m *mockExecutor) Execute(ctx context.Context, msg *task.Message) error {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executedTasks = append(m.executedTasks, msg.ID)
	return m.execErr
}

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, args ...any) {}
func (m *mockLogger) Info(msg string, args ...any)  {}
func (m *mockLogger) Warn(msg string, args ...any)  {}
func (m *mockLogger) Error(msg string, args ...any) {}
func (m *mockLogger) Fatal(msg string, args ...any) {}

func testOptions() Options {
	return Options{
		ID:           "worker-1",
		Kind:         "cve",
		PollTimeout:  10 * time.Millisecond,
		PingInterval: 20 * time.Millisecond,
	}
}

func runFor(t *testing.T, svc core.WorkerService, d time.Duration) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return svc.Run(ctx)
}

func TestWorkerService_Run_ExecutesAndPublishes(t *testing.T) {
	source := &mockTaskSource{
		tasks: []*task.Message{
			{ID: "task-1", Kind: "cve"},
			{ID: "task-2", Kind: "cve"},
		},
	}
	executor := &mockExecutor{}

	svc := NewWorkerService(testOptions(), source, executor, &mockLogger{})
	if err := runFor(t, svc, 100*time.Millisecond); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	results := source.results()
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	for i, want := range []string{"task-1", "task-2"} {
		if results[i].TaskID != want {
			t.Errorf("Expected result %d for %s, got %s", i, want, results[i].TaskID)
		}
		if results[i].Status != task.StatusSuccess {
			t.Errorf("Expected SUCCESS for %s, got %s", want, results[i].Status)
		}
		if results[i].WorkerID != "worker-1" {
			t.Errorf("Expected worker id worker-1, got %s", results[i].WorkerID)
		}
	}

	status := svc.Status()
	if status.Processed != 2 || status.Failed != 0 {
		t.Errorf("Expected 2 processed and 0 failed, got %d and %d", status.Processed, status.Failed)
	}
	if status.State != core.StateStopped {
		t.Errorf("Expected stopped state, got %s", status.State)
	}
}

func TestWorkerService_Run_PublishesFailure(t *testing.T) {
	source := &mockTaskSource{tasks: []*task.Message{{ID: "task-1", Kind: "cve"}}}
	executor := &mockExecutor{execErr: errors.New("converter exited with code 1")}

	svc := NewWorkerService(testOptions(), source, executor, &mockLogger{})
	_ = runFor(t, svc, 50*time.Millisecond)

	results := source.results()
	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	if results[0].Status != task.StatusFailure {
		t.Errorf("Expected FAILURE, got %s", results[0].Status)
	}
	if results[0].Error != "converter exited with code 1" {
		t.Errorf("Unexpected error message: %q", results[0].Error)
	}
	if status := svc.Status(); status.Failed != 1 || status.LastError == "" {
		t.Errorf("Expected failure to be recorded, got %+v", status)
	}
}

func TestWorkerService_Run_PurgesBeforeConsuming(t *testing.T) {
	source := &mockTaskSource{tasks: []*task.Message{{ID: "stale", Kind: "cve"}}}
	executor := &mockExecutor{}

	opts := testOptions()
	opts.Purge = true
	svc := NewWorkerService(opts, &purgingSource{mockTaskSource: source}, executor, &mockLogger{})
	_ = runFor(t, svc, 50*time.Millisecond)

	if source.purged != 1 {
		t.Errorf("Expected one purge, got %d", source.purged)
	}
	if len(executor.executedTasks) != 0 {
		t.Errorf("Expected purged task not to run, got %v", executor.executedTasks)
	}
}

// purgingSource drops pending tasks on Purge like the Redis queue does.
type purgingSource struct {
	*mockTaskSource
}

func (p *purgingSource) Purge(ctx context.Context, queue string) (int64, error) {
	n, err := p.mockTaskSource.Purge(ctx, queue)
	p.mu.Lock()
	p.taskIndex = len(p.tasks)
	p.mu.Unlock()
	return n, err
}

func TestWorkerService_Run_ConsumesOnlyItsQueue(t *testing.T) {
	tests := []struct {
		name  string
		queue string
		want  string
	}{
		{name: "own queue", queue: "cve:worker-1", want: "cve:worker-1"},
		{name: "defaults to kind", queue: "", want: "cve"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			source := &mockTaskSource{}
			opts := testOptions()
			opts.Queue = tt.queue
			opts.Purge = true

			svc := NewWorkerService(opts, source, &mockExecutor{}, &mockLogger{})
			_ = runFor(t, svc, 50*time.Millisecond)

			source.mu.Lock()
			defer source.mu.Unlock()
			if len(source.queues) == 0 {
				t.Fatal("Expected purge and dequeue calls")
			}
			for _, q := range source.queues {
				if q != tt.want {
					t.Errorf("Expected queue %q, got %q", tt.want, q)
				}
			}
		})
	}
}

func TestWorkerService_Run_FailsWhenBrokerUnreachable(t *testing.T) {
	source := &mockTaskSource{pingErr: errors.New("connection refused")}

	svc := NewWorkerService(testOptions(), source, &mockExecutor{}, &mockLogger{})
	if err := runFor(t, svc, 50*time.Millisecond); err == nil {
		t.Fatal("Expected error when broker is unreachable")
	}
	if svc.Ready() {
		t.Error("Expected worker not to be ready")
	}
}

func TestWorkerService_Readiness(t *testing.T) {
	var mu sync.Mutex
	var changes []bool

	opts := testOptions()
	opts.OnReadyChange = func(ready bool) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, ready)
	}
	executor := &mockExecutor{block: make(chan struct{})}
	source := &mockTaskSource{tasks: []*task.Message{{ID: "task-1", Kind: "cve"}}}
	svc := NewWorkerService(opts, source, executor, &mockLogger{})

	if svc.Ready() {
		t.Error("Expected worker not to be ready before Run")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	deadline := time.Now().Add(time.Second)
	for svc.Status().State != core.StateBusy && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	status := svc.Status()
	if !status.Ready || status.CurrentTask != "task-1" {
		t.Errorf("Expected ready worker busy with task-1, got %+v", status)
	}

	close(executor.block)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(changes) < 2 || !changes[0] || changes[len(changes)-1] {
		t.Errorf("Expected ready then not ready, got %v", changes)
	}
}

func TestWorkerService_HeartbeatLoop_FlipsReadiness(t *testing.T) {
	source := &mockTaskSource{}
	svc := NewWorkerService(testOptions(), source, &mockExecutor{}, &mockLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	source.mu.Lock()
	source.pingErr = errors.New("connection reset")
	source.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	for svc.Ready() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if svc.Ready() {
		t.Error("Expected worker to become unready after failed ping")
	}

	source.mu.Lock()
	source.pingErr = nil
	source.mu.Unlock()

	deadline = time.Now().Add(time.Second)
	for !svc.Ready() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !svc.Ready() {
		t.Error("Expected worker to recover readiness")
	}

	cancel()
	<-done
}

func TestWorkerService_TaskLoop_BacksOffOnErrors(t *testing.T) {
	source := &mockTaskSource{dequeueErr: errors.New("connection refused")}
	executor := &mockExecutor{}

	svc := NewWorkerService(testOptions(), source, executor, &mockLogger{})
	if err := runFor(t, svc, 150*time.Millisecond); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if len(executor.executedTasks) != 0 {
		t.Errorf("Expected no tasks executed, got %v", executor.executedTasks)
	}
	if len(source.results()) != 0 {
		t.Error("Expected no results published")
	}
}

func TestWorkerService_PublishesResultOnShutdown(t *testing.T) {
	executor := &mockExecutor{block: make(chan struct{})}
	source := &mockTaskSource{tasks: []*task.Message{{ID: "task-1", Kind: "cve"}}}
	svc := NewWorkerService(testOptions(), source, executor, &mockLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	<-done

	results := source.results()
	if len(results) != 1 || results[0].Status != task.StatusFailure {
		t.Errorf("Expected a FAILURE result for the interrupted task, got %v", results)
	}
}
