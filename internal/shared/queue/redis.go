package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nemanja-m/cxehelper/internal/shared/task"
)

const (
	DefaultPrefix    = "cxe"
	DefaultResultTTL = 24 * time.Hour

	// DefaultBlockTimeout bounds a single blocking pop in AwaitResult so that
	// context cancellation is noticed between pops.
	DefaultBlockTimeout = 5 * time.Second
)

// RedisQueue is a list-based task queue: producers LPUSH onto a task list and
// consumers BRPOP from it, so tasks are served FIFO. A task addressed to a
// worker goes to that worker's own list; otherwise to the list of its kind.
// Results go to a per-task list the producer blocks on.
type RedisQueue struct {
	client       redis.UniversalClient
	prefix       string
	resultTTL    time.Duration
	blockTimeout time.Duration
}

func NewRedisQueue(client redis.UniversalClient, prefix string, resultTTL time.Duration) *RedisQueue {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if resultTTL <= 0 {
		resultTTL = DefaultResultTTL
	}
	return &RedisQueue{
		client:       client,
		prefix:       prefix,
		resultTTL:    resultTTL,
		blockTimeout: DefaultBlockTimeout,
	}
}

// WithBlockTimeout overrides DefaultBlockTimeout. Redis only blocks in whole
// seconds, so values below one second are raised to it.
func (q *RedisQueue) WithBlockTimeout(d time.Duration) *RedisQueue {
	q.blockTimeout = max(d, time.Second)
	return q
}

// Name returns the task list a worker of kind consumes. An empty workerID
// names the list shared by every worker of the kind.
func Name(kind, workerID string) string {
	if workerID == "" {
		return kind
	}
	return kind + ":" + workerID
}

func (q *RedisQueue) TaskKey(name string) string {
	return q.prefix + ":tasks:" + name
}

func (q *RedisQueue) ResultKey(taskID string) string {
	return q.prefix + ":results:" + taskID
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg *task.Message) error {
	if msg == nil {
		return errors.New("cannot enqueue nil task")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", msg.ID, err)
	}
	if err := q.client.LPush(ctx, q.TaskKey(Name(msg.Kind, msg.WorkerID)), payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task %s: %w", msg.ID, err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next task on the named list. It
// returns nil, nil when the timeout elapses with no task.
func (q *RedisQueue) Dequeue(ctx context.Context, name string, timeout time.Duration) (*task.Message, error) {
	values, err := q.client.BRPop(ctx, timeout, q.TaskKey(name)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue %s task: %w", name, err)
	}

	var msg task.Message
	if err := json.Unmarshal([]byte(values[1]), &msg); err != nil {
		return nil, fmt.Errorf("failed to decode %s task: %w", name, err)
	}
	return &msg, nil
}

func (q *RedisQueue) Publish(ctx context.Context, result *task.Result) error {
	if result == nil {
		return errors.New("cannot publish nil result")
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result for task %s: %w", result.TaskID, err)
	}

	key := q.ResultKey(result.TaskID)
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, payload)
		pipe.Expire(ctx, key, q.resultTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish result for task %s: %w", result.TaskID, err)
	}
	return nil
}

// AwaitResult blocks until the result of taskID is published or ctx ends.
// There is no other deadline.
func (q *RedisQueue) AwaitResult(ctx context.Context, taskID string) (*task.Result, error) {
	key := q.ResultKey(taskID)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		values, err := q.client.BRPop(ctx, q.blockTimeout, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("failed to await result for task %s: %w", taskID, err)
		}

		var result task.Result
		if err := json.Unmarshal([]byte(values[1]), &result); err != nil {
			return nil, fmt.Errorf("failed to decode result for task %s: %w", taskID, err)
		}
		return &result, nil
	}
}

// Purge drops every pending task on the named list.
func (q *RedisQueue) Purge(ctx context.Context, name string) (int64, error) {
	n, err := q.client.LLen(ctx, q.TaskKey(name)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to inspect %s queue: %w", name, err)
	}
	if err := q.client.Del(ctx, q.TaskKey(name)).Err(); err != nil {
		return 0, fmt.Errorf("failed to purge %s queue: %w", name, err)
	}
	return n, nil
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}
