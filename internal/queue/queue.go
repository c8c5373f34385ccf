// Package queue is the Redis-backed work queue between the API and the
// worker. Producers LPUSH task envelopes; the worker BRPOPs them one at a
// time, so each task is processed by exactly one worker.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	runQueueKey  = "pins:runs"
	bulkQueueKey = "pins:bulkruns"

	popTimeout = 5 * time.Second
)

// TaskKind separates single-run tasks from bulk-run tasks.
type TaskKind string

const (
	TaskKindRun  TaskKind = "run"
	TaskKindBulk TaskKind = "bulk"
)

// Task is one unit of work handed to the worker.
type Task struct {
	Kind  TaskKind `json:"kind"`
	RunID string   `json:"runId"`
}

// Queue wraps the Redis lists used for task dispatch.
type Queue struct {
	client *redis.Client
}

func New(client *redis.Client) *Queue {
	return &Queue{client: client}
}

// EnqueueRun schedules a generation run for the worker.
func (q *Queue) EnqueueRun(ctx context.Context, runID string) error {
	return q.push(ctx, runQueueKey, Task{Kind: TaskKindRun, RunID: runID})
}

// EnqueueBulkRun schedules a bulk run for the worker.
func (q *Queue) EnqueueBulkRun(ctx context.Context, runID string) error {
	return q.push(ctx, bulkQueueKey, Task{Kind: TaskKindBulk, RunID: runID})
}

func (q *Queue) push(ctx context.Context, key string, task Task) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("queue: encode task: %w", err)
	}
	if err := q.client.LPush(ctx, key, payload).Err(); err != nil {
		return fmt.Errorf("queue: push %s: %w", key, err)
	}
	return nil
}

// Next blocks until a task is available on either queue or the context is
// cancelled. A pop timeout without work returns (nil, nil) so the worker
// loop can re-check its context.
func (q *Queue) Next(ctx context.Context) (*Task, error) {
	res, err := q.client.BRPop(ctx, popTimeout, runQueueKey, bulkQueueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: pop: %w", err)
	}
	// BRPop returns [key, value].
	if len(res) != 2 {
		return nil, fmt.Errorf("queue: unexpected pop result of %d elements", len(res))
	}
	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("queue: decode task: %w", err)
	}
	return &task, nil
}
