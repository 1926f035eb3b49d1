// Package storage implements the durable task/queue table (C9): a
// single-file relational database holding queues(id, name unique, cost,
// max_capacity?) and tasks(id, task_id unique, queue_name, status,
// task_duration?, bs_task_id?, callback_href?), created on startup if
// absent. Schema migrations are out of scope (spec.md §6).
package storage

import (
	"context"

	"github.com/alasbuild/testforge/pkg/types"
)

// Store is the durable record the scheduler writes on admission, the
// monitor reconciles against the broker, and the HTTP surface reads.
type Store interface {
	CreateTask(ctx context.Context, rec *types.TaskRecord) error
	UpdateTaskStatus(ctx context.Context, taskID string, status types.TaskState) error
	GetTask(ctx context.Context, taskID string) (*types.TaskRecord, error)
	ListNonTerminalTasks(ctx context.Context) ([]*types.TaskRecord, error)

	UpsertQueue(ctx context.Context, q *types.QueueRecord) error
	ListQueues(ctx context.Context) ([]*types.QueueRecord, error)

	Close() error
}
