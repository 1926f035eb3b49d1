package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alasbuild/testforge/pkg/storage"
	"github.com/alasbuild/testforge/pkg/types"
)

// ErrResultTimeout is returned by AsyncResult when no result has been
// recorded yet. Spec.md §4.2 treats this as "still running", not an error
// worth logging loudly.
var ErrResultTimeout = errors.New("broker: async result not ready")

// ResultBackend fetches a task's reported terminal state, mirroring the
// Celery-style AsyncResult pattern spec.md's source is built on: the
// monitor and the HTTP result endpoint both poll it, each expecting
// ErrResultTimeout for every task that's still running.
type ResultBackend interface {
	AsyncResult(ctx context.Context, taskID string, timeout time.Duration) (types.TaskState, error)
}

// ResultPublisher is implemented by whatever records a task's terminal
// state once its worker reaches it.
type ResultPublisher interface {
	PublishResult(ctx context.Context, taskID string, state types.TaskState) error
}

// ResultStore is the narrow persistence surface StoreResultBackend needs.
// *storage.SQLStore implements it.
type ResultStore interface {
	PutResult(ctx context.Context, taskID string, state types.TaskState) error
	GetResult(ctx context.Context, taskID string) (types.TaskState, error)
}

// StoreResultBackend implements ResultBackend and ResultPublisher over the
// durable task store rather than an AMQP reply queue.
//
// An earlier version of this package published completion notices to a
// topic exchange and had AsyncResult declare a fresh exclusive, auto-delete
// queue on every poll. That queue didn't exist yet at the moment a fast
// worker published its result, so the message had nowhere to land and was
// dropped per AMQP's ordinary publish-with-no-bound-queue behavior — any
// task whose worker finished before the next poll happened to overlap the
// publish lost its result permanently. The Celery pattern this is modeled
// on (see original_source's AsyncResult(task_id).get(...)) avoids exactly
// this because its reply queue is declared up front, not per poll.
// Persisting into the store every caller already has open sidesteps the
// ordering problem entirely: PublishResult is a durable row write, and
// AsyncResult is a plain, repeatable, non-destructive read of it — any
// number of pollers can read the same result without consuming it.
type StoreResultBackend struct {
	Store ResultStore
}

// NewStoreResultBackend builds a StoreResultBackend over store.
func NewStoreResultBackend(store ResultStore) *StoreResultBackend {
	return &StoreResultBackend{Store: store}
}

// PublishResult durably records taskID's terminal state. Called by the
// worker after teardown, once the summary is final.
func (b *StoreResultBackend) PublishResult(ctx context.Context, taskID string, state types.TaskState) error {
	if err := b.Store.PutResult(ctx, taskID, state); err != nil {
		return fmt.Errorf("recording result for task %s: %w", taskID, err)
	}
	return nil
}

// AsyncResult returns the previously recorded state for taskID, or
// ErrResultTimeout if the worker hasn't published one yet. timeout is
// accepted for interface compatibility with the polling callers; a store
// lookup resolves immediately rather than blocking on it.
func (b *StoreResultBackend) AsyncResult(ctx context.Context, taskID string, timeout time.Duration) (types.TaskState, error) {
	state, err := b.Store.GetResult(ctx, taskID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", ErrResultTimeout
		}
		return "", fmt.Errorf("reading result for task %s: %w", taskID, err)
	}
	return state, nil
}
