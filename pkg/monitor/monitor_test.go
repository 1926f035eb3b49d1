package monitor

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alasbuild/testforge/pkg/broker"
	"github.com/alasbuild/testforge/pkg/types"
)

func discardLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

type fakeResultBackend struct {
	states map[string]types.TaskState
	err    error
}

func (b *fakeResultBackend) AsyncResult(ctx context.Context, taskID string, timeout time.Duration) (types.TaskState, error) {
	if b.err != nil {
		return "", b.err
	}
	s, ok := b.states[taskID]
	if !ok {
		return "", broker.ErrResultTimeout
	}
	return s, nil
}

type fakeStore struct {
	tasks   []*types.TaskRecord
	updated map[string]types.TaskState
}

func newFakeStore(tasks ...*types.TaskRecord) *fakeStore {
	return &fakeStore{tasks: tasks, updated: make(map[string]types.TaskState)}
}

func (s *fakeStore) CreateTask(ctx context.Context, rec *types.TaskRecord) error { panic("unused") }
func (s *fakeStore) UpdateTaskStatus(ctx context.Context, taskID string, status types.TaskState) error {
	s.updated[taskID] = status
	return nil
}
func (s *fakeStore) GetTask(ctx context.Context, taskID string) (*types.TaskRecord, error) {
	panic("unused")
}
func (s *fakeStore) ListNonTerminalTasks(ctx context.Context) ([]*types.TaskRecord, error) {
	return s.tasks, nil
}
func (s *fakeStore) UpsertQueue(ctx context.Context, q *types.QueueRecord) error { panic("unused") }
func (s *fakeStore) ListQueues(ctx context.Context) ([]*types.QueueRecord, error) {
	panic("unused")
}
func (s *fakeStore) Close() error { return nil }

func TestMonitorPass_StillRunningLeavesStatusAlone(t *testing.T) {
	store := newFakeStore(&types.TaskRecord{TaskID: "t1", Status: types.TaskStarted})
	results := &fakeResultBackend{states: map[string]types.TaskState{}}
	m := &Monitor{Store: store, Results: results}

	m.pass(context.Background(), discardLogger())

	assert.Empty(t, store.updated)
}

func TestMonitorPass_UpdatesOnStateChange(t *testing.T) {
	store := newFakeStore(&types.TaskRecord{TaskID: "t1", Status: types.TaskStarted})
	results := &fakeResultBackend{states: map[string]types.TaskState{"t1": types.TaskSuccess}}
	m := &Monitor{Store: store, Results: results}

	m.pass(context.Background(), discardLogger())

	require.Contains(t, store.updated, "t1")
	assert.Equal(t, types.TaskSuccess, store.updated["t1"])
}

func TestMonitorPass_IgnoresNonMonotonicTransition(t *testing.T) {
	// A task already reported SUCCESS (ready/frozen) must never be moved
	// back to a non-ready state by a stale broker read.
	store := newFakeStore(&types.TaskRecord{TaskID: "t1", Status: types.TaskSuccess})
	results := &fakeResultBackend{states: map[string]types.TaskState{"t1": types.TaskStarted}}
	m := &Monitor{Store: store, Results: results}

	m.pass(context.Background(), discardLogger())

	assert.Empty(t, store.updated)
}

func TestMonitorPass_BrokerErrorDoesNotUpdate(t *testing.T) {
	store := newFakeStore(&types.TaskRecord{TaskID: "t1", Status: types.TaskStarted})
	results := &fakeResultBackend{err: errors.New("connection reset")}
	m := &Monitor{Store: store, Results: results}

	m.pass(context.Background(), discardLogger())

	assert.Empty(t, store.updated)
}

func TestMonitorRun_ExitsOnlyWhenBothFlagsSet(t *testing.T) {
	store := newFakeStore()
	results := &fakeResultBackend{}
	m := New(store, results)

	m.RequestGracefulTerminate()

	done := make(chan struct{})
	go func() {
		m.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Run returned before hard-terminate was requested")
	case <-time.After(50 * time.Millisecond):
	}

	m.RequestHardTerminate()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after both termination flags were set")
	}
}
