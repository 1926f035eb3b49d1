package broker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alasbuild/testforge/pkg/storage"
	"github.com/alasbuild/testforge/pkg/types"
)

type fakeResultStore struct {
	states map[string]types.TaskState
}

func newFakeResultStore() *fakeResultStore {
	return &fakeResultStore{states: map[string]types.TaskState{}}
}

func (f *fakeResultStore) PutResult(ctx context.Context, taskID string, state types.TaskState) error {
	f.states[taskID] = state
	return nil
}

func (f *fakeResultStore) GetResult(ctx context.Context, taskID string) (types.TaskState, error) {
	state, ok := f.states[taskID]
	if !ok {
		return "", storage.ErrNotFound
	}
	return state, nil
}

func TestStoreResultBackend_PublishThenAsyncResult(t *testing.T) {
	backend := NewStoreResultBackend(newFakeResultStore())
	ctx := context.Background()

	require.NoError(t, backend.PublishResult(ctx, "task-1", types.TaskSuccess))

	state, err := backend.AsyncResult(ctx, "task-1", time.Second)
	require.NoError(t, err)
	assert.Equal(t, types.TaskSuccess, state)
}

func TestStoreResultBackend_AsyncResult_NotYetPublished(t *testing.T) {
	backend := NewStoreResultBackend(newFakeResultStore())

	_, err := backend.AsyncResult(context.Background(), "missing", time.Second)
	assert.ErrorIs(t, err, ErrResultTimeout)
}

func TestStoreResultBackend_MultipleIndependentReaders(t *testing.T) {
	backend := NewStoreResultBackend(newFakeResultStore())
	ctx := context.Background()

	require.NoError(t, backend.PublishResult(ctx, "task-1", types.TaskFailure))

	first, err := backend.AsyncResult(ctx, "task-1", time.Second)
	require.NoError(t, err)
	second, err := backend.AsyncResult(ctx, "task-1", time.Second)
	require.NoError(t, err)

	assert.Equal(t, types.TaskFailure, first)
	assert.Equal(t, types.TaskFailure, second)
}
