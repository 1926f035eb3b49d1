package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alasbuild/testforge/pkg/broker"
	"github.com/alasbuild/testforge/pkg/storage"
	"github.com/alasbuild/testforge/pkg/types"
)

type fakeStore struct {
	tasks map[string]*types.TaskRecord
}

func (s *fakeStore) CreateTask(ctx context.Context, rec *types.TaskRecord) error { panic("unused") }
func (s *fakeStore) UpdateTaskStatus(ctx context.Context, taskID string, status types.TaskState) error {
	panic("unused")
}
func (s *fakeStore) GetTask(ctx context.Context, taskID string) (*types.TaskRecord, error) {
	rec, ok := s.tasks[taskID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}
func (s *fakeStore) ListNonTerminalTasks(ctx context.Context) ([]*types.TaskRecord, error) {
	panic("unused")
}
func (s *fakeStore) UpsertQueue(ctx context.Context, q *types.QueueRecord) error { panic("unused") }
func (s *fakeStore) ListQueues(ctx context.Context) ([]*types.QueueRecord, error) {
	panic("unused")
}
func (s *fakeStore) Close() error { return nil }

type fakeResults struct {
	state types.TaskState
	err   error
}

func (r *fakeResults) AsyncResult(ctx context.Context, taskID string, timeout time.Duration) (types.TaskState, error) {
	return r.state, r.err
}

func signToken(t *testing.T, secret string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{})
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestGetTaskResult_RequiresBearerToken(t *testing.T) {
	store := &fakeStore{tasks: map[string]*types.TaskRecord{}}
	srv := NewServer(store, &fakeResults{}, NewAuthenticator("secret", ""))

	req := httptest.NewRequest(http.MethodGet, "/tasks/abc/result", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetTaskResult_RejectsBadToken(t *testing.T) {
	store := &fakeStore{tasks: map[string]*types.TaskRecord{}}
	srv := NewServer(store, &fakeResults{}, NewAuthenticator("secret", ""))

	req := httptest.NewRequest(http.MethodGet, "/tasks/abc/result", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "wrong-secret"))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetTaskResult_NotFound(t *testing.T) {
	store := &fakeStore{tasks: map[string]*types.TaskRecord{}}
	srv := NewServer(store, &fakeResults{}, NewAuthenticator("secret", ""))

	req := httptest.NewRequest(http.MethodGet, "/tasks/missing/result", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "secret"))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetTaskResult_OmitsResultOnBrokerTimeout(t *testing.T) {
	store := &fakeStore{tasks: map[string]*types.TaskRecord{
		"t1": {TaskID: "t1", Status: types.TaskStarted},
	}}
	srv := NewServer(store, &fakeResults{err: broker.ErrResultTimeout}, NewAuthenticator("secret", ""))

	req := httptest.NewRequest(http.MethodGet, "/tasks/t1/result", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "secret"))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp taskResultResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, string(types.TaskStarted), resp.State)
	assert.Empty(t, resp.Result)
	assert.Equal(t, apiVersion, resp.APIVersion)
}

func TestGetTaskResult_IncludesResultOnBrokerSuccess(t *testing.T) {
	store := &fakeStore{tasks: map[string]*types.TaskRecord{
		"t1": {TaskID: "t1", Status: types.TaskStarted},
	}}
	srv := NewServer(store, &fakeResults{state: types.TaskSuccess}, NewAuthenticator("secret", ""))

	req := httptest.NewRequest(http.MethodGet, "/tasks/t1/result", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "secret"))
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp taskResultResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, string(types.TaskSuccess), resp.State)
	assert.Equal(t, string(types.TaskSuccess), resp.Result)
}
