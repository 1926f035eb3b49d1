package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMonotonic(t *testing.T) {
	tests := []struct {
		name string
		prev TaskState
		next TaskState
		want bool
	}{
		{"new to pending advances", TaskNew, TaskPending, true},
		{"pending to started advances", TaskPending, TaskStarted, true},
		{"started to retry holds rank", TaskStarted, TaskRetry, true},
		{"retry to started holds rank", TaskRetry, TaskStarted, true},
		{"pending to new regresses", TaskPending, TaskNew, false},
		{"started to pending regresses", TaskStarted, TaskPending, false},
		{"any non-ready to success advances", TaskStarted, TaskSuccess, true},
		{"any non-ready to failure advances", TaskPending, TaskFailure, true},
		{"success is frozen against success", TaskSuccess, TaskSuccess, true},
		{"success rejects started", TaskSuccess, TaskStarted, false},
		{"failure rejects retry", TaskFailure, TaskRetry, false},
		{"revoked rejects pending", TaskRevoked, TaskPending, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Monotonic(tt.prev, tt.next))
		})
	}
}

func TestTaskStateIsReady(t *testing.T) {
	assert.True(t, TaskSuccess.IsReady())
	assert.True(t, TaskFailure.IsReady())
	assert.True(t, TaskRevoked.IsReady())
	assert.False(t, TaskNew.IsReady())
	assert.False(t, TaskPending.IsReady())
	assert.False(t, TaskStarted.IsReady())
	assert.False(t, TaskRetry.IsReady())
}

func TestStageArtifactSuccess(t *testing.T) {
	assert.True(t, StageArtifact{ExitCode: 0}.Success())
	assert.False(t, StageArtifact{ExitCode: 1}.Success())
}
