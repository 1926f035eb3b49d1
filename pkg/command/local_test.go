package command

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_SuccessCapturesStdout(t *testing.T) {
	res, err := Local(context.Background(), 5*time.Second, "echo", []string{"hello"}, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Contains(t, res.Stdout, "hello")
}

func TestLocal_NonZeroExit(t *testing.T) {
	res, err := Local(context.Background(), 5*time.Second, "sh", []string{"-c", "exit 7"}, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 7, res.ExitCode)
}

func TestLocal_MissingBinary(t *testing.T) {
	_, err := Local(context.Background(), 5*time.Second, "testforge-definitely-not-a-real-binary", nil, nil, "")
	require.Error(t, err)

	var notFound *FileNotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestLocal_Timeout(t *testing.T) {
	res, err := Local(context.Background(), 50*time.Millisecond, "sleep", []string{"5"}, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Stderr, "timed out")
}

func TestLocal_EnvOverlay(t *testing.T) {
	res, err := Local(context.Background(), 5*time.Second, "sh", []string{"-c", "echo $TESTFORGE_VAR"},
		map[string]string{"TESTFORGE_VAR": "present"}, "")
	require.NoError(t, err)
	assert.Contains(t, res.Stdout, "present")
}
