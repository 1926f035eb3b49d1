// Package artifact implements the publish_artifacts_to_storage stage (C10):
// gzip-compressing each captured stage's output to a log file, then
// uploading the task's artifact directory to a blob-storage prefix.
package artifact

import (
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/alasbuild/testforge/pkg/types"
)

// Uploader publishes a local directory tree to a per-task prefix in blob
// storage. The concrete binding (S3Uploader) is swappable behind this
// narrow interface per spec.md §1's "blob-storage back end" exclusion: the
// pipeline only needs "can publish a prefix", not S3 specifics.
type Uploader interface {
	UploadPrefix(ctx context.Context, taskID string, localDir string) error
}

// WriteStageLogs writes one gzip-compressed log file per captured stage
// (and, recursively, per tests sub-entry) into env.ArtifactsDir, each
// containing the stage's exit code, stdout, and optional stderr.
func WriteStageLogs(env *types.RunEnvironment) error {
	for stage, a := range env.Snapshot() {
		if err := writeLog(env.ArtifactsDir, stage, a); err != nil {
			return fmt.Errorf("writing log for stage %s: %w", stage, err)
		}
	}

	tests := env.TestSnapshot()
	if len(tests) == 0 {
		return nil
	}
	testsDir := filepath.Join(env.ArtifactsDir, types.StageTests)
	if err := os.MkdirAll(testsDir, 0o755); err != nil {
		return err
	}
	for name, a := range tests {
		if err := writeLog(testsDir, name, a); err != nil {
			return fmt.Errorf("writing test log for %s: %w", name, err)
		}
	}
	return nil
}

func writeLog(dir, name string, a types.StageArtifact) error {
	path := filepath.Join(dir, name+".log.gz")
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	gw := gzip.NewWriter(f)
	defer gw.Close()

	fmt.Fprintf(gw, "exit_code: %d\n\n--- stdout ---\n%s\n", a.ExitCode, a.Stdout)
	if a.Stderr != "" {
		fmt.Fprintf(gw, "\n--- stderr ---\n%s\n", a.Stderr)
	}
	return nil
}
