// Package command implements the three execution substrates the runner
// pipeline and its executors drive: local subprocesses, SSH (one-shot and
// long-lived), and container exec.
package command

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"time"

	"github.com/alasbuild/testforge/pkg/types"
)

// FileNotFoundError is raised when Local is asked to run a binary that
// isn't on PATH, distinct from a command that ran and exited non-zero.
type FileNotFoundError struct {
	Binary string
	Err    error
}

func (e *FileNotFoundError) Error() string {
	return "binary not found: " + e.Binary + ": " + e.Err.Error()
}

func (e *FileNotFoundError) Unwrap() error { return e.Err }

// Local runs a named binary from PATH with an environment-variable overlay
// and a timeout. A timeout always yields CommandResult{ExitCode: 1} with a
// non-empty Stderr, per the command substrate's "never raise past the
// caller" contract; a missing binary is the one case that still returns an
// error, since the caller can't distinguish "ran and failed" from "nothing
// to run".
func Local(ctx context.Context, timeout time.Duration, name string, args []string, env map[string]string, dir string) (types.CommandResult, error) {
	if _, err := exec.LookPath(name); err != nil {
		return types.CommandResult{}, &FileNotFoundError{Binary: name, Err: err}
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cctx, name, args...)
	cmd.Dir = dir
	cmd.Env = overlayEnv(env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return types.CommandResult{ExitCode: 0, Stdout: stdout.String(), Stderr: stderr.String()}, nil
	}

	if cctx.Err() != nil {
		return types.CommandResult{
			ExitCode: 1,
			Stdout:   stdout.String(),
			Stderr:   "command timed out after " + timeout.String() + ": " + stderr.String(),
		}, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return types.CommandResult{
			ExitCode: exitErr.ExitCode(),
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
		}, nil
	}

	// Unexpected error (e.g. the process couldn't even start): present the
	// same shape the caller already handles rather than propagating it.
	return types.CommandResult{ExitCode: 1, Stdout: stdout.String(), Stderr: err.Error()}, nil
}

// overlayEnv returns os.Environ() with env's keys appended, so subprocesses
// see the worker's full environment plus any task-specific overrides.
func overlayEnv(env map[string]string) []string {
	base := os.Environ()
	for k, v := range env {
		base = append(base, k+"="+v)
	}
	return base
}
