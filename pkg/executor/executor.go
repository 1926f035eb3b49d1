// Package executor implements the thin per-tool layers over pkg/command:
// shell, ansible, bats, python, and a generic named-command form. The
// executor functions themselves record no timing; WithTiming is a wrapper a
// caller applies to an ExecFunc to add a {start_ts, end_ts, delta_seconds}
// entry to the run environment's exec_stats mapping.
package executor

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/alasbuild/testforge/pkg/command"
	"github.com/alasbuild/testforge/pkg/types"
)

// ExecFunc runs one command and returns its result. WithTiming takes the
// stage name it is recorded under separately.
type ExecFunc func(ctx context.Context) (types.CommandResult, error)

// WithTiming wraps fn so its execution is recorded into env.ExecStats under
// stage, composing over fn rather than subclassing an executor type.
func WithTiming(env *types.RunEnvironment, stage string, fn ExecFunc) ExecFunc {
	return func(ctx context.Context) (types.CommandResult, error) {
		start := time.Now()
		res, err := fn(ctx)
		end := time.Now()

		env.SetExecStat(stage, types.ExecStat{
			StartTS: start,
			EndTS:   end,
			Delta:   end.Sub(start).Seconds(),
		})
		return res, err
	}
}

// Target selects which substrate an executor call runs against: the local
// host, a one-shot SSH connection, a long-lived SSH connection, or a
// running container.
type Target struct {
	Kind        TargetKind
	SSHOptions  command.SSHOptions
	SSHClient   *command.LongLivedClient // set when Kind == TargetSSHLongLived
	ContainerID string
	WorkDir     string
	Timeout     time.Duration
}

// TargetKind enumerates the substrates a Target may route through.
type TargetKind int

const (
	TargetLocal TargetKind = iota
	TargetSSHOneShot
	TargetSSHLongLived
	TargetContainer
)

func (t Target) run(ctx context.Context, binary string, args []string, env map[string]string) (types.CommandResult, error) {
	switch t.Kind {
	case TargetSSHOneShot:
		cmd := shellJoin(binary, args)
		results := command.RunOneShot(withEnv(t.SSHOptions, env), cmd)
		return results[cmd], nil
	case TargetSSHLongLived:
		cmd := shellJoin(binary, args)
		results := t.SSHClient.Run(cmd)
		return results[cmd], nil
	case TargetContainer:
		full := append([]string{binary}, args...)
		return command.ContainerExec(ctx, t.Timeout, t.ContainerID, full, t.WorkDir)
	default:
		return command.Local(ctx, t.Timeout, binary, args, env, t.WorkDir)
	}
}

func withEnv(opts command.SSHOptions, env map[string]string) command.SSHOptions {
	if len(env) == 0 {
		return opts
	}
	merged := opts
	merged.EnvVars = mergeEnv(opts.EnvVars, env)
	return merged
}

func mergeEnv(base, overlay map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}

func shellJoin(binary string, args []string) string {
	return strings.Join(append([]string{binary}, args...), " ")
}

// Shell runs a bash command.
func Shell(ctx context.Context, t Target, script string, env map[string]string) (types.CommandResult, error) {
	return t.run(ctx, "bash", []string{"-c", script}, env)
}

// Ansible runs ansible-playbook. When connecting over SSH, host and user
// are injected as `-i <host>, -u <user>` so the remote end can target
// itself or a declared host directly.
func Ansible(ctx context.Context, t Target, playbook string, extraVars map[string]string, host, user string) (types.CommandResult, error) {
	args := []string{playbook}
	for k, v := range extraVars {
		args = append(args, "-e", k+"="+v)
	}
	if t.Kind == TargetSSHOneShot || t.Kind == TargetSSHLongLived {
		if host != "" {
			args = append(args, "-i", host)
		}
		if user != "" {
			args = append(args, "-u", user)
		}
	}
	return t.run(ctx, "ansible-playbook", args, nil)
}

// Bats runs the bats test binary with TAP output.
func Bats(ctx context.Context, t Target, testFiles ...string) (types.CommandResult, error) {
	args := append([]string{"--tap"}, testFiles...)
	return t.run(ctx, "bats", args, nil)
}

// pythonShebang matches a pinned interpreter declared on a script's first
// line, e.g. "#!/usr/bin/env python3" or "#!/usr/bin/python3.11 -u".
var pythonShebang = regexp.MustCompile(`^#!(.*python[2-4]?)( .*)?`)

// Python runs script with "python" or "python3", honoring a pinned
// interpreter found in the script's shebang. "--version" is allowed as a
// short-circuit probe that bypasses shebang sniffing.
func Python(ctx context.Context, t Target, script string, args []string, shebangLine string) (types.CommandResult, error) {
	binary := "python3"
	if len(args) == 1 && args[0] == "--version" {
		return t.run(ctx, binary, args, nil)
	}

	if m := pythonShebang.FindStringSubmatch(shebangLine); m != nil {
		if interp := extractBinary(m[1]); interp != "" {
			binary = interp
		}
	}

	fullArgs := append([]string{script}, args...)
	return t.run(ctx, binary, fullArgs, nil)
}

// extractBinary pulls the trailing path component off a shebang's
// interpreter clause, e.g. "/usr/bin/env python3" -> "python3".
func extractBinary(interp string) string {
	fields := strings.Fields(interp)
	if len(fields) == 0 {
		return ""
	}
	last := fields[len(fields)-1]
	if i := strings.LastIndexByte(last, '/'); i >= 0 {
		return last[i+1:]
	}
	return last
}

// Command runs a generic named binary with no tool-specific flags.
func Command(ctx context.Context, t Target, binary string, args []string, env map[string]string) (types.CommandResult, error) {
	return t.run(ctx, binary, args, env)
}
