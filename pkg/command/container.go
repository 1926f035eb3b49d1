package command

import (
	"context"
	"time"

	"github.com/alasbuild/testforge/pkg/types"
)

// ContainerExec runs `docker exec <envName> <cmd...>` from dir, returning
// the same CommandResult shape as Local and RunOneShot — the driver never
// needs to special-case how a stage's substrate was chosen.
func ContainerExec(ctx context.Context, timeout time.Duration, envName string, cmd []string, dir string) (types.CommandResult, error) {
	args := append([]string{"exec", envName}, cmd...)
	return Local(ctx, timeout, "docker", args, nil, dir)
}
