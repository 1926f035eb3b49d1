/*
Package log provides structured logging for testforge using zerolog.

The log package wraps zerolog to give every component JSON-structured
logging with component-specific child loggers, configurable levels, and
a small set of helpers for the fields the dispatch-and-lifecycle engine
cares about most: task ID, queue name, and pipeline stage.

# Usage

Initializing the logger:

	import "github.com/alasbuild/testforge/pkg/log"

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Component loggers:

	schedLog := log.WithComponent("scheduler")
	schedLog.Info().Str("queue", "docker-x86_64-0").Msg("task published")

	taskLog := log.WithTaskID(task.TaskID)
	taskLog.Error().Err(err).Str("stage", "install_package").Msg("stage failed")

# Log Levels

  - Debug: per-stage command output, executor timing
  - Info: task lifecycle transitions, queue publish/consume events
  - Warn: retryable broker errors, stale SSH channel reconnects
  - Error: stage failures, config/storage errors
  - Fatal: unrecoverable startup errors (missing config, DB open failure)

# Output

JSON (production):

	{"level":"info","component":"worker","task_id":"a1b2c3","time":"2026-07-30T10:30:00Z","message":"stage completed"}

Console (development), selected via Config.JSONOutput = false.

# Integration Points

  - pkg/scheduler: logs admission decisions and publish outcomes
  - pkg/worker: logs stage transitions via WithTaskID
  - pkg/monitor: logs reconciliation passes
  - pkg/runner: logs teardown stage failures
  - pkg/api: logs failed record and result lookups

Never log repository baseurls with embedded credentials or the
configured JWT secret; both are config-boundary values, not stage
output, and should be referenced by name only.
*/
package log
