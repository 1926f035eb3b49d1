// Package scheduler implements the dispatcher (C7): admission filtering,
// queue naming, and publish-then-persist submission of task payloads onto
// the broker, plus the upstream polling loop that feeds it.
package scheduler

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/google/uuid"

	"github.com/alasbuild/testforge/pkg/broker"
	"github.com/alasbuild/testforge/pkg/config"
	apperrors "github.com/alasbuild/testforge/pkg/errors"
	"github.com/alasbuild/testforge/pkg/log"
	"github.com/alasbuild/testforge/pkg/metrics"
	"github.com/alasbuild/testforge/pkg/runner"
	"github.com/alasbuild/testforge/pkg/storage"
	"github.com/alasbuild/testforge/pkg/types"
)

// Dispatcher runs the admission checks of spec.md §4.1 against each incoming
// payload and, on acceptance, publishes it to its queue and persists a NEW
// task record.
type Dispatcher struct {
	Broker  broker.Broker
	Store   storage.Store
	Config  *config.Config
	Drivers map[string]runner.Driver
}

// New builds a Dispatcher over the static runner.Registry. Callers that
// re-Register replacement drivers (e.g. with deployment-specific proxy
// settings) should do so before constructing the Dispatcher.
func New(b broker.Broker, store storage.Store, cfg *config.Config) *Dispatcher {
	return &Dispatcher{Broker: b, Store: store, Config: cfg, Drivers: runner.Registry}
}

// rejectedError reports an admission failure; Submit logs and returns it
// rather than treating it as a transport-level failure.
type rejectedError struct {
	reason string
}

func (e *rejectedError) Error() string { return "rejected: " + e.reason }

// Submit runs the full admission pipeline against payload and, if accepted,
// publishes it and records it. The returned task_id is empty on rejection.
func (d *Dispatcher) Submit(ctx context.Context, payload *types.TaskPayload) (string, error) {
	timer := metrics.NewTimer()
	slog := log.WithComponent("scheduler")

	payload.Normalize()

	// 1. dist_arch must be in the configured supported-architectures set.
	if !d.Config.SupportsArchitecture(payload.DistArch) {
		slog.Warn().Str("dist_arch", payload.DistArch).Msg("rejected: unsupported architecture")
		return "", &rejectedError{reason: "unsupported architecture " + payload.DistArch}
	}

	// 2. dist_name must be in the configured supported-distributions set.
	if !d.Config.SupportsDistribution(payload.DistName) {
		slog.Warn().Str("dist_name", payload.DistName).Msg("rejected: unsupported distribution")
		return "", &rejectedError{reason: "unsupported distribution " + payload.DistName}
	}

	// 3. runner_type == "any" picks uniformly at random among the runners
	// permitted by config.
	runnerType := string(payload.RunnerType)
	if payload.RunnerType == types.RunnerAny {
		chosen, err := d.pickRandomRunner()
		if err != nil {
			slog.Warn().Err(err).Msg("rejected: no eligible runner for \"any\"")
			return "", err
		}
		runnerType = chosen
	}

	driver, ok := d.Drivers[runnerType]
	if !ok {
		slog.Warn().Str("runner_type", runnerType).Msg("rejected: no registered driver")
		return "", &rejectedError{reason: "no registered driver for " + runnerType}
	}

	// 4. Determine queue arch by scanning the chosen runner's architecture
	// mapping for a class containing dist_arch.
	archClass, ok := types.ResolveArchClass(toArchMapping(driver.ArchitecturesMapping()), payload.DistArch)
	if !ok {
		err := &apperrors.MissingArchMappingError{RunnerType: runnerType, Arch: payload.DistArch}
		slog.Error().Err(err).Msg("rejected: coding error, arch unmapped for chosen runner")
		return "", err
	}

	queueName := fmt.Sprintf("%s-%s-%d", runnerType, archClass, driver.Cost())

	payload.TaskID = uuid.NewString()
	payload.RunnerType = types.RunnerType(runnerType)

	if err := d.Broker.Publish(ctx, queueName, payload); err != nil {
		metrics.TasksFailedTotal.WithLabelValues(queueName).Inc()
		slog.Error().Err(err).Str("queue", queueName).Str("task_id", payload.TaskID).Msg("publish failed, task dropped")
		return "", fmt.Errorf("publishing task %s: %w", payload.TaskID, err)
	}

	rec := &types.TaskRecord{
		TaskID:       payload.TaskID,
		QueueName:    queueName,
		Status:       types.TaskNew,
		BSTaskID:     payload.BSTaskID,
		CallbackHref: payload.CallbackHref,
	}
	if err := d.Store.CreateTask(ctx, rec); err != nil {
		// Enqueue already succeeded and is not undone. No record is stored
		// for this task, so the monitor (which walks stored records only)
		// never visits it; this log line is the only trace of the orphan.
		slog.Error().Err(err).Str("task_id", payload.TaskID).Msg("task published but DB insert failed, left for reconciliation")
	}

	metrics.TasksScheduledTotal.WithLabelValues(queueName).Inc()
	timer.ObserveDuration(metrics.SchedulingLatency)
	slog.Info().Str("task_id", payload.TaskID).Str("queue", queueName).Msg("task scheduled")

	return payload.TaskID, nil
}

// pickRandomRunner chooses uniformly among the registered drivers the
// config permits for runner_type "any".
func (d *Dispatcher) pickRandomRunner() (string, error) {
	var eligible []string
	for name := range d.Drivers {
		if d.Config.RunnerAllowed(name) {
			eligible = append(eligible, name)
		}
	}
	if len(eligible) == 0 {
		return "", &rejectedError{reason: "no runner types permitted by supported_runners"}
	}
	return eligible[rand.IntN(len(eligible))], nil
}

// toArchMapping adapts a driver's map[string][]string into the
// map[types.ArchitectureClass][]string shape types.ResolveArchClass expects.
func toArchMapping(m map[string][]string) map[types.ArchitectureClass][]string {
	out := make(map[types.ArchitectureClass][]string, len(m))
	for class, members := range m {
		out[types.ArchitectureClass(class)] = members
	}
	return out
}
