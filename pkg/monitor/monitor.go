// Package monitor implements the task monitor (C8): a reconciliation loop
// that keeps persisted non-terminal task records in sync with the broker's
// reported state.
package monitor

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/alasbuild/testforge/pkg/broker"
	"github.com/alasbuild/testforge/pkg/log"
	"github.com/alasbuild/testforge/pkg/metrics"
	"github.com/alasbuild/testforge/pkg/storage"
	"github.com/alasbuild/testforge/pkg/types"
)

// interTaskSleep is the fixed pause between tasks within one pass, to avoid
// broker hammering (spec.md §4.2).
const interTaskSleep = 500 * time.Millisecond

// asyncResultTimeout is the short per-task timeout the monitor treats a
// broker suspension against; hitting it means "still running", not an error.
const asyncResultTimeout = 2 * time.Second

// minInterPassSleep/maxInterPassSleep bound the random sleep between passes.
const (
	minInterPassSleep = 10 * time.Second
	maxInterPassSleep = 15 * time.Second
)

// Monitor reconciles storage.Store task records against broker.ResultBackend
// state on a loop, driven by Run until both termination flags are set.
type Monitor struct {
	Store   storage.Store
	Results broker.ResultBackend

	graceful atomic.Bool
	hard     atomic.Bool
}

// New builds a Monitor over store and results.
func New(store storage.Store, results broker.ResultBackend) *Monitor {
	return &Monitor{Store: store, Results: results}
}

// RequestGracefulTerminate sets the flag that, combined with
// RequestHardTerminate, lets Run exit after the in-flight pass settles.
func (m *Monitor) RequestGracefulTerminate() { m.graceful.Store(true) }

// RequestHardTerminate sets the companion flag Run's exit condition also
// requires.
func (m *Monitor) RequestHardTerminate() { m.hard.Store(true) }

// Run executes reconciliation passes until both graceful and hard
// termination have been requested.
func (m *Monitor) Run(ctx context.Context) {
	mlog := log.WithComponent("monitor")
	mlog.Info().Msg("task monitor starting")

	for {
		if m.graceful.Load() && m.hard.Load() {
			mlog.Info().Msg("task monitor stopping, both termination flags set")
			return
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		m.pass(ctx, mlog)

		sleep := minInterPassSleep + rand.N(maxInterPassSleep-minInterPassSleep)
		if m.waitOrTerminate(ctx, sleep) {
			mlog.Info().Msg("task monitor stopping, both termination flags set")
			return
		}
	}
}

// waitOrTerminate sleeps up to d, checking once a second whether both
// termination flags have been set in the meantime, so a shutdown request
// doesn't have to wait out a full inter-pass sleep.
func (m *Monitor) waitOrTerminate(ctx context.Context, d time.Duration) bool {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	deadline := time.After(d)
	for {
		if m.graceful.Load() && m.hard.Load() {
			return true
		}
		select {
		case <-ctx.Done():
			return true
		case <-deadline:
			return false
		case <-ticker.C:
		}
	}
}

// pass reconciles every non-terminal task once.
func (m *Monitor) pass(ctx context.Context, mlog zerolog.Logger) {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	tasks, err := m.Store.ListNonTerminalTasks(ctx)
	if err != nil {
		mlog.Error().Err(err).Msg("listing non-terminal tasks failed")
		return
	}

	for i, rec := range tasks {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(interTaskSleep):
			}
		}
		m.reconcileOne(ctx, mlog, rec)
	}
}

func (m *Monitor) reconcileOne(ctx context.Context, mlog zerolog.Logger, rec *types.TaskRecord) {
	state, err := m.Results.AsyncResult(ctx, rec.TaskID, asyncResultTimeout)
	if err != nil {
		if err == broker.ErrResultTimeout {
			// Still running; nothing to reconcile this pass.
			return
		}
		mlog.Error().Err(err).Str("task_id", rec.TaskID).Msg("async result fetch failed")
		return
	}

	if state == rec.Status {
		return
	}

	if !types.Monotonic(rec.Status, state) {
		mlog.Warn().Str("task_id", rec.TaskID).Str("from", string(rec.Status)).Str("to", string(state)).
			Msg("broker-reported state would violate monotonic transition, ignoring")
		return
	}

	if err := m.Store.UpdateTaskStatus(ctx, rec.TaskID, state); err != nil {
		mlog.Error().Err(err).Str("task_id", rec.TaskID).Msg("updating task status failed")
		return
	}

	mlog.Info().Str("task_id", rec.TaskID).Str("from", string(rec.Status)).Str("to", string(state)).
		Msg("reconciled task status")
}
