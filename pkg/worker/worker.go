// Package worker implements the task worker (C6): it consumes deliveries
// routed to its queue, instantiates the registered driver and a fresh
// pipeline, drives setup through teardown, and returns a stage-success
// summary. Broker wiring (routing, acknowledgement) is the only concern
// this package owns; the pipeline itself lives in pkg/runner.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/alasbuild/testforge/pkg/artifact"
	"github.com/alasbuild/testforge/pkg/broker"
	"github.com/alasbuild/testforge/pkg/log"
	"github.com/alasbuild/testforge/pkg/runner"
	"github.com/alasbuild/testforge/pkg/types"
)

// Worker consumes one queue's deliveries and runs each task to completion,
// one at a time, matching the spec's "prefetch_multiplier = 1, workers
// never hoard tasks" concurrency model (spec.md §5).
type Worker struct {
	Broker     broker.Broker
	Results    broker.ResultPublisher
	Uploader   artifact.Uploader
	QueueName  string
	SSHKeyPath string
	Prefetch   int

	stopCh chan struct{}
}

// New builds a Worker bound to queueName; Run blocks consuming deliveries
// from it until ctx is canceled or Stop is called.
func New(b broker.Broker, results broker.ResultPublisher, uploader artifact.Uploader, queueName, sshKeyPath string, prefetch int) *Worker {
	return &Worker{
		Broker: b, Results: results, Uploader: uploader,
		QueueName: queueName, SSHKeyPath: sshKeyPath, Prefetch: prefetch,
		stopCh: make(chan struct{}),
	}
}

// Stop signals Run's consume loop to exit after the in-flight delivery (if
// any) finishes.
func (w *Worker) Stop() { close(w.stopCh) }

// Run consumes deliveries from QueueName, handling one at a time.
func (w *Worker) Run(ctx context.Context) error {
	wlog := log.WithQueue(w.QueueName)

	if err := w.Broker.DeclareQueue(w.QueueName); err != nil {
		return fmt.Errorf("declaring queue %s: %w", w.QueueName, err)
	}

	deliveries, err := w.Broker.Consume(ctx, w.QueueName, w.Prefetch)
	if err != nil {
		return fmt.Errorf("consuming %s: %w", w.QueueName, err)
	}

	wlog.Info().Msg("worker listening")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.stopCh:
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			w.handleDelivery(ctx, d)
		}
	}
}

func (w *Worker) handleDelivery(ctx context.Context, d amqp.Delivery) {
	var payload types.TaskPayload
	if err := json.Unmarshal(d.Body, &payload); err != nil {
		log.WithQueue(w.QueueName).Error().Err(err).Msg("malformed task payload, dropping")
		d.Nack(false, false)
		return
	}

	tlog := log.WithTaskID(payload.TaskID)

	// Validate the full set of fields the worker requires before
	// instantiating anything — on any missing field, log and return
	// without raising; the broker records no result (spec.md §4.7).
	if err := payload.Validate(); err != nil {
		tlog.Error().Err(err).Msg("task payload missing required field, dropping")
		d.Ack(false)
		return
	}

	summary := w.runTask(ctx, &payload)
	w.publishResult(ctx, payload.TaskID, summary)
	d.Ack(false)
}

// runTask instantiates the registered driver and a fresh pipeline, and
// drives Setup -> InstallPackage -> RunIntegrityTests, with Teardown always
// running via defer regardless of how far Setup got.
func (w *Worker) runTask(ctx context.Context, payload *types.TaskPayload) types.RunSummary {
	tlog := log.WithTaskID(payload.TaskID)

	driver, ok := runner.Lookup(string(payload.RunnerType))
	if !ok {
		tlog.Error().Str("runner_type", string(payload.RunnerType)).Msg("no registered driver for runner_type")
		return types.RunSummary{}
	}

	pipeline := runner.New(driver, payload, w.Uploader, w.SSHKeyPath)
	defer pipeline.Teardown(ctx)

	if err := pipeline.Setup(ctx); err != nil {
		tlog.Error().Err(err).Msg("setup failed")
		return summaryFrom(pipeline)
	}

	if err := pipeline.InstallPackage(ctx); err != nil {
		tlog.Error().Err(err).Msg("install_package failed")
		return summaryFrom(pipeline)
	}

	pipeline.RunIntegrityTests(ctx)
	return summaryFrom(pipeline)
}

// summaryFrom builds the worker's return value: stage label -> {success}
// (spec.md §4.7's "success is exit_code == 0 for that stage's artifact").
func summaryFrom(p *runner.Pipeline) types.RunSummary {
	summary := make(types.RunSummary)
	for stage, a := range p.Env.Snapshot() {
		summary[stage] = struct {
			Success bool `json:"success"`
		}{Success: a.Success()}
	}
	return summary
}

// overallState reduces a summary to a single broker-style terminal state:
// any stage failure means FAILURE, otherwise SUCCESS.
func overallState(summary types.RunSummary) types.TaskState {
	for _, s := range summary {
		if !s.Success {
			return types.TaskFailure
		}
	}
	return types.TaskSuccess
}

func (w *Worker) publishResult(ctx context.Context, taskID string, summary types.RunSummary) {
	if w.Results == nil {
		return
	}
	if err := w.Results.PublishResult(ctx, taskID, overallState(summary)); err != nil {
		log.WithTaskID(taskID).Error().Err(err).Msg("publishing result notice failed")
	}
}
