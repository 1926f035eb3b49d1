package scheduler

import (
	"context"
	"errors"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alasbuild/testforge/pkg/config"
	"github.com/alasbuild/testforge/pkg/runner"
	"github.com/alasbuild/testforge/pkg/types"
)

// fakeBroker records every publish so tests can assert on queue routing
// without a real AMQP connection.
type fakeBroker struct {
	published []publishedMessage
	failNext  bool
}

type publishedMessage struct {
	queue   string
	payload types.TaskPayload
}

func (b *fakeBroker) DeclareQueue(name string) error { return nil }

func (b *fakeBroker) Publish(ctx context.Context, queueName string, body any) error {
	if b.failNext {
		return errors.New("simulated publish failure")
	}
	payload := body.(*types.TaskPayload)
	b.published = append(b.published, publishedMessage{queue: queueName, payload: *payload})
	return nil
}

func (b *fakeBroker) Consume(ctx context.Context, queueName string, prefetch int) (<-chan amqp.Delivery, error) {
	return nil, errors.New("not implemented")
}

func (b *fakeBroker) Close() error { return nil }

// fakeStore records CreateTask calls; the other Store methods are unused by
// the dispatcher and panic if called.
type fakeStore struct {
	created []types.TaskRecord
	failNext bool
}

func (s *fakeStore) CreateTask(ctx context.Context, rec *types.TaskRecord) error {
	if s.failNext {
		return errors.New("simulated db failure")
	}
	s.created = append(s.created, *rec)
	return nil
}
func (s *fakeStore) UpdateTaskStatus(ctx context.Context, taskID string, status types.TaskState) error {
	panic("not used by dispatcher tests")
}
func (s *fakeStore) GetTask(ctx context.Context, taskID string) (*types.TaskRecord, error) {
	panic("not used by dispatcher tests")
}
func (s *fakeStore) ListNonTerminalTasks(ctx context.Context) ([]*types.TaskRecord, error) {
	panic("not used by dispatcher tests")
}
func (s *fakeStore) UpsertQueue(ctx context.Context, q *types.QueueRecord) error {
	panic("not used by dispatcher tests")
}
func (s *fakeStore) ListQueues(ctx context.Context) ([]*types.QueueRecord, error) {
	panic("not used by dispatcher tests")
}
func (s *fakeStore) Close() error { return nil }

func baseConfig() *config.Config {
	return &config.Config{
		SupportedArchitectures: []string{"x86_64", "aarch64"},
		SupportedDistributions: []string{"almalinux"},
		SupportedRunners:        []string{"all"},
	}
}

func basePayload() *types.TaskPayload {
	return &types.TaskPayload{
		RunnerType:  types.RunnerDocker,
		DistName:    "AlmaLinux",
		DistVersion: "9",
		DistArch:    "x86_64",
		Repositories: []types.Repository{
			{BaseURL: "https://example.test/repo"},
		},
		PackageName: "bash",
	}
}

func TestDispatcherSubmit_QueueNaming(t *testing.T) {
	b := &fakeBroker{}
	s := &fakeStore{}
	d := &Dispatcher{Broker: b, Store: s, Config: baseConfig(), Drivers: runner.Registry}

	taskID, err := d.Submit(context.Background(), basePayload())
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)

	require.Len(t, b.published, 1)
	assert.Equal(t, "docker-x86_64-0", b.published[0].queue)
	assert.Equal(t, taskID, b.published[0].payload.TaskID)

	require.Len(t, s.created, 1)
	assert.Equal(t, types.TaskNew, s.created[0].Status)
	assert.Equal(t, "docker-x86_64-0", s.created[0].QueueName)
}

func TestDispatcherSubmit_RejectsUnsupportedArch(t *testing.T) {
	b := &fakeBroker{}
	s := &fakeStore{}
	d := &Dispatcher{Broker: b, Store: s, Config: baseConfig(), Drivers: runner.Registry}

	payload := basePayload()
	payload.DistArch = "s390x"

	_, err := d.Submit(context.Background(), payload)
	assert.Error(t, err)
	assert.Empty(t, b.published)
	assert.Empty(t, s.created)
}

func TestDispatcherSubmit_RejectsUnsupportedDistribution(t *testing.T) {
	b := &fakeBroker{}
	s := &fakeStore{}
	d := &Dispatcher{Broker: b, Store: s, Config: baseConfig(), Drivers: runner.Registry}

	payload := basePayload()
	payload.DistName = "fedora"

	_, err := d.Submit(context.Background(), payload)
	assert.Error(t, err)
	assert.Empty(t, b.published)
}

func TestDispatcherSubmit_DockerRejectsS390xMapping(t *testing.T) {
	// docker's ArchitecturesMapping has no s390x class; even if
	// supported_architectures allowed it, the runner-specific lookup fails.
	cfg := baseConfig()
	cfg.SupportedArchitectures = append(cfg.SupportedArchitectures, "s390x")

	b := &fakeBroker{}
	s := &fakeStore{}
	d := &Dispatcher{Broker: b, Store: s, Config: cfg, Drivers: runner.Registry}

	payload := basePayload()
	payload.DistArch = "s390x"

	_, err := d.Submit(context.Background(), payload)
	assert.Error(t, err)
	assert.Empty(t, b.published)
}

func TestDispatcherSubmit_AnyRunnerRespectsConfigAllowlist(t *testing.T) {
	cfg := baseConfig()
	cfg.SupportedRunners = []string{"docker"}

	b := &fakeBroker{}
	s := &fakeStore{}
	d := &Dispatcher{Broker: b, Store: s, Config: cfg, Drivers: runner.Registry}

	payload := basePayload()
	payload.RunnerType = types.RunnerAny

	_, err := d.Submit(context.Background(), payload)
	require.NoError(t, err)
	require.Len(t, b.published, 1)
	assert.Equal(t, types.RunnerDocker, b.published[0].payload.RunnerType)
}

func TestDispatcherSubmit_PublishFailureSkipsDBInsert(t *testing.T) {
	b := &fakeBroker{failNext: true}
	s := &fakeStore{}
	d := &Dispatcher{Broker: b, Store: s, Config: baseConfig(), Drivers: runner.Registry}

	_, err := d.Submit(context.Background(), basePayload())
	assert.Error(t, err)
	assert.Empty(t, s.created)
}

func TestDispatcherSubmit_DBFailureAfterPublishIsNonFatal(t *testing.T) {
	b := &fakeBroker{}
	s := &fakeStore{failNext: true}
	d := &Dispatcher{Broker: b, Store: s, Config: baseConfig(), Drivers: runner.Registry}

	taskID, err := d.Submit(context.Background(), basePayload())
	require.NoError(t, err)
	assert.NotEmpty(t, taskID)
	assert.Len(t, b.published, 1)
}

func TestDispatcherSubmit_FillsBlankRepositoryNames(t *testing.T) {
	b := &fakeBroker{}
	s := &fakeStore{}
	d := &Dispatcher{Broker: b, Store: s, Config: baseConfig(), Drivers: runner.Registry}

	payload := basePayload()
	payload.Repositories = []types.Repository{
		{BaseURL: "https://example.test/a"},
		{Name: "custom", BaseURL: "https://example.test/b"},
	}

	_, err := d.Submit(context.Background(), payload)
	require.NoError(t, err)
	require.Len(t, b.published, 1)
	repos := b.published[0].payload.Repositories
	assert.Equal(t, "repo-0", repos[0].Name)
	assert.Equal(t, "custom", repos[1].Name)
}
