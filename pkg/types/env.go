package types

import (
	"sync"
	"time"
)

// RunEnvironment is the per-task, runner-owned scratch data described in
// spec 3: work dir, artifacts, env name, and uploaded log locations.
type RunEnvironment struct {
	WorkDir      string
	ArtifactsDir string
	EnvName      string

	mu           sync.Mutex
	Artifacts    map[string]StageArtifact
	TestResults  map[string]StageArtifact
	UploadedLogs map[string]string
	ExecStats    map[string]ExecStat
}

// ExecStat is one executor-method timing entry (spec 4.6).
type ExecStat struct {
	StartTS time.Time `json:"start_ts"`
	EndTS   time.Time `json:"end_ts"`
	Delta   float64   `json:"delta_seconds"`
}

// NewRunEnvironment allocates the maps a fresh pipeline run needs.
func NewRunEnvironment(envName string) *RunEnvironment {
	return &RunEnvironment{
		EnvName:      envName,
		Artifacts:    make(map[string]StageArtifact),
		TestResults:  make(map[string]StageArtifact),
		UploadedLogs: make(map[string]string),
		ExecStats:    make(map[string]ExecStat),
	}
}

// SetArtifact records a stage's outcome. Safe for concurrent use since the
// monitor/health-check goroutines may read artifacts while a stage runs.
func (e *RunEnvironment) SetArtifact(stage string, a StageArtifact) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Artifacts[stage] = a
}

// SetExecStat records one executor-method timing entry under stage.
func (e *RunEnvironment) SetExecStat(stage string, s ExecStat) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ExecStats[stage] = s
}

// SetTestResult records one sub-test outcome under the reserved "tests" stage.
func (e *RunEnvironment) SetTestResult(name string, a StageArtifact) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.TestResults[name] = a
}

// Snapshot returns a copy of the artifacts map safe to range over after the
// pipeline has finished (used by publish and by the worker's summary).
func (e *RunEnvironment) Snapshot() map[string]StageArtifact {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]StageArtifact, len(e.Artifacts))
	for k, v := range e.Artifacts {
		out[k] = v
	}
	return out
}

// TestSnapshot returns a copy of the tests sub-mapping.
func (e *RunEnvironment) TestSnapshot() map[string]StageArtifact {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]StageArtifact, len(e.TestResults))
	for k, v := range e.TestResults {
		out[k] = v
	}
	return out
}
