package types

import "time"

// TaskState is a status drawn from the broker's state vocabulary, plus the
// scheduler-introduced NEW state.
type TaskState string

const (
	TaskNew     TaskState = "NEW"
	TaskPending TaskState = "PENDING"
	TaskStarted TaskState = "STARTED"
	TaskRetry   TaskState = "RETRY"
	TaskSuccess TaskState = "SUCCESS"
	TaskFailure TaskState = "FAILURE"
	TaskRevoked TaskState = "REVOKED"
)

// readyStates is the broker's terminal-state set (spec 3, "Ready state").
var readyStates = map[TaskState]bool{
	TaskSuccess: true,
	TaskFailure: true,
	TaskRevoked: true,
}

// IsReady reports whether s is a terminal broker state.
func (s TaskState) IsReady() bool {
	return readyStates[s]
}

// stateRank gives the non-ready states a total order for monotonic-transition
// checks; ready states all rank above any non-ready state and are mutually
// frozen (TestableProperties: "non-ready < ready; once ready, frozen").
var stateRank = map[TaskState]int{
	TaskNew:     0,
	TaskPending: 1,
	TaskStarted: 2,
	TaskRetry:   2,
}

// Monotonic reports whether transitioning from prev to next respects the
// broker's state total order: never overwrite a ready state, and never move
// a non-ready state backwards.
func Monotonic(prev, next TaskState) bool {
	if prev.IsReady() {
		return prev == next
	}
	if next.IsReady() {
		return true
	}
	return stateRank[next] >= stateRank[prev]
}

// TaskRecord is the durable row C9 owns: task_id -> (queue, status, timings, callback).
type TaskRecord struct {
	TaskID       string        `json:"task_id" db:"task_id"`
	QueueName    string        `json:"queue_name" db:"queue_name"`
	Status       TaskState     `json:"status" db:"status"`
	TaskDuration time.Duration `json:"task_duration,omitempty" db:"task_duration"`
	BSTaskID     string        `json:"bs_task_id,omitempty" db:"bs_task_id"`
	CallbackHref string        `json:"callback_href,omitempty" db:"callback_href"`
	CreatedAt    time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at" db:"updated_at"`
}

// QueueRecord is one entry of the Cartesian {drivers}x{arches}x{costs 0..4}
// product plus the sentinel "default".
type QueueRecord struct {
	Name        string `json:"name" db:"name"`
	Cost        int    `json:"cost" db:"cost"`
	MaxCapacity *int   `json:"max_capacity,omitempty" db:"max_capacity"`
}

// DefaultQueueName is the sentinel queue for tasks that otherwise can't be classified.
const DefaultQueueName = "default"

// StageArtifact captures one pipeline stage's outcome.
type StageArtifact struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr,omitempty"`
}

// Success reports whether the stage completed cleanly, the definition the
// worker uses to build its summary (spec 4.7).
func (a StageArtifact) Success() bool {
	return a.ExitCode == 0
}

// StageTests is the reserved "tests" artifact label; it holds a nested
// mapping of individual test outcomes rather than a single artifact.
const StageTests = "tests"

// RunSummary is what the worker returns after teardown: stage label -> {success}.
type RunSummary map[string]struct {
	Success bool `json:"success"`
}
