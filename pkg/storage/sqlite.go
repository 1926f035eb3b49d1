package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver, pure-Go, no cgo

	"github.com/alasbuild/testforge/pkg/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS queues (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT UNIQUE NOT NULL,
	cost INTEGER NOT NULL,
	max_capacity INTEGER
);

CREATE TABLE IF NOT EXISTS tasks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	task_id TEXT UNIQUE NOT NULL,
	queue_name TEXT NOT NULL,
	status TEXT NOT NULL,
	task_duration INTEGER,
	bs_task_id TEXT,
	callback_href TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS task_results (
	task_id TEXT PRIMARY KEY NOT NULL,
	state TEXT NOT NULL,
	recorded_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// SQLStore is the spec's literal "single-file relational DB" (spec.md §6):
// database/sql over modernc.org/sqlite, a pure-Go driver. Single-writer
// semantics (the spec's check_same_thread=false requirement, translated) are
// enforced with SetMaxOpenConns(1) rather than a Python-style thread-safety
// flag — one physical connection serializes every write the same way.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore opens (creating if absent) the database file at path and
// ensures the queues/tasks schema exists.
func NewSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

// CreateTask inserts rec with status NEW already set by the caller (spec.md
// §4.1's publish-then-persist ordering: this runs after the broker publish
// succeeds, never before).
func (s *SQLStore) CreateTask(ctx context.Context, rec *types.TaskRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (task_id, queue_name, status, task_duration, bs_task_id, callback_href)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.TaskID, rec.QueueName, rec.Status, int64(rec.TaskDuration), rec.BSTaskID, rec.CallbackHref)
	if err != nil {
		return fmt.Errorf("inserting task %s: %w", rec.TaskID, err)
	}
	return nil
}

// UpdateTaskStatus overwrites status unconditionally; callers (the monitor)
// are responsible for only calling this when types.Monotonic allows the
// transition, per spec.md §8's monotonic-status-writes property.
func (s *SQLStore) UpdateTaskStatus(ctx context.Context, taskID string, status types.TaskState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = CURRENT_TIMESTAMP WHERE task_id = ?`,
		status, taskID)
	if err != nil {
		return fmt.Errorf("updating task %s: %w", taskID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return nil
}

// ErrNotFound is returned by GetTask/UpdateTaskStatus when no row matches.
var ErrNotFound = errors.New("storage: record not found")

func (s *SQLStore) GetTask(ctx context.Context, taskID string) (*types.TaskRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, queue_name, status, task_duration, bs_task_id, callback_href, created_at, updated_at
		FROM tasks WHERE task_id = ?`, taskID)

	var rec types.TaskRecord
	var taskDuration sql.NullInt64
	var bsTaskID, callbackHref sql.NullString
	if err := row.Scan(&rec.TaskID, &rec.QueueName, &rec.Status, &taskDuration, &bsTaskID, &callbackHref, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading task %s: %w", taskID, err)
	}
	rec.TaskDuration = time.Duration(taskDuration.Int64)
	rec.BSTaskID = bsTaskID.String
	rec.CallbackHref = callbackHref.String
	return &rec, nil
}

// ListNonTerminalTasks returns every task whose status is not in the ready
// set — the monitor's reconciliation pass input (spec.md §4.2).
func (s *SQLStore) ListNonTerminalTasks(ctx context.Context) ([]*types.TaskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, queue_name, status, task_duration, bs_task_id, callback_href, created_at, updated_at
		FROM tasks WHERE status NOT IN (?, ?, ?)`,
		types.TaskSuccess, types.TaskFailure, types.TaskRevoked)
	if err != nil {
		return nil, fmt.Errorf("listing non-terminal tasks: %w", err)
	}
	defer rows.Close()

	var out []*types.TaskRecord
	for rows.Next() {
		var rec types.TaskRecord
		var taskDuration sql.NullInt64
		var bsTaskID, callbackHref sql.NullString
		if err := rows.Scan(&rec.TaskID, &rec.QueueName, &rec.Status, &taskDuration, &bsTaskID, &callbackHref, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.TaskDuration = time.Duration(taskDuration.Int64)
		rec.BSTaskID = bsTaskID.String
		rec.CallbackHref = callbackHref.String
		out = append(out, &rec)
	}
	return out, rows.Err()
}

// UpsertQueue inserts q, or updates its cost/max_capacity if name already
// exists (the Cartesian queue set plus the "default" sentinel, spec.md §3).
func (s *SQLStore) UpsertQueue(ctx context.Context, q *types.QueueRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queues (name, cost, max_capacity) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET cost = excluded.cost, max_capacity = excluded.max_capacity`,
		q.Name, q.Cost, q.MaxCapacity)
	if err != nil {
		return fmt.Errorf("upserting queue %s: %w", q.Name, err)
	}
	return nil
}

// PutResult durably records taskID's terminal state, overwriting any
// previous row. This replaces the package's earlier AMQP reply-queue result
// path: a worker publish is now a plain row write, so there's no ordering
// dependency on a reader having declared a queue first (pkg/broker's
// StoreResultBackend).
func (s *SQLStore) PutResult(ctx context.Context, taskID string, state types.TaskState) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_results (task_id, state, recorded_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(task_id) DO UPDATE SET state = excluded.state, recorded_at = excluded.recorded_at`,
		taskID, state)
	if err != nil {
		return fmt.Errorf("recording result for task %s: %w", taskID, err)
	}
	return nil
}

// GetResult reads taskID's recorded state. It is a non-destructive SELECT:
// any number of callers (the monitor's reconciliation loop, the HTTP result
// endpoint) can read the same row without affecting each other.
func (s *SQLStore) GetResult(ctx context.Context, taskID string) (types.TaskState, error) {
	row := s.db.QueryRowContext(ctx, `SELECT state FROM task_results WHERE task_id = ?`, taskID)

	var state types.TaskState
	if err := row.Scan(&state); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("reading result for task %s: %w", taskID, err)
	}
	return state, nil
}

func (s *SQLStore) ListQueues(ctx context.Context) ([]*types.QueueRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, cost, max_capacity FROM queues`)
	if err != nil {
		return nil, fmt.Errorf("listing queues: %w", err)
	}
	defer rows.Close()

	var out []*types.QueueRecord
	for rows.Next() {
		var q types.QueueRecord
		var maxCapacity sql.NullInt64
		if err := rows.Scan(&q.Name, &q.Cost, &maxCapacity); err != nil {
			return nil, err
		}
		if maxCapacity.Valid {
			v := int(maxCapacity.Int64)
			q.MaxCapacity = &v
		}
		out = append(out, &q)
	}
	return out, rows.Err()
}
