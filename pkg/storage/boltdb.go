package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketLockWaits = []byte("tf_init_lock_waits")

// LockWaitRecord is one observation of how long a worker waited on the
// process-wide terraform-init advisory lock (pkg/runner's tfInitLock)
// before acquiring it — local bookkeeping the pipeline doesn't need
// durability guarantees for, so it lives apart from SQLStore's task table.
type LockWaitRecord struct {
	TaskID  string        `json:"task_id"`
	EnvName string        `json:"env_name"`
	Waited  time.Duration `json:"waited"`
	At      time.Time     `json:"at"`
}

// BoltStore keeps the runner-local lock-wait bookkeeping cache: a
// dependency-free, embedded key-value store adapted from the teacher's
// bucket-per-collection pattern, repurposed here for a single bucket since
// the orchestrator's durable state (tasks, queues) lives in SQLStore.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) a bolt file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "testforge-runner.db")

	db, err := bolt.Open(dbPath, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("opening runner bookkeeping db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketLockWaits)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

// RecordLockWait appends rec under a time-ordered key so ListLockWaits
// returns them in observation order.
func (s *BoltStore) RecordLockWait(rec LockWaitRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLockWaits)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		key := fmt.Sprintf("%d-%s", rec.At.UnixNano(), rec.TaskID)
		return b.Put([]byte(key), data)
	})
}

// ListLockWaits returns every recorded wait, oldest first (bolt buckets
// iterate in key order, and keys are timestamp-prefixed).
func (s *BoltStore) ListLockWaits() ([]LockWaitRecord, error) {
	var out []LockWaitRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLockWaits)
		return b.ForEach(func(k, v []byte) error {
			var rec LockWaitRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out = append(out, rec)
			return nil
		})
	})
	return out, err
}
