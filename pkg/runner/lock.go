package runner

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/alasbuild/testforge/pkg/storage"
)

// ErrLockWaitCanceled is returned when done fires before the lock is acquired.
var ErrLockWaitCanceled = errors.New("terraform init lock wait canceled")

// Bookkeeper, when set (by cmd/worker at startup), records how long each
// initialize_terraform stage waited on the lock — operational telemetry
// the pipeline itself has no other use for, so it's optional and nil-safe.
var Bookkeeper *storage.BoltStore

// tfInitLockPath is the well-known cross-process advisory lock path; every
// worker on a host contends for it, guaranteeing at most one concurrent
// `terraform init` regardless of how many pipelines run in the same
// process.
const tfInitLockPath = "/tmp/tf_init_lock"

// tfInitLock holds an open fd across the critical section so Flock's lock
// remains associated with this process until release.
type tfInitLock struct {
	f *os.File
}

// acquireTFInitLock busy-waits at 1 Hz for the exclusive lock, honoring ctx
// cancellation between attempts.
func acquireTFInitLock(done <-chan struct{}) (*tfInitLock, error) {
	l, _, err := acquireTFInitLockTimed(done)
	return l, err
}

// acquireTFInitLockTimed is acquireTFInitLock plus how long the caller
// waited, so initTerraform can feed Bookkeeper without a second clock read.
func acquireTFInitLockTimed(done <-chan struct{}) (*tfInitLock, time.Duration, error) {
	start := time.Now()
	f, err := os.OpenFile(tfInitLockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, 0, err
	}

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			return &tfInitLock{f: f}, time.Since(start), nil
		}
		if err != unix.EWOULDBLOCK {
			f.Close()
			return nil, time.Since(start), err
		}

		select {
		case <-done:
			f.Close()
			return nil, time.Since(start), ErrLockWaitCanceled
		case <-ticker.C:
		}
	}
}

// release drops the flock and closes the fd.
func (l *tfInitLock) release() {
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	l.f.Close()
}
