//go:build !windows

package convert

import (
	"fmt"
	"os"
	"syscall"
	"time"
)

// Locker provides mutual exclusion between orchestrator runs sharing a
// registry location.
type Locker interface {
	// Lock acquires an exclusive lock.
	// Blocks until the lock is acquired or the timeout expires, in which
	// case the error matches ErrLocked.
	Lock() error

	// Unlock releases the lock.
	// Safe to call multiple times.
	Unlock() error
}

// runLock implements Locker using flock() advisory locking on Unix systems.
// A second orchestrator started against the same registry fails cleanly
// instead of corrupting it.
type runLock struct {
	// file is the lock file handle.
	file *os.File

	// timeout bounds how long Lock waits for acquisition.
	timeout time.Duration

	// locked tracks whether the lock is currently held.
	locked bool
}

// newRunLock creates a run lock backed by the given path, creating the
// lock file if it does not exist.
func newRunLock(path string, timeout time.Duration) (*runLock, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	return &runLock{
		file:    file,
		timeout: timeout,
	}, nil
}

// Lock acquires an exclusive advisory lock using flock().
// Uses polling with backoff to implement timeout behavior.
func (l *runLock) Lock() error {
	if l.locked {
		return nil
	}

	deadline := time.Now().Add(l.timeout)
	sleepDuration := 10 * time.Millisecond

	for {
		err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			l.locked = true
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: timeout after %v", ErrLocked, l.timeout)
		}

		time.Sleep(sleepDuration)
		if sleepDuration < 100*time.Millisecond {
			sleepDuration *= 2
		}
	}
}

// Unlock releases the advisory lock and closes the file handle.
func (l *runLock) Unlock() error {
	if !l.locked {
		if l.file != nil {
			l.file.Close()
			l.file = nil
		}
		return nil
	}

	var unlockErr error
	if l.file != nil {
		unlockErr = syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
		l.file.Close()
		l.file = nil
	}
	l.locked = false

	return unlockErr
}
