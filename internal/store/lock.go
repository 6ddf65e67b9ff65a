package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	apperrors "etfwatch/internal/errors"
)

const lockName = ".etfwatch.lock"

// RunLock is an exclusive, cross-process lock on a data directory. Only one
// mutating run may hold it at a time. It is an advisory OS lock, so the
// kernel drops it when the holding process dies; a lock file left behind by
// a crash does not block later runs.
type RunLock struct {
	fl   *flock.Flock
	path string
}

// AcquireRunLock locks the lock file in dir. It fails with ErrLocked when
// another run holds it.
func AcquireRunLock(dir string) (*RunLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, apperrors.NewPersistenceError("mkdir", dir, err)
	}
	path := filepath.Join(dir, lockName)
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, apperrors.NewPersistenceError("lock", path, err)
	}
	if !locked {
		holder, _ := os.ReadFile(path)
		return nil, apperrors.Wrapf(apperrors.ErrLocked, "lock %s held by %s", path, strings.TrimSpace(string(holder)))
	}

	info := fmt.Sprintf("pid=%d started=%s\n", os.Getpid(), time.Now().Format(time.RFC3339))
	if err := os.WriteFile(path, []byte(info), 0644); err != nil {
		fl.Unlock()
		return nil, apperrors.NewPersistenceError("lock", path, err)
	}
	return &RunLock{fl: fl, path: path}, nil
}

// LockWait controls how WaitRunLock polls a held lock.
type LockWait struct {
	Timeout       time.Duration
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultLockWait polls with exponential backoff for up to timeout.
func DefaultLockWait(timeout time.Duration) LockWait {
	return LockWait{
		Timeout:       timeout,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      2 * time.Second,
		BackoffFactor: 2.0,
	}
}

// WaitRunLock acquires the run lock, retrying while another run holds it
// until w.Timeout elapses or ctx is done. A zero timeout tries once.
func WaitRunLock(ctx context.Context, dir string, w LockWait) (*RunLock, error) {
	lock, err := AcquireRunLock(dir)
	if err == nil || w.Timeout <= 0 || !apperrors.Is(err, apperrors.ErrLocked) {
		return lock, err
	}

	deadline := time.Now().Add(w.Timeout)
	delay := w.InitialDelay
	for attempt := 1; ; attempt++ {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, fmt.Errorf("gave up after %d attempts: %w", attempt, err)
		}
		if delay > remaining {
			delay = remaining
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		lock, err = AcquireRunLock(dir)
		if err == nil || !apperrors.Is(err, apperrors.ErrLocked) {
			return lock, err
		}
		delay = time.Duration(float64(delay) * w.BackoffFactor)
		if delay > w.MaxDelay {
			delay = w.MaxDelay
		}
	}
}

// Path returns the lock file path.
func (l *RunLock) Path() string { return l.path }

// Release unlocks the lock file. The file itself stays in place so that
// every run locks the same inode. It is safe to call more than once.
func (l *RunLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	fl := l.fl
	l.fl = nil
	if err := fl.Unlock(); err != nil {
		return apperrors.NewPersistenceError("unlock", l.path, err)
	}
	return nil
}
