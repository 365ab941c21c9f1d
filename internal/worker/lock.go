package worker

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another invocation on this host holds the lock file.
var ErrLocked = errors.New("worker: another invocation is running")

// Lock is an exclusive per-host guard against overlapping invocations.
type Lock struct {
	fl *flock.Flock
}

// AcquireLock takes the lock file at path without blocking.
func AcquireLock(path string) (*Lock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, ErrLocked
	}
	return &Lock{fl: fl}, nil
}

// Release unlocks the file.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}
