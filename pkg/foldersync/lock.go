package foldersync

import (
	"github.com/gofrs/flock"
	"gitlab.com/tozd/go/errors"
)

// ErrLocked is returned when another process holds the lock file.
var ErrLocked = errors.Base("replica is locked by another process")

// Lock is an advisory lock keeping two processes from mirroring into the same
// replica at once.
type Lock struct {
	flock *flock.Flock
}

// AcquireLock takes the lock at path without blocking.
func AcquireLock(path string) (*Lock, error) {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, errors.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return nil, errors.Errorf("%w: %s", ErrLocked, path)
	}
	return &Lock{flock: fl}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.flock.Path()
}

// Release unlocks the lock file.
func (l *Lock) Release() error {
	return l.flock.Unlock()
}
