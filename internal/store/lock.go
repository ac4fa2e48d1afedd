package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// DirLock guards a data directory against concurrent writers. The serve and
// load commands both take it so a load cannot corrupt indexes under a running
// server.
type DirLock struct {
	lock *flock.Flock
}

// AcquireDirLock takes an exclusive lock on <dir>/.doclens.lock without
// blocking. Returns an error if another process holds it.
func AcquireDirLock(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	l := flock.New(filepath.Join(dir, ".doclens.lock"))
	ok, err := l.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire data directory lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("data directory %s is locked by another process", dir)
	}
	return &DirLock{lock: l}, nil
}

// Release unlocks the directory. Safe to call on a nil receiver.
func (d *DirLock) Release() error {
	if d == nil || d.lock == nil {
		return nil
	}
	return d.lock.Unlock()
}
