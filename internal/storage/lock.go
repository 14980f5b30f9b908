// Package storage persists the drover task collections as JSON files
// guarded by lock sentinels, so concurrent processes can safely share
// a data directory.
package storage

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/droverhq/drover/internal/config"
)

// ErrBusy is returned when a lock sentinel could not be acquired
// before the timeout elapsed.
var ErrBusy = errors.New("storage busy")

// FileLock guards a data file with a sentinel file created using
// O_CREATE|O_EXCL, which is atomic on every filesystem we care about.
type FileLock struct {
	path     string
	timeout  time.Duration
	interval time.Duration
}

// NewFileLock returns a lock guarding target. The sentinel lives at
// target + ".lock".
func NewFileLock(target string) *FileLock {
	return &FileLock{
		path:     target + ".lock",
		timeout:  config.LockTimeout,
		interval: config.LockRetryInterval,
	}
}

// Acquire creates the sentinel, retrying until the timeout expires.
func (l *FileLock) Acquire() error {
	deadline := time.Now().Add(l.timeout)
	for {
		f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			f.Close()
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("create lock %s: %w", l.path, err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrBusy, l.path)
		}
		time.Sleep(l.interval)
	}
}

// Release removes the sentinel. Releasing a lock that is already gone
// is not an error.
func (l *FileLock) Release() {
	_ = os.Remove(l.path)
}
