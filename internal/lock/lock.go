// Package lock provides cross-process advisory file locks for state shared
// between the bridge and short-lived hook invocations.
package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Acquire takes an exclusive advisory lock on path, creating the file and
// its directory if needed. It blocks until the lock is held. The returned
// function releases it.
func Acquire(path string) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating lock dir: %w", err)
	}
	fl := flock.New(path)
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("acquiring flock: %w", err)
	}
	return func() { _ = fl.Unlock() }, nil
}
