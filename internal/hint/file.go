package hint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/steveyegge/agentbridge/internal/lock"
	"github.com/steveyegge/agentbridge/internal/util"
)

// FileStore keeps each key in its own dotfile under dir, e.g.
// current_channel lives in dir/.current_channel. Writes replace the file
// atomically under an advisory lock shared by every process using dir.
type FileStore struct {
	dir string
}

// NewFileStore returns a FileStore rooted at dir. The directory is created
// on first write.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Path returns the file that holds key.
func (s *FileStore) Path(key string) string {
	return filepath.Join(s.dir, "."+key)
}

func (s *FileStore) lockPath() string {
	return filepath.Join(s.dir, ".hints.lock")
}

// Get implements Store. Surrounding whitespace is trimmed; an empty file
// reads as not found.
func (s *FileStore) Get(_ context.Context, key string) (string, error) {
	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("reading hint %s: %w", key, err)
	}
	v := strings.TrimSpace(string(data))
	if v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

// Set implements Store.
func (s *FileStore) Set(_ context.Context, key, value string) error {
	release, err := lock.Acquire(s.lockPath())
	if err != nil {
		return fmt.Errorf("acquire hint lock: %w", err)
	}
	defer release()

	if err := util.AtomicWriteFile(s.Path(key), []byte(value), 0o644); err != nil {
		return fmt.Errorf("writing hint %s: %w", key, err)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }
