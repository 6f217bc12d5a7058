// Package hint persists small routing hints that must survive the bridge
// and be readable by the hook producer, which runs as a separate process
// spawned by the agent.
package hint

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// KeyCurrentChannel holds the channel the agent last received a message for.
const KeyCurrentChannel = "current_channel"

// ErrNotFound is returned by Get when no value is stored under the key.
var ErrNotFound = errors.New("hint not found")

// Store is a string key-value store.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Close() error
}

// Backing kinds accepted by Open.
const (
	KindFile   = "file"
	KindSQLite = "sqlite"
	KindMemory = "memory"
)

// DefaultDir returns ~/.claude/hooks, the directory the hook producer reads.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "agentbridge-hooks")
	}
	return filepath.Join(home, ".claude", "hooks")
}

// Open returns the store of the given kind rooted at dir. An empty dir
// means DefaultDir and an empty kind means KindFile.
func Open(kind, dir string) (Store, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	switch kind {
	case "", KindFile:
		return NewFileStore(dir), nil
	case KindSQLite:
		return OpenSQLite(filepath.Join(dir, "hints.db"))
	case KindMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown hint store %q (want %s, %s or %s)", kind, KindFile, KindSQLite, KindMemory)
	}
}

// MemoryStore keeps hints in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

// Set implements Store.
func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }
