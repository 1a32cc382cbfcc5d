package session

import (
	"context"
	"errors"
	"sync"
)

// ErrSnapshotNotFound is returned by Persister.Load when nothing is stored
// under the key.
var ErrSnapshotNotFound = errors.New("session: snapshot not found")

// Persister stores opaque snapshot blobs under a key. Implementations must be
// safe for concurrent use.
type Persister interface {
	// Load returns the stored blob or ErrSnapshotNotFound.
	Load(ctx context.Context, key string) ([]byte, error)
	// Save replaces whatever is stored under key.
	Save(ctx context.Context, key string, data []byte) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// MemoryPersister keeps snapshots in process memory. Useful for tests and
// for short-lived CLI invocations that should not touch disk.
type MemoryPersister struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryPersister returns an empty MemoryPersister.
func NewMemoryPersister() *MemoryPersister {
	return &MemoryPersister{blobs: make(map[string][]byte)}
}

func (m *MemoryPersister) Load(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.blobs[key]
	if !ok {
		return nil, ErrSnapshotNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryPersister) Save(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	m.blobs[key] = append([]byte(nil), data...)
	m.mu.Unlock()
	return nil
}

func (m *MemoryPersister) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.blobs, key)
	m.mu.Unlock()
	return nil
}
