package cas

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store. It is safe for concurrent use.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[ContentHash][]byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[ContentHash][]byte)}
}

// Write implements Store.
func (m *MemoryStore) Write(ctx context.Context, content []byte, _ Tenancy, _ Actor) (ContentHash, bool, error) {
	if err := ctx.Err(); err != nil {
		return ContentHash{}, false, err
	}
	hash := Hash(content)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[hash]; ok {
		return hash, false, nil
	}
	stored := make([]byte, len(content))
	copy(stored, content)
	m.objects[hash] = stored
	return hash, true, nil
}

// ReadMany implements Store.
func (m *MemoryStore) ReadMany(ctx context.Context, hashes []ContentHash) (map[ContentHash][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[ContentHash][]byte, len(hashes))
	for _, h := range hashes {
		if data, ok := m.objects[h]; ok {
			result[h] = data
		}
	}
	return result, nil
}

// Len returns the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
