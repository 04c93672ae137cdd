package objectstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory Store used by tests and by local development
// when no object store is configured. PutErr, when set, is returned by
// every Put until cleared, which lets tests exercise retry paths.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int

	PutErr error
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.PutErr != nil {
		return m.PutErr
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m.objects[key] = data
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for key := range m.objects {
		if strings.HasPrefix(key, prefix) {
			delete(m.objects, key)
			deleted++
		}
	}
	return deleted, nil
}

func (m *MemoryStore) PublicURL(key string) string {
	return "memory://" + key
}

// SetPutErr injects or clears a Put failure.
func (m *MemoryStore) SetPutErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PutErr = err
}

// PutCalls reports how many Put attempts were made, failed ones included.
func (m *MemoryStore) PutCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

// Len reports the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}
