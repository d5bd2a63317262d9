package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Object is one stored document in a Memory backend.
type Object struct {
	Data         []byte
	ContentType  string
	OriginalName string
}

// Memory is an in-process Storage. It is used by the CLI and by tests.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewMemory creates an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]Object)}
}

// Put implements Storage.
func (m *Memory) Put(ctx context.Context, data []byte, contentType, originalName string) (string, error) {
	key := NewKey(time.Now(), originalName)
	m.PutKey(key, Object{
		Data:         append([]byte(nil), data...),
		ContentType:  contentType,
		OriginalName: originalName,
	})
	return key, nil
}

// PutKey stores obj under a caller chosen key.
func (m *Memory) PutKey(key string, obj Object) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = obj
}

// Get implements Storage.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", key, ErrNotFound)
	}
	return append([]byte(nil), obj.Data...), nil
}

// Delete implements Storage.
func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Len returns the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}

var _ Storage = (*Memory)(nil)
