// Package archive provides durable blob storage behind a narrow
// put/get contract. The value store and job registry persist their
// records through this interface; the backends are interchangeable.
package archive

import (
	"context"
	"sync"
)

// Archive is the persistence contract consumed by the engine core.
//
// Put overwrites: records such as job state transition in place and the
// caller decides what is immutable. Get reports absence via ok=false
// rather than an error so callers can distinguish "missing" from "broken".
type Archive interface {
	Put(ctx context.Context, key string, blob []byte) error
	Get(ctx context.Context, key string) (blob []byte, ok bool, err error)
	Close() error
}

// Memory is an in-process Archive for tests and ephemeral runs.
// Safe for concurrent use.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemory creates an empty in-memory archive.
func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte)}
}

// Put stores a copy of blob under key.
func (m *Memory) Put(_ context.Context, key string, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]byte, len(blob))
	copy(cp, blob)
	m.blobs[key] = cp
	return nil
}

// Get returns the blob stored under key, or ok=false if absent.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blob, ok := m.blobs[key]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(blob))
	copy(cp, blob)
	return cp, true, nil
}

// Close is a no-op for the in-memory archive.
func (m *Memory) Close() error { return nil }

// Len returns the number of stored blobs. Used by tests.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blobs)
}
