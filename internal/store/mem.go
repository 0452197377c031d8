package store

import (
	"context"
	"sort"
	"sync"
)

// Mem is an ephemeral in-memory Store. It is the default backend for
// library use and tests; results live only as long as the process.
type Mem struct {
	mu      sync.RWMutex
	entries map[Key]Entry
}

// NewMem returns an empty in-memory store.
func NewMem() *Mem {
	return &Mem{entries: make(map[Key]Entry)}
}

// Write creates or overwrites the entry for key.
func (m *Mem) Write(ctx context.Context, key Key, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry
	return nil
}

// Read returns the entry for key, or *NotFoundError.
func (m *Mem) Read(ctx context.Context, key Key) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[key]
	if !ok {
		return Entry{}, &NotFoundError{Key: key}
	}
	return entry, nil
}

// List returns the sub-target entries of target ordered by index.
func (m *Mem) List(ctx context.Context, target string) ([]SubEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var subs []SubEntry
	for key, entry := range m.entries {
		if key.Target == target && key.Index != WholeTarget {
			subs = append(subs, SubEntry{Index: key.Index, Entry: entry})
		}
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Index < subs[j].Index })
	return subs, nil
}

// Delete removes the entry for key, if present.
func (m *Mem) Delete(ctx context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

// Prune removes sub-target entries of target with index >= keep.
func (m *Mem) Prune(ctx context.Context, target string, keep int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.entries {
		if key.Target == target && key.Index != WholeTarget && key.Index >= keep {
			delete(m.entries, key)
		}
	}
	return nil
}

// Close is a no-op for the in-memory backend.
func (m *Mem) Close() error { return nil }
