package ledger

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps entries in memory. Entries are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
	closed  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Append stores a copy of e.
func (s *MemoryStore) Append(ctx context.Context, e *Entry) error {
	if e == nil || e.ID == "" {
		return newStoreError("memory", "append", errors.New("entry id is required"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return newStoreError("memory", "append", ErrClosed)
	}

	entry := *e
	s.entries = append(s.entries, &entry)
	return nil
}

// Query returns copies of the matching entries.
func (s *MemoryStore) Query(ctx context.Context, f Filter) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, newStoreError("memory", "query", ErrClosed)
	}

	results := []*Entry{}
	for _, e := range s.entries {
		if f.matches(e) {
			entry := *e
			results = append(results, &entry)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].CompletedAt.Before(results[j].CompletedAt)
	})

	if f.Limit > 0 && len(results) > f.Limit {
		results = results[:f.Limit]
	}
	return results, nil
}

// Prune deletes entries completed before olderThan.
func (s *MemoryStore) Prune(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, newStoreError("memory", "prune", ErrClosed)
	}

	kept := s.entries[:0]
	var deleted int64
	for _, e := range s.entries {
		if e.CompletedAt.Before(olderThan) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	clear(s.entries[len(kept):])
	s.entries = kept
	return deleted, nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
