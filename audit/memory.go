package audit

import (
	"context"
	"sync"
)

// defaultCapacity bounds the in-memory store's retention.
const defaultCapacity = 10000

// MemoryStore keeps the newest entries in a fixed-size ring. When full, the
// oldest entry is evicted. It exists for tests and single-process tools; a
// real deployment backs the audit logger with durable storage.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []*Entry
	head    int
	count   int
}

// NewMemoryStore builds a ring holding at most capacity entries.
// A capacity of zero or less means the default of 10,000.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &MemoryStore{entries: make([]*Entry, capacity)}
}

// Save appends entry, evicting the oldest when the ring is full.
func (s *MemoryStore) Save(_ context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := (s.head + s.count) % len(s.entries)
	if s.count == len(s.entries) {
		s.head = (s.head + 1) % len(s.entries)
	} else {
		s.count++
	}
	s.entries[idx] = entry
	return nil
}

// Query returns matching entries newest first, honoring Offset and Limit.
// A Limit of zero or less means no limit.
func (s *MemoryStore) Query(_ context.Context, filter Filter) ([]*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Entry
	skipped := 0
	for i := s.count - 1; i >= 0; i-- {
		entry := s.entries[(s.head+i)%len(s.entries)]
		if !matches(entry, filter) {
			continue
		}
		if skipped < filter.Offset {
			skipped++
			continue
		}
		out = append(out, entry)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Count reports how many entries the store currently holds.
func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count, nil
}

// Clear discards all retained entries.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		s.entries[i] = nil
	}
	s.head = 0
	s.count = 0
	return nil
}

func matches(entry *Entry, filter Filter) bool {
	if filter.UserID != "" && entry.UserID != filter.UserID {
		return false
	}
	if filter.Action != "" && entry.Action != filter.Action {
		return false
	}
	if filter.Resource != "" && entry.Resource != filter.Resource {
		return false
	}
	if filter.Result != "" && entry.Result != filter.Result {
		return false
	}
	if !filter.From.IsZero() && entry.Timestamp.Before(filter.From) {
		return false
	}
	if !filter.To.IsZero() && entry.Timestamp.After(filter.To) {
		return false
	}
	return true
}

var _ Store = (*MemoryStore)(nil)
