package history

import (
	"context"
	"slices"
	"sync"
	"time"
)

// InMemoryStore keeps the newest records in process, up to capacity per
// target.
type InMemoryStore struct {
	mu       sync.RWMutex
	capacity int
	records  []Record
}

func NewInMemoryStore(capacity int) *InMemoryStore {
	if capacity <= 0 {
		capacity = 100
	}
	return &InMemoryStore{capacity: capacity}
}

func (s *InMemoryStore) Save(_ context.Context, record Record) error {
	if record.EndedAt.IsZero() {
		record.EndedAt = time.Now().UTC()
	}
	record.Replies = slices.Clone(record.Replies)
	record.Digits = slices.Clone(record.Digits)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)

	n := 0
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].Target != record.Target {
			continue
		}
		n++
		if n > s.capacity {
			s.records = slices.Delete(s.records, i, i+1)
			break
		}
	}
	return nil
}

func (s *InMemoryStore) Recent(_ context.Context, target string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, 0, min(limit, len(s.records)))
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if target == "" || s.records[i].Target == target {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }
