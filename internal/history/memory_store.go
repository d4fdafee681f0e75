package history

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]*Snapshot // keyed by lowercase account, oldest first
	nextID    int64
}

// NewMemoryStore creates an in-memory snapshot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string][]*Snapshot),
		nextID:    1,
	}
}

func (s *MemoryStore) Save(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *snap
	stored.ID = s.nextID
	stored.Account = strings.ToLower(stored.Account)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	s.nextID++

	s.snapshots[stored.Account] = append(s.snapshots[stored.Account], &stored)

	snap.ID = stored.ID
	snap.CreatedAt = stored.CreatedAt
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, q Query) ([]*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.snapshots[strings.ToLower(q.Account)]

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	var out []*Snapshot
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		snap := all[i]
		if !q.From.IsZero() && snap.CreatedAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && snap.CreatedAt.After(q.To) {
			continue
		}
		if !q.Before.IsZero() && !snap.CreatedAt.Before(q.Before) {
			continue
		}
		copied := *snap
		out = append(out, &copied)
	}
	return out, nil
}

func (s *MemoryStore) Latest(ctx context.Context, account string) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.snapshots[strings.ToLower(account)]
	if len(all) == 0 {
		return nil, nil
	}
	copied := *all[len(all)-1]
	return &copied, nil
}
