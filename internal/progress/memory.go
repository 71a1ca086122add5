package progress

import (
	"context"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"bookstream/internal/domain"
)

const defaultMemoryCapacity = 512

// MemoryStore is an in-process Store with an LRU cap. The cap bounds
// memory, not correctness: eviction only forgets positions for items the
// user has not touched in a long time.
type MemoryStore struct {
	mu      sync.Mutex
	records *lru.Cache[domain.ItemID, domain.ProgressRecord]
	now     func() time.Time
}

func NewMemoryStore(capacity int) (*MemoryStore, error) {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	cache, err := lru.New[domain.ItemID, domain.ProgressRecord](capacity)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{records: cache, now: time.Now}, nil
}

func (s *MemoryStore) Get(_ context.Context, itemID domain.ItemID) (domain.ProgressRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records.Get(itemID)
	if !ok {
		return domain.ProgressRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Set(_ context.Context, rec domain.ProgressRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec.UpdatedAt = s.now().UTC()
	s.records.Add(rec.ItemID, rec)
	return nil
}

func (s *MemoryStore) ListRecent(_ context.Context, limit int) ([]domain.ProgressRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.ProgressRecord, 0, s.records.Len())
	for _, key := range s.records.Keys() {
		if rec, ok := s.records.Peek(key); ok {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	if limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}
