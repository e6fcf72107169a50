package history

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Useful for tests and for embedding the
// player without a database file.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Progress
	limit   int
}

// NewMemoryStore creates an empty in-memory store with the given retention
// limit (values < 1 fall back to 20).
func NewMemoryStore(limit int) *MemoryStore {
	if limit < 1 {
		limit = 20
	}
	return &MemoryStore{
		records: make(map[string]Progress),
		limit:   limit,
	}
}

// Save records progress for a title, evicting the oldest title when the
// retention limit is exceeded.
func (s *MemoryStore) Save(titleID, episodeID string, position, duration float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[titleID] = Progress{
		TitleID:   titleID,
		EpisodeID: episodeID,
		Position:  position,
		Duration:  duration,
		UpdatedAt: time.Now(),
	}

	for len(s.records) > s.limit {
		oldest := ""
		var oldestAt time.Time
		for id, rec := range s.records {
			if oldest == "" || rec.UpdatedAt.Before(oldestAt) {
				oldest = id
				oldestAt = rec.UpdatedAt
			}
		}
		delete(s.records, oldest)
	}
	return nil
}

// Get returns the stored progress for a title.
func (s *MemoryStore) Get(titleID string) (Progress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[titleID]
	return rec, ok
}

// Remove deletes one title's record.
func (s *MemoryStore) Remove(titleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, titleID)
	return nil
}

// Clear deletes all records.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]Progress)
	return nil
}

// List returns records most recently updated first.
func (s *MemoryStore) List() ([]Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Progress, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
