package corrstore

import (
	"sort"
	"sync"
	"time"

	"github.com/MLidstrom/Castellan-sub000/pkg/models"
)

// Store is a concurrent, TTL-evicted map of detected correlations. It does
// not validate; callers uphold the correlation invariants.
type Store struct {
	mu   sync.RWMutex
	byID map[string]*models.Correlation
}

// New creates an empty store.
func New() *Store {
	return &Store{byID: make(map[string]*models.Correlation, 128)}
}

// Put inserts or replaces a correlation by id.
func (s *Store) Put(c *models.Correlation) {
	if c == nil || c.ID == "" {
		return
	}
	s.mu.Lock()
	s.byID[c.ID] = c
	s.mu.Unlock()
}

// Get returns a correlation by id.
func (s *Store) Get(id string) (*models.Correlation, bool) {
	s.mu.RLock()
	c, ok := s.byID[id]
	s.mu.RUnlock()
	return c, ok
}

// Query returns correlations detected in [start, end), newest first.
func (s *Store) Query(start, end time.Time) []*models.Correlation {
	s.mu.RLock()
	out := make([]*models.Correlation, 0, len(s.byID))
	for _, c := range s.byID {
		if c.DetectedAt.Before(start) || !c.DetectedAt.Before(end) {
			continue
		}
		out = append(out, c)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	return out
}

// ByEvent returns every correlation that references the event id.
func (s *Store) ByEvent(eventID string) []*models.Correlation {
	s.mu.RLock()
	out := make([]*models.Correlation, 0, 4)
	for _, c := range s.byID {
		for _, id := range c.EventIDs {
			if id == eventID {
				out = append(out, c)
				break
			}
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	return out
}

// Len returns the number of stored correlations.
func (s *Store) Len() int {
	s.mu.RLock()
	n := len(s.byID)
	s.mu.RUnlock()
	return n
}

// EvictOlderThan removes correlations detected before now-maxAge and returns
// how many were removed. Expired ids are collected under the read lock and
// deleted one write lock at a time, so readers and writers stall for at most
// one entry. The age is re-checked at delete time in case Put replaced the
// entry in between.
func (s *Store) EvictOlderThan(maxAge time.Duration, now time.Time) int {
	cutoff := now.Add(-maxAge)

	s.mu.RLock()
	expired := make([]string, 0, 32)
	for id, c := range s.byID {
		if c.DetectedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	removed := 0
	for _, id := range expired {
		s.mu.Lock()
		if c, ok := s.byID[id]; ok && c.DetectedAt.Before(cutoff) {
			delete(s.byID, id)
			removed++
		}
		s.mu.Unlock()
	}
	return removed
}
