package history

import (
	"sort"
	"sync"
	"time"

	"github.com/MLidstrom/Castellan-sub000/internal/logger"
	"github.com/MLidstrom/Castellan-sub000/pkg/models"
)

// Key partitions the sliding window by (channel, event id, actor).
type Key struct {
	Channel string
	EventID int
	Actor   string
}

// KeyFor builds the history key for an event.
func KeyFor(e *models.RawEvent) Key {
	return Key{Channel: e.Channel, EventID: e.EventID, Actor: e.Actor}
}

// Config controls retention and sweep cadence.
type Config struct {
	Retention     time.Duration
	SweepInterval time.Duration
}

// Store is a concurrent sliding window of recent raw events. Writes to the
// same key serialize on a per-bucket mutex; writes to distinct keys do not
// contend beyond the shared bucket-map lock.
type Store struct {
	mu      sync.RWMutex
	buckets map[Key]*bucket

	cfg  Config
	now  func() time.Time
	stop chan struct{}
	done chan struct{}
}

type bucket struct {
	mu     sync.Mutex
	events []*models.RawEvent
	dead   bool // set under both s.mu and b.mu when swept out of the map
}

// NewStore creates a history store. Retention <= 0 means no retention limit.
func NewStore(cfg Config) *Store {
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 10 * time.Minute
	}
	return &Store{
		buckets: make(map[Key]*bucket, 256),
		cfg:     cfg,
		now:     time.Now,
	}
}

// SetClock overrides the store clock for deterministic sweeps.
func (s *Store) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Record appends the event under its key and trims entries older than the
// retention window. A sweep can delete an empty bucket between the map fetch
// and the append; the dead flag makes that visible and Record retries on a
// live bucket instead of writing into the orphan.
func (s *Store) Record(e *models.RawEvent) {
	if e == nil {
		return
	}
	k := KeyFor(e)
	for {
		b := s.bucketFor(k)
		b.mu.Lock()
		if b.dead {
			b.mu.Unlock()
			continue
		}
		b.events = append(b.events, e)
		b.trim(s.now(), s.cfg.Retention)
		b.mu.Unlock()
		return
	}
}

// RecentCount counts retained entries newer than now-window.
func (s *Store) RecentCount(k Key, window time.Duration, now time.Time) int {
	b := s.lookup(k)
	if b == nil {
		return 0
	}
	cutoff := now.Add(-window)
	n := 0
	b.mu.Lock()
	for _, e := range b.events {
		if e.Timestamp.After(cutoff) {
			n++
		}
	}
	b.mu.Unlock()
	return n
}

// Size returns the number of retained entries under the key.
func (s *Store) Size(k Key) int {
	b := s.lookup(k)
	if b == nil {
		return 0
	}
	b.mu.Lock()
	n := len(b.events)
	b.mu.Unlock()
	return n
}

// Events returns the retained entries under the key newer than now-window,
// oldest first.
func (s *Store) Events(k Key, window time.Duration, now time.Time) []*models.RawEvent {
	b := s.lookup(k)
	if b == nil {
		return nil
	}
	cutoff := now.Add(-window)
	b.mu.Lock()
	out := make([]*models.RawEvent, 0, len(b.events))
	for _, e := range b.events {
		if e.Timestamp.After(cutoff) {
			out = append(out, e)
		}
	}
	b.mu.Unlock()
	return out
}

// EventsForActor returns retained entries across all event ids for one
// (channel, actor) pair newer than now-window, oldest first.
func (s *Store) EventsForActor(channel, actor string, window time.Duration, now time.Time) []*models.RawEvent {
	cutoff := now.Add(-window)

	s.mu.RLock()
	matched := make([]*bucket, 0, 8)
	for k, b := range s.buckets {
		if k.Channel == channel && k.Actor == actor {
			matched = append(matched, b)
		}
	}
	s.mu.RUnlock()

	out := make([]*models.RawEvent, 0, 32)
	for _, b := range matched {
		b.mu.Lock()
		for _, e := range b.events {
			if e.Timestamp.After(cutoff) {
				out = append(out, e)
			}
		}
		b.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Sweep trims every bucket and removes the ones left empty, bounding memory.
// Trimming holds only the bucket's own mutex; the store-wide write lock is
// taken per deletion, so foreground reads and writes stall for at most one
// bucket at a time.
func (s *Store) Sweep(now time.Time) int {
	s.mu.RLock()
	keys := make([]Key, 0, len(s.buckets))
	for k := range s.buckets {
		keys = append(keys, k)
	}
	s.mu.RUnlock()

	removed := 0
	for _, k := range keys {
		b := s.lookup(k)
		if b == nil {
			continue
		}
		b.mu.Lock()
		b.trim(now, s.cfg.Retention)
		empty := len(b.events) == 0
		b.mu.Unlock()
		if !empty {
			continue
		}
		// Re-check emptiness with both locks held: a Record landing after
		// the trim must never be deleted with the bucket.
		s.mu.Lock()
		if s.buckets[k] == b {
			b.mu.Lock()
			if len(b.events) == 0 {
				b.dead = true
				delete(s.buckets, k)
				removed++
			}
			b.mu.Unlock()
		}
		s.mu.Unlock()
	}
	return removed
}

// Start launches the periodic sweep goroutine.
func (s *Store) Start() {
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := s.Sweep(s.now()); n > 0 {
					logger.Debugf("History sweep removed %d empty buckets", n)
				}
			case <-s.stop:
				return
			}
		}
	}()
}

// Stop terminates the sweep goroutine and waits for it to exit.
func (s *Store) Stop() {
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
	s.done = nil
}

func (s *Store) lookup(k Key) *bucket {
	s.mu.RLock()
	b := s.buckets[k]
	s.mu.RUnlock()
	return b
}

func (s *Store) bucketFor(k Key) *bucket {
	if b := s.lookup(k); b != nil {
		return b
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.buckets[k]; b != nil {
		return b
	}
	b := &bucket{}
	s.buckets[k] = b
	return b
}

// trim drops entries older than now-retention. Caller holds b.mu.
func (b *bucket) trim(now time.Time, retention time.Duration) {
	if retention <= 0 {
		return
	}
	cutoff := now.Add(-retention)
	idx := 0
	for idx < len(b.events) && !b.events[idx].Timestamp.After(cutoff) {
		idx++
	}
	if idx > 0 {
		b.events = b.events[idx:]
	}
}
