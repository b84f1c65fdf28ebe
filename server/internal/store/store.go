package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/forgewatch/forgewatch/pkg/types"
)

// Entry is a snapshot together with the time it was last received.
type Entry struct {
	Snapshot  types.MachineSnapshot
	UpdatedAt time.Time
}

// Store is a thread-safe in-memory snapshot store keyed by machine id.
// A background goroutine (Run) periodically evicts entries that have not
// been updated within the configured TTL. A zero TTL disables eviction.
type Store struct {
	mu   sync.RWMutex
	data map[string]*Entry
	ttl  time.Duration
	now  func() time.Time
}

// New creates a Store with the given TTL. A nil now uses time.Now.
func New(ttl time.Duration, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		data: make(map[string]*Entry),
		ttl:  ttl,
		now:  now,
	}
}

// Put stores or replaces the snapshot for snap.ID.
func (s *Store) Put(snap types.MachineSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[snap.ID] = &Entry{
		Snapshot:  snap,
		UpdatedAt: s.now(),
	}
}

// Get returns the entry for id. The entry may be stale if TTL has elapsed.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.data[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// List returns the live entries sorted by machine id.
func (s *Store) List() []Entry {
	s.mu.RLock()
	cutoff := s.now().Add(-s.ttl)
	out := make([]Entry, 0, len(s.data))
	for _, e := range s.data {
		if s.ttl <= 0 || e.UpdatedAt.After(cutoff) {
			out = append(out, *e)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Snapshot.ID < out[j].Snapshot.ID })
	return out
}

// Count returns the total number of entries currently held, including stale ones.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Evict removes entries whose UpdatedAt is older than now minus TTL and
// returns the removed machine ids.
func (s *Store) Evict(now time.Time) []string {
	if s.ttl <= 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := now.Add(-s.ttl)
	var removed []string
	for id, e := range s.data {
		if !e.UpdatedAt.After(cutoff) {
			delete(s.data, id)
			removed = append(removed, id)
		}
	}
	sort.Strings(removed)
	return removed
}

// Run evicts stale entries every half TTL (minimum 1 second), passing the
// removed ids to onEvict when it is non-nil. Run blocks until ctx is
// cancelled; it returns immediately when eviction is disabled.
func (s *Store) Run(ctx context.Context, onEvict func(ids []string)) {
	if s.ttl <= 0 {
		return
	}
	interval := s.ttl / 2
	if interval < time.Second {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			ids := s.Evict(s.now())
			if len(ids) == 0 {
				continue
			}
			slog.Debug("store: evicted stale machines", "count", len(ids))
			if onEvict != nil {
				onEvict(ids)
			}
		}
	}
}
