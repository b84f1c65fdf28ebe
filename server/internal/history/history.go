// Package history keeps a bounded rolling window of chart points per machine.
package history

import (
	"sync"
	"time"

	"github.com/forgewatch/forgewatch/pkg/types"
	"github.com/forgewatch/forgewatch/server/internal/ring"
)

// Size limits for the per-machine window.
const (
	DefaultSize = 60
	MaxSize     = 120
)

// Point flattens a snapshot into the chart row recorded at at.
func Point(snap types.MachineSnapshot, at time.Time) types.HistoryPoint {
	return types.HistoryPoint{
		Time:           at.Format("15:04:05"),
		S1:             snap.Raw.Spindle.Speed,
		Master:         snap.Derived.FeedRate,
		SpindleSpeed:   snap.Raw.Spindle.Speed,
		SpindleLoad:    snap.Raw.Spindle.Load,
		Temperature:    snap.Raw.Spindle.Temperature,
		PartsCompleted: snap.Raw.Production.PartsCompleted,
		PartsTarget:    snap.Raw.Production.PartsTarget,
		OEE:            snap.Derived.OEE,
		Timestamp:      at.UnixMilli(),
	}
}

// Store holds one ring of points per machine. Store is safe for concurrent use.
type Store struct {
	size int

	mu      sync.RWMutex
	buffers map[string]*ring.Buffer[types.HistoryPoint]
}

// New returns a Store keeping size points per machine; size is clamped to
// [1, MaxSize] and zero selects DefaultSize.
func New(size int) *Store {
	switch {
	case size == 0:
		size = DefaultSize
	case size < 1:
		size = 1
	case size > MaxSize:
		size = MaxSize
	}
	return &Store{
		size:    size,
		buffers: make(map[string]*ring.Buffer[types.HistoryPoint]),
	}
}

// Size returns the per-machine capacity.
func (s *Store) Size() int { return s.size }

// Append records p for machineID, evicting the oldest point when full.
func (s *Store) Append(machineID string, p types.HistoryPoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buffers[machineID]
	if !ok {
		b = ring.New[types.HistoryPoint](s.size)
		s.buffers[machineID] = b
	}
	b.Push(p)
}

// Get returns the window for machineID, oldest first. Unknown machines yield
// an empty slice.
func (s *Store) Get(machineID string) []types.HistoryPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.buffers[machineID]
	if !ok {
		return []types.HistoryPoint{}
	}
	return b.Oldest()
}

// Forget drops the window for machineID.
func (s *Store) Forget(machineID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buffers, machineID)
}
