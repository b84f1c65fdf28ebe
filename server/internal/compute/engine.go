package compute

import (
	"log/slog"
	"sync"
	"time"

	"github.com/forgewatch/forgewatch/pkg/types"
)

// Calculator maintains the previous reading per machine and derives metrics
// from each new reading.
//
// All exported methods are safe for concurrent use. Callers must still
// serialize updates for the same machine id so "previous" has a meaning.
type Calculator struct {
	mu     sync.Mutex
	states map[string]*machineState
}

// machineState is the baseline kept for one machine.
type machineState struct {
	prev     types.RawReading
	prevTime time.Time
}

// NewCalculator returns a ready-to-use Calculator.
func NewCalculator() *Calculator {
	return &Calculator{states: make(map[string]*machineState)}
}

// Process derives metrics for r and then stores r as the baseline for
// machineID (last write wins).
//
// now is passed explicitly so callers (and tests) control the clock without
// sleeping. Use time.Now() in production.
func (c *Calculator) Process(machineID string, r types.RawReading, now time.Time) types.DerivedMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	in := Input{Reading: r}
	if st, ok := c.states[machineID]; ok {
		prev := st.prev
		in.Prev = &prev
		in.ElapsedMinutes = now.Sub(st.prevTime).Minutes()
		if in.ElapsedMinutes <= 0 {
			slog.Debug("compute: non-positive elapsed time, feed rate forced to 0",
				"machine", machineID, "elapsed_min", in.ElapsedMinutes)
		}
	}

	out := Derive(in)
	c.states[machineID] = &machineState{prev: r, prevTime: now}
	return out
}

// Forget drops the baseline for machineID. The next reading is treated as
// the first one.
func (c *Calculator) Forget(machineID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.states, machineID)
}
