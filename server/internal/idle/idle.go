// Package idle debounces the near-zero spindle speed condition. A machine is
// idle once its speed has stayed below the threshold for at least the dwell
// window; the verdict is recomputed on every sample by comparing wall-clock
// times, so it does not depend on sampling cadence or timers.
package idle

import (
	"sync"
	"time"

	"github.com/forgewatch/forgewatch/pkg/types"
)

// Defaults for Detector.
const (
	DefaultSpeedThreshold = 10.0
	DefaultDwell          = 15 * time.Second
)

// Detector tracks the idle dwell per machine. It is safe for concurrent use.
type Detector struct {
	threshold float64
	dwell     time.Duration

	mu     sync.Mutex
	states map[string]*types.IdleState
}

// New returns a Detector. Non-positive arguments fall back to the defaults.
func New(threshold float64, dwell time.Duration) *Detector {
	if threshold <= 0 {
		threshold = DefaultSpeedThreshold
	}
	if dwell <= 0 {
		dwell = DefaultDwell
	}
	return &Detector{
		threshold: threshold,
		dwell:     dwell,
		states:    make(map[string]*types.IdleState),
	}
}

// Observe records the spindle speed sampled at now and returns whether the
// machine is idle.
func (d *Detector) Observe(machineID string, speed float64, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.states[machineID]
	if !ok {
		st = &types.IdleState{}
		d.states[machineID] = st
	}

	if speed >= d.threshold {
		st.DwellStartedAt = nil
		st.IsIdle = false
		return false
	}

	if st.DwellStartedAt == nil {
		started := now
		st.DwellStartedAt = &started
	}
	st.IsIdle = now.Sub(*st.DwellStartedAt) >= d.dwell
	return st.IsIdle
}

// State returns a copy of the idle state for machineID. Unknown machines
// report the zero state.
func (d *Detector) State(machineID string) types.IdleState {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.states[machineID]
	if !ok {
		return types.IdleState{}
	}
	out := types.IdleState{IsIdle: st.IsIdle}
	if st.DwellStartedAt != nil {
		started := *st.DwellStartedAt
		out.DwellStartedAt = &started
	}
	return out
}

// Forget drops the state of machineID.
func (d *Detector) Forget(machineID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.states, machineID)
}
