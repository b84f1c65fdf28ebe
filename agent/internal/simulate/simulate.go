// Package simulate generates plausible CNC telemetry for the agent.
//
// Every machine follows slow sine waves around its configured base speed,
// with a 10% chance per sample of reporting IDLE (spindle stopped). Machine i
// runs with a phase offset of i seconds so machines do not move in lockstep.
package simulate

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/forgewatch/forgewatch/agent/internal/config"
	"github.com/forgewatch/forgewatch/pkg/types"
)

// idleChance is the probability that a sample reports IDLE.
const idleChance = 0.1

// Runtime counters start from these offsets, in seconds.
const (
	runtimeTotalBase = 50000
	runtimeTodayBase = 15000
	lastJobSeconds   = 120
)

// Generator produces one reading per configured machine per call to Next.
//
// Generator is safe for concurrent use.
type Generator struct {
	start time.Time

	mu       sync.Mutex
	machines []config.Machine
	rnd      *rand.Rand
}

// New returns a Generator whose sine phase starts at start. A nil src seeds
// from the clock.
func New(machines []config.Machine, src rand.Source, start time.Time) *Generator {
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}
	return &Generator{
		start:    start,
		machines: append([]config.Machine(nil), machines...),
		rnd:      rand.New(src), //nolint:gosec // simulation only
	}
}

// SetMachines replaces the simulated machine set.
func (g *Generator) SetMachines(machines []config.Machine) {
	g.mu.Lock()
	g.machines = append([]config.Machine(nil), machines...)
	g.mu.Unlock()
}

// Next returns a batch stamped at now.
func (g *Generator) Next(now time.Time) types.Batch {
	g.mu.Lock()
	defer g.mu.Unlock()

	elapsed := now.Sub(g.start).Seconds()
	batch := make(types.Batch, len(g.machines))
	for i, m := range g.machines {
		running := g.rnd.Float64() > idleChance
		batch[m.ID] = reading(m, elapsed+float64(i), running, now)
	}
	return batch
}

func reading(m config.Machine, t float64, running bool, now time.Time) types.RawReading {
	r := types.RawReading{
		Status: types.StatusIdle,
		Spindle: types.Spindle{
			Temperature: round(42+math.Sin(t*0.3)*5, 1),
		},
		Axis: types.Axis{
			X: round(150+math.Sin(t*0.5)*50, 2),
			Y: round(75+math.Cos(t*0.4)*30, 2),
			Z: round(-25+math.Sin(t*0.8)*10, 2),
		},
		Production: types.Production{
			PartsCompleted: parts(t, m.PartsTarget),
			PartsTarget:    m.PartsTarget,
			CycleTime:      m.CycleTime,
		},
		Runtime: types.Runtime{
			Total:   runtimeTotalBase + math.Floor(t),
			Today:   runtimeTodayBase + math.Floor(t),
			LastJob: lastJobSeconds,
		},
		Alarms:    []string{},
		Timestamp: now,
	}
	if running {
		r.Status = types.StatusRunning
		r.Spindle.Speed = math.Round(m.BaseSpeed + math.Sin(t)*500)
		r.Spindle.Load = round(65+math.Sin(t*0.7)*10, 1)
	}
	return r
}

// parts completes one part every two seconds and wraps at target.
func parts(t, target float64) float64 {
	n := math.Floor(t * 0.5)
	if target > 0 {
		n = math.Mod(n, target)
	}
	return n
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
