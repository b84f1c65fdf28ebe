package simulate

import (
	"math/rand"
	"testing"
	"time"

	"github.com/forgewatch/forgewatch/agent/internal/config"
	"github.com/forgewatch/forgewatch/pkg/types"
)

var baseTime = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

func tick(n int) time.Time { return baseTime.Add(time.Duration(n) * time.Second) }

func machines() []config.Machine {
	return []config.Machine{
		{ID: "machine1", BaseSpeed: 12000, PartsTarget: 300, CycleTime: 100},
		{ID: "machine2", BaseSpeed: 8500, PartsTarget: 300, CycleTime: 100},
	}
}

func TestNext_OneReadingPerMachine(t *testing.T) {
	g := New(machines(), rand.NewSource(1), baseTime)
	b := g.Next(tick(2))

	if len(b) != 2 {
		t.Fatalf("batch size = %d, want 2", len(b))
	}
	for id, r := range b {
		if !r.Timestamp.Equal(tick(2)) {
			t.Errorf("%s timestamp = %v", id, r.Timestamp)
		}
		if r.Production.PartsTarget != 300 || r.Production.CycleTime != 100 {
			t.Errorf("%s production = %+v", id, r.Production)
		}
		if r.Alarms == nil {
			t.Errorf("%s alarms must be non-nil", id)
		}
	}
}

func TestNext_Deterministic(t *testing.T) {
	a := New(machines(), rand.NewSource(7), baseTime)
	b := New(machines(), rand.NewSource(7), baseTime)
	for i := 0; i < 20; i++ {
		ra, rb := a.Next(tick(i*2)), b.Next(tick(i*2))
		for id := range ra {
			if ra[id].Status != rb[id].Status || ra[id].Spindle != rb[id].Spindle {
				t.Fatalf("sample %d %s differs: %+v vs %+v", i, id, ra[id], rb[id])
			}
		}
	}
}

func TestNext_MostlyRunningWithinBounds(t *testing.T) {
	g := New(machines()[:1], rand.NewSource(3), baseTime)

	var running int
	const samples = 1000
	for i := 0; i < samples; i++ {
		r := g.Next(tick(i))["machine1"]
		switch r.Status {
		case types.StatusRunning:
			running++
			if r.Spindle.Speed < 11500 || r.Spindle.Speed > 12500 {
				t.Fatalf("speed %v outside base±500", r.Spindle.Speed)
			}
			if r.Spindle.Load < 55 || r.Spindle.Load > 75 {
				t.Fatalf("load %v outside 65±10", r.Spindle.Load)
			}
		case types.StatusIdle:
			if r.Spindle.Speed != 0 || r.Spindle.Load != 0 {
				t.Fatalf("idle sample has spindle %+v", r.Spindle)
			}
		default:
			t.Fatalf("unexpected status %q", r.Status)
		}
		if r.Spindle.Temperature < 37 || r.Spindle.Temperature > 47 {
			t.Fatalf("temperature %v outside 42±5", r.Spindle.Temperature)
		}
	}
	if ratio := float64(running) / samples; ratio < 0.85 || ratio > 0.95 {
		t.Errorf("running ratio = %.2f, want about 0.90", ratio)
	}
}

func TestNext_PartsWrapAtTarget(t *testing.T) {
	g := New([]config.Machine{{ID: "m", PartsTarget: 10, CycleTime: 1}}, rand.NewSource(1), baseTime)

	if got := g.Next(tick(8))["m"].Production.PartsCompleted; got != 4 {
		t.Errorf("parts at 8s = %v, want 4", got)
	}
	if got := g.Next(tick(24))["m"].Production.PartsCompleted; got != 2 {
		t.Errorf("parts at 24s = %v, want 2 (wrapped)", got)
	}
}

func TestSetMachines(t *testing.T) {
	g := New(machines(), rand.NewSource(1), baseTime)
	g.SetMachines([]config.Machine{{ID: "machine9", BaseSpeed: 1000}})

	b := g.Next(tick(1))
	if _, ok := b["machine9"]; !ok || len(b) != 1 {
		t.Errorf("batch = %v, want only machine9", b)
	}
}
