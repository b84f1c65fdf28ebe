package logbook

import (
	"math/rand"
	"testing"
	"time"

	"github.com/forgewatch/forgewatch/pkg/types"
)

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func tick(n int) time.Time { return baseTime.Add(time.Duration(n) * time.Second) }

func newSynth(q QualityPolicy) *Synthesizer {
	return New(Options{
		Operators: NewRoundRobin([]string{"A", "B"}),
		Quality:   q,
	})
}

func snap(status types.Status, speed, parts float64) types.MachineSnapshot {
	return types.MachineSnapshot{
		ID:   "machine1",
		Name: "CNC Machine 1",
		Raw: types.RawReading{
			Status:     status,
			Spindle:    types.Spindle{Speed: speed},
			Production: types.Production{PartsCompleted: parts, CycleTime: 95},
		},
	}
}

func TestObserve_FirstSampleRecordsNothing(t *testing.T) {
	s := newSynth(FixedQuality(types.QualityPass))
	ev, wp := s.Observe(nil, snap(types.StatusRunning, 8000, 10), tick(0))
	if ev != nil || wp != nil {
		t.Errorf("first sample produced %d events, %d workpieces", len(ev), len(wp))
	}
	if len(s.Events()) != 0 || len(s.Workpieces()) != 0 {
		t.Error("first sample was recorded")
	}
}

func TestObserve_StatusTransitions(t *testing.T) {
	cases := []struct {
		from, to types.Status
		typ      types.EventType
		msg      string
		details  string
	}{
		{types.StatusIdle, types.StatusRunning, types.EventStart, "Machine started (was IDLE)", "Status: IDLE → RUNNING"},
		{types.StatusRunning, types.StatusIdle, types.EventStop, "Machine went idle", "S1 < 10 RPM for 15s"},
		{types.StatusRunning, types.StatusAlarm, types.EventAlarm, "Alarm triggered", "Automatic alarm detection"},
		{types.StatusRunning, types.StatusMaintenance, types.EventMaintenance, "Maintenance started", "Status: RUNNING → MAINTENANCE"},
	}
	for _, c := range cases {
		s := newSynth(nil)
		prev := snap(c.from, 5000, 0)
		ev, _ := s.Observe(&prev, snap(c.to, 5000, 0), tick(1))
		if len(ev) != 1 {
			t.Errorf("%s → %s: %d events, want 1", c.from, c.to, len(ev))
			continue
		}
		e := ev[0]
		if e.Type != c.typ || e.Message != c.msg || e.Details != c.details {
			t.Errorf("%s → %s: got %+v", c.from, c.to, e)
		}
		if e.ID == "" || e.Operator != "A" || e.MachineName != "CNC Machine 1" || !e.Timestamp.Equal(tick(1)) {
			t.Errorf("%s → %s: metadata %+v", c.from, c.to, e)
		}
	}
}

func TestObserve_UnmappedTransitionsAreSilent(t *testing.T) {
	s := newSynth(nil)
	for _, to := range []types.Status{types.StatusPaused, types.StatusOffline} {
		prev := snap(types.StatusRunning, 5000, 0)
		if ev, _ := s.Observe(&prev, snap(to, 5000, 0), tick(1)); len(ev) != 0 {
			t.Errorf("RUNNING → %s produced %+v", to, ev)
		}
	}
	prev := snap(types.StatusRunning, 5000, 0)
	if ev, _ := s.Observe(&prev, snap(types.StatusRunning, 5000, 0), tick(1)); len(ev) != 0 {
		t.Errorf("unchanged status produced %+v", ev)
	}
}

func TestObserve_ParameterChange(t *testing.T) {
	s := newSynth(nil)
	prev := snap(types.StatusRunning, 8000, 0)

	if ev, _ := s.Observe(&prev, snap(types.StatusRunning, 8500, 0), tick(1)); len(ev) != 0 {
		t.Errorf("delta of exactly 500 produced %+v", ev)
	}

	ev, _ := s.Observe(&prev, snap(types.StatusRunning, 7400, 0), tick(2))
	if len(ev) != 1 || ev[0].Type != types.EventParameterChange {
		t.Fatalf("events = %+v", ev)
	}
	if ev[0].Message != "S1: 8000 → 7400 RPM" || ev[0].Details != "Delta: -600 RPM" {
		t.Errorf("message = %q, details = %q", ev[0].Message, ev[0].Details)
	}
}

func TestObserve_StatusAndParameterInOneCycle(t *testing.T) {
	s := newSynth(nil)
	prev := snap(types.StatusIdle, 0, 0)
	ev, _ := s.Observe(&prev, snap(types.StatusRunning, 9000, 0), tick(1))

	if len(ev) != 2 || ev[0].Type != types.EventStart || ev[1].Type != types.EventParameterChange {
		t.Fatalf("events = %+v", ev)
	}
	if ev[0].ID == ev[1].ID {
		t.Error("events share an id")
	}
	got := s.Events()
	if got[0].Type != types.EventParameterChange {
		t.Errorf("Events()[0] = %s, want newest first", got[0].Type)
	}
}

func TestObserve_Workpieces(t *testing.T) {
	s := newSynth(NewSequenceQuality(types.QualityPass, types.QualityFail, types.QualityRework))
	prev := snap(types.StatusRunning, 5000, 10)

	_, wp := s.Observe(&prev, snap(types.StatusRunning, 5000, 13), tick(1))
	if len(wp) != 3 {
		t.Fatalf("workpieces = %d, want 3", len(wp))
	}
	want := []types.Quality{types.QualityPass, types.QualityFail, types.QualityRework}
	for i, w := range wp {
		if w.Quality != want[i] {
			t.Errorf("wp[%d].Quality = %s, want %s", i, w.Quality, want[i])
		}
		if w.BatchID != wp[0].BatchID || w.BatchID == "" {
			t.Errorf("wp[%d] batch %q differs", i, w.BatchID)
		}
		if w.CycleTime != 95 {
			t.Errorf("wp[%d].CycleTime = %v", i, w.CycleTime)
		}
	}
	if wp[0].PartID != "WP-0001" || wp[2].PartID != "WP-0003" {
		t.Errorf("part ids = %s .. %s", wp[0].PartID, wp[2].PartID)
	}

	prev = snap(types.StatusRunning, 5000, 13)
	cur := snap(types.StatusRunning, 5000, 14)
	cur.Raw.Production.CycleTime = 0
	_, wp2 := s.Observe(&prev, cur, tick(2))
	if len(wp2) != 1 || wp2[0].PartID != "WP-0004" || wp2[0].CycleTime != DefaultCycleTime {
		t.Errorf("second batch = %+v", wp2)
	}
	if wp2[0].BatchID == wp[0].BatchID {
		t.Error("batch id reused across cycles")
	}
}

func TestObserve_FractionalPartsCountWholeParts(t *testing.T) {
	s := newSynth(nil)
	a, b, c := snap(types.StatusRunning, 5000, 5), snap(types.StatusRunning, 5000, 6.5), snap(types.StatusRunning, 5000, 7)

	_, first := s.Observe(&a, b, tick(1))
	_, second := s.Observe(&b, c, tick(2))
	if len(first)+len(second) != 2 {
		t.Errorf("workpieces = %d + %d, want 2 in total", len(first), len(second))
	}
}

func TestObserve_NoWorkpiecesOnDecrease(t *testing.T) {
	s := newSynth(nil)
	prev := snap(types.StatusRunning, 5000, 10)
	if _, wp := s.Observe(&prev, snap(types.StatusRunning, 5000, 0), tick(1)); len(wp) != 0 {
		t.Errorf("counter reset produced %d workpieces", len(wp))
	}
}

func TestCapacities(t *testing.T) {
	s := newSynth(FixedQuality(types.QualityPass))
	for i := 0; i < EventCapacity+5; i++ {
		prev := snap(types.StatusRunning, 0, 0)
		s.Observe(&prev, snap(types.StatusRunning, 1000, 0), tick(i))
	}
	if n := len(s.Events()); n != EventCapacity {
		t.Errorf("events = %d, want %d", n, EventCapacity)
	}

	prev := snap(types.StatusRunning, 0, 0)
	s.Observe(&prev, snap(types.StatusRunning, 0, 250), tick(0))
	got := s.Workpieces()
	if len(got) != WorkpieceCapacity {
		t.Errorf("workpieces = %d, want %d", len(got), WorkpieceCapacity)
	}
}

func TestRandomQuality_Distribution(t *testing.T) {
	q := NewRandomQuality(rand.NewSource(1))
	counts := map[types.Quality]int{}
	for i := 0; i < 20000; i++ {
		counts[q.Quality()]++
	}
	fail := float64(counts[types.QualityFail]) / 20000
	rework := float64(counts[types.QualityRework]) / 20000
	if fail < 0.04 || fail > 0.06 {
		t.Errorf("fail rate = %.3f, want ~0.05", fail)
	}
	if rework < 0.08 || rework > 0.11 {
		t.Errorf("rework rate = %.3f, want ~0.095", rework)
	}
}

func TestRoundRobin(t *testing.T) {
	p := NewRoundRobin([]string{"A", "B", "C"})
	var got []string
	for i := 0; i < 4; i++ {
		got = append(got, p.Operator())
	}
	if got[0] != "A" || got[2] != "C" || got[3] != "A" {
		t.Errorf("sequence = %v", got)
	}
}

func TestRandomOperator_StaysInRoster(t *testing.T) {
	p := NewRandomOperator(DefaultRoster, rand.NewSource(7))
	in := map[string]bool{}
	for _, r := range DefaultRoster {
		in[r] = true
	}
	for i := 0; i < 100; i++ {
		if op := p.Operator(); !in[op] {
			t.Fatalf("operator %q not in roster", op)
		}
	}
}
