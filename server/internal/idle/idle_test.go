package idle

import (
	"testing"
	"time"
)

var baseTime = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// at returns baseTime advanced by ms milliseconds.
func at(ms int) time.Time {
	return baseTime.Add(time.Duration(ms) * time.Millisecond)
}

func TestObserve_BecomesIdleOnlyAfterDwell(t *testing.T) {
	d := New(10, 15*time.Second)

	if d.Observe("m1", 5, at(0)) {
		t.Fatal("idle at dwell start")
	}
	if d.Observe("m1", 0, at(14999)) {
		t.Fatal("idle before 15000ms elapsed")
	}
	if !d.Observe("m1", 9.9, at(15000)) {
		t.Fatal("not idle at exactly 15000ms")
	}
}

func TestObserve_ResetsOnFirstFastSample(t *testing.T) {
	d := New(10, 15*time.Second)
	d.Observe("m1", 0, at(0))
	if !d.Observe("m1", 0, at(20000)) {
		t.Fatal("expected idle after 20s")
	}

	if d.Observe("m1", 10, at(22000)) {
		t.Error("speed == threshold must clear idle immediately")
	}
	st := d.State("m1")
	if st.IsIdle || st.DwellStartedAt != nil {
		t.Errorf("state after reset = %+v, want zero", st)
	}

	// The dwell restarts from the next slow sample.
	if d.Observe("m1", 0, at(24000)) {
		t.Error("idle immediately after reset")
	}
	if d.Observe("m1", 0, at(38999)) {
		t.Error("idle before a fresh 15s dwell")
	}
	if !d.Observe("m1", 0, at(39000)) {
		t.Error("not idle after a fresh 15s dwell")
	}
}

func TestObserve_CadenceIndependent(t *testing.T) {
	d := New(10, 15*time.Second)
	d.Observe("m1", 0, at(0))
	// A single late sample is enough; no intermediate samples required.
	if !d.Observe("m1", 0, at(60000)) {
		t.Error("sparse sampling should still detect idle")
	}
}

func TestObserve_MachinesIndependent(t *testing.T) {
	d := New(10, 15*time.Second)
	d.Observe("m1", 0, at(0))
	d.Observe("m2", 5000, at(0))

	if !d.Observe("m1", 0, at(16000)) {
		t.Error("m1 should be idle")
	}
	if d.Observe("m2", 0, at(16000)) {
		t.Error("m2 dwell only just started")
	}
}

func TestState_ReturnsCopy(t *testing.T) {
	d := New(10, 15*time.Second)
	d.Observe("m1", 0, at(0))

	st := d.State("m1")
	if st.DwellStartedAt == nil || !st.DwellStartedAt.Equal(at(0)) {
		t.Fatalf("DwellStartedAt = %v, want %v", st.DwellStartedAt, at(0))
	}
	*st.DwellStartedAt = at(99999)
	if got := d.State("m1").DwellStartedAt; !got.Equal(at(0)) {
		t.Error("mutating the returned state leaked into the detector")
	}
}

func TestNew_Defaults(t *testing.T) {
	d := New(0, 0)
	if d.threshold != DefaultSpeedThreshold || d.dwell != DefaultDwell {
		t.Errorf("defaults = (%v, %v)", d.threshold, d.dwell)
	}
}

func TestForget(t *testing.T) {
	d := New(10, time.Second)
	d.Observe("m1", 0, at(0))
	d.Forget("m1")
	if st := d.State("m1"); st.DwellStartedAt != nil {
		t.Errorf("state after Forget = %+v", st)
	}
}
