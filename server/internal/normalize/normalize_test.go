package normalize

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/forgewatch/forgewatch/pkg/types"
)

var baseTime = time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)

const validReading = `{
  "status": "running",
  "spindle": {"speed": 12000, "load": 65.5, "temperature": 42},
  "axis": {"x": 150, "y": 75, "z": -25},
  "production": {"partsCompleted": 10, "partsTarget": 300, "cycleTime": 100},
  "runtime": {"total": 50000, "today": 15000, "lastJob": 120},
  "alarms": ["E01"],
  "timestamp": "2026-01-01T07:59:58Z"
}`

func fieldsOf(t *testing.T, err error) []string {
	t.Helper()
	var errs Errors
	if !errors.As(err, &errs) {
		t.Fatalf("error %v is not Errors", err)
	}
	out := make([]string, len(errs))
	for i, fe := range errs {
		out[i] = fe.Field
	}
	return out
}

func TestDecode_ValidReading(t *testing.T) {
	r, err := Decode([]byte(validReading), baseTime)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if r.Status != types.StatusRunning {
		t.Errorf("Status = %q, want RUNNING (upper-cased)", r.Status)
	}
	if r.Spindle.Load != 65.5 || r.Axis.Z != -25 || r.Production.PartsTarget != 300 || r.Runtime.LastJob != 120 {
		t.Errorf("numeric fields not copied: %+v", r)
	}
	if len(r.Alarms) != 1 || r.Alarms[0] != "E01" {
		t.Errorf("Alarms = %v, want [E01]", r.Alarms)
	}
	want := time.Date(2026, 1, 1, 7, 59, 58, 0, time.UTC)
	if !r.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", r.Timestamp, want)
	}
}

func TestDecode_MissingSectionsDefaultToZero(t *testing.T) {
	r, err := Decode([]byte(`{"status":"IDLE"}`), baseTime)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if r.Spindle.Speed != 0 || r.Runtime.Today != 0 {
		t.Errorf("absent fields should be zero, got %+v", r)
	}
	if !r.Timestamp.Equal(baseTime) {
		t.Errorf("Timestamp = %v, want ingest time %v", r.Timestamp, baseTime)
	}
	if r.Alarms == nil {
		t.Error("Alarms should be an empty slice, got nil")
	}
}

func TestDecode_MissingStatus(t *testing.T) {
	_, err := Decode([]byte(`{"spindle":{"speed":1}}`), baseTime)
	if err == nil {
		t.Fatal("expected error for missing status")
	}
	if got := fieldsOf(t, err); len(got) != 1 || got[0] != "status" {
		t.Errorf("fields = %v, want [status]", got)
	}
}

func TestDecode_UnknownStatus(t *testing.T) {
	_, err := Decode([]byte(`{"status":"SLEEPING"}`), baseTime)
	if err == nil {
		t.Fatal("expected error for unknown status")
	}
	if !strings.Contains(err.Error(), "must be one of") {
		t.Errorf("error = %q, want enum message", err.Error())
	}
}

func TestDecode_ReportsEveryBadField(t *testing.T) {
	_, err := Decode([]byte(`{
		"status": "RUNNING",
		"spindle": {"speed": "fast", "load": 10},
		"axis": 5,
		"runtime": {"today": true}
	}`), baseTime)
	if err == nil {
		t.Fatal("expected errors")
	}
	got := strings.Join(fieldsOf(t, err), ",")
	for _, want := range []string{"spindle.speed", "axis", "runtime.today"} {
		if !strings.Contains(got, want) {
			t.Errorf("fields %q missing %q", got, want)
		}
	}
}

func TestDecode_BadTimestamp(t *testing.T) {
	_, err := Decode([]byte(`{"status":"RUNNING","timestamp":"yesterday"}`), baseTime)
	if err == nil {
		t.Fatal("expected error for unparseable timestamp")
	}
}

func TestDecode_NotAnObject(t *testing.T) {
	for _, body := range []string{`[]`, `"x"`, `null`, `{`} {
		if _, err := Decode([]byte(body), baseTime); err == nil {
			t.Errorf("Decode(%s): expected error", body)
		}
	}
}

func TestDecodeBatch_PrefixesMachineID(t *testing.T) {
	body := `{"machine1": ` + validReading + `, "machine2": {"status": "RUNNING", "spindle": {"load": "x"}}}`
	_, err := DecodeBatch([]byte(body), baseTime)
	if err == nil {
		t.Fatal("expected batch error")
	}
	got := fieldsOf(t, err)
	if len(got) != 1 || got[0] != "machine2.spindle.load" {
		t.Errorf("fields = %v, want [machine2.spindle.load]", got)
	}
}

func TestDecodeBatch_AllValid(t *testing.T) {
	body := `{"machine1": ` + validReading + `, "machine2": {"status": "idle"}}`
	b, err := DecodeBatch([]byte(body), baseTime)
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if len(b) != 2 {
		t.Fatalf("batch len = %d, want 2", len(b))
	}
	if b["machine2"].Status != types.StatusIdle {
		t.Errorf("machine2 status = %q, want IDLE", b["machine2"].Status)
	}
}

func TestReading_RejectsNonFinite(t *testing.T) {
	r := types.RawReading{Status: "RUNNING"}
	r.Spindle.Speed = math.NaN()
	r.Runtime.Today = math.Inf(1)

	_, errs := Reading(r, baseTime)
	if len(errs) != 2 {
		t.Fatalf("errs = %v, want 2 errors", errs)
	}
	if errs[0].Field != "spindle.speed" || errs[1].Field != "runtime.today" {
		t.Errorf("fields = %v", errs.Strings())
	}
}

func TestReading_NormalizesStatusAndDefaults(t *testing.T) {
	got, errs := Reading(types.RawReading{Status: "maintenance"}, baseTime)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if got.Status != types.StatusMaintenance {
		t.Errorf("Status = %q, want MAINTENANCE", got.Status)
	}
	if !got.Timestamp.Equal(baseTime) || got.Alarms == nil {
		t.Errorf("defaults not applied: %+v", got)
	}
}

func TestReading_EmptyStatus(t *testing.T) {
	_, errs := Reading(types.RawReading{}, baseTime)
	if len(errs) != 1 || errs[0].Field != "status" {
		t.Errorf("errs = %v, want status required", errs)
	}
}
