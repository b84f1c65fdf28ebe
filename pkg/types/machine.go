package types

import (
	"strings"
	"time"
)

// Status is the operating state reported by a machine controller.
type Status string

const (
	StatusRunning     Status = "RUNNING"
	StatusIdle        Status = "IDLE"
	StatusPaused      Status = "PAUSED"
	StatusAlarm       Status = "ALARM"
	StatusMaintenance Status = "MAINTENANCE"
	StatusOffline     Status = "OFFLINE"
)

// Statuses lists every known status in display order.
var Statuses = []Status{
	StatusRunning, StatusIdle, StatusPaused, StatusAlarm, StatusMaintenance, StatusOffline,
}

// ParseStatus upper-cases s and reports whether it names a known status.
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Statuses {
		if st == known {
			return st, true
		}
	}
	return st, false
}

// Spindle holds the spindle channel of a reading.
type Spindle struct {
	Speed       float64 `json:"speed"`       // RPM
	Load        float64 `json:"load"`        // percent
	Temperature float64 `json:"temperature"` // °C
}

// Axis holds the machine coordinates in millimetres.
type Axis struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Production holds the job counters of a reading.
type Production struct {
	PartsCompleted float64 `json:"partsCompleted"`
	PartsTarget    float64 `json:"partsTarget"`
	CycleTime      float64 `json:"cycleTime"` // seconds per part
}

// Runtime holds the runtime counters of a reading, in seconds.
type Runtime struct {
	Total   float64 `json:"total"`
	Today   float64 `json:"today"`
	LastJob float64 `json:"lastJob"`
}

// RawReading is one telemetry sample for one machine, as delivered by a
// transport after normalization.
type RawReading struct {
	Status     Status     `json:"status"`
	Spindle    Spindle    `json:"spindle"`
	Axis       Axis       `json:"axis"`
	Production Production `json:"production"`
	Runtime    Runtime    `json:"runtime"`
	Alarms     []string   `json:"alarms"`
	Timestamp  time.Time  `json:"timestamp"`
}

// Batch maps machine id to the reading delivered for it in one push.
type Batch map[string]RawReading

// ThermalRisk classifies spindle temperature.
type ThermalRisk string

const (
	ThermalLow    ThermalRisk = "LOW"
	ThermalMedium ThermalRisk = "MEDIUM"
	ThermalHigh   ThermalRisk = "HIGH"
)

// DerivedMetrics are recomputed from every reading. Availability,
// Performance, Quality, Utilization, OEE and CycleEfficiency are percentages.
type DerivedMetrics struct {
	OEE                 float64     `json:"oee"`
	Availability        float64     `json:"availability"`
	Performance         float64     `json:"performance"`
	Quality             float64     `json:"quality"`
	ProductionRate      float64     `json:"productionRate"`      // parts per hour
	EstimatedCompletion float64     `json:"estimatedCompletion"` // seconds remaining
	FeedRate            float64     `json:"feedRate"`            // mm/min
	SpindlePower        float64     `json:"spindlePower"`
	Utilization         float64     `json:"utilization"`
	ToolWearIndex       float64     `json:"toolWearIndex"`
	ThermalRisk         ThermalRisk `json:"thermalRisk"`
	CycleEfficiency     float64     `json:"cycleEfficiency"`
}

// MachineSnapshot is the immutable result of one update cycle for a machine.
type MachineSnapshot struct {
	ID      string         `json:"id"`
	Name    string         `json:"name"`
	Raw     RawReading     `json:"raw"`
	Derived DerivedMetrics `json:"derived"`
	Idle    bool           `json:"idle"`
}

// HistoryPoint is the flattened chart row recorded for every processed sample.
type HistoryPoint struct {
	Time           string  `json:"time"` // HH:MM:SS display label
	S1             float64 `json:"s1"`
	Master         float64 `json:"master"`
	SpindleSpeed   float64 `json:"spindleSpeed"`
	SpindleLoad    float64 `json:"spindleLoad"`
	Temperature    float64 `json:"temperature"`
	PartsCompleted float64 `json:"partsCompleted"`
	PartsTarget    float64 `json:"partsTarget"`
	OEE            float64 `json:"oee"`
	Timestamp      int64   `json:"timestamp"` // unix milliseconds
}

// IdleState is the debounce state of one machine.
type IdleState struct {
	DwellStartedAt *time.Time `json:"dwellStartedAt"`
	IsIdle         bool       `json:"isIdle"`
}
