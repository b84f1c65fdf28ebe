package types

import "time"

// EventType classifies a logbook entry.
type EventType string

const (
	EventStart           EventType = "start"
	EventStop            EventType = "stop"
	EventAlarm           EventType = "alarm"
	EventMaintenance     EventType = "maintenance"
	EventParameterChange EventType = "parameter_change"
)

// LogbookEvent is an immutable audit entry synthesized from two consecutive
// snapshots of the same machine.
type LogbookEvent struct {
	ID          string    `json:"id"`
	MachineID   string    `json:"machineId"`
	MachineName string    `json:"machineName"`
	Type        EventType `json:"type"`
	Message     string    `json:"message"`
	Operator    string    `json:"operator"`
	Timestamp   time.Time `json:"timestamp"`
	Details     string    `json:"details"`
}

// Quality is the inspection outcome of one workpiece.
type Quality string

const (
	QualityPass   Quality = "Pass"
	QualityFail   Quality = "Fail"
	QualityRework Quality = "Rework"
)

// Dimensions are measured workpiece dimensions in millimetres.
type Dimensions struct {
	Length float64 `json:"length"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Workpiece is one produced part, synthesized from a production-count delta.
type Workpiece struct {
	PartID      string      `json:"partId"`
	MachineID   string      `json:"machineId"`
	MachineName string      `json:"machineName"`
	CycleTime   float64     `json:"cycleTime"`
	Quality     Quality     `json:"quality"`
	Dimensions  *Dimensions `json:"dimensions,omitempty"`
	Material    string      `json:"material,omitempty"`
	Waste       *float64    `json:"waste,omitempty"`
	BatchID     string      `json:"batchId"`
	Timestamp   time.Time   `json:"timestamp"`
}
