package types

import "time"

// Severity ranks an alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one threshold violation for a (machine, type) pair.
type Alert struct {
	ID           string     `json:"id"`
	MachineID    string     `json:"machineId"`
	MachineName  string     `json:"machineName"`
	Type         string     `json:"type"`
	Message      string     `json:"message"`
	Timestamp    time.Time  `json:"timestamp"`
	Severity     Severity   `json:"severity"`
	Acknowledged bool       `json:"acknowledged"`
	Resolved     bool       `json:"resolved"`
	ResolvedAt   *time.Time `json:"resolvedAt,omitempty"`
}

// AlertID returns the deduplication key of an alert.
func AlertID(machineID, alertType string) string {
	return machineID + ":" + alertType
}

// Thresholds are the live limits referenced by alert rules.
type Thresholds struct {
	SpindleSpeed float64 `json:"spindleSpeed" yaml:"spindle_speed"`
	SpindleLoad  float64 `json:"spindleLoad" yaml:"spindle_load"`
	Temperature  float64 `json:"temperature" yaml:"temperature"`
	OEE          float64 `json:"oee" yaml:"oee"`
}

// ThresholdsPatch is a partial update of Thresholds. Nil fields are left
// untouched by Merge.
type ThresholdsPatch struct {
	SpindleSpeed *float64 `json:"spindleSpeed,omitempty"`
	SpindleLoad  *float64 `json:"spindleLoad,omitempty"`
	Temperature  *float64 `json:"temperature,omitempty"`
	OEE          *float64 `json:"oee,omitempty"`
}

// Merge returns t with every non-nil field of p applied.
func (t Thresholds) Merge(p ThresholdsPatch) Thresholds {
	if p.SpindleSpeed != nil {
		t.SpindleSpeed = *p.SpindleSpeed
	}
	if p.SpindleLoad != nil {
		t.SpindleLoad = *p.SpindleLoad
	}
	if p.Temperature != nil {
		t.Temperature = *p.Temperature
	}
	if p.OEE != nil {
		t.OEE = *p.OEE
	}
	return t
}

// Patch returns a ThresholdsPatch that sets every field of t.
func (t Thresholds) Patch() ThresholdsPatch {
	return ThresholdsPatch{
		SpindleSpeed: &t.SpindleSpeed,
		SpindleLoad:  &t.SpindleLoad,
		Temperature:  &t.Temperature,
		OEE:          &t.OEE,
	}
}
