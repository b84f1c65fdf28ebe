package api

import "github.com/forgewatch/forgewatch/pkg/types"

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status        string `json:"status"`
	MachineCount  int    `json:"machineCount"`
	RunningCount  int    `json:"runningCount"`
	IdleCount     int    `json:"idleCount"`
	AlarmCount    int    `json:"alarmCount"`
	ActiveAlerts  int    `json:"activeAlerts"`
	ReadingsStore bool   `json:"readingsStore"`
	Time          string `json:"time"` // RFC3339
}

// MachineResponse is one machine in GET /api/v1/machines or
// GET /api/v1/machines/{id}.
type MachineResponse struct {
	types.MachineSnapshot
	IdleState   types.IdleState  `json:"idleState"`
	Diagnostics []DiagnosticHint `json:"diagnostics"`
	LastSeen    string           `json:"lastSeen"` // RFC3339
}

// IngestResponse is the payload for successful ingest calls.
type IngestResponse struct {
	Applied    []string `json:"applied"`
	Duplicates []string `json:"duplicates"`
	Alerts     int      `json:"alerts"`
}

// AlertActionResponse is the payload for alert mutations.
type AlertActionResponse struct {
	ID      string `json:"id,omitempty"`
	Removed bool   `json:"removed,omitempty"`
	Cleared int    `json:"cleared,omitempty"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}
