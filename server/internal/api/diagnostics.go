package api

import (
	"fmt"
	"sort"
	"strings"

	"github.com/forgewatch/forgewatch/pkg/types"
)

// ToolWearWarnAt is the tool wear index from which a replacement hint is shown.
const ToolWearWarnAt = 80

// DiagnosticHint is one human-readable insight about a machine.
type DiagnosticHint struct {
	// Key is a stable identifier for dedup and ordering.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical".
	Level string `json:"level"`
	// Title is a short chip label.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is the measured value behind the hint, when there is one.
	Value *float64 `json:"value,omitempty"`
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// computeDiagnostics derives hints from a snapshot and the live thresholds,
// ordered critical first, then warning, then info.
func computeDiagnostics(snap types.MachineSnapshot, th types.Thresholds) []DiagnosticHint {
	var hints []DiagnosticHint
	raw, d := snap.Raw, snap.Derived

	if raw.Status == types.StatusOffline {
		return []DiagnosticHint{{
			Key:    "offline",
			Level:  "info",
			Title:  "Offline",
			Detail: "The controller reports OFFLINE. Metrics shown are from the last reading and will not change until it reconnects.",
		}}
	}

	if n := len(raw.Alarms); n > 0 {
		v := float64(n)
		hints = append(hints, DiagnosticHint{
			Key:   "alarms",
			Level: "critical",
			Title: fmt.Sprintf("%d active alarm%s", n, plural(n)),
			Detail: fmt.Sprintf("The controller reports: %s. Clear the cause on the machine panel before restarting the cycle.",
				strings.Join(raw.Alarms, "; ")),
			Value: &v,
		})
	}

	if raw.Status == types.StatusMaintenance {
		hints = append(hints, DiagnosticHint{
			Key:    "maintenance",
			Level:  "info",
			Title:  "Under maintenance",
			Detail: "The machine is in MAINTENANCE. Availability and OEE will drop until it returns to RUNNING.",
		})
	}

	switch d.ThermalRisk {
	case types.ThermalHigh:
		v := raw.Spindle.Temperature
		hints = append(hints, DiagnosticHint{
			Key:   "thermal",
			Level: "critical",
			Title: fmt.Sprintf("Spindle at %.1f°C", v),
			Detail: "Spindle temperature is in the HIGH band. Check coolant flow and spindle bearings; " +
				"sustained operation risks thermal drift in part dimensions.",
			Value: &v,
		})
	case types.ThermalMedium:
		v := raw.Spindle.Temperature
		hints = append(hints, DiagnosticHint{
			Key:    "thermal",
			Level:  "warning",
			Title:  fmt.Sprintf("Spindle warm (%.1f°C)", v),
			Detail: "Spindle temperature is in the MEDIUM band. Keep an eye on coolant and load.",
			Value:  &v,
		})
	}

	if th.SpindleLoad > 0 && raw.Spindle.Load > th.SpindleLoad {
		v := raw.Spindle.Load
		hints = append(hints, DiagnosticHint{
			Key:    "load",
			Level:  "critical",
			Title:  fmt.Sprintf("Load %.0f%%", v),
			Detail: fmt.Sprintf("Spindle load is above the %.0f%% limit. Reduce feed or depth of cut, or check for a dull tool.", th.SpindleLoad),
			Value:  &v,
		})
	}

	if d.ToolWearIndex >= ToolWearWarnAt {
		v := d.ToolWearIndex
		hints = append(hints, DiagnosticHint{
			Key:    "tool_wear",
			Level:  "warning",
			Title:  fmt.Sprintf("Tool wear %.0f", v),
			Detail: "Accumulated load today suggests the tool is near end of life. Plan a tool change before the next batch.",
			Value:  &v,
		})
	}

	if snap.Idle {
		hints = append(hints, DiagnosticHint{
			Key:    "idle",
			Level:  "warning",
			Title:  "Spindle idle",
			Detail: "S1 has been under 10 RPM for at least 15 seconds.",
		})
	}

	if raw.Status == types.StatusRunning && th.OEE > 0 && d.OEE < th.OEE {
		v := d.OEE
		hints = append(hints, DiagnosticHint{
			Key:   "oee",
			Level: "warning",
			Title: fmt.Sprintf("OEE %.1f%%", v),
			Detail: fmt.Sprintf("OEE is below the %.0f%% target (availability %.1f%%, performance %.1f%%).",
				th.OEE, d.Availability, d.Performance),
			Value: &v,
		})
	}

	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "healthy",
			Level:  "ok",
			Title:  "Running normally",
			Detail: "No alarms, thermal risk or threshold violations on the latest reading.",
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank[hints[i].Level] < levelRank[hints[j].Level]
	})
	return hints
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}
