package alerts

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/forgewatch/forgewatch/pkg/types"
)

// condition is a parsed "field op rhs" rule expression.
//
// Supported expressions:
//
//	spindle_speed > spindleSpeed
//	spindle_load > 90
//	temperature > temperature
//	oee < oee
//	tool_wear >= 80
//	idle == true
//	status == ALARM
//	thermal_risk == HIGH
type condition struct {
	field string
	op    string
	rhs   string
}

// fieldKind tells how a field is compared.
type fieldKind int

const (
	kindNumber fieldKind = iota
	kindBool
	kindString
)

var fieldKinds = map[string]fieldKind{
	"spindle_speed":   kindNumber,
	"spindle_load":    kindNumber,
	"temperature":     kindNumber,
	"oee":             kindNumber,
	"availability":    kindNumber,
	"performance":     kindNumber,
	"utilization":     kindNumber,
	"feed_rate":       kindNumber,
	"tool_wear":       kindNumber,
	"production_rate": kindNumber,
	"idle":            kindBool,
	"status":          kindString,
	"thermal_risk":    kindString,
}

// parseCondition validates cond and returns its parsed form.
func parseCondition(cond string) (condition, error) {
	parts := strings.Fields(cond)
	if len(parts) != 3 {
		return condition{}, fmt.Errorf("condition %q: want \"field op value\"", cond)
	}
	c := condition{field: parts[0], op: parts[1], rhs: parts[2]}

	kind, ok := fieldKinds[c.field]
	if !ok {
		return condition{}, fmt.Errorf("condition %q: unknown field %q", cond, c.field)
	}
	switch kind {
	case kindNumber:
		switch c.op {
		case ">", ">=", "<", "<=", "==", "!=":
		default:
			return condition{}, fmt.Errorf("condition %q: unknown operator %q", cond, c.op)
		}
		if _, err := strconv.ParseFloat(c.rhs, 64); err != nil && !isThreshold(c.rhs) {
			return condition{}, fmt.Errorf("condition %q: %q is neither a number nor a threshold", cond, c.rhs)
		}
	case kindBool:
		if c.op != "==" && c.op != "!=" {
			return condition{}, fmt.Errorf("condition %q: operator %q not valid for %s", cond, c.op, c.field)
		}
		if _, err := strconv.ParseBool(c.rhs); err != nil {
			return condition{}, fmt.Errorf("condition %q: %q is not a boolean", cond, c.rhs)
		}
	case kindString:
		if c.op != "==" && c.op != "!=" {
			return condition{}, fmt.Errorf("condition %q: operator %q not valid for %s", cond, c.op, c.field)
		}
	}
	return c, nil
}

// eval tests the condition against snap using the live thresholds th.
// It returns whether the condition holds and the observed value rendered for
// alert messages.
func (c condition) eval(snap types.MachineSnapshot, th types.Thresholds) (bool, string) {
	switch fieldKinds[c.field] {
	case kindBool:
		want, _ := strconv.ParseBool(c.rhs)
		v := snap.Idle
		return (v == want) == (c.op == "=="), strconv.FormatBool(v)

	case kindString:
		var v string
		if c.field == "status" {
			v = string(snap.Raw.Status)
		} else {
			v = string(snap.Derived.ThermalRisk)
		}
		eq := strings.EqualFold(v, c.rhs)
		return eq == (c.op == "=="), v

	default:
		v := numericField(c.field, snap)
		threshold, ok := thresholdValue(c.rhs, th)
		if !ok {
			threshold, _ = strconv.ParseFloat(c.rhs, 64)
		}
		return compareFloat(v, c.op, threshold), strconv.FormatFloat(v, 'f', -1, 64)
	}
}

// numericField maps a field name to its value in the snapshot.
func numericField(field string, snap types.MachineSnapshot) float64 {
	switch field {
	case "spindle_speed":
		return snap.Raw.Spindle.Speed
	case "spindle_load":
		return snap.Raw.Spindle.Load
	case "temperature":
		return snap.Raw.Spindle.Temperature
	case "oee":
		return snap.Derived.OEE
	case "availability":
		return snap.Derived.Availability
	case "performance":
		return snap.Derived.Performance
	case "utilization":
		return snap.Derived.Utilization
	case "feed_rate":
		return snap.Derived.FeedRate
	case "tool_wear":
		return snap.Derived.ToolWearIndex
	case "production_rate":
		return snap.Derived.ProductionRate
	default:
		return 0
	}
}

// thresholdValue resolves a threshold name, in camelCase or snake_case.
func thresholdValue(name string, th types.Thresholds) (float64, bool) {
	switch name {
	case "spindleSpeed", "spindle_speed":
		return th.SpindleSpeed, true
	case "spindleLoad", "spindle_load":
		return th.SpindleLoad, true
	case "temperature":
		return th.Temperature, true
	case "oee":
		return th.OEE, true
	default:
		return 0, false
	}
}

func isThreshold(name string) bool {
	_, ok := thresholdValue(name, types.Thresholds{})
	return ok
}

// compareFloat applies a comparison operator to two float64 values.
func compareFloat(v float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return v > threshold
	case ">=":
		return v >= threshold
	case "<":
		return v < threshold
	case "<=":
		return v <= threshold
	case "==":
		return v == threshold
	case "!=":
		return v != threshold
	default:
		return false
	}
}
