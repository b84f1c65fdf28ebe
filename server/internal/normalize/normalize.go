package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/forgewatch/forgewatch/pkg/types"
)

// FieldError is one validation failure.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) String() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + " " + e.Message
}

// Errors is the list of field errors for a rejected sample. A nil or empty
// Errors means the sample is valid.
type Errors []FieldError

func (e Errors) Error() string {
	return strings.Join(e.Strings(), "; ")
}

// Strings renders each error as "field message".
func (e Errors) Strings() []string {
	out := make([]string, len(e))
	for i, fe := range e {
		out[i] = fe.String()
	}
	return out
}

// WithPrefix returns a copy of e with prefix+"." prepended to every field.
func (e Errors) WithPrefix(prefix string) Errors {
	out := make(Errors, len(e))
	for i, fe := range e {
		if fe.Field == "" {
			fe.Field = prefix
		} else {
			fe.Field = prefix + "." + fe.Field
		}
		out[i] = fe
	}
	return out
}

func (e *Errors) add(field, msg string) {
	*e = append(*e, FieldError{Field: field, Message: msg})
}

var statusList = func() string {
	names := make([]string, len(types.Statuses))
	for i, s := range types.Statuses {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}()

// section describes one nested numeric object of a reading.
type section struct {
	name   string
	fields []string
}

var sections = []section{
	{"spindle", []string{"speed", "load", "temperature"}},
	{"axis", []string{"x", "y", "z"}},
	{"production", []string{"partsCompleted", "partsTarget", "cycleTime"}},
	{"runtime", []string{"total", "today", "lastJob"}},
}

// Decode parses a single JSON reading. On failure the returned error is an
// Errors value.
func Decode(data []byte, now time.Time) (types.RawReading, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return types.RawReading{}, Errors{{Message: "payload must be an object"}}
	}
	r, errs := FromMap(m, now)
	if len(errs) > 0 {
		return types.RawReading{}, errs
	}
	return r, nil
}

// DecodeBatch parses a {machineId: reading} JSON object. Validation is all or
// nothing: if any machine's reading is invalid, no batch is returned and the
// error lists every failure prefixed with its machine id.
func DecodeBatch(data []byte, now time.Time) (types.Batch, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return nil, Errors{{Message: "payload must be an object keyed by machine id"}}
	}

	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	batch := make(types.Batch, len(raw))
	var all Errors
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			all.add("", "machine id must not be empty")
			continue
		}
		r, err := Decode(raw[id], now)
		if err != nil {
			all = append(all, err.(Errors).WithPrefix(id)...)
			continue
		}
		batch[id] = r
	}
	if len(all) > 0 {
		return nil, all
	}
	return batch, nil
}

// FromMap validates a generic decoded JSON object and builds the reading.
func FromMap(m map[string]any, now time.Time) (types.RawReading, Errors) {
	var errs Errors
	var r types.RawReading

	switch s, ok := m["status"].(string); {
	case !ok || strings.TrimSpace(s) == "":
		errs.add("status", "is required (string)")
	default:
		st, known := types.ParseStatus(s)
		if !known {
			errs.add("status", "must be one of: "+statusList)
		}
		r.Status = st
	}

	values := make(map[string]float64)
	for _, sec := range sections {
		v, present := m[sec.name]
		if !present || v == nil {
			continue
		}
		obj, ok := v.(map[string]any)
		if !ok {
			errs.add(sec.name, "must be an object")
			continue
		}
		for _, f := range sec.fields {
			fv, present := obj[f]
			if !present || fv == nil {
				continue
			}
			n, ok := fv.(float64)
			if !ok || !finite(n) {
				errs.add(sec.name+"."+f, "must be a number")
				continue
			}
			values[sec.name+"."+f] = n
		}
	}

	r.Spindle = types.Spindle{
		Speed:       values["spindle.speed"],
		Load:        values["spindle.load"],
		Temperature: values["spindle.temperature"],
	}
	r.Axis = types.Axis{X: values["axis.x"], Y: values["axis.y"], Z: values["axis.z"]}
	r.Production = types.Production{
		PartsCompleted: values["production.partsCompleted"],
		PartsTarget:    values["production.partsTarget"],
		CycleTime:      values["production.cycleTime"],
	}
	r.Runtime = types.Runtime{
		Total:   values["runtime.total"],
		Today:   values["runtime.today"],
		LastJob: values["runtime.lastJob"],
	}

	r.Alarms = []string{}
	if v, present := m["alarms"]; present && v != nil {
		list, ok := v.([]any)
		if !ok {
			errs.add("alarms", "must be an array")
		} else {
			for _, a := range list {
				if s, ok := a.(string); ok {
					r.Alarms = append(r.Alarms, s)
				} else {
					r.Alarms = append(r.Alarms, fmt.Sprint(a))
				}
			}
		}
	}

	r.Timestamp = now
	if v, present := m["timestamp"]; present && v != nil {
		s, ok := v.(string)
		ts, err := time.Parse(time.RFC3339Nano, s)
		if !ok || err != nil {
			errs.add("timestamp", "must be an RFC3339 string")
		} else {
			r.Timestamp = ts
		}
	}

	if len(errs) > 0 {
		return types.RawReading{}, errs
	}
	return r, nil
}

// Reading checks an already-typed reading: the status must be known (it is
// upper-cased in the returned copy) and every numeric field must be finite.
// A zero Timestamp is replaced with now and nil Alarms with an empty slice.
func Reading(r types.RawReading, now time.Time) (types.RawReading, Errors) {
	var errs Errors

	if strings.TrimSpace(string(r.Status)) == "" {
		errs.add("status", "is required (string)")
	} else if st, ok := types.ParseStatus(string(r.Status)); !ok {
		errs.add("status", "must be one of: "+statusList)
	} else {
		r.Status = st
	}

	checks := []struct {
		field string
		v     float64
	}{
		{"spindle.speed", r.Spindle.Speed},
		{"spindle.load", r.Spindle.Load},
		{"spindle.temperature", r.Spindle.Temperature},
		{"axis.x", r.Axis.X},
		{"axis.y", r.Axis.Y},
		{"axis.z", r.Axis.Z},
		{"production.partsCompleted", r.Production.PartsCompleted},
		{"production.partsTarget", r.Production.PartsTarget},
		{"production.cycleTime", r.Production.CycleTime},
		{"runtime.total", r.Runtime.Total},
		{"runtime.today", r.Runtime.Today},
		{"runtime.lastJob", r.Runtime.LastJob},
	}
	for _, c := range checks {
		if !finite(c.v) {
			errs.add(c.field, "must be a number")
		}
	}
	if len(errs) > 0 {
		return types.RawReading{}, errs
	}

	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}
	if r.Alarms == nil {
		r.Alarms = []string{}
	}
	return r, nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
