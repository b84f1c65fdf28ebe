package compute

import (
	"math"

	"github.com/forgewatch/forgewatch/pkg/types"
)

const (
	secondsPerDay  = 86400.0
	secondsPerHour = 3600.0

	// toolWearScale converts load% × seconds into the 0–100 wear index.
	toolWearScale = 360000.0
)

// Thermal risk boundaries in °C (strictly greater than).
const (
	ThermalHighAbove   = 60.0
	ThermalMediumAbove = 45.0
)

// Input holds one reading plus the delta context from the previous reading
// of the same machine.
type Input struct {
	Reading types.RawReading

	// Prev is the previous reading, or nil on the first sample.
	Prev *types.RawReading

	// ElapsedMinutes is the time between the previous and current
	// computation. Feed rate is 0 unless Prev is set and this is positive.
	ElapsedMinutes float64
}

// Derive computes the derived metrics for in. It never returns NaN or Inf.
func Derive(in Input) types.DerivedMetrics {
	r := in.Reading
	today := r.Runtime.Today
	parts := r.Production.PartsCompleted
	cycle := r.Production.CycleTime

	var availability, performance float64
	if today > 0 {
		availability = math.Min(today/secondsPerDay, 1)
		performance = math.Min(parts*cycle/today, 1)
	}
	const quality = 1.0

	var productionRate float64
	if hours := today / secondsPerHour; hours > 0 {
		productionRate = round(parts/hours, 2)
	}

	out := types.DerivedMetrics{
		OEE:                 clamp(round(availability*performance*quality*100, 2), 0, 100),
		Availability:        round(availability*100, 2),
		Performance:         round(performance*100, 2),
		Quality:             quality * 100,
		ProductionRate:      productionRate,
		EstimatedCompletion: math.Max(r.Production.PartsTarget-parts, 0) * cycle,
		FeedRate:            feedRate(in),
		SpindlePower:        math.Round(r.Spindle.Speed * r.Spindle.Load / 100),
		Utilization:         round(availability*100, 2),
		ToolWearIndex:       math.Min(round(r.Spindle.Load*today/toolWearScale*100, 2), 100),
		ThermalRisk:         thermalRisk(r.Spindle.Temperature),
		CycleEfficiency:     cycleEfficiency(today, parts, cycle),
	}
	return sanitize(out)
}

// feedRate is the straight-line axis travel per minute since the previous
// reading.
func feedRate(in Input) float64 {
	if in.Prev == nil || in.ElapsedMinutes <= 0 {
		return 0
	}
	dx := in.Reading.Axis.X - in.Prev.Axis.X
	dy := in.Reading.Axis.Y - in.Prev.Axis.Y
	dz := in.Reading.Axis.Z - in.Prev.Axis.Z
	return round(math.Sqrt(dx*dx+dy*dy+dz*dz)/in.ElapsedMinutes, 2)
}

func thermalRisk(temp float64) types.ThermalRisk {
	switch {
	case temp > ThermalHighAbove:
		return types.ThermalHigh
	case temp > ThermalMediumAbove:
		return types.ThermalMedium
	default:
		return types.ThermalLow
	}
}

// cycleEfficiency compares the nominal cycle time with the observed average
// (runtime today / parts completed).
func cycleEfficiency(today, parts, cycle float64) float64 {
	if parts <= 0 {
		return 0
	}
	avg := today / parts
	if avg == 0 || cycle == 0 {
		return 0
	}
	return round(cycle/avg*100, 2)
}

// round rounds v to n decimal places.
func round(v float64, n int) float64 {
	p := math.Pow(10, float64(n))
	return math.Round(v*p) / p
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// sanitize replaces any non-finite value with 0. Inputs are validated as
// finite, but products of very large finite values can still overflow.
func sanitize(d types.DerivedMetrics) types.DerivedMetrics {
	for _, f := range []*float64{
		&d.OEE, &d.Availability, &d.Performance, &d.Quality, &d.ProductionRate,
		&d.EstimatedCompletion, &d.FeedRate, &d.SpindlePower, &d.Utilization,
		&d.ToolWearIndex, &d.CycleEfficiency,
	} {
		if math.IsNaN(*f) || math.IsInf(*f, 0) {
			*f = 0
		}
	}
	return d
}
