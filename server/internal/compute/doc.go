// Package compute derives efficiency KPIs from raw machine readings.
//
// score.go provides the pure Derive(Input) function: OEE (availability ×
// performance × quality), production rate, estimated completion, feed rate,
// spindle power, utilization, tool wear, thermal risk and cycle efficiency.
// Every ratio guards its denominator and falls back to 0.
//
// engine.go provides the stateful Calculator that keeps the previous reading
// and its computation time per machine, so rate-of-change metrics (feed rate)
// can be derived from deltas. Calculator.Process accepts an injectable
// time.Time so tests are deterministic.
package compute
