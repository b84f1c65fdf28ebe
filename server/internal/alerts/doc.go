// Package alerts implements the alert lifecycle for machine snapshots and
// webhook delivery of newly fired alerts.
//
// Each (machine, rule type) pair is either absent or active. A rule whose
// condition holds creates one active alert unless the pair is suppressed.
// A false condition removes the active alert and lifts any suppression.
// Acknowledge marks an alert in place; Resolve removes it without
// suppression, so it can re-fire on the next cycle; Dismiss and ClearAll
// remove and suppress until the condition is next observed false.
//
// Rule conditions are "field op rhs" expressions (see condition.go) where rhs
// may name a live threshold. Thresholds are merged shallowly by
// UpdateThresholds and apply from the next Evaluate.
package alerts
