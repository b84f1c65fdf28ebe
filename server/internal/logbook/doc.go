// Package logbook synthesizes the machine audit log and workpiece records by
// diffing consecutive snapshots of the same machine.
//
// Status transitions map to events (RUNNING: start, IDLE: stop, ALARM: alarm,
// MAINTENANCE: maintenance); other targets produce nothing. A spindle speed
// jump larger than the configured delta adds a parameter_change event in the
// same cycle. Each unit increase of partsCompleted yields one workpiece, all
// workpieces of one cycle sharing a batch id. The first sample of a machine
// produces neither events nor workpieces.
//
// Operator attribution and inspection outcome come from injectable policies
// so tests stay deterministic.
package logbook
