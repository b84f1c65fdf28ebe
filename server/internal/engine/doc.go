// Package engine is the single reducer over per-machine telemetry.
//
// An Engine owns one instance of each stateful component: the metrics
// calculator, the idle detector, the alert manager, the logbook synthesizer,
// the history windows and the snapshot store. Ingest validates each reading,
// drops duplicates, and applies the rest in the fixed order
// derive → idle → snapshot → history → alerts → logbook.
// Machines in one batch are processed concurrently; samples of the same
// machine are strictly serial.
//
// Persistence is delegated to a Saver which is called on its own goroutine;
// its failures are logged and never affect ingestion.
package engine
