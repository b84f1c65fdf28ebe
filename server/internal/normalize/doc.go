// Package normalize validates incoming machine readings and coerces them into
// the canonical types.RawReading schema before they reach any stateful
// component.
//
// Decode / DecodeBatch accept raw JSON and report every problem as a
// field-level FieldError (e.g. "machine1.spindle.speed must be a number").
// Reading applies the same status and finiteness checks to readings that
// arrive already typed (gRPC, Kafka, the agent).
//
// A sample with any error is rejected whole; nothing is partially applied.
package normalize
