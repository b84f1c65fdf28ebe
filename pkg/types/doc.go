// Package types defines the Go types shared by the agent and the server.
// These are the canonical in-memory representations of machine telemetry,
// derived metrics, alerts and audit records, and they double as the JSON
// wire schema for every transport.
package types
