// Package store holds the latest snapshot per machine with TTL eviction of
// machines that have stopped reporting.
package store
