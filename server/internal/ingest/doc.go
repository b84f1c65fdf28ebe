// Package ingest feeds readings from message brokers into the engine.
//
// Kafka consumes a topic of JSON messages through a consumer group. A message
// keyed by a machine id carries one reading for that machine; an unkeyed
// message carries a {machineId: reading} batch. Offsets are committed after
// the batch is applied or rejected, so malformed messages are not redelivered.
//
// MQTT subscribes to a topic filter with a single-level wildcard, e.g.
// forgewatch/machines/+/data. The wildcard segment of each message topic is
// the machine id and the payload is one reading.
package ingest
