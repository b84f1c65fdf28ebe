// Package wire defines the agent → server gRPC ingest contract.
//
// Messages are plain Go structs carried with a JSON codec registered under
// the "json" content subtype, so agents and the server share pkg/types
// directly without generated code. The service has one unary method:
//
//	/forgewatch.v1.IngestService/Push  PushRequest → PushResponse
//
// Clients created with NewClient select the codec on every call.
package wire
