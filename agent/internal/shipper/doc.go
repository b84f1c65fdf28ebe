// Package shipper delivers simulated reading batches to forgewatch-server
// over the gRPC ingest service.
//
// Ship never blocks: batches go into a bounded queue and the oldest batch is
// dropped when it is full, so the newest readings always survive an outage.
//
// Run drains the queue, reconnecting with truncated exponential backoff
// (1s to 60s, ±25% jitter). A batch whose send failed with a transient error
// is retried first after the reconnect. InvalidArgument, Unauthenticated and
// PermissionDenied are permanent: the batch is logged and discarded.
//
// Transport auth is mTLS, an API key in gRPC metadata, or plaintext.
package shipper
