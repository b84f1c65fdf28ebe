// Package receiver implements wire.IngestServer, the gRPC endpoint that
// accepts reading batches from forgewatch agents.
//
// Push rejects an empty batch with codes.InvalidArgument, hands the batch to
// the engine, and reports applied, duplicate and rejected machines. When
// every reading in the batch is rejected the call fails with
// codes.InvalidArgument carrying the field errors. Authentication is enforced
// upstream by the gRPC server interceptor (see package auth).
package receiver
