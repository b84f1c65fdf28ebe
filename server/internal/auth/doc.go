// Package auth gates ingest and mutating API calls behind a shared API key.
//
// The key is transport hygiene, not identity: callers are either holders of
// the configured key or not. With mode other than "apikey", or with no key
// configured, every call passes.
//
// APIKeyInterceptor guards the gRPC receiver; Middleware guards HTTP routes.
package auth
