// Package config loads the server-side configuration from the `server:` section
// of config.yaml (the `agent:` key is ignored by the server binary).
//
// Config fields:
//   - GRPCPort, HTTPPort: listener ports (defaults 50051, 8080)
//   - Auth: API key gate on gRPC and HTTP write paths
//   - Snapshot.TTL: how long a silent machine stays live (default 5m)
//   - Machines: display names by machine id
//   - Engine: history size, idle threshold and dwell, parameter-change delta
//   - Alerts: thresholds, rules and webhook targets
//   - Logbook: operator roster and selection policy
//   - Persistence.Redis: readings log collaborator (disabled when Addr is empty)
//   - Kafka, MQTT: optional ingest transports (disabled when unset)
//   - WS.Interval: WebSocket broadcast period (default 2s)
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, current, fn) reloads the file on change and hands fn the
// new thresholds and machine names; other changed keys are logged as needing
// a restart.
package config
