// Package ws pushes live machine state to dashboard clients over WebSocket.
//
// A Hub reads snapshots and active alerts from a Source and sends a
// machines-data message on connect and then every interval:
//
//	{
//	  "type":      "machines-data",
//	  "machines":  [ /* MachineSnapshot */ ],
//	  "alerts":    [ /* active Alert */ ],
//	  "timestamp": "2026-01-01T08:00:00Z"
//	}
//
// Hub also implements alerts.Notifier: each newly fired alert is pushed
// immediately as {"type": "alert", "alert": {...}}.
//
// The server mounts the hub at /ws/stream.
package ws
