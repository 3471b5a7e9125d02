// Package config loads the relay-server configuration from the `server:`
// section of a YAML file.
//
// Config fields:
//   - HTTPPort          - port for the WebSocket endpoint, REST API and /metrics (default 3000)
//   - NodeID            - name used in cross-node presence announcements (default random UUID)
//   - Transport         - socket path, origin allow-list, buffers and read limit
//   - Store.Backend     - "memory", "redis" or "postgres"; Store.Timeout bounds each call (default 2s)
//   - Delivery          - push event name, bind ack text, delivery timeout, GET / greeting
//   - Presence          - count event name, heartbeat and node TTL for the cluster view
//
// Load(path) applies defaults before unmarshalling, then validates.
// NewWatcher(path, fn).Run(ctx) reloads on change after a short debounce; log
// level and Delivery take effect live.
package config
