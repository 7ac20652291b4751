// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - WebSocket connection state per configured connection
//   - Sent/received frame rates and transport errors
//   - Reconnect attempts and handshake latency
//   - Probe outcomes
//   - History writer flushes and drops
package metrics
