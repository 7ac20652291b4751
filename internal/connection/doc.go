// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Owns every outbound WebSocket connection configured by the store
//   - Runs one actor per connection (send loop + receive loop on one socket)
//   - Serializes connect/disconnect per connection ID, never globally
//   - Handles reconnection with bounded exponential backoff
//   - Reports every sent/received frame to a MessageSink
//   - Runs registry-independent connectivity probes
package connection
