// Package writer persists message history.
//
// MessageWriter is the connection.MessageSink used by the service: Record
// enqueues without blocking the connection loops, and a single goroutine
// flushes batches to the websocket_message table on size or interval.
//
// History is append-only (INSERT ... ON CONFLICT DO NOTHING). When the queue
// reaches its maximum size new messages are dropped and counted.
package writer
