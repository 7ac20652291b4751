// Package database provides the PostgreSQL connection pool and schema.
//
// Tables:
//   - websocket_config: connection definitions (read by internal/store)
//   - websocket_message: sent/received frame history (written by internal/writer)
//
// History is append-only; rows are never updated.
package database
