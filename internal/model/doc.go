// Package model defines shared data types used across the service.
//
// Types mirror the ws_config and ws_message tables created by package database.
//
// Conventions:
//   - Connection definitions are owned by the store and passed around by value
//   - Timestamps on stored rows: int64 seconds since Unix epoch
//   - Message IDs: uuid.UUID, assigned by the history writer
package model
