// Package store reads connection definitions and message history from
// PostgreSQL.
//
// The Connection Manager never talks to the database; HTTP handlers load a
// model.ConnectionConfig here and hand it to the registry.
package store
