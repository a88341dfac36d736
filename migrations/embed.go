// Package migrations embeds the database schema.
package migrations

import "embed"

// Postgres holds the golang-migrate files under postgres/.
//
//go:embed postgres/*.sql
var Postgres embed.FS

// SQLite is the idempotent schema applied by the SQLite store.
//
//go:embed sqlite/schema.sql
var SQLite string
