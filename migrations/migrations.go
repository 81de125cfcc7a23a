// Package migrations embeds the SQL schema files applied by internal/migration.
//
// Layout:
//
//	sqlite/   server store on SQLite
//	postgres/ server store on PostgreSQL
//	queue/    client durable queue (SQLite)
package migrations

import "embed"

//go:embed sqlite/*.sql postgres/*.sql queue/*.sql
var FS embed.FS
