// Package migrations embeds the SQL schema migrations so the migrator and
// integration tests run with zero filesystem configuration.
package migrations

import "embed"

// FS holds every versioned migration pair (NNN_name.up.sql / .down.sql).
//
//go:embed *.sql
var FS embed.FS
