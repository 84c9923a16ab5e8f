// Package migrations embeds the PostgreSQL schema.
package migrations

import "embed"

// FS holds every numbered .sql migration.
//
//go:embed *.sql
var FS embed.FS
