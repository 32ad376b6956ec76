package migrations

import "embed"

// FS holds the SQL migration files, embedded so the migrate binary
// needs no filesystem layout at runtime.
//
//go:embed *.sql
var FS embed.FS
