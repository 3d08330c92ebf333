package migrations

import "embed"

// FS contains embedded SQLite migrations for client-side recovery state.
//
//go:embed *.sql
var FS embed.FS
