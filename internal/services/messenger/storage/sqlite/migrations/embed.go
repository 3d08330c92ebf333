package migrations

import "embed"

// FS contains embedded SQLite migrations for messenger storage.
//
//go:embed *.sql
var FS embed.FS
