package schema

import "embed"

// FS contains the embedded SQLite schema files, applied in name order.
//
//go:embed *.sql
var FS embed.FS
