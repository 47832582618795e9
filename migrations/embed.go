// Package migrations ships the SQL files applied by `notemigrate db migrate`.
package migrations

import "embed"

// FS holds the versioned *.sql files at its root.
//
//go:embed *.sql
var FS embed.FS
