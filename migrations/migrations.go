// Package migrations embeds the SQL schema migrations.
package migrations

import "embed"

// FS holds the migration files. Names follow golang-migrate's
// <version>_<title>.<up|down>.sql layout.
//
//go:embed *.sql
var FS embed.FS
