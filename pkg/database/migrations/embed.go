// Package migrations bundles the schema of every supported database driver.
package migrations

import "embed"

// FS holds one directory per driver name, e.g. "sqlite3/001_init.sql"
//
//go:embed sqlite3/*.sql postgres/*.sql
var FS embed.FS
