// Package migrations bundles the SQL schema the PostgreSQL patient store reads.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
