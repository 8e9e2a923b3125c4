// Package migrations embeds the SQL migration files.
//
// Migration files follow the naming convention: NNNN_description.sql
// They are applied in version order by the migrate package, which also
// owns the version ledger and the schema probes.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
