// Package migrations embeds the SQL schema files applied by db.Migrate and
// the test infrastructure.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
