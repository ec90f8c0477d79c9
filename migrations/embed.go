// Package migrations embeds the goose SQL migration files for the
// knowledge store schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
