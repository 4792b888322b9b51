// Package migrations embeds the goose SQL migration files for the Storage Gateway schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
