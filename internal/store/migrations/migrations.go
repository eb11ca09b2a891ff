// Package migrations embeds the replica database schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
