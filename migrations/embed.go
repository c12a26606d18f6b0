// Package migrations embeds the Postgres schema for the appointment record
// table and the per-country detail tables.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
