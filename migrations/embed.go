// Package migrations embeds the goose SQL migrations so the API binary,
// the migrate CLI and the integration tests all apply the same files.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
