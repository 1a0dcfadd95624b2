// Package migrations embeds the replay log schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
