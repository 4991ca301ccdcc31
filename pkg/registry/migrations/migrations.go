// Package migrations embeds the registry's versioned postgres schema,
// mirroring dittofs's pkg/store/metadata/postgres/migrations package.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
