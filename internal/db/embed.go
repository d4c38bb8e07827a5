package db

import "embed"

// EmbedMigrations holds the pipeline and execution schema.
//
//go:embed migrations/*.sql
var EmbedMigrations embed.FS
