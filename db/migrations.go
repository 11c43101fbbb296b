// Package db holds the Postgres schema for templates, shortcodes and the
// extraction audit trail.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
