// Package db embeds the schema applied at startup.
package db

import _ "embed"

// Schema holds the full DDL, applied idempotently on boot.
//
//go:embed migrations/001_schema.sql
var Schema string
