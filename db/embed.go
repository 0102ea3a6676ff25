// Package db embeds the database schema applied at service start.
package db

import _ "embed"

// Schema contains the idempotent DDL for all fulfillment tables.
//
//go:embed migrations/001_schema.sql
var Schema string
