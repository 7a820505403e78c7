// Package db embeds the checkout schema and seed fixtures.
package db

import _ "embed"

// Schema contains the idempotent DDL for every checkout table and the
// order number sequence.
//
//go:embed migrations/001_schema.sql
var Schema string

// Fixture is the default seed document read by seed-db.
//
//go:embed seed/fixture.json
var Fixture []byte
