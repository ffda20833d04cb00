// Package db embeds the database schema applied at startup.
package db

import _ "embed"

// Schema holds the DDL for the checkout tables: products, carts and cart
// items, orders with their status log, payments, and the webhook audit trail.
//
//go:embed migrations/001_schema.sql
var Schema string
