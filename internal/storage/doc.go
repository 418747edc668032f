// Package storage persists subscribers and their signal inbox in SQLite
// (modernc, no cgo) or PostgreSQL (lib/pq). Both drivers share one
// database/sql implementation; queries are written with ? placeholders and
// rebound per dialect.
package storage
