// Package storage persists monitoring state: per-recipient monitoring
// toggles, watched spaces, detected campaigns (write-once) and the
// append-only notification log.
//
// Drivers:
//   - "memory": process-local maps, for tests and dry runs
//   - "sqlite": modernc.org/sqlite (pure Go)
//   - "postgres": pgx through database/sql
//   - "redis": go-redis hashes and sets
//
// Insert-if-absent for detected campaigns is atomic in every driver.
package storage
