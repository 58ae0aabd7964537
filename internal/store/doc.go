// Package store provides SQLite-backed persistence for the workbench.
//
// It holds three things:
//   - a key/value table for per-template form state and flag maps
//   - named presets per template
//   - an append-only run history
//
// # Ordering
//
// Presets and history carry a seq column; list queries order by it (or by
// name COLLATE BINARY) so results are identical across machines.
// submitted_at is informational only.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
package store
