// Package storage persists the relay's state: the resolution cache, audio links,
// the request log used by /stats, and the set of known users.
//
// Drivers:
//   - "sqlite": modernc.org/sqlite database file (default)
//   - "postgres": PostgreSQL through the pgx database/sql driver
//   - "redis": hashes, one sorted set per category and a user set
//   - "file": dependency-free JSON-lines journal, replayed on open
//   - "memory": process-local maps, used by tests and dry runs
package storage
