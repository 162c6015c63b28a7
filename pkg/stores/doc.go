// Package stores records resolved config snapshots in SQLite. The database
// runs in WAL mode and its schema is kept current by embedded migrations.
// Snapshots are deduplicated by kind and document digest, and policy
// findings can be attached to each one.
package stores
