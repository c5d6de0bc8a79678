// Package mysql provides a MySQL 8.0+ conversion event store.
//
// PendingEvents claims a batch in one short transaction:
//   - READ COMMITTED isolation (to avoid gap locks)
//   - SELECT ... FOR UPDATE SKIP LOCKED
//   - ORDER BY created_at, id
//   - claimed_until stamped on every returned row
//
// A claimed row stays invisible to other dispatchers until it is marked or
// its claim expires, so several dispatchers can poll the same tables.
//
// The DSN must enable parseTime; Open does this for you. See Schema for the
// table layout and CleanupMaintainer for periodic retention cleanup.
package mysql
