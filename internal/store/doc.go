// Package store provides task persistence for tasktrack.
//
// # Storage
//
// SQLiteStore is the production implementation, backed by modernc.org/sqlite.
// MemoryStore is an in-memory implementation with identical semantics, used in
// tests.
//
// # Timestamps
//
// All timestamps are persisted as signed 64-bit milliseconds since the Unix
// epoch (UTC). Optional timestamps that are absent are stored as NULL:
//
//	EncodeTime(t)            // int64
//	EncodeOptionalTime(nil)  // sql.NullInt64{Valid: false}
//
// Values are truncated to millisecond precision before they are returned, so a
// task read back from the database equals the task returned by the write.
//
// # Completion
//
// CompleteTask is a one-way transition: it sets IsCompleted and CompletedAt the
// first time and is a no-op afterwards. UpdateTask routes IsCompleted=true
// through the same transition. UpdateTask with IsCompleted=false reopens the
// task but keeps the previous CompletedAt.
package store
