// Package queue persists digitization jobs in SQLite and exposes helpers for
// driving their lifecycle.
//
// The Store manages database connections, schema initialization, stats queries,
// heartbeat tracking, stale-claim recovery, and the guarded status transitions
// that implement the public job state machine. Jobs capture their target page
// list, per-page results, and progress counters so controllers can resume
// safely after a crash; batch jobs additionally carry a provider submission
// record and, once removed by the sweeper, an archive row.
//
// Treat this package as the single source of truth for job semantics; when you
// add new statuses or columns, update schema.sql and bump schemaVersion.
package queue
