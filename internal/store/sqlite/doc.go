// Package sqlite provides the SQLite-backed store.Backend.
//
// The backend keeps two tables:
//   - messages: the append-only log, one row per message, keyed by id with a
//     unique global_position
//   - counters: one row per position counter (category name or the global key)
//
// # Atomicity
//
// IncrementCounter is a single upsert statement with RETURNING, so two
// writers can never observe the same value. Update runs its callback inside
// one IMMEDIATE transaction: the write lock is taken at BEGIN, which both
// serializes concurrent Updates across processes and makes the callback's
// reads consistent with its writes.
//
// # Deterministic Query Results
//
// Every SELECT carries an ORDER BY on the requested integer column with
// id COLLATE BINARY as tiebreaker.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package sqlite
