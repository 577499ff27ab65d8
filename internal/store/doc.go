// Package store provides SQLite-backed durable storage for sentinel.
//
// One database holds:
//   - Documents and their change feed (docs, changes, checkpoints)
//   - Info documents: per-document transition outcomes and run history
//   - Accounts (users) and the outbound message queue (messages)
//   - Replace-user saga progress (replacement_progress)
//
// # Critical Patterns
//
// Atomic change commit:
//   - CommitChange writes the source document, its info document and the
//     run history in one transaction
//   - transition_runs is UNIQUE(doc_id, transition, change_hash)
//
// Optimistic document writes:
//   - Every write names the revision it replaces; a stale revision fails
//     with ErrConflict and appends nothing to the feed
//
// Deterministic reads:
//   - Feed and history queries are ordered by seq
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - One open connection: SQLite has a single writer
package store
