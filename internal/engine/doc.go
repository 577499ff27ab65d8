// Package engine implements the change watcher and dispatcher.
//
// The engine follows the document store's change feed from a durable
// checkpoint and offers every change to the active transitions.
//
// Per change:
//
//	RECEIVED → EVALUATING → APPLIED | SKIPPED | FAILED
//
// RECEIVED loads the current document. Missing and deleted documents are
// skipped, the settings document reconfigures the registry, and a revision
// the engine wrote itself is skipped. EVALUATING loads (or creates) the
// info document, computes the logical change hash and runs every active
// transition whose filter accepts the document and which has not already
// run against that hash. The updated document, the info document and one
// history row per executed transition are committed in a single SQLite
// transaction.
//
// Changes are sharded by document id across workers. A worker processes its
// shard strictly in feed order, so one document is never evaluated
// concurrently. The checkpoint only advances to the highest contiguous
// acknowledged sequence.
//
// An infrastructure error leaves the change unacknowledged; it is retried
// with backoff until the attempt budget runs out, after which it is
// acknowledged and logged. Validation failures are not errors at this
// level: they are recorded on the document and in the info document.
package engine
