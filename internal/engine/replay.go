package engine

// Redelivery and replay
//
// Every change may be delivered more than once: after a crash the feed
// resumes from the last saved checkpoint, which can be behind changes that
// were already committed. Redelivery is harmless because the same code
// path handles first delivery and redelivery:
//
//  1. Logical change hash
//
//	hash := model.ChangeHash(doc)
//
//     RFC 8785 canonical JSON of the document without _rev and errors,
//     hashed with domain separation. Writes made by the engine itself
//     never look like a new logical change.
//
//  2. Recorded outcome
//
//     A transition whose info document outcome already carries the hash is
//     not run again. Failed outcomes are only re-run on a new logical change
//     or when replaying with WithRerunFailed.
//
//  3. Atomic commit
//
//     The document, the info document and the run history of one change are
//     written in one transaction (store.CommitChange). Either all of them
//     persist or none do, so a crash can never leave a document updated
//     without its outcome recorded.
//
//  4. Saga progress
//
//     Side effects outside the document (accounts, messages) are recorded
//     step by step by the transition that performs them, so a transition
//     interrupted half way resumes instead of repeating earlier steps.
//
// Replay
//
// Rewind moves the checkpoint back; the next Drain or Run re-delivers every
// change from there. With WithRerunFailed, transitions that failed on the
// current state of a document get another attempt:
//
//	eng := engine.New(st, registry, engine.WithRerunFailed(true))
//	eng.Rewind(ctx, 120)
//	eng.Drain(ctx)
