package engine

import (
	"context"
	"sync"
	"time"
)

// idlePollInterval is how often WaitIdle re-checks for in-flight changes.
const idlePollInterval = 5 * time.Millisecond

// checkpointTracker tracks dispatched and acknowledged sequences and yields
// the highest sequence below which every change has been acknowledged.
//
// Workers acknowledge out of order across shards; the checkpoint must never
// skip past a change that is still in flight.
type checkpointTracker struct {
	mu         sync.Mutex
	checkpoint int64
	inflight   []int64
	acked      map[int64]bool
}

func newCheckpointTracker(start int64) *checkpointTracker {
	return &checkpointTracker{
		checkpoint: start,
		acked:      make(map[int64]bool),
	}
}

// Dispatch records seq as in flight. Sequences must be dispatched in
// increasing order.
func (t *checkpointTracker) Dispatch(seq int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight = append(t.inflight, seq)
}

// Ack marks seq as done and advances the checkpoint over every leading
// acknowledged sequence.
func (t *checkpointTracker) Ack(seq int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.acked[seq] = true
	for len(t.inflight) > 0 && t.acked[t.inflight[0]] {
		t.checkpoint = t.inflight[0]
		delete(t.acked, t.inflight[0])
		t.inflight = t.inflight[1:]
	}
}

// Checkpoint returns the highest contiguous acknowledged sequence.
func (t *checkpointTracker) Checkpoint() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.checkpoint
}

// Pending returns the number of dispatched but unacknowledged changes.
func (t *checkpointTracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// WaitIdle blocks until no change is in flight or ctx is cancelled.
func (t *checkpointTracker) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()

	for t.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
