package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/sentinel/internal/model"
	"github.com/roach88/sentinel/internal/settings"
	"github.com/roach88/sentinel/internal/store"
	"github.com/roach88/sentinel/internal/transition"
)

const (
	// DefaultCheckpointName is the feed consumer name the engine saves its
	// checkpoint under.
	DefaultCheckpointName = "sentinel"

	// DefaultWorkers is the default number of shards.
	DefaultWorkers = 4

	// DefaultPollInterval is how long the poller waits when the feed is idle.
	DefaultPollInterval = time.Second

	// DefaultBatchSize is the number of feed entries read per poll.
	DefaultBatchSize = 100
)

// Store is the persistence the engine needs.
type Store interface {
	GetDoc(ctx context.Context, id string) (model.Document, error)
	Changes(ctx context.Context, since int64, limit int) ([]model.Change, error)
	LastSeq(ctx context.Context) (int64, error)
	Checkpoint(ctx context.Context, name string) (int64, error)
	SaveCheckpoint(ctx context.Context, name string, seq int64) error
	GetInfo(ctx context.Context, docID string) (*model.InfoDoc, error)
	CommitChange(ctx context.Context, c store.ChangeCommit) (string, error)
}

// Engine watches the change feed and dispatches changes to transitions.
//
// Thread-safety model:
//   - Run() and Drain() must not be called concurrently on one engine
//   - each document is processed by exactly one worker at a time
//   - the registry may be reconfigured while workers run; each change is
//     evaluated against one configuration snapshot
type Engine struct {
	store    Store
	registry *transition.Registry

	checkpointName string
	workers        int
	pollInterval   time.Duration
	batchSize      int
	maxAttempts    int
	backoffBase    time.Duration
	backoffMax     time.Duration
	rerunFailed    bool

	now     func() time.Time
	runIDs  RunIDGenerator
	metrics *Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithWorkers sets the number of shards. Values below 1 are ignored.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithPollInterval sets the idle wait between feed reads.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithBatchSize sets the number of feed entries read per poll.
func WithBatchSize(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.batchSize = n
		}
	}
}

// WithMaxAttempts sets how many times a change is processed before it is
// acknowledged despite failing.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) {
		e.maxAttempts = n
	}
}

// WithBackoff sets the retry backoff. Tests use WithBackoff(0, 0).
func WithBackoff(base, limit time.Duration) Option {
	return func(e *Engine) {
		e.backoffBase = base
		e.backoffMax = limit
	}
}

// WithCheckpointName sets the feed consumer name.
func WithCheckpointName(name string) Option {
	return func(e *Engine) {
		e.checkpointName = name
	}
}

// WithRerunFailed makes transitions whose last outcome for the current
// logical change failed run again. Used by replay.
func WithRerunFailed(on bool) Option {
	return func(e *Engine) {
		e.rerunFailed = on
	}
}

// WithNow sets the wall clock used for info document timestamps.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithRunIDGenerator sets the generator for transition run ids.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) {
		e.runIDs = g
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an engine over s dispatching to the transitions of registry.
func New(s Store, registry *transition.Registry, opts ...Option) *Engine {
	e := &Engine{
		store:          s,
		registry:       registry,
		checkpointName: DefaultCheckpointName,
		workers:        DefaultWorkers,
		pollInterval:   DefaultPollInterval,
		batchSize:      DefaultBatchSize,
		maxAttempts:    DefaultMaxAttempts,
		backoffBase:    DefaultBackoff,
		backoffMax:     DefaultMaxBackoff,
		now:            time.Now,
		runIDs:         UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run follows the change feed until ctx is cancelled.
//
// On cancellation the poller stops, each worker finishes the change it is
// processing, and the checkpoint is saved. Changes dispatched but not yet
// processed are redelivered on the next start. Returns ctx.Err() after a
// clean shutdown.
func (e *Engine) Run(ctx context.Context) error {
	return e.run(ctx, false)
}

// Drain processes the feed until it is quiet and returns once every change
// is acknowledged. Writes the engine commits while draining append to the
// feed, so the feed is drained again until the checkpoint reaches its end.
func (e *Engine) Drain(ctx context.Context) error {
	for {
		if err := e.run(ctx, true); err != nil {
			return err
		}
		cp, err := e.store.Checkpoint(ctx, e.checkpointName)
		if err != nil {
			return err
		}
		last, err := e.store.LastSeq(ctx)
		if err != nil {
			return err
		}
		if last <= cp {
			return nil
		}
	}
}

// Rewind moves the checkpoint so the next Run or Drain starts at seq.
func (e *Engine) Rewind(ctx context.Context, seq int64) error {
	cp := max(seq-1, 0)
	if err := e.store.SaveCheckpoint(ctx, e.checkpointName, cp); err != nil {
		return fmt.Errorf("rewind to %d: %w", seq, err)
	}
	slog.Info("checkpoint rewound", "name", e.checkpointName, "checkpoint", cp)
	return nil
}

// LoadSettings configures the registry from the settings document. A
// missing document leaves every transition disabled.
func (e *Engine) LoadSettings(ctx context.Context) error {
	doc, err := e.store.GetDoc(ctx, model.SettingsDocID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("no settings document; all transitions disabled")
		e.registry.Configure(&settings.Settings{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	e.applySettings(doc)
	return nil
}

// applySettings validates a settings document and reconfigures the
// registry. A structurally invalid document keeps the previous
// configuration.
func (e *Engine) applySettings(doc model.Document) {
	s, err := settings.FromDocument(doc)
	if err != nil {
		slog.Error("settings rejected; keeping previous configuration",
			"rev", doc.Rev(),
			"error", err,
		)
		if e.registry.Snapshot().Generation == 0 {
			e.registry.Configure(&settings.Settings{})
		}
		return
	}
	e.registry.Configure(s)
}

func (e *Engine) run(ctx context.Context, drain bool) error {
	if err := e.LoadSettings(ctx); err != nil {
		return err
	}

	start, err := e.store.Checkpoint(ctx, e.checkpointName)
	if err != nil {
		return err
	}

	var until int64
	if drain {
		if until, err = e.store.LastSeq(ctx); err != nil {
			return err
		}
		if until <= start {
			slog.Info("feed already processed", "checkpoint", start)
			return nil
		}
	}

	slog.Info("engine starting",
		"checkpoint", start,
		"workers", e.workers,
		"drain_until", until,
	)

	tracker := newCheckpointTracker(start)
	queues := make([]*eventQueue, e.workers)
	for i := range queues {
		queues[i] = newEventQueue()
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, q := range queues {
		q := q
		g.Go(func() error {
			e.work(gctx, q, tracker)
			return nil
		})
	}
	g.Go(func() error {
		defer func() {
			for _, q := range queues {
				q.Close()
			}
		}()
		return e.poll(gctx, queues, tracker, start, until)
	})
	runErr := g.Wait()

	cp := tracker.Checkpoint()
	if err := e.saveCheckpoint(context.WithoutCancel(ctx), cp); err != nil {
		return errors.Join(runErr, err)
	}

	if ctx.Err() != nil {
		slog.Info("engine stopped", "checkpoint", cp, "unacknowledged", tracker.Pending())
		return ctx.Err()
	}
	if runErr != nil {
		return runErr
	}
	slog.Info("engine drained", "checkpoint", cp)
	return nil
}

// poll reads the feed and dispatches changes to shards. In drain mode
// (until > 0) it returns once every change up to until is dispatched.
func (e *Engine) poll(ctx context.Context, queues []*eventQueue, tracker *checkpointTracker, start, until int64) error {
	next := start
	saved := start

	for {
		if cp := tracker.Checkpoint(); cp != saved {
			if err := e.saveCheckpoint(ctx, cp); err != nil {
				return err
			}
			saved = cp
		}
		if until > 0 && next >= until {
			return nil
		}

		changes, err := e.store.Changes(ctx, next, e.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("read change feed", "since", next, "error", err)
			changes = nil
		}

		for _, c := range changes {
			if until > 0 && c.Seq > until {
				next = until
				break
			}
			if c.DocID == model.SettingsDocID {
				if err := e.reconfigure(ctx, tracker, c); err != nil {
					return err
				}
				next = c.Seq
				continue
			}
			tracker.Dispatch(c.Seq)
			queues[e.shard(c.DocID)].Enqueue(Event{Change: c})
			next = c.Seq
		}

		if len(changes) == e.batchSize {
			continue
		}
		if until > 0 && next >= until {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(e.pollInterval):
		}
	}
}

// reconfigure applies a settings change once every earlier change has been
// acknowledged, so changes after it in the feed see the new configuration
// and changes before it see the old one.
func (e *Engine) reconfigure(ctx context.Context, tracker *checkpointTracker, c model.Change) error {
	if err := tracker.WaitIdle(ctx); err != nil {
		return err
	}
	if err := e.LoadSettings(ctx); err != nil {
		slog.Error("reload settings", "seq", c.Seq, "error", err)
	}
	tracker.Dispatch(c.Seq)
	tracker.Ack(c.Seq)
	return nil
}

// work processes one shard until its queue is drained or ctx is cancelled.
func (e *Engine) work(ctx context.Context, q *eventQueue, tracker *checkpointTracker) {
	for {
		if ctx.Err() != nil {
			return
		}

		if ev, ok := q.TryDequeue(); ok {
			if !e.handle(ctx, ev) {
				return
			}
			tracker.Ack(ev.Change.Seq)
			continue
		}

		if q.Drained() {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-q.Wait():
		}
	}
}

// handle processes one change with retries. Returns false if ctx was
// cancelled while waiting to retry, leaving the change unacknowledged.
func (e *Engine) handle(ctx context.Context, ev Event) bool {
	c := ev.Change
	// An in-flight change is finished even if shutdown starts.
	pctx := context.WithoutCancel(ctx)
	budget := NewRetryBudget(c, e.maxAttempts)

	for {
		started := time.Now()
		state, err := e.processChange(pctx, c)
		e.metrics.ObserveChange(state, time.Since(started))
		if err == nil {
			return true
		}

		if exhausted := budget.Fail(err); exhausted != nil {
			slog.Error("giving up on change",
				"seq", c.Seq,
				"doc_id", c.DocID,
				"attempts", budget.Attempts(),
				"error", exhausted,
			)
			e.metrics.IncrementExhausted()
			return true
		}

		wait := backoff(e.backoffBase, e.backoffMax, budget.Attempts())
		slog.Warn("change failed; retrying",
			"seq", c.Seq,
			"doc_id", c.DocID,
			"attempt", budget.Attempts(),
			"retry_in", wait,
			"error", err,
		)
		e.metrics.IncrementRetry()

		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}
	}
}

func (e *Engine) saveCheckpoint(ctx context.Context, seq int64) error {
	if err := e.store.SaveCheckpoint(ctx, e.checkpointName, seq); err != nil {
		return err
	}
	e.metrics.SetCheckpoint(seq)
	return nil
}

// shard maps a document id to a worker.
func (e *Engine) shard(docID string) int {
	return int(xxhash.Sum64String(docID) % uint64(e.workers))
}
