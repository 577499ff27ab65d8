package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/roach88/sentinel/internal/accounts"
	"github.com/roach88/sentinel/internal/engine"
	"github.com/roach88/sentinel/internal/messages"
	"github.com/roach88/sentinel/internal/model"
	"github.com/roach88/sentinel/internal/store"
	"github.com/roach88/sentinel/internal/testutil"
	"github.com/roach88/sentinel/internal/transition"
	"github.com/roach88/sentinel/internal/transition/replaceuser"
)

// DefaultTimeout bounds a whole scenario run.
const DefaultTimeout = 30 * time.Second

// signingKey signs login tokens issued during scenarios.
const signingKey = "harness-signing-key"

// Harness is the test execution engine.
// It wires the production engine and transitions to a scratch store with a
// deterministic clock, run ids, message ids and username suffixes.
type Harness struct {
	store    *store.Store
	registry *transition.Registry
	engine   *engine.Engine
	accounts *accounts.Service
	clock    *testutil.DeterministicClock
	runIDs   *testutil.SequenceGenerator
	logger   *slog.Logger

	// docIDs are the documents the scenario wrote, in first-write order.
	docIDs []string
	seen   map[string]bool
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs against a fresh SQLite file in a temporary directory.
//
// Execution flow:
// 1. Open the scratch store and wire the engine
// 2. Store the settings document, users and documents
// 3. Execute the steps in order
// 4. Collect the final state and evaluate assertions
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "sentinel-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}
	defer os.RemoveAll(dir)

	st, err := store.Open(filepath.Join(dir, "harness.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	defer st.Close()

	h, err := newHarness(st, scenario)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
	defer cancel()

	result := NewResult()
	if err := h.executeSetup(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.executeSteps(ctx, scenario.Steps, result); err != nil {
		return nil, fmt.Errorf("failed to execute steps: %w", err)
	}

	state, err := h.collectState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect state: %w", err)
	}
	result.State = state

	actx := &AssertionContext{
		Ctx:      ctx,
		Store:    st,
		Accounts: h.accounts,
		State:    state,
	}
	for _, errMsg := range EvaluateAssertions(scenario.Assertions, actx) {
		result.AddError(errMsg)
	}
	return result, nil
}

func newHarness(st *store.Store, scenario *Scenario) (*Harness, error) {
	clock := testutil.NewDeterministicClock(testutil.DefaultStart, time.Second)

	svc := accounts.NewService(st,
		accounts.NewTokenIssuer(signingKey, "sentinel", 0),
		accounts.WithHashCost(bcrypt.MinCost),
		accounts.WithNow(clock.Now),
	)
	queue := messages.NewQueue(st,
		messages.WithIDFunc(testutil.NewSequenceGenerator("msg").Generate),
		messages.WithNow(clock.Now),
	)
	replace := replaceuser.New(st, svc, queue, st,
		replaceuser.WithSuffixFunc(testutil.Suffixes(scenario.Suffixes...)),
		replaceuser.WithNow(clock.Now),
	)

	registry, err := transition.NewRegistry(replace)
	if err != nil {
		return nil, fmt.Errorf("failed to build registry: %w", err)
	}

	h := &Harness{
		store:    st,
		registry: registry,
		accounts: svc,
		clock:    clock,
		runIDs:   testutil.NewSequenceGenerator("run"),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)), // Suppress logs in tests
		seen:     make(map[string]bool),
	}
	h.engine = h.newEngine(false)
	return h, nil
}

// newEngine builds an engine over the harness store. One worker keeps the
// clock and id sequences deterministic.
func (h *Harness) newEngine(rerunFailed bool) *engine.Engine {
	return engine.New(h.store, h.registry,
		engine.WithWorkers(1),
		engine.WithPollInterval(10*time.Millisecond),
		engine.WithBackoff(time.Millisecond, 10*time.Millisecond),
		engine.WithNow(h.clock.Now),
		engine.WithRunIDGenerator(h.runIDs),
		engine.WithRerunFailed(rerunFailed),
	)
}

// executeSetup stores the settings document, users and documents.
// Nothing is processed until the first drain step.
func (h *Harness) executeSetup(ctx context.Context, scenario *Scenario) error {
	if scenario.Settings != nil {
		if err := h.putSettings(ctx, scenario.Settings); err != nil {
			return err
		}
	}

	for i, u := range scenario.Users {
		_, err := h.accounts.Create(ctx, accounts.AccountSpec{
			Username:   u.Username,
			ContactID:  u.ContactID,
			FacilityID: u.FacilityID,
			Roles:      u.Roles,
			Phone:      u.Phone,
			FullName:   u.Username,
			Password:   u.Password,
		})
		if err != nil {
			return fmt.Errorf("users[%d]: %w", i, err)
		}
	}

	for i, doc := range scenario.Docs {
		if _, err := h.putDoc(ctx, doc); err != nil {
			return fmt.Errorf("docs[%d]: %w", i, err)
		}
	}

	h.logger.Info("setup completed",
		"users", len(scenario.Users),
		"docs", len(scenario.Docs),
	)
	return nil
}

// executeSteps runs every step in order and records it in the trace.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) error {
	for i, step := range steps {
		kind := step.Kind()
		docID, err := h.executeStep(ctx, step)
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i, kind, err)
		}

		seq, err := h.store.LastSeq(ctx)
		if err != nil {
			return fmt.Errorf("step %d (%s): %w", i, kind, err)
		}
		result.AddTrace(i, kind, docID, seq)

		h.logger.Info("step completed",
			"step", i,
			"kind", kind,
			"doc_id", docID,
			"seq", seq,
		)
	}
	return nil
}

func (h *Harness) executeStep(ctx context.Context, step Step) (string, error) {
	switch step.Kind() {
	case StepPut:
		return h.putDoc(ctx, step.Put)
	case StepUpdate:
		return step.Update.ID, h.updateDoc(ctx, step.Update)
	case StepDelete:
		return step.Delete, h.deleteDoc(ctx, step.Delete)
	case StepSettings:
		return model.SettingsDocID, h.putSettings(ctx, step.Settings)
	case StepDrain:
		return "", h.engine.Drain(ctx)
	case StepReplay:
		eng := h.newEngine(step.Replay.RerunFailed)
		if err := eng.Rewind(ctx, step.Replay.From); err != nil {
			return "", err
		}
		return "", eng.Drain(ctx)
	default:
		return "", fmt.Errorf("invalid step")
	}
}

// putDoc writes fields as a document on top of its current revision.
func (h *Harness) putDoc(ctx context.Context, fields map[string]any) (string, error) {
	doc := model.Document(maps.Clone(fields))
	id := doc.ID()

	current, err := h.store.GetDoc(ctx, id)
	switch {
	case err == nil:
		doc[model.FieldRev] = current.Rev()
	case errors.Is(err, store.ErrNotFound):
		delete(doc, model.FieldRev)
	default:
		return "", err
	}

	if _, err := h.store.PutDoc(ctx, doc); err != nil {
		return "", err
	}
	h.track(id)
	return id, nil
}

func (h *Harness) updateDoc(ctx context.Context, u *DocUpdate) error {
	doc, err := h.store.GetDoc(ctx, u.ID)
	if err != nil {
		return err
	}
	for k, v := range u.Set {
		doc[k] = v
	}
	if _, err := h.store.PutDoc(ctx, doc); err != nil {
		return err
	}
	h.track(u.ID)
	return nil
}

func (h *Harness) deleteDoc(ctx context.Context, id string) error {
	doc, err := h.store.GetDoc(ctx, id)
	if err != nil {
		return err
	}
	_, err = h.store.DeleteDoc(ctx, id, doc.Rev())
	return err
}

func (h *Harness) putSettings(ctx context.Context, fields map[string]any) error {
	doc := maps.Clone(fields)
	doc[model.FieldID] = model.SettingsDocID
	if _, err := h.putDoc(ctx, doc); err != nil {
		return fmt.Errorf("settings: %w", err)
	}
	return nil
}

func (h *Harness) track(id string) {
	if id == model.SettingsDocID || h.seen[id] {
		return
	}
	h.seen[id] = true
	h.docIDs = append(h.docIDs, id)
}
