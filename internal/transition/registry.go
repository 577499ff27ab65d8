package transition

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/sentinel/internal/settings"
)

// Registry holds every known transition in registration order and the
// active subset for the current configuration generation.
//
// Registration order never changes after construction; it is the order in
// which the engine evaluates transitions.
type Registry struct {
	mu     sync.RWMutex
	all    []Transition
	byName map[string]Transition

	generation  int64
	settings    *settings.Settings
	active      []Transition
	diagnostics []Diagnostic
}

// Snapshot is a consistent view of one configuration generation.
type Snapshot struct {
	Generation  int64
	Settings    *settings.Settings
	Active      []Transition
	Diagnostics []Diagnostic
}

// NewRegistry creates a registry with the given transitions in order.
// Returns an error on duplicate names.
func NewRegistry(transitions ...Transition) (*Registry, error) {
	r := &Registry{byName: make(map[string]Transition)}
	for _, t := range transitions {
		if err := r.register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) register(t Transition) error {
	name := t.Name()
	if name == "" {
		return fmt.Errorf("register transition: empty name")
	}
	if _, dup := r.byName[name]; dup {
		return fmt.Errorf("register transition: duplicate name %q", name)
	}
	r.byName[name] = t
	r.all = append(r.all, t)
	return nil
}

// Names returns every registered transition name in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.all))
	for i, t := range r.all {
		names[i] = t.Name()
	}
	return names
}

// Lookup returns the transition registered under name.
func (r *Registry) Lookup(name string) (Transition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byName[name]
	return t, ok
}

// Configure validates s and makes it the current configuration, starting a
// new generation. Returns the validator's diagnostics.
func (r *Registry) Configure(s *settings.Settings) []Diagnostic {
	r.mu.Lock()
	defer r.mu.Unlock()

	active, diags := Validate(s, r.all)

	r.generation++
	r.settings = s
	r.active = active
	r.diagnostics = diags

	names := make([]string, len(active))
	for i, t := range active {
		names[i] = t.Name()
	}
	slog.Info("transitions configured",
		"generation", r.generation,
		"active", names,
		"diagnostics", len(diags),
	)

	return diags
}

// Snapshot returns the current configuration generation.
// The returned slices must not be modified.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return Snapshot{
		Generation:  r.generation,
		Settings:    r.settings,
		Active:      r.active,
		Diagnostics: r.diagnostics,
	}
}
