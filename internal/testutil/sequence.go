package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator generates ids of the form "<prefix>-0001", "<prefix>-0002", ...
//
// It satisfies engine.RunIDGenerator, and its Generate method can be passed
// wherever an id func is accepted (messages.WithIDFunc). Two generators with
// the same prefix produce the same sequence.
//
// Thread-safety: all methods are safe for concurrent use.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator. An empty prefix uses "id".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next id.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// Count returns how many ids have been generated.
func (g *SequenceGenerator) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// Suffixes returns a func yielding values in order, repeating the last one
// once they run out. With no values it always returns 1234.
//
// It is the deterministic username suffix source for replaceuser.WithSuffixFunc.
func Suffixes(values ...int) func() int {
	if len(values) == 0 {
		values = []int{1234}
	}
	var (
		mu   sync.Mutex
		next int
	)
	return func() int {
		mu.Lock()
		defer mu.Unlock()
		v := values[min(next, len(values)-1)]
		next++
		return v
	}
}
