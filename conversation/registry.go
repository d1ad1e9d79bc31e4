package conversation

import (
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Definition is one registered conversation: its builder and the options
// that shape how the manager treats its instances.
type Definition[C any] struct {
	Name     string
	Builder  Builder[C]
	Parallel bool
	// MaxWait, if nonzero, bounds how long an instance may sit suspended on
	// a wait before the manager treats the next resume as an implicit halt
	// rather than actually supplying the event.
	MaxWait time.Duration
}

// Registry holds every conversation downstream middleware has registered.
// Duplicate names are rejected at registration time, not at enter time.
type Registry[C any] struct {
	mu   sync.Mutex
	defs map[string]Definition[C]
}

func NewRegistry[C any]() *Registry[C] {
	return &Registry[C]{defs: make(map[string]Definition[C])}
}

// Register adds a conversation definition. It returns ErrNamelessConversation
// for an empty name and ErrDuplicateName if the name is already registered.
func (r *Registry[C]) Register(def Definition[C]) error {
	if def.Name == "" {
		return ErrNamelessConversation
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[def.Name]; exists {
		return errors.Wrapf(ErrDuplicateName, "name %q", def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

func (r *Registry[C]) lookup(name string) (Definition[C], bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.defs[name]
	return d, ok
}

// names returns every registered conversation name in sorted order, so
// which conversation's stored instances consume an incoming event first is
// deterministic rather than following Go's randomized map iteration.
func (r *Registry[C]) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.defs))
	for name := range r.defs {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
