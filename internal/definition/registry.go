package definition

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pitabwire/triage/model"
)

// snapshot is an immutable set of action configs indexed by ID. order holds
// IDs in insertion order for stable sorting.
type snapshot struct {
	actions  map[string]model.ActionConfig
	order    []string
	checksum string
}

// Registry is a read-optimized, thread-safe store of action configs. Reads
// are lock-free through an atomic pointer; writers build a new snapshot and
// swap it in.
type Registry struct {
	snap atomic.Pointer[snapshot]
	mu   sync.Mutex
}

// NewRegistry builds a Registry from the declarative and built-in configs.
// Declarative entries always win over a built-in with the same ID.
func NewRegistry(builtins, declarative []model.ActionConfig) *Registry {
	r := &Registry{}
	r.Replace(builtins, declarative)
	return r
}

// Replace atomically swaps the registry contents with a snapshot built from
// the given configs.
func (r *Registry) Replace(builtins, declarative []model.ActionConfig) {
	s := &snapshot{actions: make(map[string]model.ActionConfig, len(builtins)+len(declarative))}
	for _, cfg := range declarative {
		cfg.Source = model.SourceDeclarative
		s.insert(cfg)
	}
	for _, cfg := range builtins {
		cfg.Source = model.SourceBuiltin
		s.insert(cfg)
	}
	s.checksum = s.computeChecksum()

	r.mu.Lock()
	r.snap.Store(s)
	r.mu.Unlock()
}

// insert adds cfg unless its ID is already taken.
func (s *snapshot) insert(cfg model.ActionConfig) bool {
	if cfg.ActionID == "" {
		return false
	}
	if _, exists := s.actions[cfg.ActionID]; exists {
		return false
	}
	s.actions[cfg.ActionID] = cloneConfig(cfg)
	s.order = append(s.order, cfg.ActionID)
	return true
}

func (s *snapshot) computeChecksum() string {
	h := sha256.New()
	for _, id := range s.order {
		b, _ := json.Marshal(s.actions[id])
		h.Write(b)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Register adds a fallback config. It returns false and leaves the registry
// unchanged when the ID is empty or already registered, so a registered ID
// is never displaced.
func (r *Registry) Register(cfg model.ActionConfig) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.current()
	if cfg.ActionID == "" {
		return false
	}
	if _, exists := cur.actions[cfg.ActionID]; exists {
		return false
	}

	next := &snapshot{
		actions: make(map[string]model.ActionConfig, len(cur.actions)+1),
		order:   make([]string, len(cur.order), len(cur.order)+1),
	}
	for id, a := range cur.actions {
		next.actions[id] = a
	}
	copy(next.order, cur.order)
	if cfg.Source == "" {
		cfg.Source = model.SourceBuiltin
	}
	next.insert(cfg)
	next.checksum = next.computeChecksum()
	r.snap.Store(next)
	return true
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Get returns the action config with the given ID. The returned value is a
// copy; callers may not modify registry state through it.
func (r *Registry) Get(actionID string) (model.ActionConfig, bool) {
	a, ok := r.current().actions[actionID]
	if !ok {
		return model.ActionConfig{}, false
	}
	return cloneConfig(a), true
}

// ActionsForMode returns the actions available in mode, highest priority
// first, ties in insertion order. ModeBoth returns every action.
func (r *Registry) ActionsForMode(mode model.Mode) []model.ActionConfig {
	s := r.current()
	out := make([]model.ActionConfig, 0, len(s.order))
	for _, id := range s.order {
		a := s.actions[id]
		if mode == model.ModeBoth || a.Mode.Allows(mode) {
			out = append(out, cloneConfig(a))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority.Rank() > out[j].Priority.Rank()
	})
	return out
}

// All returns every registered action in insertion order.
func (r *Registry) All() []model.ActionConfig {
	s := r.current()
	out := make([]model.ActionConfig, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, cloneConfig(s.actions[id]))
	}
	return out
}

// Len returns the number of registered actions.
func (r *Registry) Len() int {
	return len(r.current().order)
}

// Checksum returns a digest of the registered configs.
func (r *Registry) Checksum() string {
	return r.current().checksum
}

func cloneConfig(c model.ActionConfig) model.ActionConfig {
	c.RequiredContextKeys = append([]string(nil), c.RequiredContextKeys...)
	c.OptionalContextKeys = append([]string(nil), c.OptionalContextKeys...)
	return c
}
