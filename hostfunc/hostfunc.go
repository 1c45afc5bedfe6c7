package hostfunc

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/caffeineduck/lam/value"
)

// Capability names the host resource a function is allowed to touch.
type Capability string

const (
	CapInput Capability = "input"
	CapState Capability = "state"
)

// Func is a host function callable from a script. Arguments and the result
// cross the boundary as value.Value; a non-nil error becomes a runtime fault
// at the script's call site.
type Func func(ctx context.Context, args []value.Value) (value.Value, error)

// Entry is a registered function together with its capability tag.
type Entry struct {
	Name       string
	Capability Capability
	Fn         Func
}

// Registry is the allow-list of functions installed into a script's
// namespace. Only registered names are visible to the script.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]Entry
}

func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Entry)}
}

func (r *Registry) Register(name string, capability Capability, fn Func) {
	r.mu.Lock()
	r.funcs[name] = Entry{Name: name, Capability: capability, Fn: fn}
	r.mu.Unlock()
}

func (r *Registry) Get(name string) (Func, bool) {
	r.mu.RLock()
	e, ok := r.funcs[name]
	r.mu.RUnlock()
	return e.Fn, ok
}

// Entries returns the registered functions sorted by name.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.funcs))
	for _, e := range r.funcs {
		entries = append(entries, e)
	}
	r.mu.RUnlock()
	slices.SortFunc(entries, func(a, b Entry) int {
		return strings.Compare(a.Name, b.Name)
	})
	return entries
}

func (r *Registry) List() []string {
	entries := r.Entries()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

// Clone returns an independent copy, so per-evaluation functions can be
// added without touching the shared base registry.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := NewRegistry()
	for name, e := range r.funcs {
		c.funcs[name] = e
	}
	return c
}

// Allow returns a copy holding only the functions tagged with one of caps.
func (r *Registry) Allow(caps ...Capability) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := NewRegistry()
	for name, e := range r.funcs {
		if slices.Contains(caps, e.Capability) {
			c.funcs[name] = e
		}
	}
	return c
}

// ParseCapability maps a capability name to its tag.
func ParseCapability(name string) (Capability, error) {
	switch c := Capability(strings.ToLower(strings.TrimSpace(name))); c {
	case CapInput, CapState:
		return c, nil
	default:
		return "", fmt.Errorf("unknown capability %q", name)
	}
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.funcs)
}
