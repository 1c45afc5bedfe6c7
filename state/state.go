// Package state holds the string-keyed map shared by evaluations.
//
// Every method takes the lock for a single lookup or mutation and releases it
// before returning. Nothing spans two calls, so a script doing
// get-then-set on the same key races with other evaluations and the last
// write wins.
package state

import (
	"errors"
	"maps"
	"sync"

	"github.com/caffeineduck/lam/value"
)

// ErrFull is returned by Put when adding a new key would exceed the entry limit.
var ErrFull = errors.New("state is full")

// Shared is a mutex-guarded map from key to value.Value. It is safe for
// concurrent use and may outlive any single evaluation.
type Shared struct {
	mu   sync.Mutex
	data map[string]value.Value
}

// New returns an empty Shared.
func New() *Shared {
	return &Shared{data: make(map[string]value.Value)}
}

// FromMap returns a Shared holding a copy of m. Absent entries are dropped.
func FromMap(m map[string]value.Value) *Shared {
	s := New()
	for k, v := range m {
		if !v.IsAbsent() {
			s.data[k] = v
		}
	}
	return s
}

// Get returns the value for key, or Absent if it is missing.
func (s *Shared) Get(key string) value.Value {
	s.mu.Lock()
	v := s.data[key]
	s.mu.Unlock()
	return v
}

// Set stores v under key. Storing Absent removes the key.
func (s *Shared) Set(key string, v value.Value) {
	s.mu.Lock()
	if v.IsAbsent() {
		delete(s.data, key)
	} else {
		s.data[key] = v
	}
	s.mu.Unlock()
}

// Put is Set with an entry limit checked under the same lock. A limit of
// zero or less disables the check. Overwriting an existing key never fails.
func (s *Shared) Put(key string, v value.Value, maxEntries int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v.IsAbsent() {
		delete(s.data, key)
		return nil
	}
	if _, exists := s.data[key]; !exists && maxEntries > 0 && len(s.data) >= maxEntries {
		return ErrFull
	}
	s.data[key] = v
	return nil
}

func (s *Shared) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.data)
}

// Snapshot returns a copy of the current contents.
func (s *Shared) Snapshot() map[string]value.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.data)
}
