package hostfunc

import (
	"context"
	"errors"

	"github.com/caffeineduck/lam/state"
	"github.com/caffeineduck/lam/value"
)

// StateConfig bounds what a script may store in the shared state.
type StateConfig struct {
	MaxKeySize   int // Maximum key size in bytes (0 = unlimited)
	MaxValueSize int // Maximum text value size in bytes (0 = unlimited)
	MaxEntries   int // Maximum number of keys (0 = unlimited)
}

// DefaultStateConfig returns limits suitable for untrusted scripts.
func DefaultStateConfig() StateConfig {
	return StateConfig{
		MaxKeySize:   1024,
		MaxValueSize: 1024 * 1024,
		MaxEntries:   10000,
	}
}

// State exposes get and set over a state.Shared. Each call is one locked
// lookup or insert.
type State struct {
	shared *state.Shared
	cfg    StateConfig
}

func NewState(shared *state.Shared, cfg StateConfig) *State {
	return &State{shared: shared, cfg: cfg}
}

// Get is the host function behind get(key). Missing keys yield Absent.
func (s *State) Get(ctx context.Context, args []value.Value) (value.Value, error) {
	key, err := s.key("get", args)
	if err != nil {
		return value.Absent(), err
	}
	return s.shared.Get(key), nil
}

// Set is the host function behind set(key, value). Setting nil removes the key.
func (s *State) Set(ctx context.Context, args []value.Value) (value.Value, error) {
	key, err := s.key("set", args)
	if err != nil {
		return value.Absent(), err
	}

	var v value.Value
	if len(args) > 1 {
		v = args[1]
	}
	if text, ok := v.AsText(); ok && s.cfg.MaxValueSize > 0 && len(text) > s.cfg.MaxValueSize {
		return value.Absent(), ErrValueTooLarge
	}

	if err := s.shared.Put(key, v, s.cfg.MaxEntries); err != nil {
		if errors.Is(err, state.ErrFull) {
			return value.Absent(), ErrTooManyKeys
		}
		return value.Absent(), err
	}
	return value.Absent(), nil
}

func (s *State) key(fn string, args []value.Value) (string, error) {
	var arg value.Value
	if len(args) > 0 {
		arg = args[0]
	}
	key, ok := arg.AsText()
	if !ok {
		return "", &ArgError{Func: fn, Arg: 1, Want: "string", Got: arg}
	}
	if s.cfg.MaxKeySize > 0 && len(key) > s.cfg.MaxKeySize {
		return "", ErrKeyTooLarge
	}
	return key, nil
}
