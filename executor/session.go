package executor

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/caffeineduck/lam/hostfunc"
	"github.com/caffeineduck/lam/sandbox"
	"github.com/caffeineduck/lam/state"
	"github.com/caffeineduck/lam/value"
)

// Session keeps one Lua state alive across runs, so globals defined by one
// run are visible to the next. Each run still has its own input stream and
// budget. A Session runs one script at a time.
type Session struct {
	exec   *Executor
	cfg    sessionConfig
	sb     *sandbox.Context
	shared *state.Shared
	input  *hostfunc.Input

	mu     sync.Mutex
	closed bool
}

type sessionConfig struct {
	name   string
	budget time.Duration
	output io.Writer
}

type SessionOption func(*sessionConfig)

func WithSessionBudget(d time.Duration) SessionOption {
	return func(c *sessionConfig) {
		c.budget = d
	}
}

// WithSessionOutput sends print output from every run to w.
func WithSessionOutput(w io.Writer) SessionOption {
	return func(c *sessionConfig) {
		c.output = w
	}
}

// WithSessionName labels chunks in error positions.
func WithSessionName(name string) SessionOption {
	return func(c *sessionConfig) {
		c.name = name
	}
}

// NewSession creates a session backed by shared. A nil shared gets a fresh map.
func (e *Executor) NewSession(shared *state.Shared, opts ...SessionOption) (*Session, error) {
	cfg := sessionConfig{
		name:   "session",
		budget: e.cfg.budget,
		output: io.Discard,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.budget <= 0 {
		cfg.budget = e.cfg.budget
	}

	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, ErrClosed
	}

	sb, err := sandbox.New(sandbox.WithOutput(cfg.output))
	if err != nil {
		return nil, err
	}
	if shared == nil {
		shared = state.New()
	}

	s := &Session{
		exec:   e,
		cfg:    cfg,
		sb:     sb,
		shared: shared,
		input:  hostfunc.NewInput(nil),
	}

	registry := e.registry.Clone()
	st := hostfunc.NewState(shared, e.cfg.state)
	registry.Register("read", hostfunc.CapInput, func(ctx context.Context, args []value.Value) (value.Value, error) {
		return s.input.Read(ctx, args)
	})
	registry.Register("read_codepoint_unit", hostfunc.CapInput, func(ctx context.Context, args []value.Value) (value.Value, error) {
		return s.input.ReadCodepointUnit(ctx, args)
	})
	registry.Register("get", hostfunc.CapState, st.Get)
	registry.Register("set", hostfunc.CapState, st.Set)
	sb.Install(sandbox.ModuleName, e.allowed(registry))

	return s, nil
}

// State returns the map behind get and set.
func (s *Session) State() *state.Shared {
	return s.shared
}

// Run evaluates code in the session with input behind read.
func (s *Session) Run(ctx context.Context, code string, input io.Reader) Result {
	id := uuid.NewString()

	if !s.mu.TryLock() {
		return Result{ID: id, Status: Created, Error: ErrBusy}
	}
	defer s.mu.Unlock()

	if s.closed {
		return Result{ID: id, Status: Created, Error: ErrClosed}
	}

	// Session lines are mostly one-offs, so they bypass the executor's cache.
	proto, err := sandbox.Compile(s.cfg.name, code)
	if err != nil {
		s.exec.observe(Created, 0)
		return Result{ID: id, Status: Created, Error: err}
	}

	s.input = hostfunc.NewInput(input)
	out := drive(ctx, s.sb.L, s.sb.Load(proto), s.cfg.budget)
	s.exec.observe(out.status, out.duration)

	return Result{
		ID:       id,
		Output:   out.output,
		Duration: out.duration,
		Status:   out.status,
		Error:    out.err,
	}
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.sb.Close()
	return nil
}
