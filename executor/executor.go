package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	lua "github.com/yuin/gopher-lua"

	"github.com/caffeineduck/lam/hostfunc"
	"github.com/caffeineduck/lam/sandbox"
	"github.com/caffeineduck/lam/state"
)

// Evaluation is one request to run a script.
type Evaluation struct {
	// Script is the Lua source.
	Script string
	// Name labels the chunk in error positions. Defaults to "script".
	Name string
	// Input is the stream behind read. Nil is an empty stream.
	Input io.Reader
	// Budget is the wall-clock limit. Zero uses the Executor's default.
	Budget time.Duration
	// State is the map behind get and set. Nil means a fresh map that is
	// dropped after the call.
	State *state.Shared
}

// Result holds the outcome of one evaluation. An expired budget is not an
// error: Status is Suspended and Output holds whatever the script had
// yielded at that point.
type Result struct {
	ID       string
	Output   string
	Duration time.Duration
	Status   Status
	Error    error
}

// Executor compiles scripts and runs evaluations. Compiled scripts are
// cached by source hash, so repeated evaluations of the same script compile
// once. It is safe for concurrent use; each evaluation gets its own Lua state.
type Executor struct {
	cfg      executorConfig
	registry *hostfunc.Registry
	compiled map[string]*lua.FunctionProto
	mu       sync.RWMutex
	closed   bool
}

// New creates an Executor. Functions in registry are installed next to the
// built-in read and state functions in every evaluation; it may be nil.
func New(registry *hostfunc.Registry, opts ...ExecutorOption) *Executor {
	cfg := defaultExecutorConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if registry == nil {
		registry = hostfunc.NewRegistry()
	}
	return &Executor{
		cfg:      cfg,
		registry: registry,
		compiled: make(map[string]*lua.FunctionProto),
	}
}

// Compile checks script and caches the result.
func (e *Executor) Compile(name, script string) (*lua.FunctionProto, error) {
	return e.getCompiled(name, script)
}

// Run evaluates ev. The caller's context only carries values; cancelling it
// does not stop the script, the budget does.
func (e *Executor) Run(ctx context.Context, ev Evaluation, opts ...Option) Result {
	cfg := runConfig{output: io.Discard}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.id == "" {
		cfg.id = uuid.NewString()
	}

	budget := ev.Budget
	if budget <= 0 {
		budget = e.cfg.budget
	}
	name := ev.Name
	if name == "" {
		name = "script"
	}

	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return Result{ID: cfg.id, Status: Created, Error: ErrClosed}
	}

	log := e.cfg.logger.With("id", cfg.id, "script", name)
	log.Debug("evaluation started", "budget", budget)

	proto, err := e.getCompiled(name, ev.Script)
	if err != nil {
		log.Debug("compile failed", "error", err)
		e.observe(Created, 0)
		return Result{ID: cfg.id, Status: Created, Error: err}
	}

	sb, err := sandbox.New(sandbox.WithOutput(cfg.output))
	if err != nil {
		return Result{ID: cfg.id, Status: Created, Error: err}
	}
	defer sb.Close()

	shared := ev.State
	if shared == nil {
		shared = state.New()
	}
	registry := e.registry.Clone()
	registerBuiltins(registry, hostfunc.NewInput(ev.Input), hostfunc.NewState(shared, e.cfg.state))
	sb.Install(sandbox.ModuleName, e.allowed(registry))

	out := drive(ctx, sb.L, sb.Load(proto), budget)

	switch {
	case out.err != nil:
		log.Debug("evaluation failed", "duration", out.duration, "error", out.err)
	case out.expired:
		log.Info("budget expired", "budget", budget, "duration", out.duration)
	default:
		log.Debug("evaluation finished", "status", out.status, "duration", out.duration)
	}
	e.observe(out.status, out.duration)

	return Result{
		ID:       cfg.id,
		Output:   out.output,
		Duration: out.duration,
		Status:   out.status,
		Error:    out.err,
	}
}

func registerBuiltins(r *hostfunc.Registry, in *hostfunc.Input, st *hostfunc.State) {
	r.Register("read", hostfunc.CapInput, in.Read)
	r.Register("read_codepoint_unit", hostfunc.CapInput, in.ReadCodepointUnit)
	r.Register("get", hostfunc.CapState, st.Get)
	r.Register("set", hostfunc.CapState, st.Set)
}

// allowed applies the executor's capability limit to r.
func (e *Executor) allowed(r *hostfunc.Registry) *hostfunc.Registry {
	if e.cfg.caps == nil {
		return r
	}
	return r.Allow(e.cfg.caps...)
}

func (e *Executor) observe(s Status, d time.Duration) {
	if e.cfg.observer != nil {
		e.cfg.observer.ObserveEvaluation(outcomeLabel(s), d)
	}
}

// outcomeLabel names how an evaluation ended. A script that never started
// failed to compile.
func outcomeLabel(s Status) string {
	switch s {
	case Created:
		return "compile_error"
	case Suspended:
		return "expired"
	default:
		return s.String()
	}
}

// getCompiled returns a cached proto, compiling if necessary.
func (e *Executor) getCompiled(name, script string) (*lua.FunctionProto, error) {
	sum := sha256.Sum256([]byte(script))
	key := name + ":" + hex.EncodeToString(sum[:])

	e.mu.RLock()
	if proto, ok := e.compiled[key]; ok {
		e.mu.RUnlock()
		return proto, nil
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()

	if proto, ok := e.compiled[key]; ok {
		return proto, nil
	}

	proto, err := sandbox.Compile(name, script)
	if err != nil {
		return nil, err
	}

	e.compiled[key] = proto
	return proto, nil
}

// Cached returns the number of compiled scripts held.
func (e *Executor) Cached() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiled)
}

// Close drops the compile cache. Later evaluations fail with ErrClosed.
func (e *Executor) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	clear(e.compiled)
	return nil
}

