package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/caffeineduck/lam/sandbox"
	"github.com/caffeineduck/lam/value"
)

// Status is the state of a resumable unit.
type Status int

const (
	Created Status = iota
	Running
	Suspended
	Completed
	Errored
)

func (s Status) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Completed:
		return "completed"
	case Errored:
		return "errored"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether no further resume is possible.
func (s Status) Terminal() bool {
	return s == Completed || s == Errored
}

var transitions = map[Status][]Status{
	Created:   {Running},
	Running:   {Suspended, Completed, Errored},
	Suspended: {Running},
}

func canTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// unit is a compiled script wrapped in a coroutine, driven from the host.
type unit struct {
	L      *lua.LState
	co     *lua.LState
	fn     *lua.LFunction
	status Status
	last   lua.LValue
	err    error
}

func (u *unit) moveTo(to Status) {
	if !canTransition(u.status, to) {
		panic(fmt.Sprintf("executor: illegal transition %s -> %s", u.status, to))
	}
	u.status = to
}

// resume runs the coroutine up to its next yield, return or fault.
// budgetCtx is the deadline attached to the coroutine; a fault raised because
// it expired is a forced suspension, not an error.
func (u *unit) resume(budgetCtx context.Context) {
	u.moveTo(Running)

	state, err, values := u.L.Resume(u.co, u.fn)
	switch state {
	case lua.ResumeOK:
		u.last = first(values)
		u.moveTo(Completed)
	case lua.ResumeYield:
		u.last = first(values)
		u.moveTo(Suspended)
	default:
		if budgetCtx.Err() != nil && !isHostFault(err) {
			// The interrupt yields nothing.
			u.last = lua.LNil
			u.moveTo(Suspended)
			return
		}
		u.err = runtimeError(err)
		u.moveTo(Errored)
	}
}

type outcome struct {
	status   Status
	output   string
	err      error
	duration time.Duration
	expired  bool
}

// drive resumes fn as a coroutine until it finishes or budget has elapsed.
// Yields before the deadline are resumed straight away, so only the last
// returned or yielded value reaches the result.
func drive(ctx context.Context, L *lua.LState, fn *lua.LFunction, budget time.Duration) outcome {
	start := time.Now()

	budgetCtx, cancel := context.WithDeadline(context.WithoutCancel(ctx), start.Add(budget))
	defer cancel()

	L.SetContext(budgetCtx)
	defer L.RemoveContext()

	co, cancelCo := L.NewThread()
	if cancelCo != nil {
		defer cancelCo()
	}

	u := &unit{L: L, co: co, fn: fn, status: Created, last: lua.LNil}
	for {
		u.resume(budgetCtx)
		if u.status.Terminal() || time.Since(start) >= budget {
			break
		}
	}

	out := outcome{
		status:   u.status,
		err:      u.err,
		duration: time.Since(start),
		expired:  u.status == Suspended,
	}
	if u.status != Errored {
		out.output = value.ToHost(u.last).Render()
	}
	return out
}

func first(values []lua.LValue) lua.LValue {
	if len(values) == 0 {
		return lua.LNil
	}
	return values[0]
}

func isHostFault(err error) bool {
	var apiErr *lua.ApiError
	return errors.As(err, &apiErr) && sandbox.FaultError(apiErr.Object) != nil
}
