// Package sandbox creates restricted Lua execution contexts.
//
// A [Context] opens only the base, table, string, math and coroutine
// libraries and strips every base function that reaches the filesystem or
// compiles code at runtime. Host capabilities are reached through modules
// registered on the context itself and loaded with require:
//
//	local m = require('@lam')
//	return m.read('*a')
package sandbox

import (
	"context"
	"fmt"
	"io"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/caffeineduck/lam/hostfunc"
	"github.com/caffeineduck/lam/value"
)

// Version is exposed to scripts as _VERSION in the host module.
var Version = "0.1.0"

// ModuleName is the import name of the host module.
const ModuleName = "@lam"

const faultTypeName = "lam.fault"

// Base library functions removed from every context.
var removedGlobals = []string{
	"collectgarbage",
	"dofile",
	"getfenv",
	"load",
	"loadfile",
	"loadstring",
	"module",
	"print",
	"require",
	"setfenv",
	"_printregs",
}

var openLibs = []struct {
	name string
	fn   lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
	{lua.CoroutineLibName, lua.OpenCoroutine},
}

// Context is one isolated Lua state. It is not safe for concurrent use.
type Context struct {
	L       *lua.LState
	modules map[string]lua.LGFunction
	loaded  *lua.LTable
	output  io.Writer
}

// Option configures a Context.
type Option func(*Context)

// WithOutput sends print output to w. By default it is discarded.
func WithOutput(w io.Writer) Option {
	return func(c *Context) {
		c.output = w
	}
}

// New creates a restricted context.
func New(opts ...Option) (*Context, error) {
	c := &Context{
		L:       lua.NewState(lua.Options{SkipOpenLibs: true}),
		modules: make(map[string]lua.LGFunction),
		output:  io.Discard,
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, lib := range openLibs {
		err := c.L.CallByParam(lua.P{
			Fn:      c.L.NewFunction(lib.fn),
			NRet:    0,
			Protect: true,
		}, lua.LString(lib.name))
		if err != nil {
			c.L.Close()
			return nil, fmt.Errorf("open %q library: %w", lib.name, err)
		}
	}
	for _, name := range removedGlobals {
		c.L.SetGlobal(name, lua.LNil)
	}
	guardProtectedCalls(c.L)

	c.loaded = c.L.NewTable()
	c.L.SetGlobal("require", c.L.NewFunction(c.require))
	c.L.SetGlobal("print", c.L.NewFunction(c.print))

	mt := c.L.NewTypeMetatable(faultTypeName)
	c.L.SetField(mt, "__tostring", c.L.NewFunction(faultString))

	return c, nil
}

// guardProtectedCalls wraps the functions that can catch an error, so an
// expired context keeps unwinding past them instead of being handled by the
// script.
func guardProtectedCalls(L *lua.LState) {
	for _, name := range []string{"pcall", "xpcall"} {
		if fn, ok := L.GetGlobal(name).(*lua.LFunction); ok && fn.IsG {
			L.SetGlobal(name, L.NewFunction(uncatchable(fn.GFunction)))
		}
	}
	if co, ok := L.GetGlobal(lua.CoroutineLibName).(*lua.LTable); ok {
		if fn, ok := L.GetField(co, "resume").(*lua.LFunction); ok && fn.IsG {
			L.SetField(co, "resume", L.NewFunction(uncatchable(fn.GFunction)))
		}
	}
}

func uncatchable(fn lua.LGFunction) lua.LGFunction {
	return func(L *lua.LState) int {
		n := fn(L)
		if ctx := L.Context(); ctx != nil && ctx.Err() != nil {
			L.RaiseError("%s", ctx.Err().Error())
		}
		return n
	}
}

// Close releases the Lua state. Modules registered on the context go with it.
func (c *Context) Close() {
	c.L.Close()
}

// Register makes a module loadable through require(name) in this context only.
func (c *Context) Register(name string, loader lua.LGFunction) {
	c.modules[name] = loader
}

// Install builds a namespace table from registry plus _VERSION and registers
// it as module name. The registry's functions are the only ones reachable
// through the module.
func (c *Context) Install(name string, registry *hostfunc.Registry) {
	entries := registry.Entries()
	c.Register(name, func(L *lua.LState) int {
		ns := L.NewTable()
		L.SetField(ns, "_VERSION", lua.LString(Version))
		for _, e := range entries {
			L.SetField(ns, e.Name, L.NewFunction(bind(e.Fn)))
		}
		L.Push(ns)
		return 1
	})
}

// Load turns a compiled proto into a function bound to this context.
func (c *Context) Load(proto *lua.FunctionProto) *lua.LFunction {
	return c.L.NewFunctionFromProto(proto)
}

func (c *Context) require(L *lua.LState) int {
	name := L.CheckString(1)
	if mod := c.loaded.RawGetString(name); mod != lua.LNil {
		L.Push(mod)
		return 1
	}

	loader, ok := c.modules[name]
	if !ok {
		L.RaiseError("module %q not found", name)
		return 0
	}

	top := L.GetTop()
	L.Push(L.NewFunction(loader))
	L.Call(0, 1)
	mod := L.Get(-1)
	L.SetTop(top)
	if mod == lua.LNil {
		mod = lua.LTrue
	}
	c.loaded.RawSetString(name, mod)
	L.Push(mod)
	return 1
}

func (c *Context) print(L *lua.LState) int {
	n := L.GetTop()
	parts := make([]string, n)
	for i := 1; i <= n; i++ {
		parts[i-1] = L.ToStringMeta(L.Get(i)).String()
	}
	fmt.Fprintln(c.output, strings.Join(parts, "\t"))
	return 0
}

// bind adapts a host function to Lua. Arguments and the result pass through
// the value bridge; errors are raised as fault objects carrying the Go error.
func bind(fn hostfunc.Func) lua.LGFunction {
	return func(L *lua.LState) int {
		args := make([]value.Value, L.GetTop())
		for i := range args {
			args[i] = value.ToHost(L.Get(i + 1))
		}

		ctx := L.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		ret, err := fn(ctx, args)
		if err != nil {
			raise(L, err)
			return 0
		}
		L.Push(value.ToScript(ret))
		return 1
	}
}

// raise aborts the running script with err as the error object. The fault
// prints as err's message and FaultError recovers err from it.
func raise(L *lua.LState, err error) {
	ud := L.NewUserData()
	ud.Value = err
	L.SetMetatable(ud, L.GetTypeMetatable(faultTypeName))
	L.Error(ud, 1)
}

// FaultError returns the Go error carried by a fault object raised from a
// host function, or nil if lv is not one.
func FaultError(lv lua.LValue) error {
	ud, ok := lv.(*lua.LUserData)
	if !ok {
		return nil
	}
	err, _ := ud.Value.(error)
	return err
}

func faultString(L *lua.LState) int {
	ud := L.CheckUserData(1)
	if err, ok := ud.Value.(error); ok {
		L.Push(lua.LString(err.Error()))
	} else {
		L.Push(lua.LString(faultTypeName))
	}
	return 1
}
