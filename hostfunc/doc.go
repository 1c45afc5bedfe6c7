// Package hostfunc provides the host functions a sandboxed Lua script can call.
//
// Scripts have no implicit access to the host. Everything they can do goes
// through functions placed on a [Registry], each tagged with the
// [Capability] it exercises:
//
//	registry := hostfunc.NewRegistry()
//	input := hostfunc.NewInput(os.Stdin)
//	registry.Register("read", hostfunc.CapInput, input.Read)
//
// # Input
//
// [Input] exposes the evaluation's input stream. read accepts "*a"/"*all"
// (rest of the stream), "*l"/"*line" (next line, terminator kept),
// "*n"/"*number" (rest of the stream as a number, nil if it does not parse)
// or a byte count. read_codepoint_unit(n) returns n whole UTF-8 code points.
// Any other read argument fails with a [FormatError].
//
// # State
//
// [State] exposes get and set over a shared map. Each call locks the map for
// one operation only; a get followed by a set is not atomic and concurrent
// evaluations writing the same key resolve as last write wins.
//
//	st := hostfunc.NewState(shared, hostfunc.DefaultStateConfig())
//	registry.Register("get", hostfunc.CapState, st.Get)
//	registry.Register("set", hostfunc.CapState, st.Set)
//
// Size limits in [StateConfig] keep a script from growing the map without
// bound.
package hostfunc
