// Package lam runs untrusted Lua scripts under a wall-clock budget.
//
// # Overview
//
// Scripts run in a gopher-lua state with only the safe standard libraries
// loaded. The host is reachable solely through require('@lam'), which
// exposes read and read_codepoint_unit over the evaluation's input stream
// and get and set over a shared key/value state.
//
// A script that runs out of budget is not an error. It is stopped at the
// next instruction and its result is the value it last yielded.
//
// # Basic Usage
//
//	exec := executor.New(nil)
//	defer exec.Close()
//
//	result := exec.Run(ctx, executor.Evaluation{
//	    Script: `return require('@lam').read('*a'):upper()`,
//	    Input:  strings.NewReader("hello"),
//	    Budget: time.Second,
//	})
//	fmt.Println(result.Output) // HELLO
//
//	// Shared state across evaluations
//	shared := state.New()
//	exec.Run(ctx, executor.Evaluation{Script: `require('@lam').set('n', 1)`, State: shared})
//
//	// Persist it
//	st, _ := store.Open(ctx, "sqlite://state.db", logger)
//	st.Migrate(ctx)
//	st.Commit(ctx, shared)
//
// See the [executor], [hostfunc], [sandbox], [state] and [store] packages for
// detailed API documentation.
package lam
