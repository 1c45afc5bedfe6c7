// Package executor runs Lua scripts under a wall-clock budget.
//
// # Overview
//
// Each evaluation gets a fresh sandboxed Lua state. The compiled script is
// wrapped in a coroutine and resumed from the host until it returns, faults
// or runs out of budget. The budget is enforced cooperatively: the VM checks
// a deadline between instructions and unwinds the coroutine there. Running
// out of budget is not an error; the result is whatever the script last
// yielded, which is empty for a script that never yields.
//
// # Basic Usage
//
//	exec := executor.New(nil)
//	defer exec.Close()
//
//	result := exec.Run(ctx, executor.Evaluation{
//	    Script: `local m = require('@lam'); return m.read('*a')`,
//	    Input:  strings.NewReader("lam"),
//	    Budget: time.Second,
//	})
//	fmt.Println(result.Output) // lam
//
// # Shared State
//
// Evaluations that share a [state.Shared] see each other's writes through
// get and set. Each call locks the map once, so read-modify-write sequences
// in a script are not atomic across concurrent evaluations.
//
// # Sessions
//
// A [Session] keeps one Lua state across runs so globals persist:
//
//	session, _ := exec.NewSession(nil)
//	defer session.Close()
//
//	session.Run(ctx, `x = 42`, nil)
//	session.Run(ctx, `return x`, nil) // Output: 42
package executor
