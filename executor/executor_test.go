package executor_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caffeineduck/lam/executor"
	"github.com/caffeineduck/lam/hostfunc"
	"github.com/caffeineduck/lam/sandbox"
	"github.com/caffeineduck/lam/state"
	"github.com/caffeineduck/lam/value"
)

const prelude = `local m = require('@lam'); `

func run(t *testing.T, script, input string) executor.Result {
	t.Helper()
	exec := executor.New(nil)
	t.Cleanup(func() { exec.Close() })
	return exec.Run(context.Background(), executor.Evaluation{
		Script: prelude + script,
		Input:  strings.NewReader(input),
		Budget: 5 * time.Second,
	})
}

func TestReadFromInput(t *testing.T) {
	result := run(t, `return m.read('*a')`, "lam")
	require.NoError(t, result.Error)
	assert.Equal(t, "lam", result.Output)
	assert.Equal(t, executor.Completed, result.Status)
}

func TestReadAllTwice(t *testing.T) {
	result := run(t, `local a = m.read('*a'); return a .. '|' .. m.read('*a') .. '|'`, "lam")
	require.NoError(t, result.Error)
	assert.Equal(t, "lam||", result.Output)
}

func TestReadBytesFromInput(t *testing.T) {
	result := run(t, `return m.read(1)`, "lam")
	require.NoError(t, result.Error)
	assert.Equal(t, "l", result.Output)
}

func TestReadMoreThanAvailable(t *testing.T) {
	result := run(t, `return m.read(3)`, "l")
	require.NoError(t, result.Error)
	assert.Equal(t, "l", result.Output)
}

func TestReadUnicodeBytes(t *testing.T) {
	result := run(t, `return m.read(3)`, "你好")
	require.NoError(t, result.Error)
	assert.Equal(t, "你", result.Output)
}

func TestReadCodepointUnit(t *testing.T) {
	result := run(t, `return m.read_codepoint_unit(1)`, "你好")
	require.NoError(t, result.Error)
	assert.Equal(t, "你", result.Output)
}

func TestReadLines(t *testing.T) {
	result := run(t, `local a = m.read('*l'); local b = m.read('*l'); return a .. '|' .. b`, "foo\nbar")
	require.NoError(t, result.Error)
	assert.Equal(t, "foo\n|bar", result.Output)
}

func TestReadNumber(t *testing.T) {
	result := run(t, `return m.read('*n') + 1`, "41\n")
	require.NoError(t, result.Error)
	assert.Equal(t, "42", result.Output)
}

func TestReadNumberNotANumber(t *testing.T) {
	result := run(t, `return m.read('*n') == nil`, "lam")
	require.NoError(t, result.Error)
	assert.Equal(t, "true", result.Output)
}

func TestReadUnexpectedFormat(t *testing.T) {
	result := run(t, `return m.read(true)`, "lam")

	var formatErr *hostfunc.FormatError
	require.True(t, errors.As(result.Error, &formatErr), "expected FormatError, got %v", result.Error)
	assert.Contains(t, result.Error.Error(), "true")
	assert.Equal(t, executor.Errored, result.Status)
	assert.Empty(t, result.Output)
}

func TestFormatErrorCatchableWithPcall(t *testing.T) {
	result := run(t, `local ok, err = pcall(m.read, 'x'); return tostring(ok) .. ' ' .. tostring(err)`, "")
	require.NoError(t, result.Error)
	assert.Equal(t, `false read: unexpected format "x"`, result.Output)
}

type brokenReader struct{}

func (brokenReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }

func TestReadIOError(t *testing.T) {
	exec := executor.New(nil)
	defer exec.Close()

	result := exec.Run(context.Background(), executor.Evaluation{
		Script: prelude + `return m.read('*a')`,
		Input:  brokenReader{},
	})

	var ioErr *hostfunc.IOError
	require.True(t, errors.As(result.Error, &ioErr), "expected IOError, got %v", result.Error)
	assert.ErrorIs(t, result.Error, io.ErrUnexpectedEOF)
}

func TestGetSet(t *testing.T) {
	exec := executor.New(nil)
	defer exec.Close()

	shared := state.FromMap(map[string]value.Value{"a": value.Number(1.23)})
	result := exec.Run(context.Background(), executor.Evaluation{
		Script: prelude + `local a = m.get('a'); m.set('a', a + 1); return a`,
		State:  shared,
	})
	require.NoError(t, result.Error)
	assert.Equal(t, "1.23", result.Output)

	got, ok := shared.Get("a").AsNumber()
	require.True(t, ok)
	assert.InDelta(t, 2.23, got, 1e-9)
}

func TestStatePersistsAcrossEvaluations(t *testing.T) {
	exec := executor.New(nil)
	defer exec.Close()

	shared := state.New()
	script := prelude + `local n = m.get('n') or 0; m.set('n', n + 1); return n + 1`
	for i := 1; i <= 3; i++ {
		result := exec.Run(context.Background(), executor.Evaluation{Script: script, State: shared})
		require.NoError(t, result.Error)
		assert.Equal(t, fmt.Sprint(i), result.Output)
	}
}

func TestStateWithoutSharedIsFresh(t *testing.T) {
	exec := executor.New(nil)
	defer exec.Close()

	script := prelude + `local n = m.get('n') or 0; m.set('n', n + 1); return n + 1`
	for range 2 {
		result := exec.Run(context.Background(), executor.Evaluation{Script: script})
		require.NoError(t, result.Error)
		assert.Equal(t, "1", result.Output)
	}
}

func TestConcurrentEvaluationsShareState(t *testing.T) {
	exec := executor.New(nil)
	defer exec.Close()

	shared := state.New()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := exec.Run(context.Background(), executor.Evaluation{
				Script: prelude + fmt.Sprintf(`m.set('k%d', %d)`, i, i),
				State:  shared,
			})
			assert.NoError(t, result.Error)
		}()
	}
	wg.Wait()

	assert.Equal(t, 20, shared.Len())
	assert.True(t, shared.Get("k7").Equal(value.Number(7)))
}

func TestInfiniteLoopStopsAtBudget(t *testing.T) {
	exec := executor.New(nil)
	defer exec.Close()

	budget := time.Second
	start := time.Now()
	result := exec.Run(context.Background(), executor.Evaluation{
		Script: `while true do end`,
		Budget: budget,
	})
	wall := time.Since(start)

	require.NoError(t, result.Error)
	assert.Equal(t, "", result.Output)
	assert.Equal(t, executor.Suspended, result.Status)
	assert.GreaterOrEqual(t, result.Duration, budget)
	assert.Less(t, float64(result.Duration-budget)/float64(budget), 0.01, "overran budget: %v", result.Duration)
	assert.Less(t, wall, budget+budget/10)
}

func TestBudgetExpiryCannotBeCaught(t *testing.T) {
	exec := executor.New(nil)
	defer exec.Close()

	tests := []struct {
		name   string
		script string
	}{
		{"pcall tail call", `return pcall(function() while true do end end)`},
		{"xpcall tail call", `return xpcall(function() while true do end end, function(e) return e end)`},
		{"coroutine.resume tail call", `return coroutine.resume(coroutine.create(function() while true do end end))`},
		{"pcall then return", `local ok, err = pcall(function() while true do end end); return err`},
		{"nested pcall", `return pcall(pcall, function() while true do end end)`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := exec.Run(context.Background(), executor.Evaluation{
				Script: tt.script,
				Budget: 100 * time.Millisecond,
			})
			require.NoError(t, result.Error)
			assert.Equal(t, executor.Suspended, result.Status)
			assert.Equal(t, "", result.Output)
		})
	}
}

func TestPcallStillCatchesWithinBudget(t *testing.T) {
	result := run(t, `return select(2, pcall(error, 'caught', 0))`, "")
	require.NoError(t, result.Error)
	assert.Equal(t, executor.Completed, result.Status)
	assert.Equal(t, "caught", result.Output)
}

func TestBudgetExpiryAfterYieldIsEmpty(t *testing.T) {
	exec := executor.New(nil)
	defer exec.Close()

	result := exec.Run(context.Background(), executor.Evaluation{
		Script: `coroutine.yield('partial'); while true do end`,
		Budget: 50 * time.Millisecond,
	})
	require.NoError(t, result.Error)
	assert.Equal(t, executor.Suspended, result.Status)
	assert.Equal(t, "", result.Output)
}

func TestYieldingScriptStopsAtBudget(t *testing.T) {
	exec := executor.New(nil)
	defer exec.Close()

	result := exec.Run(context.Background(), executor.Evaluation{
		Script: `local i = 0; while true do i = i + 1; coroutine.yield(i) end`,
		Budget: 50 * time.Millisecond,
	})
	require.NoError(t, result.Error)
	assert.Equal(t, executor.Suspended, result.Status)
	assert.Less(t, result.Duration, time.Second)
}

func TestYieldBeforeBudgetIsResumed(t *testing.T) {
	result := run(t, `coroutine.yield(1); coroutine.yield(2); return 3`, "")
	require.NoError(t, result.Error)
	assert.Equal(t, executor.Completed, result.Status)
	assert.Equal(t, "3", result.Output)
}

func TestCompletesWithinBudget(t *testing.T) {
	budget := 5 * time.Second
	result := run(t, `local s = 0; for i = 1, 1000 do s = s + i end; return s`, "")
	require.NoError(t, result.Error)
	assert.Equal(t, "500500", result.Output)
	assert.Less(t, result.Duration, budget)
}

func TestCallerCancelDoesNotAbort(t *testing.T) {
	exec := executor.New(nil)
	defer exec.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := exec.Run(ctx, executor.Evaluation{Script: `return 'done'`})
	require.NoError(t, result.Error)
	assert.Equal(t, "done", result.Output)
}

func TestResultRendering(t *testing.T) {
	tests := []struct {
		script string
		want   string
	}{
		{`return 2`, "2"},
		{`return 1.5`, "1.5"},
		{`return true`, "true"},
		{`return nil`, ""},
		{`return {}`, ""},
		{`return function() end`, ""},
		{`return 'a', 'b'`, "a"},
		{``, ""},
	}

	for _, tt := range tests {
		t.Run(tt.script, func(t *testing.T) {
			result := run(t, tt.script, "")
			require.NoError(t, result.Error)
			assert.Equal(t, tt.want, result.Output)
		})
	}
}

func TestCompileError(t *testing.T) {
	exec := executor.New(nil)
	defer exec.Close()

	result := exec.Run(context.Background(), executor.Evaluation{
		Script: "local x = 1\nreturn +",
		Name:   "bad.lua",
	})

	var compileErr *sandbox.CompileError
	require.True(t, errors.As(result.Error, &compileErr), "expected CompileError, got %v", result.Error)
	assert.Equal(t, 2, compileErr.Line)
	assert.Equal(t, "bad.lua", compileErr.Source)
	assert.Equal(t, executor.Created, result.Status)
}

func TestRuntimeError(t *testing.T) {
	result := run(t, `error('boom')`, "")

	var runtimeErr *executor.RuntimeError
	require.True(t, errors.As(result.Error, &runtimeErr))
	assert.Contains(t, runtimeErr.Message, "boom")
	assert.Nil(t, runtimeErr.Cause)
	assert.Empty(t, result.Output)
}

func TestSandboxHidesAmbientLibraries(t *testing.T) {
	result := run(t, `return tostring(os == nil and io == nil and debug == nil and package == nil and loadstring == nil and dofile == nil)`, "")
	require.NoError(t, result.Error)
	assert.Equal(t, "true", result.Output)
}

func TestRequireUnknownModule(t *testing.T) {
	result := run(t, `return require('os')`, "")
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), `module "os" not found`)
}

func TestVersion(t *testing.T) {
	result := run(t, `return m._VERSION`, "")
	require.NoError(t, result.Error)
	assert.Equal(t, sandbox.Version, result.Output)
}

func TestPrintOutput(t *testing.T) {
	exec := executor.New(nil)
	defer exec.Close()

	var buf bytes.Buffer
	result := exec.Run(context.Background(), executor.Evaluation{
		Script: `print('hello', 1); return 'ok'`,
	}, executor.WithOutput(&buf))
	require.NoError(t, result.Error)
	assert.Equal(t, "hello\t1\n", buf.String())
	assert.Equal(t, "ok", result.Output)
}

func TestCustomHostFunction(t *testing.T) {
	registry := hostfunc.NewRegistry()
	registry.Register("greet", hostfunc.CapInput, func(ctx context.Context, args []value.Value) (value.Value, error) {
		name, _ := args[0].AsText()
		return value.Text("Hello, " + name + "!"), nil
	})

	exec := executor.New(registry)
	defer exec.Close()

	result := exec.Run(context.Background(), executor.Evaluation{
		Script: prelude + `return m.greet('World')`,
	})
	require.NoError(t, result.Error)
	assert.Equal(t, "Hello, World!", result.Output)
}

func TestCapabilitiesLimitNamespace(t *testing.T) {
	exec := executor.New(nil, executor.WithCapabilities(hostfunc.CapInput))
	defer exec.Close()

	result := exec.Run(context.Background(), executor.Evaluation{
		Script: prelude + `return type(m.read) .. ' ' .. type(m.get) .. ' ' .. type(m.set)`,
	})
	require.NoError(t, result.Error)
	assert.Equal(t, "function nil nil", result.Output)

	result = exec.Run(context.Background(), executor.Evaluation{
		Script: prelude + `m.set('k', 1)`,
	})
	assert.Equal(t, executor.Errored, result.Status)
}

func TestCompileCache(t *testing.T) {
	exec := executor.New(nil)
	defer exec.Close()

	for range 3 {
		result := exec.Run(context.Background(), executor.Evaluation{Script: `return 1`})
		require.NoError(t, result.Error)
	}
	exec.Run(context.Background(), executor.Evaluation{Script: `return 2`})
	assert.Equal(t, 2, exec.Cached())
}

func TestResultID(t *testing.T) {
	exec := executor.New(nil)
	defer exec.Close()

	result := exec.Run(context.Background(), executor.Evaluation{Script: `return 1`}, executor.WithID("req-1"))
	assert.Equal(t, "req-1", result.ID)

	result = exec.Run(context.Background(), executor.Evaluation{Script: `return 1`})
	assert.NotEmpty(t, result.ID)
}

func TestClosedExecutor(t *testing.T) {
	exec := executor.New(nil)
	require.NoError(t, exec.Close())
	require.NoError(t, exec.Close())

	result := exec.Run(context.Background(), executor.Evaluation{Script: `return 1`})
	assert.ErrorIs(t, result.Error, executor.ErrClosed)
}

type recordingObserver struct {
	mu       sync.Mutex
	statuses []string
}

func (o *recordingObserver) ObserveEvaluation(status string, d time.Duration) {
	o.mu.Lock()
	o.statuses = append(o.statuses, status)
	o.mu.Unlock()
}

func TestObserver(t *testing.T) {
	obs := &recordingObserver{}
	exec := executor.New(nil, executor.WithObserver(obs), executor.WithDefaultBudget(50*time.Millisecond))
	defer exec.Close()

	ctx := context.Background()
	exec.Run(ctx, executor.Evaluation{Script: `return 1`})
	exec.Run(ctx, executor.Evaluation{Script: `error('x')`})
	exec.Run(ctx, executor.Evaluation{Script: `return +`})
	exec.Run(ctx, executor.Evaluation{Script: `while true do end`})

	assert.Equal(t, []string{"completed", "errored", "compile_error", "expired"}, obs.statuses)
}

func TestStateLimits(t *testing.T) {
	exec := executor.New(nil, executor.WithStateConfig(hostfunc.StateConfig{MaxEntries: 1}))
	defer exec.Close()

	result := exec.Run(context.Background(), executor.Evaluation{
		Script: prelude + `m.set('a', 1); m.set('b', 2)`,
	})
	assert.ErrorIs(t, result.Error, hostfunc.ErrTooManyKeys)
}
