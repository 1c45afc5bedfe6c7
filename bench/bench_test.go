// Package bench measures evaluation overhead.
//
// Run with: go test -v -run=Test ./bench/
// Benchmarks: go test -bench=. ./bench/
package bench

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/caffeineduck/lam/executor"
	"github.com/caffeineduck/lam/state"
)

const (
	trivial     = "return 1"
	computation = "local s = 0 for i = 1, 10000 do s = s + i end return s"
	hostCalls   = `local lam = require('@lam')
for i = 1, 100 do lam.set('k', i) end
return lam.get('k')`
	yielding = `local n = 0
while true do n = n + 1 coroutine.yield(n) end`
)

func run(b *testing.B, exec *executor.Executor, script string) {
	b.Helper()
	res := exec.Run(context.Background(), executor.Evaluation{Script: script, Budget: time.Second})
	if res.Error != nil {
		b.Fatal(res.Error)
	}
}

// --- Cold start: new executor, so every run compiles ---

func BenchmarkLam_ColdStart(b *testing.B) {
	for i := 0; i < b.N; i++ {
		exec := executor.New(nil)
		run(b, exec, trivial)
		exec.Close()
	}
}

// --- Warm start: compiled proto is cached ---

func BenchmarkLam_WarmStart(b *testing.B) {
	exec := executor.New(nil)
	defer exec.Close()
	run(b, exec, trivial)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		run(b, exec, trivial)
	}
}

func BenchmarkLam_WarmStart_Computation(b *testing.B) {
	exec := executor.New(nil)
	defer exec.Close()
	run(b, exec, computation)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		run(b, exec, computation)
	}
}

func BenchmarkLam_WarmStart_HostFunction(b *testing.B) {
	exec := executor.New(nil)
	defer exec.Close()
	shared := state.New()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res := exec.Run(context.Background(), executor.Evaluation{Script: hostCalls, State: shared})
		if res.Error != nil {
			b.Fatal(res.Error)
		}
	}
}

func BenchmarkLam_ReadInput(b *testing.B) {
	exec := executor.New(nil)
	defer exec.Close()
	input := strings.Repeat("x", 64*1024)
	script := "return #require('@lam').read('*a')"

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		res := exec.Run(context.Background(), executor.Evaluation{Script: script, Input: strings.NewReader(input)})
		if res.Error != nil {
			b.Fatal(res.Error)
		}
	}
}

func BenchmarkLam_Parallel(b *testing.B) {
	exec := executor.New(nil)
	defer exec.Close()
	run(b, exec, computation)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			exec.Run(context.Background(), executor.Evaluation{Script: computation})
		}
	})
}

// TestBudgetOverrun reports how far past its budget a yielding script and a
// busy loop run.
func TestBudgetOverrun(t *testing.T) {
	if testing.Short() {
		t.Skip("slow")
	}

	exec := executor.New(nil)
	defer exec.Close()

	fmt.Printf("Platform: %s/%s, CPUs: %d\n", runtime.GOOS, runtime.GOARCH, runtime.NumCPU())
	for _, budget := range []time.Duration{10 * time.Millisecond, 100 * time.Millisecond} {
		for name, script := range map[string]string{"yield": yielding, "busy": "while true do end"} {
			res := exec.Run(context.Background(), executor.Evaluation{Script: script, Budget: budget})
			if res.Error != nil {
				t.Fatalf("%s: %v", name, res.Error)
			}
			fmt.Printf("%-6s budget %-6s took %-12s status %s\n", name, budget, res.Duration, res.Status)
		}
	}
}

func TestMemoryUsage(t *testing.T) {
	var m runtime.MemStats

	runtime.GC()
	runtime.ReadMemStats(&m)
	before := m.Alloc

	exec := executor.New(nil)
	for i := 0; i < 100; i++ {
		exec.Run(context.Background(), executor.Evaluation{Script: computation})
	}

	runtime.ReadMemStats(&m)
	after := m.Alloc

	exec.Close()

	runtime.GC()
	runtime.ReadMemStats(&m)
	afterGC := m.Alloc

	t.Logf("Memory before: %d KB", before/1024)
	t.Logf("Memory after 100 runs: %d KB", after/1024)
	t.Logf("Memory after GC: %d KB", afterGC/1024)
}
