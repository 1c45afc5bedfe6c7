package store

import (
	"context"
	"sync"

	"github.com/caffeineduck/lam/state"
	"github.com/caffeineduck/lam/value"
)

// Memory keeps the last committed snapshot in process memory.
type Memory struct {
	mu   sync.Mutex
	data map[string]value.Value
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]value.Value)}
}

func (m *Memory) Load(ctx context.Context) (*state.Shared, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return state.FromMap(m.data), nil
}

func (m *Memory) Commit(ctx context.Context, s *state.Shared) error {
	snap := s.Snapshot()
	m.mu.Lock()
	m.data = snap
	m.mu.Unlock()
	return nil
}

func (m *Memory) Migrate(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
