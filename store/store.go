// Package store persists the shared state between process runs.
//
// A Store loads the whole map once at startup and commits the whole map
// back after evaluations. Migrate must be called once before first use.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/caffeineduck/lam/state"
)

// ErrUnsupported is returned by Open for a spec it cannot parse.
var ErrUnsupported = errors.New("unsupported store")

// Store is a persistent backend for a state.Shared.
type Store interface {
	// Load returns the persisted state. An empty store yields an empty map.
	Load(ctx context.Context) (*state.Shared, error)
	// Commit replaces the persisted state with a snapshot of s.
	Commit(ctx context.Context, s *state.Shared) error
	// Migrate prepares the backend's schema.
	Migrate(ctx context.Context) error
	Close() error
}

// Open selects a backend from spec:
//
//	""  or "memory"         in-process, lost at exit
//	"sqlite://path/to.db"   SQLite file
//	"path/to.db"            SQLite file
//	"redis://host:port/0"   Redis hash
func Open(ctx context.Context, spec string, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	switch {
	case spec == "" || spec == "memory":
		logger.Warn("using in-memory store, state is lost at exit")
		return NewMemory(), nil
	case strings.HasPrefix(spec, "sqlite://"):
		return OpenSQLite(ctx, strings.TrimPrefix(spec, "sqlite://"))
	case strings.HasPrefix(spec, "redis://"), strings.HasPrefix(spec, "rediss://"):
		return OpenRedis(ctx, spec)
	case !strings.Contains(spec, "://"):
		return OpenSQLite(ctx, spec)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, spec)
	}
}
