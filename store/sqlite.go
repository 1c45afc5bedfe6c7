package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/caffeineduck/lam/state"
	"github.com/caffeineduck/lam/value"
)

//go:embed migrations/sqlite/*.sql
var sqliteFS embed.FS

const migrationsTable = "lam_schema_migrations"

// SQLite stores one row per key, with values JSON-encoded.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite store: empty path")
	}

	db, err := openDB(ctx, path)
	if err != nil {
		return nil, err
	}
	return &SQLite{db: db, path: path}, nil
}

func openDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return db, nil
}

// Migrate applies pending schema migrations. It uses its own connection
// because closing the migrator closes the database it was given.
func (s *SQLite) Migrate(ctx context.Context) error {
	db, err := openDB(ctx, s.path)
	if err != nil {
		return err
	}

	driver, err := sqlite.WithInstance(db, &sqlite.Config{MigrationsTable: migrationsTable})
	if err != nil {
		db.Close()
		return fmt.Errorf("create migration driver: %w", err)
	}
	src, err := iofs.New(sqliteFS, "migrations/sqlite")
	if err != nil {
		driver.Close()
		return fmt.Errorf("create migration source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		driver.Close()
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Version returns the applied schema version.
func (s *SQLite) Version(ctx context.Context) (uint, error) {
	var version uint
	err := s.db.QueryRowContext(ctx, "SELECT version FROM "+migrationsTable+" LIMIT 1").Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func (s *SQLite) Load(ctx context.Context) (*state.Shared, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value FROM lam_state")
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	defer rows.Close()

	data := make(map[string]value.Value)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("scan state row: %w", err)
		}
		var v value.Value
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("decode %q: %w", key, err)
		}
		data[key] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	return state.FromMap(data), nil
}

func (s *SQLite) Commit(ctx context.Context, shared *state.Shared) error {
	snap := shared.Snapshot()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM lam_state"); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO lam_state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for key, v := range snap {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %q: %w", key, err)
		}
		if _, err := stmt.ExecContext(ctx, key, string(raw)); err != nil {
			return fmt.Errorf("insert %q: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
