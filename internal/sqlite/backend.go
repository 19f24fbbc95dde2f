// Package sqlite implements the keepsake Store over database/sql and the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/keepsake/pkg/types"
)

// DatabaseFile is the file created inside Config.DataDir.
const DatabaseFile = "keepsake.db"

var _ types.Backend = (*Backend)(nil)

// Backend implements types.Store on a single SQLite database file.
type Backend struct {
	mu       sync.RWMutex
	attached bool
	config   types.Config
	db       *sql.DB

	// now stamps created_at/updated_at; tests replace it.
	now func() time.Time
}

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
func NewBackend() *Backend {
	return &Backend{now: func() time.Time { return time.Now().UTC() }}
}

// SetClock replaces the timestamp source.
func (b *Backend) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// Attach opens (creating if needed) DataDir/keepsake.db.
// Returns ErrAlreadyAttached if already attached.
func (b *Backend) Attach(config types.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.attached {
		return types.ErrAlreadyAttached
	}
	if err := config.Validate(); err != nil {
		return err
	}
	if config.Backend != types.BackendSQLite {
		return fmt.Errorf("%w: %s", types.ErrBackendUnknown, config.Backend)
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	dsn := "file:" + filepath.Join(dataDir, DatabaseFile) +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return err
	}
	// SQLite has one writer; a single connection serializes transactions
	// instead of failing them with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return fmt.Errorf("connecting to %s: %w", DatabaseFile, err)
	}

	b.db = db
	b.config = config
	b.attached = true
	return nil
}

// Detach closes the database. Detach is idempotent.
func (b *Backend) Detach() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.attached {
		return nil
	}
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			return err
		}
		b.db = nil
	}
	b.attached = false
	return nil
}

// CreateTable creates the table and its indexes for schema if missing.
func (b *Backend) CreateTable(ctx context.Context, schema *types.Schema) error {
	s, err := b.store()
	if err != nil {
		return err
	}
	for _, stmt := range tableDDL(schema) {
		if _, err := s.q.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating table %s: %w", schema.Table, err)
		}
	}
	return nil
}

// DB returns the underlying handle for direct queries.
func (b *Backend) DB() *sql.DB {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.db
}

func (b *Backend) store() (*sqlStore, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.attached {
		return nil, types.ErrStoreDetached
	}
	return &sqlStore{q: b.db, now: b.now}, nil
}

func (b *Backend) Find(ctx context.Context, schema *types.Schema, q types.Query) ([]*types.Record, error) {
	s, err := b.store()
	if err != nil {
		return nil, err
	}
	return s.Find(ctx, schema, q)
}

func (b *Backend) Count(ctx context.Context, schema *types.Schema, where map[string]any) (int64, error) {
	s, err := b.store()
	if err != nil {
		return 0, err
	}
	return s.Count(ctx, schema, where)
}

func (b *Backend) Insert(ctx context.Context, rec *types.Record) error {
	s, err := b.store()
	if err != nil {
		return err
	}
	return s.Insert(ctx, rec)
}

func (b *Backend) Update(ctx context.Context, rec *types.Record, locking bool) error {
	s, err := b.store()
	if err != nil {
		return err
	}
	return s.Update(ctx, rec, locking)
}

func (b *Backend) UpdateColumns(ctx context.Context, schema *types.Schema, id string, set, where map[string]any) (int64, error) {
	s, err := b.store()
	if err != nil {
		return 0, err
	}
	return s.UpdateColumns(ctx, schema, id, set, where)
}

func (b *Backend) MaxLockVersion(ctx context.Context, schema *types.Schema, scope map[string]any) (int64, bool, error) {
	s, err := b.store()
	if err != nil {
		return 0, false, err
	}
	return s.MaxLockVersion(ctx, schema, scope)
}

// WithTx runs fn in a database transaction.
func (b *Backend) WithTx(ctx context.Context, fn func(types.Store) error) error {
	b.mu.RLock()
	if !b.attached {
		b.mu.RUnlock()
		return types.ErrStoreDetached
	}
	db, now := b.db, b.now
	b.mu.RUnlock()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqlStore{q: tx, now: now, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
