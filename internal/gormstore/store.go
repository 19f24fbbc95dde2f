// Package gormstore implements the keepsake Store on gorm, so the engine can
// run against PostgreSQL (gorm.io/driver/postgres) or SQLite
// (gorm.io/driver/sqlite).
package gormstore

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormLogger "gorm.io/gorm/logger"
	_ "modernc.org/sqlite"

	"github.com/mesh-intelligence/keepsake/pkg/types"
)

// Store implements types.Store over a *gorm.DB.
type Store struct {
	db   *gorm.DB
	now  func() time.Time
	inTx bool
}

var _ types.Store = (*Store)(nil)

func gormConfig() *gorm.Config {
	return &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
		Logger: gormLogger.New(
			log.New(os.Stderr, "\r\n", log.LstdFlags),
			gormLogger.Config{
				SlowThreshold:             time.Second,
				LogLevel:                  gormLogger.Warn,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
	}
}

// OpenPostgres connects to the database named by dsn.
func OpenPostgres(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	return New(db), nil
}

// OpenSQLite opens the database file at path through the pure-Go driver.
// Writes are serialized on a single connection.
func OpenSQLite(path string) (*Store, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := gorm.Open(sqlite.Dialector{DriverName: "sqlite", DSN: dsn}, gormConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite %s: %w", path, err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	return New(db), nil
}

// New wraps an open gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// SetClock replaces the timestamp source.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

func (s *Store) DB() *gorm.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) isPostgres() bool { return s.db.Dialector.Name() == "postgres" }

// encode converts a normalized value for the dialect. SQLite gets the same
// encoding as the database/sql backend so both can read each other's files.
func (s *Store) encode(v any) any {
	if s.isPostgres() {
		return v
	}
	switch x := v.(type) {
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		return x.UTC().Format(types.TimeLayout)
	}
	return v
}

// conditions normalizes and encodes an equality filter. nil stays nil,
// which gorm renders as IS NULL.
func (s *Store) conditions(schema *types.Schema, where map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(where))
	for k, v := range where {
		col, ok := schema.Column(k)
		if !ok {
			return nil, fmt.Errorf("%w: %s.%s", types.ErrUnknownColumn, schema.Table, k)
		}
		n, err := types.Normalize(col.Kind, v)
		if err != nil {
			return nil, err
		}
		out[k] = s.encode(n)
	}
	return out, nil
}

func (s *Store) table(ctx context.Context, schema *types.Schema, where map[string]any) (*gorm.DB, error) {
	cond, err := s.conditions(schema, where)
	if err != nil {
		return nil, err
	}
	tx := s.db.WithContext(ctx).Table(schema.Table)
	if len(cond) > 0 {
		tx = tx.Where(cond)
	}
	return tx, nil
}

func (s *Store) Find(ctx context.Context, schema *types.Schema, q types.Query) ([]*types.Record, error) {
	tx, err := s.table(ctx, schema, q.Where)
	if err != nil {
		return nil, err
	}
	order := q.OrderBy
	if order == "" {
		order = types.ColumnID
	}
	if _, ok := schema.Column(order); !ok {
		return nil, fmt.Errorf("%w: %s.%s", types.ErrUnknownColumn, schema.Table, order)
	}
	tx = tx.Select(schema.ColumnNames()).
		Order(clause.OrderByColumn{Column: clause.Column{Name: order}, Desc: q.Desc})
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	var rows []map[string]any
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying %s: %w", schema.Table, err)
	}
	out := make([]*types.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := types.LoadRecord(schema, row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, schema *types.Schema, where map[string]any) (int64, error) {
	tx, err := s.table(ctx, schema, where)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := tx.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting %s: %w", schema.Table, err)
	}
	return n, nil
}

func (s *Store) Insert(ctx context.Context, rec *types.Record) error {
	schema := rec.Schema()
	values := types.InsertValues(rec, newUUID, s.now())
	row := make(map[string]any, len(values))
	for k, v := range values {
		row[k] = s.encode(v)
	}
	if err := s.db.WithContext(ctx).Table(schema.Table).Create(row).Error; err != nil {
		return fmt.Errorf("inserting into %s: %w", schema.Table, err)
	}
	return rec.Apply(values)
}

func (s *Store) Update(ctx context.Context, rec *types.Record, locking bool) error {
	schema := rec.Schema()
	id := rec.ID()
	if id == "" {
		return types.ErrInvalidID
	}
	set, where := types.UpdateValues(rec, s.now(), locking)
	if len(set) == 0 {
		return nil
	}
	n, err := s.UpdateColumns(ctx, schema, id, set, where)
	if err != nil {
		return err
	}
	if n == 0 {
		if len(where) > 0 {
			return fmt.Errorf("updating %s %s: %w", schema.Table, id, types.ErrStaleObject)
		}
		return fmt.Errorf("updating %s %s: %w", schema.Table, id, types.ErrNotFound)
	}
	return rec.Apply(set)
}

func (s *Store) UpdateColumns(ctx context.Context, schema *types.Schema, id string, set, where map[string]any) (int64, error) {
	if id == "" {
		return 0, types.ErrInvalidID
	}
	if len(set) == 0 {
		return 0, fmt.Errorf("%w: empty update of %s", types.ErrInvalidData, schema.Table)
	}
	assign, err := s.conditions(schema, set)
	if err != nil {
		return 0, err
	}
	filter := map[string]any{types.ColumnID: id}
	for k, v := range where {
		filter[k] = v
	}
	tx, err := s.table(ctx, schema, filter)
	if err != nil {
		return 0, err
	}
	res := tx.Updates(assign)
	if res.Error != nil {
		return 0, fmt.Errorf("updating %s: %w", schema.Table, res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Store) MaxLockVersion(ctx context.Context, schema *types.Schema, scope map[string]any) (int64, bool, error) {
	if !schema.HasLockVersion() {
		return 0, false, nil
	}
	tx, err := s.table(ctx, schema, scope)
	if err != nil {
		return 0, false, err
	}
	var maxVersion sql.NullInt64
	if err := tx.Select("MAX(" + types.ColumnLockVersion + ")").Row().Scan(&maxVersion); err != nil {
		return 0, false, fmt.Errorf("reading max lock_version of %s: %w", schema.Table, err)
	}
	return maxVersion.Int64, maxVersion.Valid, nil
}

// WithTx runs fn in a gorm transaction; a transaction-bound Store joins the
// open one.
func (s *Store) WithTx(ctx context.Context, fn func(types.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx, now: s.now, inTx: true})
	})
}

// CreateTable creates schema's table and is_current index if missing.
func (s *Store) CreateTable(ctx context.Context, schema *types.Schema) error {
	for _, stmt := range s.tableDDL(schema) {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("creating %s: %w", schema.Table, err)
		}
	}
	return nil
}

func (s *Store) columnType(k types.Kind) string {
	pg := s.isPostgres()
	switch k {
	case types.KindInteger:
		if pg {
			return "BIGINT"
		}
		return "INTEGER"
	case types.KindBool:
		if pg {
			return "BOOLEAN"
		}
		return "INTEGER"
	case types.KindTime:
		if pg {
			return "TIMESTAMPTZ"
		}
	}
	return "TEXT"
}

func (s *Store) tableDDL(schema *types.Schema) []string {
	defs := make([]string, 0, len(schema.Columns))
	for _, c := range schema.Columns {
		def := quote(c.Name) + " " + s.columnType(c.Kind)
		switch {
		case c.Role == types.RoleID:
			def += " PRIMARY KEY"
		case c.Role == types.RoleLockVersion:
			def += " NOT NULL DEFAULT 0"
		case c.Required:
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	stmts := []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(schema.Table), strings.Join(defs, ", "))}
	if schema.HasIsCurrent() {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quote("idx_"+schema.Table+"_is_current"), quote(schema.Table), quote(types.ColumnIsCurrent)))
	}
	return stmts
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func newUUID() string {
	return uuid.Must(uuid.NewV7()).String()
}
