package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mesh-intelligence/keepsake/pkg/types"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// sqlStore runs Store operations against the database or an open
// transaction.
type sqlStore struct {
	q    queryer
	now  func() time.Time
	inTx bool
}

var _ types.Store = (*sqlStore)(nil)

// newUUID generates a UUID v7 string.
func newUUID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// encode converts a normalized value to what the driver stores.
func encode(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		return x.UTC().Format(types.TimeLayout)
	default:
		return v
	}
}

// whereClause renders an equality filter with keys in sorted order.
// Values are normalized to the column kind first; nil becomes IS NULL.
func whereClause(schema *types.Schema, where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}
	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	var args []any
	for _, k := range keys {
		col, ok := schema.Column(k)
		if !ok {
			return "", nil, fmt.Errorf("%w: %s.%s", types.ErrUnknownColumn, schema.Table, k)
		}
		v, err := types.Normalize(col.Kind, where[k])
		if err != nil {
			return "", nil, err
		}
		if v == nil {
			parts = append(parts, quote(k)+" IS NULL")
			continue
		}
		parts = append(parts, quote(k)+" = ?")
		args = append(args, encode(v))
	}
	return " WHERE " + strings.Join(parts, " AND "), args, nil
}

func selectList(schema *types.Schema) string {
	cols := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		cols[i] = quote(c.Name)
	}
	return strings.Join(cols, ", ")
}

func (s *sqlStore) Find(ctx context.Context, schema *types.Schema, q types.Query) ([]*types.Record, error) {
	where, args, err := whereClause(schema, q.Where)
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
	stmt := "SELECT " + selectList(schema) + " FROM " + quote(schema.Table) + where + " ORDER BY " + quote(order)
	if q.Desc {
		stmt += " DESC"
	}
	if q.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := s.q.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", schema.Table, err)
	}
	defer rows.Close()

	var out []*types.Record
	for rows.Next() {
		dest := make([]any, len(schema.Columns))
		ptrs := make([]any, len(schema.Columns))
		for i := range dest {
			ptrs[i] = &dest[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", schema.Table, err)
		}
		row := make(map[string]any, len(schema.Columns))
		for i, c := range schema.Columns {
			row[c.Name] = dest[i]
		}
		rec, err := types.LoadRecord(schema, row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *sqlStore) Count(ctx context.Context, schema *types.Schema, where map[string]any) (int64, error) {
	clause, args, err := whereClause(schema, where)
	if err != nil {
		return 0, err
	}
	var n int64
	err = s.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(schema.Table)+clause, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", schema.Table, err)
	}
	return n, nil
}

// Insert writes every column of rec. The id, timestamps and lock_version
// are filled in when missing and copied onto rec only after the row is
// written, so a failed insert leaves rec untouched.
func (s *sqlStore) Insert(ctx context.Context, rec *types.Record) error {
	schema := rec.Schema()
	values := types.InsertValues(rec, newUUID, s.now())

	cols := make([]string, len(schema.Columns))
	marks := make([]string, len(schema.Columns))
	args := make([]any, len(schema.Columns))
	for i, c := range schema.Columns {
		cols[i] = quote(c.Name)
		marks[i] = "?"
		args[i] = encode(values[c.Name])
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(schema.Table), strings.Join(cols, ", "), strings.Join(marks, ", "))
	if _, err := s.q.ExecContext(ctx, stmt, args...); err != nil {
		return fmt.Errorf("inserting into %s: %w", schema.Table, err)
	}
	return rec.Apply(values)
}

// Update writes the changed columns of rec by primary key.
func (s *sqlStore) Update(ctx context.Context, rec *types.Record, locking bool) error {
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

// UpdateColumns issues UPDATE table SET ... WHERE id = ? [AND ...].
func (s *sqlStore) UpdateColumns(ctx context.Context, schema *types.Schema, id string, set, where map[string]any) (int64, error) {
	if id == "" {
		return 0, types.ErrInvalidID
	}
	if len(set) == 0 {
		return 0, fmt.Errorf("%w: empty update of %s", types.ErrInvalidData, schema.Table)
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	assigns := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys)+len(where)+1)
	for _, k := range keys {
		col, ok := schema.Column(k)
		if !ok {
			return 0, fmt.Errorf("%w: %s.%s", types.ErrUnknownColumn, schema.Table, k)
		}
		v, err := types.Normalize(col.Kind, set[k])
		if err != nil {
			return 0, err
		}
		assigns = append(assigns, quote(k)+" = ?")
		args = append(args, encode(v))
	}

	filter := make(map[string]any, len(where)+1)
	for k, v := range where {
		filter[k] = v
	}
	filter[types.ColumnID] = id
	clause, whereArgs, err := whereClause(schema, filter)
	if err != nil {
		return 0, err
	}
	args = append(args, whereArgs...)

	stmt := "UPDATE " + quote(schema.Table) + " SET " + strings.Join(assigns, ", ") + clause
	res, err := s.q.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, fmt.Errorf("updating %s: %w", schema.Table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reading rows affected: %w", err)
	}
	return n, nil
}

func (s *sqlStore) MaxLockVersion(ctx context.Context, schema *types.Schema, scope map[string]any) (int64, bool, error) {
	if !schema.HasLockVersion() {
		return 0, false, nil
	}
	clause, args, err := whereClause(schema, scope)
	if err != nil {
		return 0, false, err
	}
	var maxVersion sql.NullInt64
	stmt := "SELECT MAX(" + quote(types.ColumnLockVersion) + ") FROM " + quote(schema.Table) + clause
	if err := s.q.QueryRowContext(ctx, stmt, args...).Scan(&maxVersion); err != nil {
		return 0, false, fmt.Errorf("reading max lock_version of %s: %w", schema.Table, err)
	}
	return maxVersion.Int64, maxVersion.Valid, nil
}

// WithTx on a transaction-bound store joins the open transaction.
func (s *sqlStore) WithTx(ctx context.Context, fn func(types.Store) error) error {
	if s.inTx {
		return fn(s)
	}
	db, ok := s.q.(*sql.DB)
	if !ok {
		return fn(s)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(&sqlStore{q: tx, now: s.now, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
