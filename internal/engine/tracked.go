package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/mesh-intelligence/keepsake/internal/logger"
	"github.com/mesh-intelligence/keepsake/internal/metrics"
	"github.com/mesh-intelligence/keepsake/pkg/types"
)

// TrackedSave turns content updates of a current row into supersession: the
// old row is demoted to is_current=false and the record is inserted as a new
// current row. Stored rows are never overwritten.
type TrackedSave struct {
	Type    *types.EntityType
	Log     *logger.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func (t *TrackedSave) Save(ctx context.Context, tx *Tx, rec *types.Record, next SaveFunc) error {
	if rec.IsNew() {
		if rec.Get(types.ColumnIsCurrent) == nil {
			if err := rec.Set(types.ColumnIsCurrent, true); err != nil {
				return err
			}
		}
		return next(ctx, tx, rec)
	}
	if !t.contentChanged(rec) {
		return next(ctx, tx, rec)
	}
	return t.supersede(ctx, tx, rec, next)
}

// contentChanged ignores a change to is_current alone.
func (t *TrackedSave) contentChanged(rec *types.Record) bool {
	for _, name := range rec.Changed() {
		if name != types.ColumnIsCurrent {
			return true
		}
	}
	return false
}

func (t *TrackedSave) supersede(ctx context.Context, tx *Tx, rec *types.Record, next SaveFunc) error {
	schema := rec.Schema()
	oldID := rec.ID()
	restore := t.snapshot(rec)

	rec.MarkAsNew()
	if pk := t.Type.PrecedingKeyColumn(); pk != "" {
		if err := rec.Set(pk, oldID); err != nil {
			restore()
			return err
		}
	}

	set := map[string]any{types.ColumnIsCurrent: false}
	if schema.HasUpdatedAt() {
		set[types.ColumnUpdatedAt] = t.Now()
	}
	n, err := tx.UpdateColumns(ctx, schema, oldID, set, map[string]any{types.ColumnIsCurrent: true})
	if err != nil {
		restore()
		return fmt.Errorf("demoting %s %s: %w", schema.Table, oldID, err)
	}
	if n != 1 {
		restore()
		t.Metrics.StaleObject(schema.Table)
		t.Log.Warn("stale tracked record", "table", schema.Table, "id", oldID)
		return fmt.Errorf("superseding %s %s: %w", schema.Table, oldID, types.ErrStaleObject)
	}

	if schema.HasLockVersion() {
		version, err := t.nextLockVersion(ctx, tx, rec)
		if err != nil {
			restore()
			return err
		}
		if err := rec.Set(types.ColumnLockVersion, version); err != nil {
			restore()
			return err
		}
	}
	if err := rec.Set(types.ColumnIsCurrent, true); err != nil {
		restore()
		return err
	}

	if err := next(ctx, tx, rec); err != nil {
		restore()
		return err
	}
	newID := rec.ID()
	tx.OnCommit(func() {
		t.Metrics.Superseded(schema.Table)
		t.Log.Debug("superseded tracked record", "table", schema.Table, "old_id", oldID, "new_id", newID)
	})
	return nil
}

// nextLockVersion is one above the highest version among rows sharing the
// record's scope, or zero when the scope has no rows yet.
func (t *TrackedSave) nextLockVersion(ctx context.Context, tx *Tx, rec *types.Record) (int64, error) {
	var scope map[string]any
	if cols := t.Type.ScopeColumns(); len(cols) > 0 {
		scope = make(map[string]any, len(cols))
		for _, c := range cols {
			scope[c] = rec.Get(c)
		}
	}
	max, ok, err := tx.MaxLockVersion(ctx, rec.Schema(), scope)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return max + 1, nil
}

// snapshot captures what supersede rewrites and returns a func putting it
// back, so a failed save leaves the record referencing its original row.
func (t *TrackedSave) snapshot(rec *types.Record) func() {
	saved := map[string]any{types.ColumnIsCurrent: rec.Get(types.ColumnIsCurrent)}
	if rec.Schema().HasLockVersion() {
		saved[types.ColumnLockVersion] = rec.Get(types.ColumnLockVersion)
	}
	if pk := t.Type.PrecedingKeyColumn(); pk != "" {
		saved[pk] = rec.Get(pk)
	}
	return func() {
		rec.MarkAsPersistent(nil)
		for name, v := range saved {
			_ = rec.Set(name, v)
		}
	}
}
