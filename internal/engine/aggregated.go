package engine

import (
	"context"

	"github.com/mesh-intelligence/keepsake/internal/logger"
	"github.com/mesh-intelligence/keepsake/internal/metrics"
	"github.com/mesh-intelligence/keepsake/pkg/types"
)

// AggregatedSave deduplicates records by content. Before a new row would be
// written it looks for a stored row with the same content and, on a match,
// adopts that row's identity instead of inserting.
type AggregatedSave struct {
	Type    *types.EntityType
	Cache   types.Cache // nil unless the type has a cache column
	Log     *logger.Logger
	Metrics *metrics.Metrics
}

// Save handles three cases. A new record is looked up and either resolved
// to the existing row or inserted. A persisted record whose content changed
// is turned back into a new one and handled the same way, leaving the old
// row untouched for whoever else references it. Anything else passes
// through.
func (a *AggregatedSave) Save(ctx context.Context, tx *Tx, rec *types.Record, next SaveFunc) error {
	rec.SetResolvedByAggregation(false)
	if rec.IsPersistent() {
		if !a.contentChanged(rec) {
			return next(ctx, tx, rec)
		}
		rec.MarkAsNew()
		if err := a.resolve(ctx, tx, rec, next); err != nil {
			rec.MarkAsPersistent(nil)
			return err
		}
		return nil
	}
	return a.resolve(ctx, tx, rec, next)
}

func (a *AggregatedSave) resolve(ctx context.Context, tx *Tx, rec *types.Record, next SaveFunc) error {
	rec.SetResolvedByAggregation(true)
	existing, err := a.lookup(ctx, tx, rec)
	if err != nil {
		return err
	}
	if existing != nil {
		rec.MarkAsPersistent(existing)
		return nil
	}
	if err := next(ctx, tx, rec); err != nil {
		return err
	}
	a.remember(ctx, tx, rec)
	return nil
}

func (a *AggregatedSave) contentChanged(rec *types.Record) bool {
	for _, name := range rec.Changed() {
		if !a.Type.IsExcluded(name) {
			return true
		}
	}
	return false
}

// lookup consults the cache first, then the store. An ambiguous store match
// resolves to the lowest id.
func (a *AggregatedSave) lookup(ctx context.Context, tx *Tx, rec *types.Record) (*types.Record, error) {
	table := a.Type.Schema().Table
	key := a.cacheKey(rec)
	if a.Cache != nil {
		cached, ok, err := a.Cache.Get(ctx, key)
		switch {
		case err != nil:
			a.Log.Warn("aggregation cache read failed", "table", table, "key", key, "error", err)
		case ok:
			a.Metrics.Lookup(table, metrics.LookupCacheHit)
			return cached, nil
		}
	}

	where := make(map[string]any)
	for _, name := range a.Type.ContentColumns() {
		where[name] = rec.Get(name)
	}
	rows, err := tx.Find(ctx, a.Type.Schema(), types.Query{Where: where, Limit: 2})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		a.Metrics.Lookup(table, metrics.LookupMiss)
		return nil, nil
	}
	if len(rows) > 1 {
		a.Log.Warn("ambiguous aggregation lookup, using first match",
			"table", table, "id", rows[0].ID())
		a.Metrics.AmbiguousLookup(table)
	}
	a.Metrics.Lookup(table, metrics.LookupHit)
	a.remember(ctx, tx, rows[0])
	return rows[0], nil
}

func (a *AggregatedSave) cacheKey(rec *types.Record) string {
	if a.Cache == nil {
		return ""
	}
	return types.KeyString(rec.Get(a.Type.CacheColumn()))
}

// remember stores a frozen copy of rec once tx commits, so the cache never
// names a row that was rolled back. Cache failures are logged and otherwise
// ignored.
func (a *AggregatedSave) remember(ctx context.Context, tx *Tx, rec *types.Record) {
	if a.Cache == nil {
		return
	}
	key := a.cacheKey(rec)
	snapshot := rec.Clone()
	snapshot.Freeze()
	tx.OnCommit(func() {
		if err := a.Cache.Put(ctx, key, snapshot); err != nil {
			a.Log.Warn("aggregation cache write failed",
				"table", a.Type.Schema().Table, "error", err)
		}
	})
}
