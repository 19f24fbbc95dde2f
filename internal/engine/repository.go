package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mesh-intelligence/keepsake/internal/cache"
	"github.com/mesh-intelligence/keepsake/internal/logger"
	"github.com/mesh-intelligence/keepsake/internal/metrics"
	"github.com/mesh-intelligence/keepsake/pkg/types"
)

// Repository serves one entity type over a Store. It implements
// types.Repository.
type Repository struct {
	et      *types.EntityType
	store   types.Store
	cache   types.Cache
	log     *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	save    SaveFunc
}

// Option configures a Repository.
type Option func(*Repository)

// WithCache sets the aggregation cache backend. Types with a cache column
// get an in-memory cache when none is given; types without one ignore it.
func WithCache(c types.Cache) Option {
	return func(r *Repository) { r.cache = c }
}

func WithLogger(l *logger.Logger) Option {
	return func(r *Repository) { r.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Repository) { r.metrics = m }
}

// WithClock overrides the time source used for demotion timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// NewRepository builds the save pipeline for et.
func NewRepository(et *types.EntityType, store types.Store, opts ...Option) (*Repository, error) {
	if et == nil || store == nil {
		return nil, fmt.Errorf("%w: entity type and store are required", types.ErrConfiguration)
	}
	r := &Repository{et: et, store: store}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Nop()
	}
	r.log = r.log.With("table", et.Schema().Table)
	if r.now == nil {
		r.now = func() time.Time { return time.Now().UTC() }
	}
	switch {
	case !et.IsCached():
		r.cache = nil
	case r.cache == nil:
		r.cache = cache.NewMemory()
	}

	var stages []SaveStrategy
	if et.IsAggregated() {
		stages = append(stages, &AggregatedSave{Type: et, Cache: r.cache, Log: r.log, Metrics: r.metrics})
	}
	if et.IsTracked() {
		stages = append(stages, &TrackedSave{Type: et, Log: r.log, Metrics: r.metrics, Now: r.now})
	}
	stages = append(stages, PlainSave{Type: et})
	r.save = pipeline(stages)
	return r, nil
}

func (r *Repository) Type() *types.EntityType { return r.et }

func (r *Repository) New() *types.Record { return r.et.New() }

// Save runs the pipeline inside one transaction. When the transaction does
// not commit, including a failed COMMIT after every stage succeeded, the
// record is put back exactly as it was before the call.
func (r *Repository) Save(ctx context.Context, rec *types.Record) error {
	return runTx(ctx, r.store, func(tx *Tx) error {
		return r.saveIn(ctx, tx, rec)
	})
}

// saveIn runs the pipeline on a transaction the caller already holds.
func (r *Repository) saveIn(ctx context.Context, tx *Tx, rec *types.Record) error {
	if rec == nil || rec.Schema() != r.et.Schema() {
		return fmt.Errorf("%w: record does not belong to %s", types.ErrInvalidData, r.et.Schema().Table)
	}
	if rec.Frozen() {
		return types.ErrFrozenRecord
	}
	snap := rec.Clone()
	tx.OnRollback(func() { rec.RestoreFrom(snap) })
	return r.save(ctx, tx, rec)
}

func (r *Repository) Get(ctx context.Context, id string) (*types.Record, error) {
	if id == "" {
		return nil, types.ErrInvalidID
	}
	rows, err := r.store.Find(ctx, r.et.Schema(), types.Query{
		Where: map[string]any{types.ColumnID: id},
		Limit: 1,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%s %s: %w", r.et.Schema().Table, id, types.ErrNotFound)
	}
	return rows[0], nil
}

func (r *Repository) Find(ctx context.Context, q types.Query) ([]*types.Record, error) {
	return r.store.Find(ctx, r.et.Schema(), q)
}

func (r *Repository) Count(ctx context.Context, where map[string]any) (int64, error) {
	return r.store.Count(ctx, r.et.Schema(), where)
}

// History returns the row with id followed by its predecessors, newest
// first. It requires a tracked type with a preceding-key column.
func (r *Repository) History(ctx context.Context, id string) ([]*types.Record, error) {
	pk := r.et.PrecedingKeyColumn()
	if !r.et.IsTracked() || pk == "" {
		return nil, fmt.Errorf("%w: %s has no preceding key", types.ErrNotTracked, r.et.Schema().Table)
	}
	var chain []*types.Record
	seen := make(map[string]bool)
	for id != "" && !seen[id] {
		seen[id] = true
		rec, err := r.Get(ctx, id)
		if err != nil {
			if len(chain) > 0 && errors.Is(err, types.ErrNotFound) {
				break
			}
			return nil, err
		}
		chain = append(chain, rec)
		id = rec.PrecedingKey()
	}
	return chain, nil
}

// ClearCache empties the aggregation cache. It is a no-op for uncached
// types.
func (r *Repository) ClearCache(ctx context.Context) error {
	if r.cache == nil {
		return nil
	}
	return r.cache.Clear(ctx)
}

func (r *Repository) CacheLen(ctx context.Context) (int, error) {
	if r.cache == nil {
		return 0, nil
	}
	return r.cache.Len(ctx)
}

var _ types.Repository = (*Repository)(nil)
