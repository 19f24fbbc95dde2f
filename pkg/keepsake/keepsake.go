// Package keepsake is the public entry point to the record engine: build a
// repository for an entity type over any types.Store, then save records
// through it.
//
//	et := types.NewEntityType(schema)
//	_ = et.ActsAsTracked(types.Options{types.OptBy: "customer_id"})
//	repo, err := keepsake.NewRepository(et, backend)
//	err = repo.Save(ctx, rec)
package keepsake

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/mesh-intelligence/keepsake/internal/cache"
	"github.com/mesh-intelligence/keepsake/internal/engine"
	"github.com/mesh-intelligence/keepsake/internal/gormstore"
	"github.com/mesh-intelligence/keepsake/internal/logger"
	"github.com/mesh-intelligence/keepsake/internal/metrics"
	"github.com/mesh-intelligence/keepsake/pkg/types"
)

// Version is the keepsake release.
const Version = "0.1.0"

// Option configures NewRepository.
type Option func(*settings)

type settings struct {
	log   *zap.Logger
	reg   prometheus.Registerer
	cache types.Cache
}

// WithLogger routes engine logs to l.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.log = l }
}

// WithRegisterer registers the engine counters with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *settings) { s.reg = reg }
}

// WithCache sets the aggregation cache of a cached type.
func WithCache(c types.Cache) Option {
	return func(s *settings) { s.cache = c }
}

// NewRepository serves et over store.
func NewRepository(et *types.EntityType, store types.Store, opts ...Option) (types.Repository, error) {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	var engineOpts []engine.Option
	if s.log != nil {
		engineOpts = append(engineOpts, engine.WithLogger(logger.FromCore(s.log.Core())))
	}
	if s.reg != nil {
		m, err := metrics.New(s.reg)
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, engine.WithMetrics(m))
	}
	if s.cache != nil {
		engineOpts = append(engineOpts, engine.WithCache(s.cache))
	}
	repo, err := engine.NewRepository(et, store, engineOpts...)
	if err != nil {
		return nil, err
	}
	return repo, nil
}

func engineRepository(r types.Repository) (*engine.Repository, error) {
	er, ok := r.(*engine.Repository)
	if !ok {
		return nil, fmt.Errorf("%w: repository was not built by keepsake.NewRepository", types.ErrConfiguration)
	}
	return er, nil
}

// NewCurrentPointer guards children's current row per parent, linked
// through foreignKey on the children's table.
func NewCurrentPointer(children types.Repository, foreignKey string) (types.CurrentPointer, error) {
	er, err := engineRepository(children)
	if err != nil {
		return nil, err
	}
	guard, err := engine.NewHasOneCurrent(er, foreignKey)
	if err != nil {
		return nil, err
	}
	return guard, nil
}

// NewAggregatedReference links owners of ownerSchema to aggregated targets
// through foreignKey on the owner's table.
func NewAggregatedReference(targets types.Repository, ownerSchema *types.Schema, foreignKey string) (types.AggregatedReference, error) {
	er, err := engineRepository(targets)
	if err != nil {
		return nil, err
	}
	ref, err := engine.NewHasAggregated(er, ownerSchema, foreignKey)
	if err != nil {
		return nil, err
	}
	return ref, nil
}

// NewMemoryCache returns an in-process aggregation cache.
func NewMemoryCache() types.Cache { return cache.NewMemory() }

// NewRedisCache connects to addr and returns a cache for schema's table.
func NewRedisCache(ctx context.Context, addr string, schema *types.Schema, prefix string) (types.Cache, error) {
	rdb, err := cache.DialRedis(ctx, addr)
	if err != nil {
		return nil, err
	}
	return cache.NewRedis(rdb, schema, prefix), nil
}

// GormStore is a Store over gorm that can create tables and be closed.
type GormStore interface {
	types.Store
	types.TableCreator
	Close() error
}

// OpenPostgres opens a gorm-backed Store on PostgreSQL.
func OpenPostgres(dsn string) (GormStore, error) {
	s, err := gormstore.OpenPostgres(dsn)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenGormSQLite opens a gorm-backed Store on the SQLite file at path.
func OpenGormSQLite(path string) (GormStore, error) {
	s, err := gormstore.OpenSQLite(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}
