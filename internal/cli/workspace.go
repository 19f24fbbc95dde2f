package cli

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mesh-intelligence/keepsake/internal/cache"
	"github.com/mesh-intelligence/keepsake/internal/config"
	"github.com/mesh-intelligence/keepsake/internal/engine"
	"github.com/mesh-intelligence/keepsake/internal/gormstore"
	"github.com/mesh-intelligence/keepsake/internal/logger"
	"github.com/mesh-intelligence/keepsake/internal/metrics"
	"github.com/mesh-intelligence/keepsake/internal/paths"
	"github.com/mesh-intelligence/keepsake/internal/sqlite"
	"github.com/mesh-intelligence/keepsake/pkg/types"
)

// workspace is everything a command needs: the loaded configuration, an
// open store and one repository per configured table.
type workspace struct {
	cfg     *config.Config
	dataDir string
	log     *logger.Logger
	store   types.Store
	tables  types.TableCreator
	repos   map[string]*engine.Repository
	closers []func() error
}

// loadConfig resolves the config directory and reads config.yaml, writing
// the default one on first run.
func loadConfig() (*config.Config, string, error) {
	configDir, err := paths.ResolveConfigDir(flags.configDir)
	if err != nil {
		return nil, "", sysError(fmt.Errorf("resolve config dir: %w", err))
	}
	cfg, err := config.Load(configDir)
	if err != nil {
		if errors.Is(err, types.ErrConfiguration) {
			return nil, "", userError(err)
		}
		return nil, "", sysError(err)
	}
	return cfg, configDir, nil
}

func openWorkspace(ctx context.Context) (*workspace, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return nil, sysError(err)
	}
	dataDir, err := paths.ResolveDataDir(flags.dataDir, cfg.DataDir)
	if err != nil {
		return nil, sysError(fmt.Errorf("resolve data dir: %w", err))
	}
	w := &workspace{cfg: cfg, dataDir: dataDir, log: log, repos: map[string]*engine.Repository{}}
	w.closers = append(w.closers, func() error { log.Sync(); return nil })

	if err := w.openStore(); err != nil {
		w.close()
		return nil, err
	}
	if err := w.buildRepositories(ctx); err != nil {
		w.close()
		return nil, err
	}
	return w, nil
}

func (w *workspace) openStore() error {
	switch w.cfg.Backend {
	case types.BackendPostgres:
		s, err := gormstore.OpenPostgres(w.cfg.DSN)
		if err != nil {
			return sysError(err)
		}
		w.store, w.tables = s, s
		w.closers = append(w.closers, s.Close)
	default:
		b := sqlite.NewBackend()
		if err := b.Attach(w.cfg.StoreConfig(w.dataDir)); err != nil {
			return sysError(fmt.Errorf("attach backend: %w", err))
		}
		w.store, w.tables = b, b
		w.closers = append(w.closers, b.Detach)
	}
	return nil
}

func (w *workspace) buildRepositories(ctx context.Context) error {
	ets, err := w.cfg.EntityTypes()
	if err != nil {
		return userError(err)
	}
	m, err := metrics.New(nil)
	if err != nil {
		return sysError(err)
	}

	var rdb *goredis.Client
	for _, table := range w.cfg.TableNames() {
		et := ets[table]
		opts := []engine.Option{engine.WithLogger(w.log), engine.WithMetrics(m)}
		if et.IsCached() && w.cfg.Cache.Backend == config.CacheRedis {
			if rdb == nil {
				if rdb, err = cache.DialRedis(ctx, w.cfg.Cache.RedisAddr); err != nil {
					return sysError(err)
				}
				w.closers = append(w.closers, rdb.Close)
			}
			opts = append(opts, engine.WithCache(cache.NewRedis(rdb, et.Schema(), w.cfg.Cache.Prefix)))
		}
		repo, err := engine.NewRepository(et, w.store, opts...)
		if err != nil {
			return sysError(err)
		}
		w.repos[table] = repo
	}
	return nil
}

// repo returns the repository of a configured table.
func (w *workspace) repo(table string) (*engine.Repository, error) {
	r, ok := w.repos[table]
	if !ok {
		return nil, userError(fmt.Errorf("unknown table %q (configured: %v)", table, w.cfg.TableNames()))
	}
	return r, nil
}

// close releases resources in reverse order of acquisition.
func (w *workspace) close() {
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](); err != nil {
			w.log.Warn("closing workspace", "error", err)
		}
	}
}
