// Package config loads keepsake's config.yaml: which store to use, the
// aggregation cache backend, logging, and the entity types to serve.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mesh-intelligence/keepsake/pkg/types"
)

const (
	FileName = "config.yaml"

	configName = "config"
	configType = "yaml"
	envPrefix  = "KEEPSAKE"
)

// Cache backends.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config is the decoded config.yaml.
type Config struct {
	Backend  string            `mapstructure:"backend" yaml:"backend"`
	DataDir  string            `mapstructure:"data_dir" yaml:"data_dir,omitempty"`
	DSN      string            `mapstructure:"dsn" yaml:"dsn,omitempty"`
	LogMode  string            `mapstructure:"log_mode" yaml:"log_mode"`
	Cache    Cache             `mapstructure:"cache" yaml:"cache"`
	Entities map[string]Entity `mapstructure:"entities" yaml:"entities"`
}

type Cache struct {
	Backend   string `mapstructure:"backend" yaml:"backend"`
	RedisAddr string `mapstructure:"redis_addr" yaml:"redis_addr,omitempty"`
	Prefix    string `mapstructure:"prefix" yaml:"prefix,omitempty"`
}

// Entity declares one table. Aggregated and Tracked are either true or a
// map of options for ActsAsAggregated / ActsAsTracked.
type Entity struct {
	Columns    []Column `mapstructure:"columns" yaml:"columns"`
	Aggregated any      `mapstructure:"aggregated" yaml:"aggregated,omitempty"`
	Tracked    any      `mapstructure:"tracked" yaml:"tracked,omitempty"`
}

type Column struct {
	Name     string `mapstructure:"name" yaml:"name"`
	Kind     string `mapstructure:"kind" yaml:"kind,omitempty"`
	Required bool   `mapstructure:"required" yaml:"required,omitempty"`
}

// Default is the configuration written on first run: a SQLite store and two
// sample entity types, an aggregated person name and a tracked customer
// info pointing at it.
func Default() Config {
	return Config{
		Backend: types.BackendSQLite,
		LogMode: "prod",
		Cache:   Cache{Backend: CacheMemory},
		Entities: map[string]Entity{
			"person_names": {
				Columns: []Column{
					{Name: "first_name", Kind: "text"},
					{Name: "last_name", Kind: "text"},
					{Name: types.ColumnCreatedAt},
					{Name: types.ColumnUpdatedAt},
				},
				Aggregated: true,
			},
			"customer_infos": {
				Columns: []Column{
					{Name: "customer_id", Kind: "text", Required: true},
					{Name: "person_name_id", Kind: "text"},
					{Name: "previous_id", Kind: "text"},
					{Name: types.ColumnIsCurrent},
					{Name: types.ColumnLockVersion},
					{Name: types.ColumnCreatedAt},
					{Name: types.ColumnUpdatedAt},
				},
				Tracked: map[string]any{
					types.OptBy:           "customer_id",
					types.OptPrecedingKey: "previous_id",
				},
			},
		},
	}
}

// Load reads config.yaml from configDir, writing Default there first when
// the file is missing. KEEPSAKE_* environment variables override scalar
// keys (KEEPSAKE_CACHE_REDIS_ADDR for cache.redis_addr).
func Load(configDir string) (*Config, error) {
	if err := WriteDefault(configDir); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetDefault("backend", types.BackendSQLite)
	v.SetDefault("log_mode", "prod")
	v.SetDefault("cache.backend", CacheMemory)
	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(configDir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// WriteDefault creates configDir and a default config.yaml unless one
// exists. It never overwrites.
func WriteDefault(configDir string) error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	path := filepath.Join(configDir, FileName)
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("stat config file: %w", err)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	header := "# keepsake configuration\n# backend: sqlite | postgres (postgres reads dsn)\n"
	return os.WriteFile(path, append([]byte(header), data...), 0o644)
}

// Validate checks the scalar settings. Entity definitions are checked by
// EntityTypes.
func (c *Config) Validate() error {
	if err := c.StoreConfig("").Validate(); err != nil {
		return fmt.Errorf("%w: %q", err, c.Backend)
	}
	switch c.Cache.Backend {
	case "", CacheMemory:
	case CacheRedis:
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("%w: cache.redis_addr is required for the redis cache", types.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown cache backend %q", types.ErrConfiguration, c.Cache.Backend)
	}
	return nil
}

// StoreConfig returns the settings the database/sql SQLite backend attaches
// with. dataDir is the resolved data directory.
func (c *Config) StoreConfig(dataDir string) types.Config {
	return types.Config{Backend: c.Backend, DataDir: dataDir, DSN: c.DSN}
}

// TableNames returns the declared tables in sorted order.
func (c *Config) TableNames() []string {
	names := make([]string, 0, len(c.Entities))
	for name := range c.Entities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EntityTypes builds every declared entity type. Options go through the same
// allow-lists as the Go API, so a typo fails here.
func (c *Config) EntityTypes() (map[string]*types.EntityType, error) {
	out := make(map[string]*types.EntityType, len(c.Entities))
	for _, table := range c.TableNames() {
		et, err := c.Entities[table].build(table)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", table, err)
		}
		out[table] = et
	}
	return out, nil
}

func (e Entity) build(table string) (*types.EntityType, error) {
	cols := make([]types.Column, 0, len(e.Columns))
	for _, c := range e.Columns {
		col := types.Column{Name: c.Name, Required: c.Required}
		if c.Kind != "" {
			kind, err := types.ParseKind(c.Kind)
			if err != nil {
				return nil, err
			}
			col.Kind = kind
		}
		cols = append(cols, col)
	}
	schema, err := types.NewSchema(table, cols...)
	if err != nil {
		return nil, err
	}
	et := types.NewEntityType(schema)

	if opts, ok, err := options(e.Aggregated); err != nil {
		return nil, fmt.Errorf("aggregated: %w", err)
	} else if ok {
		if err := et.ActsAsAggregated(opts); err != nil {
			return nil, err
		}
	}
	if opts, ok, err := options(e.Tracked); err != nil {
		return nil, fmt.Errorf("tracked: %w", err)
	} else if ok {
		if err := et.ActsAsTracked(opts); err != nil {
			return nil, err
		}
	}
	return et, nil
}

// options interprets an aggregated/tracked value: absent or false disables,
// true enables without options, a map enables with them.
func options(v any) (types.Options, bool, error) {
	switch x := v.(type) {
	case nil:
		return nil, false, nil
	case bool:
		return nil, x, nil
	case map[string]any:
		return types.Options(x), true, nil
	case map[any]any:
		opts := make(types.Options, len(x))
		for k, val := range x {
			key, ok := k.(string)
			if !ok {
				return nil, false, fmt.Errorf("%w: option key %v", types.ErrConfiguration, k)
			}
			opts[key] = val
		}
		return opts, true, nil
	}
	return nil, false, fmt.Errorf("%w: expected true or a map of options, got %T", types.ErrConfiguration, v)
}
