package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/mesh-intelligence/keepsake/pkg/types"
)

// DefaultPrefix namespaces cache hashes in Redis.
const DefaultPrefix = "keepsake:cache:"

// Redis keeps one hash per table, <prefix><table>, mapping cache keys to the
// JSON form of the record. Decoded records come back frozen.
type Redis struct {
	rdb    *goredis.Client
	schema *types.Schema
	key    string
}

// DialRedis connects to addr and verifies the server answers.
func DialRedis(ctx context.Context, addr string) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// NewRedis returns a cache for schema's table on rdb. An empty prefix uses
// DefaultPrefix.
func NewRedis(rdb *goredis.Client, schema *types.Schema, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Redis{rdb: rdb, schema: schema, key: prefix + schema.Table}
}

func (r *Redis) Get(ctx context.Context, key string) (*types.Record, bool, error) {
	raw, err := r.rdb.HGet(ctx, r.key, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis hget %s: %w", r.key, err)
	}
	rec, err := types.DecodeRecord(r.schema, raw)
	if err != nil {
		return nil, false, err
	}
	rec.Freeze()
	return rec, true, nil
}

func (r *Redis) Put(ctx context.Context, key string, rec *types.Record) error {
	raw, err := rec.MarshalJSON()
	if err != nil {
		return err
	}
	if err := r.rdb.HSet(ctx, r.key, key, raw).Err(); err != nil {
		return fmt.Errorf("redis hset %s: %w", r.key, err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context) error {
	return r.rdb.Del(ctx, r.key).Err()
}

func (r *Redis) Len(ctx context.Context) (int, error) {
	n, err := r.rdb.HLen(ctx, r.key).Result()
	return int(n), err
}
