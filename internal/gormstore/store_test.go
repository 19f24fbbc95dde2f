package gormstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/keepsake/internal/engine"
	"github.com/mesh-intelligence/keepsake/pkg/types"
)

func infoType(t *testing.T, table string) *types.EntityType {
	t.Helper()
	et := types.NewEntityType(types.MustSchema(table,
		types.Column{Name: "customer_id", Kind: types.KindText, Required: true},
		types.Column{Name: "person_name_id", Kind: types.KindText},
		types.Column{Name: "previous_id", Kind: types.KindText},
		types.Column{Name: types.ColumnIsCurrent},
		types.Column{Name: types.ColumnLockVersion},
		types.Column{Name: types.ColumnCreatedAt},
		types.Column{Name: types.ColumnUpdatedAt},
	))
	require.NoError(t, et.ActsAsTracked(types.Options{
		types.OptBy:           "customer_id",
		types.OptPrecedingKey: "previous_id",
	}))
	return et
}

func openSQLite(t *testing.T) *Store {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "gorm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// openPostgres skips unless KEEPSAKE_TEST_POSTGRES_DSN points at a scratch
// database.
func openPostgres(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("KEEPSAKE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set KEEPSAKE_TEST_POSTGRES_DSN to run Postgres tests")
	}
	s, err := OpenPostgres(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	for name, open := range map[string]func(*testing.T) *Store{
		"sqlite":   openSQLite,
		"postgres": openPostgres,
	} {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			ctx := context.Background()
			fixed := time.Date(2012, 7, 16, 0, 0, 0, 0, time.UTC)
			s.SetClock(func() time.Time { return fixed })

			et := infoType(t, "gorm_infos_"+name)
			schema := et.Schema()
			require.NoError(t, s.DB().Exec("DROP TABLE IF EXISTS "+quote(schema.Table)).Error)
			require.NoError(t, s.CreateTable(ctx, schema))

			rec := et.New().MustSet("customer_id", "c1").MustSet("person_name_id", "n1").MustSet(types.ColumnIsCurrent, true)
			require.NoError(t, s.Insert(ctx, rec))
			assert.NotEmpty(t, rec.ID())
			assert.Equal(t, fixed, rec.CreatedAt())
			assert.EqualValues(t, 0, rec.LockVersion())

			rows, err := s.Find(ctx, schema, types.Query{Where: map[string]any{
				types.ColumnIsCurrent: true,
				"previous_id":         nil,
			}})
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, rec.ID(), rows[0].ID())
			assert.Equal(t, fixed, rows[0].UpdatedAt())
			assert.True(t, rows[0].IsCurrent())

			n, err := s.UpdateColumns(ctx, schema, rec.ID(),
				map[string]any{types.ColumnIsCurrent: false},
				map[string]any{types.ColumnIsCurrent: true})
			require.NoError(t, err)
			assert.EqualValues(t, 1, n)
			n, err = s.UpdateColumns(ctx, schema, rec.ID(),
				map[string]any{types.ColumnIsCurrent: false},
				map[string]any{types.ColumnIsCurrent: true})
			require.NoError(t, err)
			assert.Zero(t, n, "second demotion finds no current row")

			maxVersion, ok, err := s.MaxLockVersion(ctx, schema, map[string]any{"customer_id": "c1"})
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Zero(t, maxVersion)
			_, ok, err = s.MaxLockVersion(ctx, schema, map[string]any{"customer_id": "nobody"})
			require.NoError(t, err)
			assert.False(t, ok)

			count, err := s.Count(ctx, schema, nil)
			require.NoError(t, err)
			assert.EqualValues(t, 1, count)
		})
	}
}

func TestEngineOnGorm(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	et := infoType(t, "customer_infos")
	require.NoError(t, s.CreateTable(ctx, et.Schema()))

	repo, err := engine.NewRepository(et, s)
	require.NoError(t, err)

	rec := et.New().MustSet("customer_id", "c1").MustSet("person_name_id", "n1")
	require.NoError(t, repo.Save(ctx, rec))
	first := rec.ID()

	stale, err := repo.Get(ctx, first)
	require.NoError(t, err)

	require.NoError(t, rec.Set("person_name_id", "n2"))
	require.NoError(t, repo.Save(ctx, rec))
	assert.Equal(t, first, rec.PrecedingKey())
	assert.EqualValues(t, 1, rec.LockVersion())

	require.NoError(t, stale.Set("person_name_id", "n3"))
	assert.ErrorIs(t, repo.Save(ctx, stale), types.ErrStaleObject)

	chain, err := repo.History(ctx, rec.ID())
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, first, chain[1].ID())
	assert.False(t, chain[1].IsCurrent())
}

func TestWithTxRollsBack(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	et := infoType(t, "customer_infos")
	require.NoError(t, s.CreateTable(ctx, et.Schema()))

	err := s.WithTx(ctx, func(tx types.Store) error {
		rec := et.New().MustSet("customer_id", "c1").MustSet(types.ColumnIsCurrent, true)
		require.NoError(t, tx.Insert(ctx, rec))
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	n, err := s.Count(ctx, et.Schema(), nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUnknownColumnRejected(t *testing.T) {
	s := openSQLite(t)
	et := infoType(t, "customer_infos")
	_, err := s.Find(context.Background(), et.Schema(), types.Query{Where: map[string]any{"nope": 1}})
	assert.ErrorIs(t, err, types.ErrUnknownColumn)
}
