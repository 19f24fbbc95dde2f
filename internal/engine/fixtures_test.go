package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/keepsake/internal/logger"
	"github.com/mesh-intelligence/keepsake/internal/metrics"
	"github.com/mesh-intelligence/keepsake/internal/sqlite"
	"github.com/mesh-intelligence/keepsake/pkg/types"
)

// world holds a SQLite backend with the test tables and one repository per
// entity type:
//
//	person_names     aggregated (first_name, last_name)
//	kinds            aggregated, cached by name, description is non-content
//	customers        plain
//	customer_infos   tracked by customer_id, preceding key previous_id
//	customer_emails  tracked, no lock_version
type world struct {
	backend *sqlite.Backend
	clock   *clock
	metrics *metrics.Metrics

	names     *Repository
	kinds     *Repository
	customers *Repository
	infos     *Repository
	emails    *Repository
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func personNameType(t *testing.T) *types.EntityType {
	t.Helper()
	et := types.NewEntityType(types.MustSchema("person_names",
		types.Column{Name: "first_name", Kind: types.KindText},
		types.Column{Name: "last_name", Kind: types.KindText},
		types.Column{Name: types.ColumnCreatedAt},
		types.Column{Name: types.ColumnUpdatedAt},
	))
	require.NoError(t, et.ActsAsAggregated(nil))
	return et
}

func kindType(t *testing.T) *types.EntityType {
	t.Helper()
	et := types.NewEntityType(types.MustSchema("kinds",
		types.Column{Name: "name", Kind: types.KindText},
		types.Column{Name: "description", Kind: types.KindText},
	))
	require.NoError(t, et.ActsAsAggregated(types.Options{
		types.OptNonContentColumns: "description",
		types.OptCacheBy:           "name",
	}))
	return et
}

func customerType() *types.EntityType {
	return types.NewEntityType(types.MustSchema("customers",
		types.Column{Name: "name", Kind: types.KindText},
		types.Column{Name: types.ColumnLockVersion},
		types.Column{Name: types.ColumnCreatedAt},
		types.Column{Name: types.ColumnUpdatedAt},
	))
}

func customerInfoType(t *testing.T) *types.EntityType {
	t.Helper()
	et := types.NewEntityType(types.MustSchema("customer_infos",
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

func customerEmailType(t *testing.T) *types.EntityType {
	t.Helper()
	et := types.NewEntityType(types.MustSchema("customer_emails",
		types.Column{Name: "customer_id", Kind: types.KindText},
		types.Column{Name: "email", Kind: types.KindText},
		types.Column{Name: types.ColumnIsCurrent},
		types.Column{Name: types.ColumnCreatedAt},
		types.Column{Name: types.ColumnUpdatedAt},
	))
	require.NoError(t, et.ActsAsTracked(nil))
	return et
}

func newWorld(t *testing.T, log *logger.Logger) *world {
	t.Helper()
	ctx := context.Background()

	b := sqlite.NewBackend()
	require.NoError(t, b.Attach(types.Config{Backend: types.BackendSQLite, DataDir: t.TempDir()}))
	t.Cleanup(func() { b.Detach() })

	c := &clock{t: time.Date(2012, 7, 16, 0, 0, 0, 0, time.UTC)}
	b.SetClock(c.now)

	m, err := metrics.New(nil)
	require.NoError(t, err)
	if log == nil {
		log = logger.Nop()
	}

	w := &world{backend: b, clock: c, metrics: m}
	repo := func(et *types.EntityType) *Repository {
		require.NoError(t, b.CreateTable(ctx, et.Schema()))
		r, err := NewRepository(et, b, WithLogger(log), WithMetrics(m), WithClock(c.now))
		require.NoError(t, err)
		return r
	}
	w.names = repo(personNameType(t))
	w.kinds = repo(kindType(t))
	w.customers = repo(customerType())
	w.infos = repo(customerInfoType(t))
	w.emails = repo(customerEmailType(t))
	return w
}

func (w *world) saveName(t *testing.T, first, last string) *types.Record {
	t.Helper()
	rec := w.names.New().MustSet("first_name", first).MustSet("last_name", last)
	require.NoError(t, w.names.Save(context.Background(), rec))
	return rec
}

func (w *world) saveCustomer(t *testing.T, name string) *types.Record {
	t.Helper()
	rec := w.customers.New().MustSet("name", name)
	require.NoError(t, w.customers.Save(context.Background(), rec))
	return rec
}

func (w *world) saveInfo(t *testing.T, customerID, nameID string) *types.Record {
	t.Helper()
	rec := w.infos.New().MustSet("customer_id", customerID).MustSet("person_name_id", nameID)
	require.NoError(t, w.infos.Save(context.Background(), rec))
	return rec
}

func (w *world) count(t *testing.T, r *Repository, where map[string]any) int64 {
	t.Helper()
	n, err := r.Count(context.Background(), where)
	require.NoError(t, err)
	return n
}

var errCommitFailed = errors.New("commit failed")

// commitFailingStore runs every transaction body for real, then rolls the
// transaction back and reports failure, as a COMMIT error would.
type commitFailingStore struct {
	types.Store
}

func (s commitFailingStore) WithTx(ctx context.Context, fn func(types.Store) error) error {
	return s.Store.WithTx(ctx, func(tx types.Store) error {
		if err := fn(tx); err != nil {
			return err
		}
		return errCommitFailed
	})
}
