package engine

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/keepsake/pkg/types"
)

func TestHasOneCurrentAssignDemotesOutgoing(t *testing.T) {
	w := newWorld(t, nil)
	ctx := context.Background()
	guard, err := NewHasOneCurrent(w.emails, "customer_id")
	require.NoError(t, err)

	customer := w.saveCustomer(t, "Alice")
	first := w.emails.New().MustSet("email", "a@example.com")
	require.NoError(t, guard.Assign(ctx, customer, first))
	assert.Equal(t, customer.ID(), first.Get("customer_id"))

	w.clock.advance(time.Minute)
	second := w.emails.New().MustSet("email", "b@example.com")
	require.NoError(t, guard.Assign(ctx, customer, second))

	cur, err := guard.Current(ctx, customer)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, second.ID(), cur.ID())

	old, err := w.emails.Get(ctx, first.ID())
	require.NoError(t, err)
	assert.False(t, old.IsCurrent())
	assert.Equal(t, "a@example.com", old.Get("email"))
	assert.Equal(t, customer.ID(), old.Get("customer_id"), "foreign key is kept")
	assert.Equal(t, w.clock.now(), old.UpdatedAt())

	assert.EqualValues(t, 2, w.count(t, w.emails, map[string]any{"customer_id": customer.ID()}))
	assert.Equal(t, 1.0, testutil.ToFloat64(w.metrics.Demotions.WithLabelValues("customer_emails")))
}

func TestHasOneCurrentDemoteLeavesOtherColumns(t *testing.T) {
	w := newWorld(t, nil)
	ctx := context.Background()
	guard, err := NewHasOneCurrent(w.infos, "customer_id")
	require.NoError(t, err)

	customer := w.saveCustomer(t, "Alice")
	info := w.saveInfo(t, customer.ID(), "n1")
	require.NoError(t, info.Set("person_name_id", "n2"))
	require.NoError(t, w.infos.Save(ctx, info))

	loaded, err := guard.Current(ctx, customer)
	require.NoError(t, err)
	require.NoError(t, guard.Demote(ctx, loaded))
	assert.False(t, loaded.IsCurrent())
	assert.Empty(t, loaded.Changed(), "demotion is already stored")

	got, err := w.infos.Get(ctx, info.ID())
	require.NoError(t, err)
	assert.False(t, got.IsCurrent())
	assert.EqualValues(t, 1, got.LockVersion(), "lock_version is untouched")
	assert.Equal(t, "n2", got.Get("person_name_id"))

	cur, err := guard.Current(ctx, customer)
	require.NoError(t, err)
	assert.Nil(t, cur)
}

func TestHasOneCurrentReplaceUnsavedOutgoing(t *testing.T) {
	w := newWorld(t, nil)
	ctx := context.Background()
	guard, err := NewHasOneCurrent(w.emails, "customer_id")
	require.NoError(t, err)
	customer := w.saveCustomer(t, "Alice")

	draft := w.emails.New().MustSet("email", "draft@example.com").MustSet(types.ColumnIsCurrent, true)
	incoming := w.emails.New().MustSet("email", "final@example.com")
	require.NoError(t, guard.Replace(ctx, customer, draft, incoming))

	assert.True(t, draft.IsNew())
	assert.False(t, draft.IsCurrent())
	assert.Equal(t, w.clock.now(), draft.UpdatedAt())
	assert.EqualValues(t, 1, w.count(t, w.emails, nil))
	assert.Zero(t, testutil.ToFloat64(w.metrics.Demotions.WithLabelValues("customer_emails")))
}

func TestHasOneCurrentFailedReplaceLeavesRecords(t *testing.T) {
	w := newWorld(t, nil)
	ctx := context.Background()
	guard, err := NewHasOneCurrent(w.emails, "customer_id")
	require.NoError(t, err)
	customer := w.saveCustomer(t, "Alice")

	outgoing := w.emails.New().MustSet("email", "a@example.com")
	require.NoError(t, guard.Assign(ctx, customer, outgoing))

	w.emails.Type().SetValidator(func(r *types.Record) error {
		if r.Get("email") == "bad" {
			return assert.AnError
		}
		return nil
	})
	t.Cleanup(func() { w.emails.Type().SetValidator(nil) })

	incoming := w.emails.New().MustSet("email", "bad")
	err = guard.Replace(ctx, customer, outgoing, incoming)
	require.ErrorIs(t, err, types.ErrRecordInvalid)

	assert.True(t, outgoing.IsCurrent())
	assert.Empty(t, outgoing.Changed())
	assert.True(t, incoming.IsNew())
	assert.Nil(t, incoming.Get("customer_id"))

	stored, err := w.emails.Get(ctx, outgoing.ID())
	require.NoError(t, err)
	assert.True(t, stored.IsCurrent())
	assert.Zero(t, testutil.ToFloat64(w.metrics.Demotions.WithLabelValues("customer_emails")))

	// A valid replacement then demotes outgoing.
	require.NoError(t, incoming.Set("email", "b@example.com"))
	require.NoError(t, guard.Replace(ctx, customer, outgoing, incoming))
	assert.False(t, outgoing.IsCurrent())
	assert.Empty(t, outgoing.Changed())
	assert.Equal(t, customer.ID(), incoming.Get("customer_id"))
}

func TestHasOneCurrentFailedReplaceRestoresUnsavedOutgoing(t *testing.T) {
	w := newWorld(t, nil)
	ctx := context.Background()
	guard, err := NewHasOneCurrent(w.emails, "customer_id")
	require.NoError(t, err)
	customer := w.saveCustomer(t, "Alice")

	failing, err := NewRepository(w.emails.Type(), commitFailingStore{w.backend})
	require.NoError(t, err)
	failingGuard, err := NewHasOneCurrent(failing, "customer_id")
	require.NoError(t, err)

	draft := w.emails.New().MustSet("email", "draft@example.com").MustSet(types.ColumnIsCurrent, true)
	incoming := w.emails.New().MustSet("email", "final@example.com")
	require.ErrorIs(t, failingGuard.Replace(ctx, customer, draft, incoming), errCommitFailed)

	assert.True(t, draft.IsCurrent())
	assert.True(t, incoming.IsNew())
	assert.EqualValues(t, 0, w.count(t, w.emails, nil))

	require.NoError(t, guard.Replace(ctx, customer, draft, incoming))
	assert.False(t, draft.IsCurrent())
	assert.True(t, incoming.IsPersistent())
}

func TestHasOneCurrentReassignSameChild(t *testing.T) {
	w := newWorld(t, nil)
	ctx := context.Background()
	guard, err := NewHasOneCurrent(w.emails, "customer_id")
	require.NoError(t, err)
	customer := w.saveCustomer(t, "Alice")

	email := w.emails.New().MustSet("email", "a@example.com")
	require.NoError(t, guard.Assign(ctx, customer, email))
	require.NoError(t, guard.Assign(ctx, customer, email))

	cur, err := guard.Current(ctx, customer)
	require.NoError(t, err)
	require.NotNil(t, cur)
	assert.Equal(t, email.ID(), cur.ID())
	assert.EqualValues(t, 1, w.count(t, w.emails, nil))
}

func TestHasOneCurrentRequiresPersistedParent(t *testing.T) {
	w := newWorld(t, nil)
	ctx := context.Background()
	guard, err := NewHasOneCurrent(w.emails, "customer_id")
	require.NoError(t, err)

	parent := w.customers.New().MustSet("name", "Unsaved")
	assert.ErrorIs(t, guard.Assign(ctx, parent, w.emails.New()), types.ErrParentNotPersisted)

	cur, err := guard.Current(ctx, parent)
	require.NoError(t, err)
	assert.Nil(t, cur)

	eff, err := guard.Effective(ctx, parent)
	require.NoError(t, err)
	assert.True(t, eff.IsNew())
	assert.Nil(t, eff.Get("customer_id"))
}

func TestHasOneCurrentEffectiveBuildsChild(t *testing.T) {
	w := newWorld(t, nil)
	guard, err := NewHasOneCurrent(w.emails, "customer_id")
	require.NoError(t, err)
	customer := w.saveCustomer(t, "Alice")

	eff, err := guard.Effective(context.Background(), customer)
	require.NoError(t, err)
	assert.True(t, eff.IsNew())
	assert.Equal(t, customer.ID(), eff.Get("customer_id"))
}

func TestNewHasOneCurrentValidates(t *testing.T) {
	w := newWorld(t, nil)
	_, err := NewHasOneCurrent(w.names, "first_name")
	assert.ErrorIs(t, err, types.ErrConfiguration)
	_, err = NewHasOneCurrent(w.emails, "nope")
	assert.ErrorIs(t, err, types.ErrConfiguration)
}

// A tracked customer info pointing at an aggregated person name: renaming
// shares or creates a name row and supersedes the info.
func TestTrackedOwnerOfAggregatedTarget(t *testing.T) {
	w := newWorld(t, nil)
	ctx := context.Background()
	rel, err := NewHasAggregated(w.names, w.infos.Type().Schema(), "person_name_id")
	require.NoError(t, err)

	customer := w.saveCustomer(t, "Alice")
	info := w.infos.New().MustSet("customer_id", customer.ID())
	name := w.names.New().MustSet("first_name", "John").MustSet("last_name", "Smith")
	require.NoError(t, rel.Autosave(ctx, info, name))
	require.NoError(t, w.infos.Save(ctx, info))
	assert.Equal(t, name.ID(), info.Get("person_name_id"))
	firstInfo, firstName := info.ID(), name.ID()

	// Another owner with the same name shares the row.
	other := w.infos.New().MustSet("customer_id", "someone-else")
	same := w.names.New().MustSet("first_name", "John").MustSet("last_name", "Smith")
	require.NoError(t, rel.Autosave(ctx, other, same))
	assert.Equal(t, firstName, other.Get("person_name_id"))

	loaded, err := rel.Load(ctx, info)
	require.NoError(t, err)
	require.NoError(t, loaded.Set("first_name", "Alice"))
	require.NoError(t, rel.Autosave(ctx, info, loaded))
	assert.NotEqual(t, firstName, loaded.ID())
	assert.True(t, info.IsChanged("person_name_id"))

	require.NoError(t, w.infos.Save(ctx, info))
	assert.NotEqual(t, firstInfo, info.ID())
	assert.Equal(t, firstInfo, info.PrecedingKey())

	shared, err := w.names.Get(ctx, firstName)
	require.NoError(t, err)
	assert.Equal(t, "John", shared.Get("first_name"), "shared name row is untouched")

	// Saving an unchanged target leaves the owner clean.
	require.NoError(t, rel.Autosave(ctx, info, loaded))
	assert.Empty(t, info.Changed())
}

func TestHasAggregatedEffectiveAndClear(t *testing.T) {
	w := newWorld(t, nil)
	ctx := context.Background()
	rel, err := NewHasAggregated(w.names, w.infos.Type().Schema(), "person_name_id")
	require.NoError(t, err)

	info := w.infos.New()
	eff, err := rel.Effective(ctx, info)
	require.NoError(t, err)
	assert.True(t, eff.IsNew())

	require.NoError(t, info.Set("person_name_id", "x"))
	require.NoError(t, rel.Autosave(ctx, info, nil))
	assert.Nil(t, info.Get("person_name_id"))

	_, err = NewHasAggregated(w.infos, w.names.Type().Schema(), "first_name")
	assert.ErrorIs(t, err, types.ErrNotAggregated)
}
