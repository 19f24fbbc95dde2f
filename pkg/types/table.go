package types

import (
	"context"
	"errors"
)

// Query selects rows by column equality. A nil value in Where matches NULL.
type Query struct {
	Where   map[string]any
	OrderBy string // column; defaults to the primary key
	Desc    bool
	Limit   int // 0 means no limit
}

// Store is the host persistence layer the engine drives. Implementations
// exist for database/sql over SQLite and for gorm.
type Store interface {
	// Find returns the rows matching q as persistent records.
	Find(ctx context.Context, schema *Schema, q Query) ([]*Record, error)

	// Count returns the number of rows matching where.
	Count(ctx context.Context, schema *Schema, where map[string]any) (int64, error)

	// Insert writes rec as a new row. A missing id is generated (UUID v7)
	// and missing timestamps are stamped. On success rec is persistent.
	Insert(ctx context.Context, rec *Record) error

	// Update writes the changed columns of rec by primary key, stamping
	// updated_at. With locking set and a lock_version column present the
	// statement is guarded by the loaded version and bumps it; zero rows
	// affected yields ErrStaleObject.
	Update(ctx context.Context, rec *Record, locking bool) error

	// UpdateColumns issues a narrow UPDATE of set on the row with primary
	// key id, further restricted by where, and reports rows affected. It
	// bypasses change tracking and optimistic locking.
	UpdateColumns(ctx context.Context, schema *Schema, id string, set, where map[string]any) (int64, error)

	// MaxLockVersion returns the highest lock_version among rows matching
	// scope. ok is false when no row matches.
	MaxLockVersion(ctx context.Context, schema *Schema, scope map[string]any) (max int64, ok bool, err error)

	// WithTx runs fn inside a transaction. fn's Store is bound to it; the
	// transaction commits when fn returns nil and rolls back otherwise.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// TableCreator creates the table of a schema when it does not exist.
type TableCreator interface {
	CreateTable(ctx context.Context, schema *Schema) error
}

// Backend is a Store with a lifecycle, bound to a Config on Attach.
type Backend interface {
	Store
	TableCreator
	Attach(config Config) error
	Detach() error
}

// Repository saves and loads records of one entity type through the
// aggregation and tracking engine.
type Repository interface {
	// Type returns the entity type served.
	Type() *EntityType

	// New returns a blank record of the entity type.
	New() *Record

	// Save persists rec inside one transaction.
	Save(ctx context.Context, rec *Record) error

	// Get loads the row with primary key id.
	Get(ctx context.Context, id string) (*Record, error)

	// Find returns rows matching q.
	Find(ctx context.Context, q Query) ([]*Record, error)

	// Count returns the number of rows matching where.
	Count(ctx context.Context, where map[string]any) (int64, error)

	// History walks the preceding-key chain starting at id, newest first.
	History(ctx context.Context, id string) ([]*Record, error)

	// ClearCache empties the aggregation cache.
	ClearCache(ctx context.Context) error

	// CacheLen returns the number of cached records.
	CacheLen(ctx context.Context) (int, error)
}

// CurrentPointer is a parent's view of its one current child among tracked
// children.
type CurrentPointer interface {
	// Current returns the parent's current child, or nil.
	Current(ctx context.Context, parent *Record) (*Record, error)

	// Effective returns the current child or a new one linked to parent.
	Effective(ctx context.Context, parent *Record) (*Record, error)

	// Assign makes child current, demoting the stored current child.
	Assign(ctx context.Context, parent, child *Record) error

	// Replace demotes outgoing, which may be unsaved, and saves incoming as
	// current.
	Replace(ctx context.Context, parent, outgoing, incoming *Record) error

	// Demote marks child as no longer current without touching other
	// columns.
	Demote(ctx context.Context, child *Record) error
}

// AggregatedReference is an owner's foreign key to an aggregated record.
type AggregatedReference interface {
	Load(ctx context.Context, owner *Record) (*Record, error)
	Effective(ctx context.Context, owner *Record) (*Record, error)

	// Autosave saves target if needed and points owner at the row it
	// resolved to.
	Autosave(ctx context.Context, owner, target *Record) error
}

// Cache keeps frozen copies of aggregated records keyed by the value of the
// type's cache column. It is best effort: entries are never invalidated by
// deletes made elsewhere.
type Cache interface {
	Get(ctx context.Context, key string) (*Record, bool, error)
	Put(ctx context.Context, key string, rec *Record) error
	Clear(ctx context.Context) error
	Len(ctx context.Context) (int, error)
}

// Store and record errors.
var (
	ErrNotFound           = errors.New("record not found")
	ErrInvalidID          = errors.New("invalid record id")
	ErrInvalidData        = errors.New("invalid record data")
	ErrStaleObject        = errors.New("stale object: row was changed by another writer")
	ErrRecordInvalid      = errors.New("record is invalid")
	ErrFrozenRecord       = errors.New("record is frozen")
	ErrUnknownColumn      = errors.New("unknown column")
	ErrTypeMismatch       = errors.New("type mismatch")
	ErrParentNotPersisted = errors.New("parent record is not persisted")
	ErrStoreDetached      = errors.New("store is detached")
	ErrAlreadyAttached    = errors.New("store is already attached")
)
