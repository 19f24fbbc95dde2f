package engine

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/keepsake/pkg/types"
)

// Tx is an open store transaction plus the in-memory effects waiting on its
// outcome. Records and caches must not reflect writes that never committed,
// so stages register those effects here instead of applying them directly.
type Tx struct {
	types.Store
	commit   []func()
	rollback []func()
}

// OnCommit runs fn once the transaction has committed.
func (tx *Tx) OnCommit(fn func()) { tx.commit = append(tx.commit, fn) }

// OnRollback runs fn if the transaction does not commit. Rollback funcs run
// in reverse registration order.
func (tx *Tx) OnRollback(fn func()) { tx.rollback = append(tx.rollback, fn) }

func (tx *Tx) finish(err error) {
	if err != nil {
		for i := len(tx.rollback) - 1; i >= 0; i-- {
			tx.rollback[i]()
		}
		return
	}
	for _, fn := range tx.commit {
		fn()
	}
}

// runTx runs fn in a transaction of store and settles the effects fn
// registered once the outcome, commit error included, is known.
func runTx(ctx context.Context, store types.Store, fn func(tx *Tx) error) error {
	var tx *Tx
	err := store.WithTx(ctx, func(s types.Store) error {
		tx = &Tx{Store: s}
		return fn(tx)
	})
	if tx != nil {
		tx.finish(err)
	}
	return err
}

// SaveFunc continues a save with the remaining strategies.
type SaveFunc func(ctx context.Context, tx *Tx, rec *types.Record) error

// SaveStrategy is one stage of the save pipeline. It may handle the save on
// its own or delegate to next.
type SaveStrategy interface {
	Save(ctx context.Context, tx *Tx, rec *types.Record, next SaveFunc) error
}

// PlainSave is the terminal stage: validation, then an ordinary insert or
// dirty-column update.
type PlainSave struct {
	Type *types.EntityType
}

// Save never calls next.
func (p PlainSave) Save(ctx context.Context, tx *Tx, rec *types.Record, _ SaveFunc) error {
	if rec.IsPersistent() && len(rec.Changed()) == 0 {
		return nil
	}
	if err := p.Type.Validate(rec); err != nil {
		return fmt.Errorf("%w: %w", types.ErrRecordInvalid, err)
	}
	if rec.IsNew() {
		return tx.Insert(ctx, rec)
	}
	// Tracked types version through supersession, never through in-place
	// lock_version bumps.
	locking := rec.Schema().HasLockVersion() && !p.Type.IsTracked()
	return tx.Update(ctx, rec, locking)
}

// pipeline composes strategies front to back into a single SaveFunc.
func pipeline(stages []SaveStrategy) SaveFunc {
	var build func(i int) SaveFunc
	build = func(i int) SaveFunc {
		if i == len(stages) {
			return func(context.Context, *Tx, *types.Record) error { return nil }
		}
		return func(ctx context.Context, tx *Tx, rec *types.Record) error {
			return stages[i].Save(ctx, tx, rec, build(i+1))
		}
	}
	return build(0)
}
