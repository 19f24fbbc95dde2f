package engine

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/keepsake/pkg/types"
)

// HasOneCurrent guards a one-to-one association whose target is the current
// row among a parent's tracked children. Replacing the target demotes the
// outgoing child with a narrow is_current update instead of deleting it or
// nulling its foreign key.
type HasOneCurrent struct {
	children   *Repository
	foreignKey string
}

// NewHasOneCurrent returns the guard for children pointing at their parent
// through foreignKey. The children's table needs an is_current column.
func NewHasOneCurrent(children *Repository, foreignKey string) (*HasOneCurrent, error) {
	schema := children.Type().Schema()
	if !schema.HasIsCurrent() {
		return nil, fmt.Errorf("%w: %s has no %s column", types.ErrConfiguration, schema.Table, types.ColumnIsCurrent)
	}
	if _, ok := schema.Column(foreignKey); !ok {
		return nil, fmt.Errorf("%w: %s has no column %q", types.ErrConfiguration, schema.Table, foreignKey)
	}
	return &HasOneCurrent{children: children, foreignKey: foreignKey}, nil
}

// Current returns parent's current child, or nil when it has none. An
// unsaved parent has no children.
func (h *HasOneCurrent) Current(ctx context.Context, parent *types.Record) (*types.Record, error) {
	return h.current(ctx, h.children.store, parent)
}

func (h *HasOneCurrent) current(ctx context.Context, s types.Store, parent *types.Record) (*types.Record, error) {
	if parent.IsNew() {
		return nil, nil
	}
	rows, err := s.Find(ctx, h.children.Type().Schema(), types.Query{
		Where: map[string]any{
			h.foreignKey:          parent.ID(),
			types.ColumnIsCurrent: true,
		},
		OrderBy: types.ColumnID,
		Desc:    true,
		Limit:   1,
	})
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Effective returns the current child, or a fresh one wired to parent when
// there is none.
func (h *HasOneCurrent) Effective(ctx context.Context, parent *types.Record) (*types.Record, error) {
	cur, err := h.Current(ctx, parent)
	if err != nil || cur != nil {
		return cur, err
	}
	child := h.children.New()
	if parent.IsPersistent() {
		if err := child.Set(h.foreignKey, parent.ID()); err != nil {
			return nil, err
		}
	}
	return child, nil
}

// Assign makes incoming parent's current child, demoting whatever child is
// current in storage.
func (h *HasOneCurrent) Assign(ctx context.Context, parent, incoming *types.Record) error {
	if parent.IsNew() {
		return types.ErrParentNotPersisted
	}
	return runTx(ctx, h.children.store, func(tx *Tx) error {
		outgoing, err := h.current(ctx, tx, parent)
		if err != nil {
			return err
		}
		return h.replace(ctx, tx, parent, outgoing, incoming)
	})
}

// Replace swaps outgoing for incoming. outgoing may be unsaved, in which case
// its demotion happens in memory only. When the swap fails neither record
// reflects it.
func (h *HasOneCurrent) Replace(ctx context.Context, parent, outgoing, incoming *types.Record) error {
	if parent.IsNew() {
		return types.ErrParentNotPersisted
	}
	return runTx(ctx, h.children.store, func(tx *Tx) error {
		return h.replace(ctx, tx, parent, outgoing, incoming)
	})
}

func (h *HasOneCurrent) replace(ctx context.Context, tx *Tx, parent, outgoing, incoming *types.Record) error {
	if outgoing != nil && !sameRow(outgoing, incoming) {
		if err := h.demote(ctx, tx, outgoing); err != nil {
			return err
		}
	}
	if incoming == nil {
		return nil
	}
	snap := incoming.Clone()
	tx.OnRollback(func() { incoming.RestoreFrom(snap) })
	if err := incoming.Set(h.foreignKey, parent.ID()); err != nil {
		return err
	}
	if err := incoming.Set(types.ColumnIsCurrent, true); err != nil {
		return err
	}
	return h.children.saveIn(ctx, tx, incoming)
}

// Demote marks child as no longer current. A persisted child is updated
// with a narrow statement touching only is_current and updated_at; its
// in-memory copy is brought in line without becoming dirty.
func (h *HasOneCurrent) Demote(ctx context.Context, child *types.Record) error {
	return runTx(ctx, h.children.store, func(tx *Tx) error {
		return h.demote(ctx, tx, child)
	})
}

// demote writes the demotion in tx. The persisted child's in-memory copy is
// updated only when tx commits; an unsaved child is changed at once and put
// back if tx rolls back.
func (h *HasOneCurrent) demote(ctx context.Context, tx *Tx, child *types.Record) error {
	schema := child.Schema()
	now := h.children.now()
	if child.IsNew() {
		snap := child.Clone()
		tx.OnRollback(func() { child.RestoreFrom(snap) })
		if err := child.Set(types.ColumnIsCurrent, false); err != nil {
			return err
		}
		if schema.HasUpdatedAt() {
			return child.Set(types.ColumnUpdatedAt, now)
		}
		return nil
	}

	if child.Frozen() {
		return types.ErrFrozenRecord
	}
	set := map[string]any{types.ColumnIsCurrent: false}
	if schema.HasUpdatedAt() {
		set[types.ColumnUpdatedAt] = now
	}
	if _, err := tx.UpdateColumns(ctx, schema, child.ID(), set, nil); err != nil {
		return fmt.Errorf("demoting %s %s: %w", schema.Table, child.ID(), err)
	}
	tx.OnCommit(func() {
		for name, v := range set {
			// Columns exist and child is not frozen, so this cannot fail.
			_ = child.SetStored(name, v)
		}
		h.children.metrics.Demoted(schema.Table)
		h.children.log.Debug("demoted current child", "id", child.ID())
	})
	return nil
}

func sameRow(a, b *types.Record) bool {
	if a == b {
		return true
	}
	return b != nil && a.IsPersistent() && b.IsPersistent() && a.ID() == b.ID()
}

var _ types.CurrentPointer = (*HasOneCurrent)(nil)
