package engine

import (
	"context"
	"fmt"

	"github.com/mesh-intelligence/keepsake/pkg/types"
)

// HasAggregated is an owner's reference, through a foreign-key column on the
// owner, to a record of an aggregated type. Because saving an aggregated
// record may swap its identity, the owner's foreign key is refreshed after
// every save of the target.
type HasAggregated struct {
	targets    *Repository
	foreignKey string
}

// NewHasAggregated links owners of ownerSchema to targets via foreignKey.
func NewHasAggregated(targets *Repository, ownerSchema *types.Schema, foreignKey string) (*HasAggregated, error) {
	if !targets.Type().IsAggregated() {
		return nil, fmt.Errorf("%w: %s", types.ErrNotAggregated, targets.Type().Schema().Table)
	}
	if _, ok := ownerSchema.Column(foreignKey); !ok {
		return nil, fmt.Errorf("%w: %s has no column %q", types.ErrConfiguration, ownerSchema.Table, foreignKey)
	}
	return &HasAggregated{targets: targets, foreignKey: foreignKey}, nil
}

// Load returns the target owner points at, or nil when the foreign key is
// empty.
func (h *HasAggregated) Load(ctx context.Context, owner *types.Record) (*types.Record, error) {
	id, _ := owner.Get(h.foreignKey).(string)
	if id == "" {
		return nil, nil
	}
	return h.targets.Get(ctx, id)
}

// Effective returns the loaded target or a blank one.
func (h *HasAggregated) Effective(ctx context.Context, owner *types.Record) (*types.Record, error) {
	target, err := h.Load(ctx, owner)
	if err != nil || target != nil {
		return target, err
	}
	return h.targets.New(), nil
}

// Autosave saves target when it is new or changed and points owner's foreign
// key at whatever row the target resolved to. The owner itself is not
// saved.
func (h *HasAggregated) Autosave(ctx context.Context, owner, target *types.Record) error {
	if target == nil {
		return owner.Set(h.foreignKey, nil)
	}
	if target.IsNew() || len(target.Changed()) > 0 {
		if err := h.targets.Save(ctx, target); err != nil {
			return err
		}
	}
	if target.ResolvedByAggregation() || owner.Get(h.foreignKey) != target.ID() {
		return owner.Set(h.foreignKey, target.ID())
	}
	return nil
}

var _ types.AggregatedReference = (*HasAggregated)(nil)
