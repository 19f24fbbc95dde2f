package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is one row of an entity type: column values, the snapshot of what
// was last persisted, and the new/persistent state the engine toggles
// during a save.
type Record struct {
	schema   *Schema
	values   map[string]any
	original map[string]any
	// forced holds columns reported as changed regardless of their value,
	// so an insert after MarkAsNew writes every column.
	forced    map[string]struct{}
	persisted bool
	frozen    bool

	// recovery is the identity captured by MarkAsNew.
	recovery *identity

	resolvedByAggregation bool
}

// identity is the persistence metadata of a row: primary key and timestamps.
type identity struct {
	id        any
	createdAt any
	updatedAt any
}

// NewRecord returns a new, unpersisted record of schema with every column NULL.
func NewRecord(schema *Schema) *Record {
	return &Record{
		schema:   schema,
		values:   make(map[string]any, len(schema.Columns)),
		original: make(map[string]any, len(schema.Columns)),
	}
}

// LoadRecord builds a persistent record from a row read by a Store. Values
// are normalized to their column kinds; columns missing from row are NULL.
func LoadRecord(schema *Schema, row map[string]any) (*Record, error) {
	r := NewRecord(schema)
	for name, v := range row {
		col, ok := schema.Column(name)
		if !ok {
			continue
		}
		nv, err := Normalize(col.Kind, v)
		if err != nil {
			return nil, fmt.Errorf("loading %s.%s: %w", schema.Table, name, err)
		}
		r.values[name] = nv
	}
	r.MarkSaved()
	return r, nil
}

// Schema returns the schema the record belongs to.
func (r *Record) Schema() *Schema { return r.schema }

// Get returns the value of column name, or nil.
func (r *Record) Get(name string) any { return r.values[name] }

// Set assigns a value to column name after normalizing it to the column kind.
func (r *Record) Set(name string, v any) error {
	if r.frozen {
		return ErrFrozenRecord
	}
	col, ok := r.schema.Column(name)
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, r.schema.Table, name)
	}
	nv, err := Normalize(col.Kind, v)
	if err != nil {
		return fmt.Errorf("setting %s.%s: %w", r.schema.Table, name, err)
	}
	r.values[name] = nv
	return nil
}

// MustSet is Set that panics on error.
func (r *Record) MustSet(name string, v any) *Record {
	if err := r.Set(name, v); err != nil {
		panic(err)
	}
	return r
}

// SetStored assigns a value that the caller has already written to the
// row, updating the persisted snapshot too so the column is not reported as
// changed.
func (r *Record) SetStored(name string, v any) error {
	if err := r.Set(name, v); err != nil {
		return err
	}
	r.original[name] = r.values[name]
	return nil
}

// Values returns a copy of all column values.
func (r *Record) Values() map[string]any {
	out := make(map[string]any, len(r.schema.Columns))
	for _, c := range r.schema.Columns {
		out[c.Name] = r.values[c.Name]
	}
	return out
}

// ID returns the primary key, or "" for a record that has none.
func (r *Record) ID() string {
	id, _ := r.values[r.schema.columnFor(RoleID)].(string)
	return id
}

func (r *Record) timeOf(role Role) time.Time {
	name := r.schema.columnFor(role)
	if name == "" {
		return time.Time{}
	}
	t, _ := r.values[name].(time.Time)
	return t
}

// CreatedAt returns the created_at timestamp, zero when absent.
func (r *Record) CreatedAt() time.Time { return r.timeOf(RoleCreatedAt) }

// UpdatedAt returns the updated_at timestamp, zero when absent.
func (r *Record) UpdatedAt() time.Time { return r.timeOf(RoleUpdatedAt) }

// IsCurrent reports the is_current flag. NULL reads as false.
func (r *Record) IsCurrent() bool {
	b, _ := r.values[r.schema.columnFor(RoleIsCurrent)].(bool)
	return b
}

// LockVersion returns the lock_version counter, 0 when NULL or absent.
func (r *Record) LockVersion() int64 {
	n, _ := r.values[r.schema.columnFor(RoleLockVersion)].(int64)
	return n
}

// PrecedingKey returns the id of the row this row superseded, if any.
func (r *Record) PrecedingKey() string {
	name := r.schema.columnFor(RolePrecedingKey)
	if name == "" {
		return ""
	}
	s, _ := r.values[name].(string)
	return s
}

// IsNew reports whether the record has not been persisted.
func (r *Record) IsNew() bool { return !r.persisted }

// IsPersistent reports whether the record represents a stored row.
func (r *Record) IsPersistent() bool { return r.persisted }

// ResolvedByAggregation reports whether the last save attempt went through
// the aggregation lookup.
func (r *Record) ResolvedByAggregation() bool { return r.resolvedByAggregation }

// SetResolvedByAggregation is called by the aggregation engine on every save
// attempt.
func (r *Record) SetResolvedByAggregation(v bool) { r.resolvedByAggregation = v }

// Changed returns the columns whose value differs from the last persisted
// snapshot, in schema order.
func (r *Record) Changed() []string {
	var out []string
	for _, c := range r.schema.Columns {
		if r.IsChanged(c.Name) {
			out = append(out, c.Name)
		}
	}
	return out
}

// IsChanged reports whether column name differs from the persisted snapshot.
func (r *Record) IsChanged(name string) bool {
	if _, ok := r.forced[name]; ok {
		return true
	}
	return !equalValues(r.values[name], r.original[name])
}

// Original returns the last persisted value of column name.
func (r *Record) Original(name string) any { return r.original[name] }

// MarkAsNew turns the record into an unsaved one: the current id and
// timestamps are kept in a recovery slot, then cleared, and every column is
// reported as changed so the next insert writes all of them.
func (r *Record) MarkAsNew() {
	r.recovery = &identity{
		id:        r.values[r.schema.columnFor(RoleID)],
		createdAt: r.valueOf(RoleCreatedAt),
		updatedAt: r.valueOf(RoleUpdatedAt),
	}
	r.values[r.schema.columnFor(RoleID)] = nil
	if name := r.schema.columnFor(RoleCreatedAt); name != "" {
		r.values[name] = nil
	}
	if name := r.schema.columnFor(RoleUpdatedAt); name != "" {
		r.values[name] = nil
	}
	r.forced = make(map[string]struct{}, len(r.schema.Columns))
	for _, c := range r.schema.Columns {
		r.forced[c.Name] = struct{}{}
	}
	r.persisted = false
}

// MarkAsPersistent turns the record back into a persistent one. With an
// existing record it adopts that row's id and timestamps and drops all
// pending changes. With nil it restores the identity saved by MarkAsNew.
func (r *Record) MarkAsPersistent(existing *Record) {
	if existing != nil {
		r.values[r.schema.columnFor(RoleID)] = existing.ID()
		r.copyRole(existing, RoleCreatedAt)
		r.copyRole(existing, RoleUpdatedAt)
		r.original = r.Values()
		r.forced = nil
		r.recovery = nil
		r.persisted = true
		return
	}
	if r.recovery != nil {
		r.values[r.schema.columnFor(RoleID)] = r.recovery.id
		if name := r.schema.columnFor(RoleCreatedAt); name != "" {
			r.values[name] = r.recovery.createdAt
		}
		if name := r.schema.columnFor(RoleUpdatedAt); name != "" {
			r.values[name] = r.recovery.updatedAt
		}
		r.recovery = nil
	}
	r.forced = nil
	r.persisted = true
}

// MarkSaved records the current values as the persisted snapshot. Stores
// call it after a successful insert or update.
func (r *Record) MarkSaved() {
	r.original = r.Values()
	r.forced = nil
	r.recovery = nil
	r.persisted = true
}

func (r *Record) valueOf(role Role) any {
	name := r.schema.columnFor(role)
	if name == "" {
		return nil
	}
	return r.values[name]
}

func (r *Record) copyRole(from *Record, role Role) {
	name := r.schema.columnFor(role)
	if name == "" {
		return
	}
	r.values[name] = from.valueOf(role)
}

// Clone returns an independent, unfrozen copy of the record.
func (r *Record) Clone() *Record {
	c := &Record{
		schema:                r.schema,
		values:                make(map[string]any, len(r.values)),
		original:              make(map[string]any, len(r.original)),
		persisted:             r.persisted,
		resolvedByAggregation: r.resolvedByAggregation,
	}
	for k, v := range r.values {
		c.values[k] = v
	}
	for k, v := range r.original {
		c.original[k] = v
	}
	if r.forced != nil {
		c.forced = make(map[string]struct{}, len(r.forced))
		for k := range r.forced {
			c.forced[k] = struct{}{}
		}
	}
	if r.recovery != nil {
		rc := *r.recovery
		c.recovery = &rc
	}
	return c
}

// RestoreFrom resets the record to the state captured by snap, a Clone of it
// taken earlier. Values, the persisted snapshot and the persistence flags
// are replaced; the frozen flag is kept.
func (r *Record) RestoreFrom(snap *Record) {
	c := snap.Clone()
	r.values = c.values
	r.original = c.original
	r.forced = c.forced
	r.recovery = c.recovery
	r.persisted = c.persisted
	r.resolvedByAggregation = c.resolvedByAggregation
}

// Freeze makes the record read-only. Set on a frozen record fails with
// ErrFrozenRecord.
func (r *Record) Freeze() { r.frozen = true }

// Frozen reports whether the record is read-only.
func (r *Record) Frozen() bool { return r.frozen }

// recordJSON is the wire form of a Record.
type recordJSON struct {
	Table     string         `json:"table"`
	Persisted bool           `json:"persisted"`
	Values    map[string]any `json:"values"`
}

// MarshalJSON encodes the record's table, state and values. Times use
// TimeLayout.
func (r *Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		Table:     r.schema.Table,
		Persisted: r.persisted,
		Values:    make(map[string]any, len(r.schema.Columns)),
	}
	for _, c := range r.schema.Columns {
		v := r.values[c.Name]
		if t, ok := v.(time.Time); ok {
			v = t.UTC().Format(TimeLayout)
		}
		out.Values[c.Name] = v
	}
	return json.Marshal(out)
}

// DecodeRecord is the inverse of Record.MarshalJSON for the given schema.
func DecodeRecord(schema *Schema, data []byte) (*Record, error) {
	var in recordJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decoding record: %w", err)
	}
	if in.Table != schema.Table {
		return nil, fmt.Errorf("%w: record of %s decoded as %s", ErrInvalidData, in.Table, schema.Table)
	}
	r, err := LoadRecord(schema, in.Values)
	if err != nil {
		return nil, err
	}
	r.persisted = in.Persisted
	return r, nil
}
