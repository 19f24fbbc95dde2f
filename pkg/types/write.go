package types

import "time"

// InsertValues returns the full row a Store writes for rec: every column,
// with id set to newID when missing, timestamps stamped with now when
// missing and lock_version defaulting to zero. rec itself is not modified.
func InsertValues(rec *Record, newID func() string, now time.Time) map[string]any {
	values := rec.Values()
	if id, _ := values[ColumnID].(string); id == "" {
		values[ColumnID] = newID()
	}
	for _, c := range rec.schema.Columns {
		switch c.Role {
		case RoleCreatedAt, RoleUpdatedAt:
			if values[c.Name] == nil {
				values[c.Name] = now
			}
		case RoleLockVersion:
			if values[c.Name] == nil {
				values[c.Name] = int64(0)
			}
		}
	}
	return values
}

// UpdateValues returns the assignments and extra filter of an ordinary
// update of rec: its changed columns except id, updated_at stamped with now
// unless set explicitly, and with locking the loaded lock_version as filter
// and its successor as value. An empty set means there is nothing to write.
func UpdateValues(rec *Record, now time.Time, locking bool) (set, where map[string]any) {
	set = make(map[string]any)
	where = make(map[string]any)
	for _, name := range rec.Changed() {
		if name != ColumnID {
			set[name] = rec.Get(name)
		}
	}
	if len(set) == 0 {
		return set, where
	}
	if col := rec.schema.columnFor(RoleUpdatedAt); col != "" && !rec.IsChanged(col) {
		set[col] = now
	}
	if col := rec.schema.columnFor(RoleLockVersion); locking && col != "" {
		loaded, _ := rec.Original(col).(int64)
		where[col] = loaded
		set[col] = loaded + 1
	}
	return set, where
}

// Apply copies values written by a Store onto rec and marks it saved.
func (r *Record) Apply(values map[string]any) error {
	for name, v := range values {
		if err := r.Set(name, v); err != nil {
			return err
		}
	}
	r.MarkSaved()
	return nil
}
