package types

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Options carries the settings passed to ActsAsAggregated or ActsAsTracked.
// Keys are checked against a fixed allow-list.
type Options map[string]any

// Option names accepted by ActsAsAggregated.
const (
	OptNonContentColumns = "non_content_columns"
	OptCacheBy           = "cache_by"
)

// Option names accepted by ActsAsTracked.
const (
	OptBy           = "by"
	OptPrecedingKey = "preceding_key"
)

var (
	aggregatedOptionNames = []string{OptNonContentColumns, OptCacheBy}
	trackedOptionNames    = []string{OptBy, OptPrecedingKey}
)

// Configuration errors. All of them wrap ErrConfiguration.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrUnknownOption = fmt.Errorf("%w: unknown option", ErrConfiguration)
	ErrNotAggregated = fmt.Errorf("%w: cache can be used only in aggregated entity types", ErrConfiguration)
	ErrNotTracked    = fmt.Errorf("%w: entity type is not tracked", ErrConfiguration)
)

// EntityType is the per-type declaration: its schema plus the lifecycle
// behaviors enabled on it. Declare it once at startup, before any save.
type EntityType struct {
	schema *Schema

	aggregated  bool
	nonContent  map[string]struct{}
	cacheColumn string

	tracked      bool
	scope        []string
	precedingKey string

	validate func(*Record) error
}

// NewEntityType declares an entity type backed by schema.
func NewEntityType(schema *Schema) *EntityType {
	return &EntityType{schema: schema}
}

// Schema returns the type's schema.
func (e *EntityType) Schema() *Schema { return e.schema }

// New returns a blank record of this type.
func (e *EntityType) New() *Record { return NewRecord(e.schema) }

// ActsAsAggregated enables content deduplication. Accepted options:
// non_content_columns (string or list of strings) and cache_by (string).
func (e *EntityType) ActsAsAggregated(opts Options) error {
	if err := checkOptions(opts, aggregatedOptionNames); err != nil {
		return err
	}
	extra, err := stringList(opts[OptNonContentColumns])
	if err != nil {
		return fmt.Errorf("%s: %w", OptNonContentColumns, err)
	}
	nonContent := make(map[string]struct{}, len(extra))
	for _, name := range extra {
		if _, ok := e.schema.Column(name); !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, e.schema.Table, name)
		}
		nonContent[name] = struct{}{}
	}
	e.aggregated = true
	e.nonContent = nonContent

	if v, ok := opts[OptCacheBy]; ok && v != nil {
		col, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: %s must be a column name", ErrConfiguration, OptCacheBy)
		}
		if col != "" {
			return e.EnableCache(col)
		}
	}
	return nil
}

// EnableCache turns on the read-through cache keyed by column. The type must
// already be aggregated.
func (e *EntityType) EnableCache(column string) error {
	if !e.aggregated {
		return ErrNotAggregated
	}
	if _, ok := e.schema.Column(column); !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, e.schema.Table, column)
	}
	e.cacheColumn = column
	return nil
}

// ActsAsTracked enables append-only versioning. Accepted options: by (the
// foreign key column or columns that scope lock_version) and preceding_key
// (the column receiving the superseded row's id).
func (e *EntityType) ActsAsTracked(opts Options) error {
	if err := checkOptions(opts, trackedOptionNames); err != nil {
		return err
	}
	if !e.schema.HasIsCurrent() {
		return fmt.Errorf("%w: tracked table %s has no %s column", ErrConfiguration, e.schema.Table, ColumnIsCurrent)
	}
	scope, err := stringList(opts[OptBy])
	if err != nil {
		return fmt.Errorf("%s: %w", OptBy, err)
	}
	for _, name := range scope {
		if _, ok := e.schema.Column(name); !ok {
			return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, e.schema.Table, name)
		}
	}
	var preceding string
	if v, ok := opts[OptPrecedingKey]; ok && v != nil {
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("%w: %s must be a column name", ErrConfiguration, OptPrecedingKey)
		}
		if s != "" {
			col, ok := e.schema.Column(s)
			if !ok {
				return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, e.schema.Table, s)
			}
			if col.Kind != KindText {
				return fmt.Errorf("%w: %s.%s must hold ids (text)", ErrConfiguration, e.schema.Table, s)
			}
			if err := e.schema.setRole(s, RolePrecedingKey); err != nil {
				return err
			}
			preceding = s
		}
	}
	e.tracked = true
	e.scope = scope
	e.precedingKey = preceding
	return nil
}

// SetValidator installs a check run before every insert or update.
func (e *EntityType) SetValidator(fn func(*Record) error) { e.validate = fn }

// Validate runs the installed validator, if any.
func (e *EntityType) Validate(r *Record) error {
	if e.validate == nil {
		return nil
	}
	return e.validate(r)
}

func (e *EntityType) IsAggregated() bool { return e.aggregated }
func (e *EntityType) IsTracked() bool    { return e.tracked }
func (e *EntityType) IsCached() bool     { return e.cacheColumn != "" }

// CacheColumn returns the column keying the aggregation cache, or "".
func (e *EntityType) CacheColumn() string { return e.cacheColumn }

// ScopeColumns returns the columns scoping lock_version of a tracked type.
func (e *EntityType) ScopeColumns() []string { return append([]string(nil), e.scope...) }

// PrecedingKeyColumn returns the preceding-key column, or "".
func (e *EntityType) PrecedingKeyColumn() string { return e.precedingKey }

// IsExcluded reports whether column name is ignored by content comparison:
// every lifecycle role plus caller-declared non-content columns.
func (e *EntityType) IsExcluded(name string) bool {
	col, ok := e.schema.Column(name)
	if !ok {
		return true
	}
	switch col.Role {
	case RoleID, RoleCreatedAt, RoleUpdatedAt, RoleLockVersion:
		return true
	}
	_, ok = e.nonContent[name]
	return ok
}

// ContentColumns returns the columns compared by aggregation, in schema order.
func (e *EntityType) ContentColumns() []string {
	var out []string
	for _, c := range e.schema.Columns {
		if !e.IsExcluded(c.Name) {
			out = append(out, c.Name)
		}
	}
	return out
}

func checkOptions(opts Options, allowed []string) error {
	var unknown []string
	for k := range opts {
		if !contains(allowed, k) {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("%w: %s (allowed: %s)", ErrUnknownOption,
		strings.Join(unknown, ", "), strings.Join(allowed, ", "))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// stringList accepts nil, a string, []string or []any of strings.
func stringList(v any) ([]string, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case string:
		if x == "" {
			return nil, nil
		}
		return []string{x}, nil
	case []string:
		return append([]string(nil), x...), nil
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: expected column names, got %T", ErrConfiguration, item)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: expected column names, got %T", ErrConfiguration, v)
}
