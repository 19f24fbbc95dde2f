package types

import (
	"fmt"
	"strings"
)

// Kind is the value kind stored in a column.
type Kind uint8

// Column kinds.
const (
	KindText Kind = iota
	KindInteger
	KindBool
	KindTime
)

var kindNames = map[Kind]string{
	KindText:    "text",
	KindInteger: "integer",
	KindBool:    "bool",
	KindTime:    "time",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// ParseKind maps a kind name from configuration to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "text", "string":
		return KindText, nil
	case "integer", "int":
		return KindInteger, nil
	case "bool", "boolean":
		return KindBool, nil
	case "time", "datetime", "timestamp":
		return KindTime, nil
	}
	return 0, fmt.Errorf("%w: column kind %q", ErrConfiguration, s)
}

// Role tags a column with the part it plays in the record lifecycle.
// Every role other than RoleContent is excluded from content comparison.
type Role uint8

// Column roles.
const (
	RoleContent Role = iota
	RoleID
	RoleCreatedAt
	RoleUpdatedAt
	RoleLockVersion
	RoleIsCurrent
	RolePrecedingKey
)

// Conventional column names. NewSchema assigns roles by these names.
const (
	ColumnID          = "id"
	ColumnCreatedAt   = "created_at"
	ColumnUpdatedAt   = "updated_at"
	ColumnLockVersion = "lock_version"
	ColumnIsCurrent   = "is_current"
)

var conventionalRoles = map[string]struct {
	role Role
	kind Kind
}{
	ColumnID:          {RoleID, KindText},
	ColumnCreatedAt:   {RoleCreatedAt, KindTime},
	ColumnUpdatedAt:   {RoleUpdatedAt, KindTime},
	ColumnLockVersion: {RoleLockVersion, KindInteger},
	ColumnIsCurrent:   {RoleIsCurrent, KindBool},
}

// Column describes a single table column.
type Column struct {
	Name string
	Kind Kind
	Role Role
	// Required columns are created NOT NULL.
	Required bool
}

// Schema is the capability descriptor of a table: its name, its columns in
// declaration order, and which lifecycle columns it carries.
type Schema struct {
	Table   string
	Columns []Column

	index map[string]int
}

// NewSchema builds a Schema for table. The id column is added when absent.
// Roles and kinds of conventional columns are resolved here, once.
func NewSchema(table string, columns ...Column) (*Schema, error) {
	if strings.TrimSpace(table) == "" {
		return nil, fmt.Errorf("%w: empty table name", ErrConfiguration)
	}
	s := &Schema{Table: table, index: make(map[string]int)}
	if !hasColumn(columns, ColumnID) {
		s.add(Column{Name: ColumnID, Kind: KindText, Role: RoleID})
	}
	for _, c := range columns {
		if c.Name == "" {
			return nil, fmt.Errorf("%w: empty column name in %s", ErrConfiguration, table)
		}
		if _, dup := s.index[c.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate column %s.%s", ErrConfiguration, table, c.Name)
		}
		if conv, ok := conventionalRoles[c.Name]; ok {
			c.Role = conv.role
			c.Kind = conv.kind
		}
		s.add(c)
	}
	return s, nil
}

// MustSchema is NewSchema that panics on error. Intended for package-level
// declarations and tests.
func MustSchema(table string, columns ...Column) *Schema {
	s, err := NewSchema(table, columns...)
	if err != nil {
		panic(err)
	}
	return s
}

func hasColumn(columns []Column, name string) bool {
	for _, c := range columns {
		if c.Name == name {
			return true
		}
	}
	return false
}

func (s *Schema) add(c Column) {
	s.index[c.Name] = len(s.Columns)
	s.Columns = append(s.Columns, c)
}

// Column returns the column with the given name.
func (s *Schema) Column(name string) (Column, bool) {
	i, ok := s.index[name]
	if !ok {
		return Column{}, false
	}
	return s.Columns[i], true
}

// ColumnNames returns column names in declaration order.
func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

// columnFor returns the first column carrying role, or "".
func (s *Schema) columnFor(role Role) string {
	for _, c := range s.Columns {
		if c.Role == role {
			return c.Name
		}
	}
	return ""
}

func (s *Schema) HasCreatedAt() bool   { return s.columnFor(RoleCreatedAt) != "" }
func (s *Schema) HasUpdatedAt() bool   { return s.columnFor(RoleUpdatedAt) != "" }
func (s *Schema) HasLockVersion() bool { return s.columnFor(RoleLockVersion) != "" }
func (s *Schema) HasIsCurrent() bool   { return s.columnFor(RoleIsCurrent) != "" }

// setRole retags an existing column. Used when an entity type option names a
// column that plays a lifecycle role (the preceding key).
func (s *Schema) setRole(name string, role Role) error {
	i, ok := s.index[name]
	if !ok {
		return fmt.Errorf("%w: %s.%s", ErrUnknownColumn, s.Table, name)
	}
	s.Columns[i].Role = role
	return nil
}
