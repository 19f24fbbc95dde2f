package sqlite

import (
	"fmt"
	"strings"

	"github.com/mesh-intelligence/keepsake/pkg/types"
)

// columnType maps a column kind to its SQLite storage declaration. Times are
// stored as RFC 3339 text and booleans as 0/1 integers.
func columnType(k types.Kind) string {
	switch k {
	case types.KindInteger, types.KindBool:
		return "INTEGER"
	default:
		return "TEXT"
	}
}

// tableDDL returns the CREATE TABLE and CREATE INDEX statements for schema.
func tableDDL(schema *types.Schema) []string {
	var cols []string
	for _, c := range schema.Columns {
		def := quote(c.Name) + " " + columnType(c.Kind)
		switch {
		case c.Role == types.RoleID:
			def += " PRIMARY KEY"
		case c.Role == types.RoleLockVersion:
			def += " NOT NULL DEFAULT 0"
		case c.Required:
			def += " NOT NULL"
		}
		cols = append(cols, def)
	}
	stmts := []string{
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n    %s\n);", quote(schema.Table), strings.Join(cols, ",\n    ")),
	}
	if schema.HasIsCurrent() {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s(%s);",
			quote("idx_"+schema.Table+"_is_current"), quote(schema.Table), quote(types.ColumnIsCurrent)))
	}
	return stmts
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
