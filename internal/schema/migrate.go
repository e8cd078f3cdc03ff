package schema

import "fmt"

// Dialect names the DDL flavor to render, matching storage/sql's own
// dialect names so the two packages stay interchangeable.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite3"
)

// columnType maps a Field's logical FieldType onto a dialect's concrete
// column type, grounded on the upstream migrate.go's per-dialect
// serialType switch.
func columnType(t FieldType, d Dialect) string {
	switch t {
	case FieldString:
		if d == DialectPostgres {
			return "text"
		}
		return "varchar(255)"
	case FieldNumber:
		return "integer"
	case FieldBoolean:
		if d == DialectPostgres {
			return "boolean"
		}
		return "tinyint(1)"
	case FieldDate:
		if d == DialectMySQL {
			return "datetime"
		}
		return "timestamp"
	case FieldJSON:
		if d == DialectPostgres {
			return "jsonb"
		}
		return "text"
	default:
		return "text"
	}
}

// Migration renders the Registry's models as strict, per-field DDL for
// deployments that want one table per model with real columns instead
// of storage/sql's generic document-store tables. Each statement is
// idempotent ("create table if not exists"), matching the upstream
// migrate.go's create-on-open behavior rather than a numbered ladder.
func Migration(reg *Registry, dialect Dialect) []string {
	var stmts []string
	for _, m := range reg.Models() {
		stmts = append(stmts, createTable(m, dialect))
		for _, f := range m.Fields {
			if f.Unique && f.Name != "id" {
				stmts = append(stmts, fmt.Sprintf(
					"create unique index if not exists uq_%s_%s on %s (%s)",
					m.Name, f.Name, m.Name, f.Name))
			}
			if f.References != "" {
				stmts = append(stmts, fmt.Sprintf(
					"create index if not exists idx_%s_%s on %s (%s)",
					m.Name, f.Name, m.Name, f.Name))
			}
		}
	}
	return stmts
}

func createTable(m Model, dialect Dialect) string {
	cols := make([]string, 0, len(m.Fields))
	for _, f := range m.Fields {
		col := fmt.Sprintf("%s %s", f.Name, columnType(f.Type, dialect))
		if f.Name == "id" {
			col += " primary key"
		} else if f.Required {
			col += " not null"
		}
		cols = append(cols, col)
	}
	ddl := fmt.Sprintf("create table if not exists %s (\n", m.Name)
	for i, c := range cols {
		ddl += "\t" + c
		if i < len(cols)-1 {
			ddl += ","
		}
		ddl += "\n"
	}
	ddl += ")"
	return ddl
}
