package persistence

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Column types accepted in table definitions
const (
	TypeString    = "string"
	TypeText      = "text"
	TypeInteger   = "integer"
	TypeFloat     = "float"
	TypeBoolean   = "boolean"
	TypeTimestamp = "timestamp"
	TypeJSON      = "json"
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ErrInvalidDefinition is returned for table or enum definitions that
// cannot be turned into schema
var ErrInvalidDefinition = errors.New("invalid schema definition")

// Column is one column of a plugin table
type Column struct {
	Name       string
	Type       string
	PrimaryKey bool
	NotNull    bool
	Unique     bool
}

// Table is a parsed plugin table definition
type Table struct {
	Name    string
	Columns []Column
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDefinition, fmt.Sprintf(format, args...))
}

// ParseTable reads a table definition of the form
//
//	{"columns": {"id": {"type": "integer", "primaryKey": true}, "title": "string"}}
//
// Columns may also be a list of objects carrying a "name". Map columns
// are ordered primary keys first, then by name.
func ParseTable(name string, def any) (Table, error) {
	if !identRe.MatchString(name) {
		return Table{}, invalid("table name %q", name)
	}
	m, ok := def.(map[string]any)
	if !ok {
		return Table{}, invalid("table %s must be an object", name)
	}

	var columns []Column
	switch cols := m["columns"].(type) {
	case map[string]any:
		for colName, spec := range cols {
			c, err := parseColumn(colName, spec)
			if err != nil {
				return Table{}, fmt.Errorf("table %s: %w", name, err)
			}
			columns = append(columns, c)
		}
		sort.Slice(columns, func(i, j int) bool {
			if columns[i].PrimaryKey != columns[j].PrimaryKey {
				return columns[i].PrimaryKey
			}
			return columns[i].Name < columns[j].Name
		})
	case []any:
		for i, spec := range cols {
			obj, ok := spec.(map[string]any)
			if !ok {
				return Table{}, invalid("table %s column %d must be an object", name, i)
			}
			colName, _ := obj["name"].(string)
			c, err := parseColumn(colName, obj)
			if err != nil {
				return Table{}, fmt.Errorf("table %s: %w", name, err)
			}
			columns = append(columns, c)
		}
	default:
		return Table{}, invalid("table %s has no columns", name)
	}
	if len(columns) == 0 {
		return Table{}, invalid("table %s has no columns", name)
	}

	seen := make(map[string]struct{}, len(columns))
	for _, c := range columns {
		key := strings.ToLower(c.Name)
		if _, dup := seen[key]; dup {
			return Table{}, invalid("table %s declares column %s twice", name, c.Name)
		}
		seen[key] = struct{}{}
	}
	return Table{Name: name, Columns: columns}, nil
}

func parseColumn(name string, spec any) (Column, error) {
	if !identRe.MatchString(name) {
		return Column{}, invalid("column name %q", name)
	}
	c := Column{Name: name}
	switch s := spec.(type) {
	case string:
		c.Type = s
	case map[string]any:
		c.Type, _ = s["type"].(string)
		c.PrimaryKey, _ = s["primaryKey"].(bool)
		c.NotNull, _ = s["notNull"].(bool)
		c.Unique, _ = s["unique"].(bool)
		if nullable, ok := s["nullable"].(bool); ok && !nullable {
			c.NotNull = true
		}
	default:
		return Column{}, invalid("column %s must be a type name or an object", name)
	}
	c.Type = strings.ToLower(c.Type)
	if _, ok := columnTypes[c.Type]; !ok {
		return Column{}, invalid("column %s has unknown type %q", name, c.Type)
	}
	return c, nil
}

var columnTypes = map[string]map[string]string{
	TypeString:    {"": "VARCHAR(255)"},
	TypeText:      {"": "TEXT"},
	TypeInteger:   {"": "BIGINT", "sqlite": "INTEGER"},
	TypeFloat:     {"": "DOUBLE PRECISION", "mysql": "DOUBLE", "sqlite": "REAL"},
	TypeBoolean:   {"": "BOOLEAN"},
	TypeTimestamp: {"": "TIMESTAMP", "mysql": "DATETIME(3)", "sqlite": "DATETIME"},
	TypeJSON:      {"": "JSON", "postgres": "JSONB", "sqlite": "TEXT"},
}

func sqlType(dialect, colType string) string {
	byDialect := columnTypes[colType]
	if t, ok := byDialect[dialect]; ok {
		return t
	}
	return byDialect[""]
}

// CreateSQL renders the CREATE TABLE IF NOT EXISTS statement for dialect.
// quote must quote one identifier.
func (t Table) CreateSQL(dialect string, quote func(string) string) string {
	var (
		defs []string
		pks  []string
	)
	for _, c := range t.Columns {
		def := quote(c.Name) + " " + sqlType(dialect, c.Type)
		if c.NotNull || c.PrimaryKey {
			def += " NOT NULL"
		}
		if c.Unique && !c.PrimaryKey {
			def += " UNIQUE"
		}
		defs = append(defs, def)
		if c.PrimaryKey {
			pks = append(pks, quote(c.Name))
		}
	}
	if len(pks) > 0 {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(pks, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(t.Name), strings.Join(defs, ", "))
}

// ParseEnum reads an enum definition: a list of values or an object with
// a "values" list
func ParseEnum(name string, def any) ([]string, error) {
	if !identRe.MatchString(name) {
		return nil, invalid("enum name %q", name)
	}
	if m, ok := def.(map[string]any); ok {
		def = m["values"]
	}
	list, ok := def.([]any)
	if !ok || len(list) == 0 {
		return nil, invalid("enum %s has no values", name)
	}

	values := make([]string, 0, len(list))
	seen := make(map[string]struct{}, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok || s == "" {
			return nil, invalid("enum %s values must be non-empty strings", name)
		}
		if _, dup := seen[s]; dup {
			return nil, invalid("enum %s declares %q twice", name, s)
		}
		seen[s] = struct{}{}
		values = append(values, s)
	}
	return values, nil
}
