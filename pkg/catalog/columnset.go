package catalog

import (
	"sort"
	"strings"

	"github.com/bitechdev/TableSpec/pkg/common"
	"github.com/bitechdev/TableSpec/pkg/logger"
)

// Column describes one physical column as reported by the live catalog.
type Column struct {
	Name       string
	Type       string
	Nullable   bool
	Default    *string
	MaxLength  *int64
	Precision  *int64
	Scale      *int64
	PrimaryKey bool
}

// Info returns the client-facing view of the column.
func (c Column) Info() common.ColumnInfo {
	return common.ColumnInfo{
		Name:         c.Name,
		Type:         c.Type,
		Nullable:     c.Nullable,
		DefaultValue: c.Default,
		MaxLength:    c.MaxLength,
		Precision:    c.Precision,
		Scale:        c.Scale,
		PrimaryKey:   c.PrimaryKey,
	}
}

var textTypeMarkers = []string{"char", "text", "clob", "string", "uuid", "citext"}

// IsText reports whether values of the column are stored as text.
func (c Column) IsText() bool {
	t := strings.ToLower(c.Type)
	for _, marker := range textTypeMarkers {
		if strings.Contains(t, marker) {
			return true
		}
	}
	return false
}

var integerTypes = map[string]bool{
	"integer": true, "int": true, "int2": true, "int4": true, "int8": true,
	"smallint": true, "bigint": true, "tinyint": true, "mediumint": true,
	"serial": true, "smallserial": true, "bigserial": true,
	"unsigned big int": true,
}

// IsInteger reports whether the column holds whole numbers.
func (c Column) IsInteger() bool {
	t := strings.ToLower(strings.TrimSpace(c.Type))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	t = strings.TrimSpace(strings.TrimSuffix(t, "unsigned"))
	return integerTypes[t]
}

// ColumnSet is the ordered column list of one table together with its
// single-column unique keys. It is the only source of identifiers that may
// be written into generated SQL.
type ColumnSet struct {
	schema     string
	table      string
	columns    []Column
	exact      map[string]int
	folded     map[string][]int
	uniqueKeys []string
}

// NewColumnSet builds a set from columns in physical order. uniqueKeys lists
// single-column unique keys, primary key first; names not among columns are
// ignored.
func NewColumnSet(schema, table string, columns []Column, uniqueKeys []string) *ColumnSet {
	cs := &ColumnSet{
		schema:  schema,
		table:   table,
		columns: columns,
		exact:   make(map[string]int, len(columns)),
		folded:  make(map[string][]int, len(columns)),
	}
	for i, col := range columns {
		cs.exact[col.Name] = i
		key := strings.ToLower(col.Name)
		cs.folded[key] = append(cs.folded[key], i)
	}

	seen := make(map[string]bool, len(uniqueKeys))
	if pk, ok := cs.PrimaryKey(); ok {
		cs.uniqueKeys = append(cs.uniqueKeys, pk.Name)
		seen[pk.Name] = true
	}
	for _, name := range uniqueKeys {
		if _, ok := cs.exact[name]; !ok || seen[name] {
			continue
		}
		seen[name] = true
		cs.uniqueKeys = append(cs.uniqueKeys, name)
	}
	return cs
}

func (cs *ColumnSet) Schema() string { return cs.schema }
func (cs *ColumnSet) Table() string  { return cs.table }
func (cs *ColumnSet) Len() int       { return len(cs.columns) }

// QualifiedName is the table name as configured, e.g. "sales.groups".
func (cs *ColumnSet) QualifiedName() string {
	if cs.schema == "" {
		return cs.table
	}
	return cs.schema + "." + cs.table
}

// QuotedTable is the table reference for generated SQL.
func (cs *ColumnSet) QuotedTable() string {
	return common.QuoteQualified(cs.schema, cs.table)
}

// Columns returns the columns in physical order.
func (cs *ColumnSet) Columns() []Column {
	out := make([]Column, len(cs.columns))
	copy(out, cs.columns)
	return out
}

// Names returns the column names in physical order.
func (cs *ColumnSet) Names() []string {
	out := make([]string, len(cs.columns))
	for i, col := range cs.columns {
		out[i] = col.Name
	}
	return out
}

// Infos returns the client-facing descriptors in physical order.
func (cs *ColumnSet) Infos() []common.ColumnInfo {
	out := make([]common.ColumnInfo, len(cs.columns))
	for i, col := range cs.columns {
		out[i] = col.Info()
	}
	return out
}

// Lookup resolves a caller-supplied name to a column: exact match first, then
// a case-insensitive match when it is unambiguous.
func (cs *ColumnSet) Lookup(name string) (Column, bool) {
	if i, ok := cs.exact[name]; ok {
		return cs.columns[i], true
	}
	if idx := cs.folded[strings.ToLower(name)]; len(idx) == 1 {
		return cs.columns[idx[0]], true
	}
	return Column{}, false
}

// Has reports whether name resolves to a column.
func (cs *ColumnSet) Has(name string) bool {
	_, ok := cs.Lookup(name)
	return ok
}

// PrimaryKey returns the single-column primary key, if the catalog reports one.
func (cs *ColumnSet) PrimaryKey() (Column, bool) {
	for _, col := range cs.columns {
		if col.PrimaryKey {
			return col, true
		}
	}
	return Column{}, false
}

// UniqueKeys returns the single-column unique keys, primary key first.
func (cs *ColumnSet) UniqueKeys() []string {
	out := make([]string, len(cs.uniqueKeys))
	copy(out, cs.uniqueKeys)
	return out
}

// KeyColumn is the column used to address a single row: the primary key, else
// a column named id.
func (cs *ColumnSet) KeyColumn() (Column, error) {
	if pk, ok := cs.PrimaryKey(); ok {
		return pk, nil
	}
	if col, ok := cs.Lookup("id"); ok {
		return col, nil
	}
	return Column{}, common.Errorf(common.KindNoKeyColumn, "table has no primary key and no id column").In("", cs.QualifiedName())
}

// Assignment is one column/value pair of a write, in physical column order.
type Assignment struct {
	Column Column
	Value  interface{}
}

// FilterPayload keeps the payload entries that resolve to columns, ordered by
// physical column position. Unknown keys are returned as dropped and logged.
// When two keys resolve to the same column, the exact spelling wins.
func (cs *ColumnSet) FilterPayload(payload map[string]interface{}) (assignments []Assignment, dropped []string) {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	chosen := make(map[int]string, len(payload))
	for _, k := range keys {
		col, ok := cs.Lookup(k)
		if !ok {
			dropped = append(dropped, k)
			logger.Warn("Invalid column '%s' filtered out: column does not exist in table %s", k, cs.QualifiedName())
			continue
		}
		i := cs.exact[col.Name]
		if prev, taken := chosen[i]; taken && prev == col.Name {
			continue
		}
		chosen[i] = k
	}

	for i, col := range cs.columns {
		k, ok := chosen[i]
		if !ok {
			continue
		}
		assignments = append(assignments, Assignment{Column: col, Value: payload[k]})
	}
	return assignments, dropped
}
