// Package catalog reads live table metadata and exposes it as a ColumnSet.
package catalog

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	"github.com/bitechdev/TableSpec/pkg/common"
)

// DefaultSchema is used for unqualified PostgreSQL table names.
const DefaultSchema = "public"

// Introspector discovers the column set of a table. Nothing is cached; every
// call reads the catalog.
type Introspector struct {
	defaultSchema string
}

// NewIntrospector creates an introspector. An empty defaultSchema means "public".
func NewIntrospector(defaultSchema string) *Introspector {
	if defaultSchema == "" {
		defaultSchema = DefaultSchema
	}
	return &Introspector{defaultSchema: defaultSchema}
}

// Columns checks that table exists and returns its column set. A missing
// table is a TableNotFound error, never an empty set.
func (i *Introspector) Columns(ctx context.Context, db common.Database, table string) (*ColumnSet, error) {
	if strings.TrimSpace(table) == "" {
		return nil, common.Errorf(common.KindTableNotFound, "table name is empty").WithOp("introspect")
	}

	var (
		cs  *ColumnSet
		err error
	)
	switch db.Dialect() {
	case common.DialectPostgres:
		schema, name := common.SplitTableName(table, i.defaultSchema)
		cs, err = postgresColumns(ctx, db, schema, name)
	default:
		schema, name := common.SplitTableName(table, "")
		cs, err = sqliteColumns(ctx, db, schema, name)
	}
	if err != nil {
		if e, ok := common.AsError(err); ok {
			e.WithOp("introspect").In("", table)
		}
		return nil, err
	}
	return cs, nil
}

func nullableInt(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

const pgTableExists = `SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2`

const pgColumns = `SELECT column_name, data_type, is_nullable, column_default,
       character_maximum_length, numeric_precision, numeric_scale
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`

const pgUniqueKeys = `SELECT a.attname, i.indisprimary
FROM pg_index i
JOIN pg_class c ON c.oid = i.indrelid
JOIN pg_class ic ON ic.oid = i.indexrelid
JOIN pg_namespace n ON n.oid = c.relnamespace
JOIN pg_attribute a ON a.attrelid = c.oid AND a.attnum = i.indkey[0]
WHERE n.nspname = $1 AND c.relname = $2
  AND i.indisunique AND i.indnkeyatts = 1
  AND i.indpred IS NULL AND i.indexprs IS NULL
ORDER BY i.indisprimary DESC, ic.relname`

func postgresColumns(ctx context.Context, db common.Database, schema, table string) (*ColumnSet, error) {
	exists, err := scanCount(ctx, db, pgTableExists, schema, table)
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, common.Errorf(common.KindTableNotFound, "table %s.%s does not exist", schema, table)
	}

	rows, err := db.Query(ctx, pgColumns, schema, table)
	if err != nil {
		return nil, err
	}
	var columns []Column
	for rows.Next() {
		var (
			col                      Column
			nullable                 string
			def                      sql.NullString
			maxLen, precision, scale sql.NullInt64
		)
		if err := rows.Scan(&col.Name, &col.Type, &nullable, &def, &maxLen, &precision, &scale); err != nil {
			rows.Close()
			return nil, common.Wrap(common.KindDatabase, err, "scan column metadata")
		}
		col.Nullable = strings.EqualFold(nullable, "YES")
		col.Default = nullableString(def)
		col.MaxLength = nullableInt(maxLen)
		col.Precision = nullableInt(precision)
		col.Scale = nullableInt(scale)
		columns = append(columns, col)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = db.Query(ctx, pgUniqueKeys, schema, table)
	if err != nil {
		return nil, err
	}
	var (
		keys    []string
		primary string
	)
	for rows.Next() {
		var (
			name      string
			isPrimary bool
		)
		if err := rows.Scan(&name, &isPrimary); err != nil {
			rows.Close()
			return nil, common.Wrap(common.KindDatabase, err, "scan unique keys")
		}
		if isPrimary && primary == "" {
			primary = name
		}
		keys = append(keys, name)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	markPrimary(columns, primary)
	return NewColumnSet(schema, table, columns, keys), nil
}

func sqliteSchema(schema string) string {
	if schema == "" {
		return "main"
	}
	return schema
}

// unknownSQLiteSchema reports whether err is SQLite rejecting a schema that
// is not attached.
func unknownSQLiteSchema(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown database") || strings.Contains(msg, "no such table")
}

func sqliteColumns(ctx context.Context, db common.Database, schema, table string) (*ColumnSet, error) {
	master := common.QuoteIdent(sqliteSchema(schema)) + ".sqlite_master"
	rows, err := db.Query(ctx, `SELECT name FROM `+master+` WHERE type IN ('table', 'view') AND name = ? COLLATE NOCASE`, table)
	if err != nil {
		if schema != "" && unknownSQLiteSchema(err) {
			return nil, common.Errorf(common.KindTableNotFound, "table %s.%s does not exist", schema, table)
		}
		return nil, err
	}
	canonical := ""
	if rows.Next() {
		if err := rows.Scan(&canonical); err != nil {
			rows.Close()
			return nil, common.Wrap(common.KindDatabase, err, "scan table name")
		}
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	if canonical == "" {
		return nil, common.Errorf(common.KindTableNotFound, "table %s does not exist", table)
	}
	table = canonical

	rows, err = db.Query(ctx, `SELECT name, type, "notnull", dflt_value, pk FROM pragma_table_info(?, ?) ORDER BY cid`, table, sqliteSchema(schema))
	if err != nil {
		return nil, err
	}
	var (
		columns []Column
		pkCols  []string
	)
	for rows.Next() {
		var (
			col     Column
			notNull int
			def     sql.NullString
			pk      int
		)
		if err := rows.Scan(&col.Name, &col.Type, &notNull, &def, &pk); err != nil {
			rows.Close()
			return nil, common.Wrap(common.KindDatabase, err, "scan column metadata")
		}
		col.Type = strings.ToLower(strings.TrimSpace(col.Type))
		col.Nullable = notNull == 0
		col.Default = nullableString(def)
		col.MaxLength, col.Precision, col.Scale = parseDeclaredSize(col.Type)
		if pk > 0 {
			pkCols = append(pkCols, col.Name)
		}
		columns = append(columns, col)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	var keys []string
	if len(pkCols) == 1 {
		markPrimary(columns, pkCols[0])
		keys = append(keys, pkCols[0])
	}

	rows, err = db.Query(ctx, `SELECT name FROM pragma_index_list(?, ?) WHERE "unique" = 1 AND "partial" = 0 AND origin <> 'pk' ORDER BY seq`, table, sqliteSchema(schema))
	if err != nil {
		return nil, err
	}
	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, common.Wrap(common.KindDatabase, err, "scan index list")
		}
		indexes = append(indexes, name)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	for _, index := range indexes {
		rows, err := db.Query(ctx, `SELECT name FROM pragma_index_info(?, ?)`, index, sqliteSchema(schema))
		if err != nil {
			return nil, err
		}
		var cols []sql.NullString
		for rows.Next() {
			var name sql.NullString
			if err := rows.Scan(&name); err != nil {
				rows.Close()
				return nil, common.Wrap(common.KindDatabase, err, "scan index columns")
			}
			cols = append(cols, name)
		}
		if err := closeRows(rows); err != nil {
			return nil, err
		}
		// Expression indexes report a NULL column name.
		if len(cols) == 1 && cols[0].Valid {
			keys = append(keys, cols[0].String)
		}
	}

	return NewColumnSet(schema, table, columns, keys), nil
}

func markPrimary(columns []Column, name string) {
	if name == "" {
		return
	}
	for i := range columns {
		if columns[i].Name == name {
			columns[i].PrimaryKey = true
		}
	}
}

// parseDeclaredSize reads "varchar(40)" or "numeric(10,2)" style declarations.
func parseDeclaredSize(declared string) (maxLength, precision, scale *int64) {
	open := strings.IndexByte(declared, '(')
	end := strings.LastIndexByte(declared, ')')
	if open < 0 || end <= open {
		return nil, nil, nil
	}

	parts := strings.Split(declared[open+1:end], ",")
	nums := make([]int64, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, nil, nil
		}
		nums = append(nums, n)
	}

	base := Column{Type: declared[:open]}
	switch {
	case base.IsText() && len(nums) == 1:
		return &nums[0], nil, nil
	case len(nums) == 1:
		return nil, &nums[0], nil
	case len(nums) == 2:
		return nil, &nums[0], &nums[1]
	}
	return nil, nil, nil
}

func scanCount(ctx context.Context, db common.Database, query string, args ...interface{}) (int64, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			rows.Close()
			return 0, common.Wrap(common.KindDatabase, err, "scan count")
		}
	}
	return n, closeRows(rows)
}

func closeRows(rows *sql.Rows) error {
	err := rows.Err()
	rows.Close()
	if err != nil {
		return common.Wrap(common.KindDatabase, err, "read rows")
	}
	return nil
}
