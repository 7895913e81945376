// Package querybuilder turns a ColumnSet and caller input into parameterized
// statements. Identifiers are only ever taken from the ColumnSet; caller
// strings are used as lookup keys and values are always bound.
package querybuilder

import (
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/bitechdev/TableSpec/pkg/catalog"
	"github.com/bitechdev/TableSpec/pkg/common"
)

// Statement is SQL text plus its bound arguments in placeholder order.
type Statement struct {
	SQL  string
	Args []interface{}
}

// Builder generates statements for one dialect.
type Builder struct {
	dialect common.Dialect
	sb      sq.StatementBuilderType
}

func New(dialect common.Dialect) *Builder {
	return &Builder{dialect: dialect, sb: Statements(dialect)}
}

// Statements returns a squirrel statement builder using the placeholders of
// dialect: $n for PostgreSQL, ? otherwise.
func Statements(dialect common.Dialect) sq.StatementBuilderType {
	if dialect == common.DialectPostgres {
		return sq.StatementBuilder.PlaceholderFormat(sq.Dollar)
	}
	return sq.StatementBuilder.PlaceholderFormat(sq.Question)
}

func (b *Builder) Dialect() common.Dialect { return b.dialect }

// escape protects a literal "?" inside quoted identifiers from $n rewriting;
// squirrel turns "??" back into "?".
func (b *Builder) escape(quoted string) string {
	if b.dialect == common.DialectPostgres {
		return strings.ReplaceAll(quoted, "?", "??")
	}
	return quoted
}

func (b *Builder) quote(col catalog.Column) string {
	return b.escape(common.QuoteIdent(col.Name))
}

func (b *Builder) table(cs *catalog.ColumnSet) string {
	return b.escape(cs.QuotedTable())
}

func (b *Builder) selectList(cs *catalog.ColumnSet) []string {
	cols := cs.Columns()
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = b.quote(col)
	}
	return quoted
}

func toStatement(s sq.Sqlizer) (Statement, error) {
	query, args, err := s.ToSql()
	if err != nil {
		return Statement{}, common.Wrap(common.KindOther, err, "build statement")
	}
	return Statement{SQL: query, Args: args}, nil
}

// search builds the OR-ed match predicate; ok is false when there is
// nothing to filter on.
func (b *Builder) search(cs *catalog.ColumnSet, term string, mode SearchMode) (pred sq.Or, ok bool) {
	if term == "" {
		return nil, false
	}
	op := "LIKE"
	if b.dialect == common.DialectPostgres {
		op = "ILIKE"
	}
	pattern := "%" + common.EscapeLike(term) + "%"

	for _, col := range SearchColumns(cs, mode) {
		pred = append(pred, sq.Expr(fmt.Sprintf(`CAST(%s AS TEXT) %s ? ESCAPE '\'`, b.quote(col), op), pattern))
	}
	return pred, len(pred) > 0
}

// Select builds the paged read. q must already be normalized.
func (b *Builder) Select(cs *catalog.ColumnSet, q Query) (Statement, error) {
	query := b.sb.Select(b.selectList(cs)...).From(b.table(cs))
	if pred, ok := b.search(cs, q.Search, q.SearchMode); ok {
		query = query.Where(pred)
	}

	order := []string{fmt.Sprintf("%s %s", b.quote(q.Sort), q.Order)}
	if key, err := cs.KeyColumn(); err == nil && key.Name != q.Sort.Name {
		order = append(order, b.quote(key)+" ASC")
	}

	return toStatement(query.
		OrderBy(order...).
		Limit(uint64(q.Limit)).
		Offset(uint64(common.Offset(q.Page, q.Limit))))
}

// Count builds the total for the same predicate as Select.
func (b *Builder) Count(cs *catalog.ColumnSet, q Query) (Statement, error) {
	query := b.sb.Select("COUNT(*)").From(b.table(cs))
	if pred, ok := b.search(cs, q.Search, q.SearchMode); ok {
		query = query.Where(pred)
	}
	return toStatement(query)
}

// CountAll counts every row of the table.
func (b *Builder) CountAll(cs *catalog.ColumnSet) (Statement, error) {
	return toStatement(b.sb.Select("COUNT(*)").From(b.table(cs)))
}

func noValidFields(cs *catalog.ColumnSet) error {
	return common.Errorf(common.KindNoValidFields, "no fields in the request match columns of the table").In("", cs.QualifiedName())
}

// Insert builds an insert of the payload entries that match columns.
// Unknown keys are returned as dropped; no matching key is NoValidFields.
func (b *Builder) Insert(cs *catalog.ColumnSet, payload map[string]interface{}) (Statement, []string, error) {
	assignments, dropped := cs.FilterPayload(payload)
	if len(assignments) == 0 {
		return Statement{}, dropped, noValidFields(cs)
	}
	stmt, err := toStatement(b.insert(cs, assignments).Suffix("RETURNING *"))
	return stmt, dropped, err
}

func (b *Builder) insert(cs *catalog.ColumnSet, assignments []catalog.Assignment) sq.InsertBuilder {
	cols := make([]string, len(assignments))
	vals := make([]interface{}, len(assignments))
	for i, a := range assignments {
		cols[i] = b.quote(a.Column)
		vals[i] = a.Value
	}
	return b.sb.Insert(b.table(cs)).Columns(cols...).Values(vals...)
}

// Update builds an update of one row addressed by key. The key column itself
// is never assigned.
func (b *Builder) Update(cs *catalog.ColumnSet, key catalog.Column, id interface{}, payload map[string]interface{}) (Statement, []string, error) {
	assignments, dropped := cs.FilterPayload(payload)
	kept := assignments[:0:0]
	for _, a := range assignments {
		if a.Column.Name == key.Name {
			dropped = append(dropped, a.Column.Name)
			continue
		}
		kept = append(kept, a)
	}
	if len(kept) == 0 {
		return Statement{}, dropped, noValidFields(cs)
	}
	stmt, err := toStatement(b.updateByKey(cs, key, id, kept).Suffix("RETURNING *"))
	return stmt, dropped, err
}

func (b *Builder) updateByKey(cs *catalog.ColumnSet, key catalog.Column, id interface{}, assignments []catalog.Assignment) sq.UpdateBuilder {
	query := b.sb.Update(b.table(cs))
	for _, a := range assignments {
		query = query.Set(b.quote(a.Column), a.Value)
	}
	return query.Where(sq.Eq{b.quote(key): id})
}

// Delete builds a delete of one row addressed by key.
func (b *Builder) Delete(cs *catalog.ColumnSet, key catalog.Column, id interface{}) (Statement, error) {
	return toStatement(b.sb.Delete(b.table(cs)).
		Where(sq.Eq{b.quote(key): id}).
		Suffix("RETURNING *"))
}

// Upsert builds INSERT ... ON CONFLICT (key) DO UPDATE for one row. Every
// non-key column in assignments is overwritten with the incoming value.
func (b *Builder) Upsert(cs *catalog.ColumnSet, key catalog.Column, assignments []catalog.Assignment) (Statement, error) {
	var sets []string
	for _, a := range assignments {
		if a.Column.Name == key.Name {
			continue
		}
		col := b.quote(a.Column)
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
	}

	conflict := fmt.Sprintf("ON CONFLICT (%s) DO NOTHING", b.quote(key))
	if len(sets) > 0 {
		conflict = fmt.Sprintf("ON CONFLICT (%s) DO UPDATE SET %s", b.quote(key), strings.Join(sets, ", "))
	}
	return toStatement(b.insert(cs, assignments).Suffix(conflict))
}

// InsertOnly builds a plain insert for one row. Without assignments every
// column takes its default.
func (b *Builder) InsertOnly(cs *catalog.ColumnSet, assignments []catalog.Assignment) (Statement, error) {
	if len(assignments) == 0 {
		// squirrel insists on a values list, so this one is written out and
		// skips placeholder rewriting.
		return Statement{SQL: "INSERT INTO " + cs.QuotedTable() + " DEFAULT VALUES"}, nil
	}
	return toStatement(b.insert(cs, assignments))
}

// UpdateByKey builds the update used when the key was chosen by column name
// and no unique index backs it. The key column is matched, never assigned.
// ok is false when there is nothing to assign.
func (b *Builder) UpdateByKey(cs *catalog.ColumnSet, key catalog.Column, keyValue interface{}, assignments []catalog.Assignment) (stmt Statement, ok bool, err error) {
	var sets []catalog.Assignment
	for _, a := range assignments {
		if a.Column.Name != key.Name {
			sets = append(sets, a)
		}
	}
	if len(sets) == 0 {
		return Statement{}, false, nil
	}
	stmt, err = toStatement(b.updateByKey(cs, key, keyValue, sets))
	return stmt, err == nil, err
}

// Exists builds a count of rows carrying the given key value.
func (b *Builder) Exists(cs *catalog.ColumnSet, key catalog.Column, keyValue interface{}) (Statement, error) {
	return toStatement(b.sb.Select("COUNT(*)").
		From(b.table(cs)).
		Where(sq.Eq{b.quote(key): keyValue}))
}
