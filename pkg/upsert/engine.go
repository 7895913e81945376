// Package upsert writes parsed spreadsheets into the table behind a category,
// updating rows by key where the table allows it.
package upsert

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/bitechdev/TableSpec/pkg/catalog"
	"github.com/bitechdev/TableSpec/pkg/category"
	"github.com/bitechdev/TableSpec/pkg/common"
	"github.com/bitechdev/TableSpec/pkg/logger"
	"github.com/bitechdev/TableSpec/pkg/metrics"
	"github.com/bitechdev/TableSpec/pkg/querybuilder"
)

const DefaultBatchSize = 1000

// Mode is how rows are written.
type Mode string

const (
	// ModeUpsert uses INSERT ... ON CONFLICT on a catalog unique key.
	ModeUpsert Mode = "upsert"
	// ModeUpdateInsert updates by a key column chosen by name, inserting when
	// no row was updated.
	ModeUpdateInsert Mode = "update_insert"
	// ModeInsert only inserts.
	ModeInsert Mode = "insert"
)

// keyNameCandidates are tried in order when the table has no unique key.
var keyNameCandidates = []string{"id", "sap_field_name", "db_field_name"}

// Result reports what an upload did.
type Result struct {
	TableName      string   `json:"tableName"`
	RowCount       int64    `json:"rowCount"`
	Headers        []string `json:"headers"`
	Processed      int      `json:"processed"`
	KeyColumn      string   `json:"keyColumn,omitempty"`
	Mode           Mode     `json:"mode"`
	IgnoredHeaders []string `json:"ignoredHeaders"`
}

// Engine resolves, introspects and writes. It holds no per-request state.
type Engine struct {
	resolver     *category.Resolver
	introspector *catalog.Introspector
	batchSize    int
}

func NewEngine(resolver *category.Resolver, introspector *catalog.Introspector, batchSize int) *Engine {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &Engine{resolver: resolver, introspector: introspector, batchSize: batchSize}
}

// match is a header that resolved to a column.
type match struct {
	field  Field
	column catalog.Column
}

// plan is the reconciled write for one upload.
type plan struct {
	matches []match
	ignored []string
	mode    Mode
	key     catalog.Column
	keyIdx  int
}

// Upsert writes batch into the table of category (or subcategory). Rows are
// written one statement at a time without a surrounding transaction: the
// first failing row stops the upload and every earlier row stays written.
func (e *Engine) Upsert(ctx context.Context, db common.Database, categoryName, subcategory string, batch *Batch) (*Result, error) {
	table, err := e.resolver.Resolve(ctx, db, categoryName, subcategory)
	if err != nil {
		return nil, err
	}

	cs, err := e.introspector.Columns(ctx, db, table)
	if err != nil {
		return nil, common.Annotate(err, categoryName, table)
	}

	p, err := reconcile(cs, batch.Headers)
	if err != nil {
		return nil, common.Annotate(err, categoryName, table)
	}
	if p.mode == ModeUpdateInsert {
		logger.Warn("Table %s has no unique key; matching rows on column %s by name", cs.QualifiedName(), p.key.Name)
	}
	logger.Info("Uploading %d rows into %s (mode=%s key=%s ignored=%v)",
		len(batch.Records), cs.QualifiedName(), p.mode, p.key.Name, p.ignored)

	b := querybuilder.New(db.Dialect())
	processed := 0
	for start := 0; start < len(batch.Records); start += e.batchSize {
		end := start + e.batchSize
		if end > len(batch.Records) {
			end = len(batch.Records)
		}
		for _, rec := range batch.Records[start:end] {
			mode, err := e.writeRecord(ctx, db, b, cs, p, rec)
			if err != nil {
				logger.Error("Upload into %s stopped at row %d after %d rows: %v", cs.QualifiedName(), rec.Number, processed, err)
				return nil, rowError(err, rec.Number, categoryName, cs)
			}
			metrics.UpsertRows.WithLabelValues(cs.QualifiedName(), string(mode)).Inc()
			processed++
		}
		logger.Debug("Upload into %s: %d of %d rows written", cs.QualifiedName(), processed, len(batch.Records))
	}

	count, err := b.CountAll(cs)
	if err != nil {
		return nil, common.Annotate(err, categoryName, cs.QualifiedName())
	}
	rows, err := db.Query(ctx, count.SQL, count.Args...)
	if err != nil {
		return nil, common.Annotate(err, categoryName, cs.QualifiedName())
	}
	total, err := scanCount(rows)
	if err != nil {
		return nil, common.Annotate(err, categoryName, cs.QualifiedName())
	}

	headers := make([]string, len(p.matches))
	for i, m := range p.matches {
		headers[i] = m.column.Name
	}
	ignored := p.ignored
	if ignored == nil {
		ignored = []string{}
	}

	return &Result{
		TableName:      cs.QualifiedName(),
		RowCount:       total,
		Headers:        headers,
		Processed:      processed,
		KeyColumn:      p.key.Name,
		Mode:           p.mode,
		IgnoredHeaders: ignored,
	}, nil
}

// reconcile matches sanitized headers to columns and picks the key.
func reconcile(cs *catalog.ColumnSet, headers []string) (*plan, error) {
	p := &plan{keyIdx: -1}
	used := make(map[string]bool)
	isColumn := func(name string) bool {
		_, ok := cs.Lookup(name)
		return ok
	}
	for _, f := range SanitizeHeaders(headers, isColumn) {
		col, ok := cs.Lookup(f.Name)
		if !ok || used[col.Name] {
			p.ignored = append(p.ignored, f.Header)
			continue
		}
		used[col.Name] = true
		p.matches = append(p.matches, match{field: f, column: col})
	}
	if len(p.matches) == 0 {
		return nil, common.Errorf(common.KindNoValidFields, "no spreadsheet header matches a column of the table").WithOp("upsert")
	}

	indexOf := func(name string) int {
		for i, m := range p.matches {
			if m.column.Name == name {
				return i
			}
		}
		return -1
	}

	p.mode = ModeInsert
	if keys := cs.UniqueKeys(); len(keys) > 0 {
		for _, k := range keys {
			if i := indexOf(k); i >= 0 {
				p.mode, p.key, p.keyIdx = ModeUpsert, p.matches[i].column, i
				break
			}
		}
		return p, nil
	}

	for _, candidate := range keyNameCandidates {
		col, ok := cs.Lookup(candidate)
		if !ok {
			continue
		}
		if i := indexOf(col.Name); i >= 0 {
			p.mode, p.key, p.keyIdx = ModeUpdateInsert, col, i
		}
		break
	}
	return p, nil
}

func (e *Engine) writeRecord(ctx context.Context, db common.Database, b *querybuilder.Builder, cs *catalog.ColumnSet, p *plan, rec Record) (Mode, error) {
	assignments := make([]catalog.Assignment, len(p.matches))
	for i, m := range p.matches {
		var value interface{}
		if v := strings.TrimSpace(rec.Value(m.field.Index)); v != "" {
			value = v
		}
		assignments[i] = catalog.Assignment{Column: m.column, Value: value}
	}

	mode := p.mode
	if mode != ModeInsert && assignments[p.keyIdx].Value == nil {
		// Leave an empty key out so the column default applies.
		mode = ModeInsert
		assignments = append(assignments[:p.keyIdx:p.keyIdx], assignments[p.keyIdx+1:]...)
	}

	switch mode {
	case ModeUpsert:
		stmt, err := b.Upsert(cs, p.key, assignments)
		if err != nil {
			return mode, err
		}
		_, err = db.Exec(ctx, stmt.SQL, stmt.Args...)
		return mode, err
	case ModeUpdateInsert:
		keyValue := assignments[p.keyIdx].Value
		stmt, ok, err := b.UpdateByKey(cs, p.key, keyValue, assignments)
		if err != nil {
			return mode, err
		}
		if ok {
			res, err := db.Exec(ctx, stmt.SQL, stmt.Args...)
			if err != nil {
				return mode, err
			}
			if res.RowsAffected() > 0 {
				return mode, nil
			}
		} else {
			exists, err := b.Exists(cs, p.key, keyValue)
			if err != nil {
				return mode, err
			}
			rows, err := db.Query(ctx, exists.SQL, exists.Args...)
			if err != nil {
				return mode, err
			}
			n, err := scanCount(rows)
			if err != nil || n > 0 {
				return mode, err
			}
		}
	}

	// An empty assignment list inserts DEFAULT VALUES.
	stmt, err := b.InsertOnly(cs, assignments)
	if err != nil {
		return mode, err
	}
	_, err = db.Exec(ctx, stmt.SQL, stmt.Args...)
	return mode, err
}

func rowError(err error, number int, categoryName string, cs *catalog.ColumnSet) error {
	if e, ok := common.AsError(err); ok {
		e.In(categoryName, cs.QualifiedName())
		if e.Fields == nil {
			e.Fields = map[string]string{}
		}
		e.Fields["row"] = strconv.Itoa(number)
		e.Message = fmt.Sprintf("row %d: %s", number, e.Message)
		return err
	}
	return common.Wrap(common.KindOther, err, "row %d", number).In(categoryName, cs.QualifiedName())
}

func scanCount(rows *sql.Rows) (int64, error) {
	defer rows.Close()
	var n int64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, common.Wrap(common.KindDatabase, err, "scan count")
		}
	}
	if err := rows.Err(); err != nil {
		return 0, common.Wrap(common.KindDatabase, err, "read count")
	}
	return n, nil
}
