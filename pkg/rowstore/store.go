// Package rowstore runs built statements against a table described by a
// ColumnSet and shapes the results.
package rowstore

import (
	"context"

	"github.com/bitechdev/TableSpec/pkg/catalog"
	"github.com/bitechdev/TableSpec/pkg/common"
	"github.com/bitechdev/TableSpec/pkg/logger"
	"github.com/bitechdev/TableSpec/pkg/querybuilder"
)

// Options configures paging and search.
type Options struct {
	Limits     querybuilder.Limits
	SearchMode querybuilder.SearchMode
}

// Store issues exactly the statements the builder produces: no retries and
// no caching.
type Store struct {
	limits     querybuilder.Limits
	searchMode querybuilder.SearchMode
}

func New(opts Options) *Store {
	mode := opts.SearchMode
	if mode == "" {
		mode = querybuilder.SearchByName
	}
	return &Store{limits: opts.Limits, searchMode: mode}
}

// List returns one page of rows matching spec, with the filtered total.
func (s *Store) List(ctx context.Context, db common.Database, cs *catalog.ColumnSet, spec common.QuerySpec) (*common.Page, error) {
	b := querybuilder.New(db.Dialect())
	q := querybuilder.Normalize(cs, spec, s.searchMode, s.limits)

	count, err := b.Count(cs, q)
	if err != nil {
		return nil, annotate(err, "list", cs)
	}
	rows, err := db.Query(ctx, count.SQL, count.Args...)
	if err != nil {
		return nil, annotate(err, "list", cs)
	}
	total, err := scanCount(rows)
	if err != nil {
		return nil, annotate(err, "list", cs)
	}

	sel, err := b.Select(cs, q)
	if err != nil {
		return nil, annotate(err, "list", cs)
	}
	rows, err = db.Query(ctx, sel.SQL, sel.Args...)
	if err != nil {
		return nil, annotate(err, "list", cs)
	}
	_, data, err := scanRows(rows)
	if err != nil {
		return nil, annotate(err, "list", cs)
	}

	return &common.Page{
		TableName:  cs.QualifiedName(),
		Columns:    cs.Names(),
		Data:       data,
		Pagination: common.NewPagination(q.Page, q.Limit, total),
		Search:     q.Search,
		Sort:       q.SortInfo(),
	}, nil
}

// Describe returns the column metadata of the table.
func (s *Store) Describe(cs *catalog.ColumnSet) common.TableMetadata {
	return common.TableMetadata{TableName: cs.QualifiedName(), Columns: cs.Infos()}
}

// Insert writes one row and returns it as stored, defaults included.
func (s *Store) Insert(ctx context.Context, db common.Database, cs *catalog.ColumnSet, payload map[string]interface{}) (common.Row, error) {
	stmt, dropped, err := querybuilder.New(db.Dialect()).Insert(cs, normalizePayload(payload))
	if err != nil {
		return common.Row{}, annotate(err, "insert", cs)
	}
	if len(dropped) > 0 {
		logger.Debug("Insert into %s ignored fields %v", cs.QualifiedName(), dropped)
	}
	return s.returningOne(ctx, db, cs, "insert", stmt)
}

// Update changes the row addressed by rawID. A missing row is RecordNotFound.
func (s *Store) Update(ctx context.Context, db common.Database, cs *catalog.ColumnSet, rawID string, payload map[string]interface{}) (common.Row, error) {
	key, id, err := keyFor(cs, rawID)
	if err != nil {
		return common.Row{}, annotate(err, "update", cs)
	}
	stmt, dropped, err := querybuilder.New(db.Dialect()).Update(cs, key, id, normalizePayload(payload))
	if err != nil {
		return common.Row{}, annotate(err, "update", cs)
	}
	if len(dropped) > 0 {
		logger.Debug("Update of %s ignored fields %v", cs.QualifiedName(), dropped)
	}
	return s.returningOne(ctx, db, cs, "update", stmt)
}

// Delete removes the row addressed by rawID and returns it. A missing row is
// RecordNotFound and nothing changes.
func (s *Store) Delete(ctx context.Context, db common.Database, cs *catalog.ColumnSet, rawID string) (common.Row, error) {
	key, id, err := keyFor(cs, rawID)
	if err != nil {
		return common.Row{}, annotate(err, "delete", cs)
	}
	stmt, err := querybuilder.New(db.Dialect()).Delete(cs, key, id)
	if err != nil {
		return common.Row{}, annotate(err, "delete", cs)
	}
	return s.returningOne(ctx, db, cs, "delete", stmt)
}

func keyFor(cs *catalog.ColumnSet, rawID string) (catalog.Column, interface{}, error) {
	key, err := cs.KeyColumn()
	if err != nil {
		return catalog.Column{}, nil, err
	}
	id, err := CoerceKey(key, rawID)
	if err != nil {
		return catalog.Column{}, nil, err
	}
	return key, id, nil
}

func (s *Store) returningOne(ctx context.Context, db common.Database, cs *catalog.ColumnSet, op string, stmt querybuilder.Statement) (common.Row, error) {
	rows, err := db.Query(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return common.Row{}, annotate(err, op, cs)
	}
	_, data, err := scanRows(rows)
	if err != nil {
		return common.Row{}, annotate(err, op, cs)
	}
	if len(data) == 0 {
		return common.Row{}, annotate(common.Errorf(common.KindRecordNotFound, "record not found"), op, cs)
	}
	return data[0], nil
}

func annotate(err error, op string, cs *catalog.ColumnSet) error {
	if e, ok := common.AsError(err); ok {
		e.WithOp(op).In("", cs.QualifiedName())
		return err
	}
	return common.Annotate(err, "", cs.QualifiedName())
}
