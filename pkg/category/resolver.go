// Package category maps human-chosen category names to physical tables using
// the category registry tables.
package category

import (
	"context"
	"database/sql"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/bitechdev/TableSpec/pkg/common"
	"github.com/bitechdev/TableSpec/pkg/logger"
	"github.com/bitechdev/TableSpec/pkg/querybuilder"
)

// Registry names the registry tables and their columns. The names come from
// configuration and are quoted like any other identifier.
type Registry struct {
	CategoryTable       string
	CategoryNameColumn  string
	CategoryTableColumn string

	SubcategoryTable        string
	SubcategoryNameColumn   string
	SubcategoryParentColumn string
	SubcategoryTableColumn  string
}

// DefaultRegistry matches the tables created by the registry migration.
func DefaultRegistry() Registry {
	return Registry{
		CategoryTable:           "categories",
		CategoryNameColumn:      "name",
		CategoryTableColumn:     "data_table",
		SubcategoryTable:        "subcategories",
		SubcategoryNameColumn:   "name",
		SubcategoryParentColumn: "category",
		SubcategoryTableColumn:  "data_table",
	}
}

func (r Registry) withDefaults() Registry {
	d := DefaultRegistry()
	set := func(v *string, def string) {
		if strings.TrimSpace(*v) == "" {
			*v = def
		}
	}
	set(&r.CategoryTable, d.CategoryTable)
	set(&r.CategoryNameColumn, d.CategoryNameColumn)
	set(&r.CategoryTableColumn, d.CategoryTableColumn)
	set(&r.SubcategoryTable, d.SubcategoryTable)
	set(&r.SubcategoryNameColumn, d.SubcategoryNameColumn)
	set(&r.SubcategoryParentColumn, d.SubcategoryParentColumn)
	set(&r.SubcategoryTableColumn, d.SubcategoryTableColumn)
	return r
}

// Resolver looks categories up in the registry on every call.
type Resolver struct {
	registry Registry
}

func NewResolver(registry Registry) *Resolver {
	return &Resolver{registry: registry.withDefaults()}
}

func quoteTable(name string) string {
	schema, table := common.SplitTableName(name, "")
	return common.QuoteQualified(schema, table)
}

func buildError(err error) error {
	return common.Wrap(common.KindOther, err, "build registry query")
}

// Resolve returns the data table for category, or for subcategory when one
// is given and registered with a table of its own.
func (r *Resolver) Resolve(ctx context.Context, db common.Database, category, subcategory string) (string, error) {
	category = strings.TrimSpace(category)
	subcategory = strings.TrimSpace(subcategory)
	if category == "" {
		return "", common.Errorf(common.KindInvalidRequest, "category is required").WithOp("resolve")
	}

	if subcategory != "" {
		table, found, err := r.lookupSubcategory(ctx, db, category, subcategory)
		if err != nil {
			return "", common.Annotate(err, category, "")
		}
		if !found {
			return "", common.Errorf(common.KindCategoryNotFound, "subcategory %q of category %q is not registered", subcategory, category).
				WithOp("resolve").In(category, "")
		}
		if table != "" {
			logger.Debug("Resolved subcategory %s/%s to table %s", category, subcategory, table)
			return table, nil
		}
	}

	table, found, err := r.lookupCategory(ctx, db, category)
	if err != nil {
		return "", common.Annotate(err, category, "")
	}
	if !found {
		return "", common.Errorf(common.KindCategoryNotFound, "category %q is not registered", category).
			WithOp("resolve").In(category, "")
	}
	if table == "" {
		return "", common.Errorf(common.KindCategoryUnconfigured, "category %q has no data table configured", category).
			WithOp("resolve").In(category, "")
	}
	logger.Debug("Resolved category %s to table %s", category, table)
	return table, nil
}

func (r *Resolver) lookupCategory(ctx context.Context, db common.Database, category string) (string, bool, error) {
	reg := r.registry
	query, args, err := querybuilder.Statements(db.Dialect()).
		Select(common.QuoteIdent(reg.CategoryTableColumn)).
		From(quoteTable(reg.CategoryTable)).
		Where(sq.Eq{common.QuoteIdent(reg.CategoryNameColumn): category}).
		ToSql()
	if err != nil {
		return "", false, buildError(err)
	}
	return scanTable(ctx, db, query, args...)
}

func (r *Resolver) lookupSubcategory(ctx context.Context, db common.Database, category, subcategory string) (string, bool, error) {
	reg := r.registry
	query, args, err := querybuilder.Statements(db.Dialect()).
		Select(common.QuoteIdent(reg.SubcategoryTableColumn)).
		From(quoteTable(reg.SubcategoryTable)).
		Where(sq.Eq{common.QuoteIdent(reg.SubcategoryNameColumn): subcategory}).
		Where(sq.Eq{common.QuoteIdent(reg.SubcategoryParentColumn): category}).
		ToSql()
	if err != nil {
		return "", false, buildError(err)
	}
	return scanTable(ctx, db, query, args...)
}

func scanTable(ctx context.Context, db common.Database, query string, args ...interface{}) (string, bool, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return "", false, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return "", false, common.Wrap(common.KindDatabase, err, "read registry")
		}
		return "", false, nil
	}
	var table sql.NullString
	if err := rows.Scan(&table); err != nil {
		return "", false, common.Wrap(common.KindDatabase, err, "scan registry row")
	}
	return strings.TrimSpace(table.String), true, nil
}

// List returns every registered category ordered by name.
func (r *Resolver) List(ctx context.Context, db common.Database) ([]common.CategoryInfo, error) {
	reg := r.registry
	query, args, err := querybuilder.Statements(db.Dialect()).
		Select(common.QuoteIdent(reg.CategoryNameColumn), common.QuoteIdent(reg.CategoryTableColumn)).
		From(quoteTable(reg.CategoryTable)).
		OrderBy(common.QuoteIdent(reg.CategoryNameColumn)).
		ToSql()
	if err != nil {
		return nil, buildError(err)
	}

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]common.CategoryInfo, 0)
	for rows.Next() {
		var (
			name  string
			table sql.NullString
		)
		if err := rows.Scan(&name, &table); err != nil {
			return nil, common.Wrap(common.KindDatabase, err, "scan registry row")
		}
		t := strings.TrimSpace(table.String)
		categories = append(categories, common.CategoryInfo{Name: name, DataTable: t, Configured: t != ""})
	}
	if err := rows.Err(); err != nil {
		return nil, common.Wrap(common.KindDatabase, err, "read registry")
	}
	return categories, nil
}
