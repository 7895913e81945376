package upsert

import (
	"context"
	"fmt"
	"testing"

	"github.com/bitechdev/TableSpec/pkg/catalog"
	"github.com/bitechdev/TableSpec/pkg/category"
	"github.com/bitechdev/TableSpec/pkg/common"
	"github.com/bitechdev/TableSpec/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEngine(batchSize int) *Engine {
	return NewEngine(category.NewResolver(category.DefaultRegistry()), catalog.NewIntrospector(""), batchSize)
}

func batchOf(headers []string, rows ...[]string) *Batch {
	b := &Batch{Headers: headers}
	for i, r := range rows {
		values := make([]string, len(headers))
		copy(values, r)
		b.Records = append(b.Records, Record{Number: i + 2, Values: values})
	}
	return b
}

func queryString(t *testing.T, db common.Database, query string, args ...interface{}) string {
	t.Helper()
	rows, err := db.Query(context.Background(), query, args...)
	require.NoError(t, err)
	defer rows.Close()
	require.True(t, rows.Next(), "no row for %s", query)
	var v *string
	require.NoError(t, rows.Scan(&v))
	if v == nil {
		return "<nil>"
	}
	return *v
}

func TestEngine_GroupsFallsBackToInsert(t *testing.T) {
	db := testutil.OpenSQLite(t)
	testutil.Registry(t, db, map[string]string{"Groups": "Groups"})
	testutil.Exec(t, db,
		`CREATE TABLE "Groups" (id INTEGER PRIMARY KEY, group_code TEXT, group_name TEXT)`,
		`INSERT INTO "Groups" (group_code, group_name) VALUES ('VEND', 'Vendor Group')`,
	)
	before := testutil.Count(t, db, "Groups")

	result, err := newEngine(0).Upsert(context.Background(), db, "Groups", "",
		batchOf([]string{"group_code", "group_name"}, []string{"CUST", "Customer Group"}))
	require.NoError(t, err)

	assert.Equal(t, before+1, result.RowCount)
	assert.Equal(t, ModeInsert, result.Mode)
	assert.Equal(t, "", result.KeyColumn)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, "Groups", result.TableName)
	assert.Equal(t, []string{"group_code", "group_name"}, result.Headers)
	assert.Empty(t, result.IgnoredHeaders)
}

func TestEngine_UpsertIsIdempotent(t *testing.T) {
	db := testutil.OpenSQLite(t)
	testutil.Registry(t, db, map[string]string{"Groups": "groups"})
	testutil.Exec(t, db, `CREATE TABLE "groups" (id INTEGER PRIMARY KEY, group_code TEXT UNIQUE, group_name TEXT)`)

	engine := newEngine(0)
	batch := batchOf([]string{"Group Code", "Group Name", "Comment"},
		[]string{"CUST", "Customer Group", "x"},
		[]string{"VEND", "Vendor Group", "y"},
	)

	first, err := engine.Upsert(context.Background(), db, "Groups", "", batch)
	require.NoError(t, err)
	assert.Equal(t, ModeUpsert, first.Mode)
	assert.Equal(t, "group_code", first.KeyColumn)
	assert.Equal(t, []string{"Comment"}, first.IgnoredHeaders)
	assert.Equal(t, int64(2), first.RowCount)

	batch.Records[0].Values[1] = "Customers"
	second, err := engine.Upsert(context.Background(), db, "Groups", "", batch)
	require.NoError(t, err)
	assert.Equal(t, first.RowCount, second.RowCount)
	assert.Equal(t, "Customers", queryString(t, db, `SELECT group_name FROM "groups" WHERE group_code = ?`, "CUST"))
}

func TestEngine_PrimaryKeyPreferredOverOtherUniqueKeys(t *testing.T) {
	db := testutil.OpenSQLite(t)
	testutil.Registry(t, db, map[string]string{"Codes": "codes"})
	testutil.Exec(t, db, `CREATE TABLE codes (code TEXT PRIMARY KEY, alias TEXT UNIQUE, label TEXT)`)

	result, err := newEngine(0).Upsert(context.Background(), db, "Codes", "",
		batchOf([]string{"alias", "code", "label"}, []string{"a1", "C1", "one"}))
	require.NoError(t, err)
	assert.Equal(t, "code", result.KeyColumn)
	assert.Equal(t, ModeUpsert, result.Mode)
}

func TestEngine_NameHeuristicWithoutUniqueKey(t *testing.T) {
	db := testutil.OpenSQLite(t)
	testutil.Registry(t, db, map[string]string{"Fields": "fields"})
	testutil.Exec(t, db, `CREATE TABLE fields (sap_field_name TEXT, db_field_name TEXT, description TEXT)`)

	engine := newEngine(0)
	batch := batchOf([]string{"SAP Field Name", "Description"},
		[]string{"MATNR", "Material"},
		[]string{"WERKS", "Plant"},
	)

	first, err := engine.Upsert(context.Background(), db, "Fields", "", batch)
	require.NoError(t, err)
	assert.Equal(t, ModeUpdateInsert, first.Mode)
	assert.Equal(t, "sap_field_name", first.KeyColumn)
	assert.Equal(t, int64(2), first.RowCount)

	batch.Records[1].Values[1] = "Plant code"
	second, err := engine.Upsert(context.Background(), db, "Fields", "", batch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.RowCount)
	assert.Equal(t, "Plant code", queryString(t, db, `SELECT description FROM fields WHERE sap_field_name = ?`, "WERKS"))
}

func TestEngine_HeuristicKeyOnlyColumn(t *testing.T) {
	db := testutil.OpenSQLite(t)
	testutil.Registry(t, db, map[string]string{"Fields": "fields"})
	testutil.Exec(t, db, `CREATE TABLE fields (db_field_name TEXT, description TEXT)`)

	engine := newEngine(0)
	batch := batchOf([]string{"db_field_name"}, []string{"matnr"})
	_, err := engine.Upsert(context.Background(), db, "Fields", "", batch)
	require.NoError(t, err)
	result, err := engine.Upsert(context.Background(), db, "Fields", "", batch)
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.RowCount)
}

func TestEngine_EmptyKeyCellInserts(t *testing.T) {
	db := testutil.OpenSQLite(t)
	testutil.Registry(t, db, map[string]string{"Groups": "groups"})
	testutil.Exec(t, db, `CREATE TABLE "groups" (id INTEGER PRIMARY KEY, group_code TEXT UNIQUE, group_name TEXT)`)

	result, err := newEngine(0).Upsert(context.Background(), db, "Groups", "",
		batchOf([]string{"group_code", "group_name"},
			[]string{"", "No code"},
			[]string{"", "Also no code"},
		))
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.RowCount)
	assert.Equal(t, 2, result.Processed)
}

func TestEngine_ReuploadKeyedOnIDKeepsRowCount(t *testing.T) {
	db := testutil.OpenSQLite(t)
	testutil.Registry(t, db, map[string]string{"Groups": "groups"})
	testutil.Exec(t, db,
		`CREATE TABLE "groups" (id INTEGER PRIMARY KEY, group_code TEXT, group_name TEXT)`,
		`INSERT INTO "groups" (id, group_code, group_name) VALUES (1, 'CUST', 'Customer Group'), (2, 'VEND', 'Vendor Group')`,
	)

	engine := newEngine(0)
	batch := batchOf([]string{"ID", "group_code", "group_name"},
		[]string{"1", "CUST", "Customers"},
		[]string{"2", "VEND", "Vendors"},
	)

	first, err := engine.Upsert(context.Background(), db, "Groups", "", batch)
	require.NoError(t, err)
	assert.Equal(t, ModeUpsert, first.Mode)
	assert.Equal(t, "id", first.KeyColumn)
	assert.Equal(t, []string{"id", "group_code", "group_name"}, first.Headers)
	assert.Empty(t, first.IgnoredHeaders)
	assert.Equal(t, int64(2), first.RowCount)

	second, err := engine.Upsert(context.Background(), db, "Groups", "", batch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.RowCount)
	assert.Equal(t, "Vendors", queryString(t, db, `SELECT group_name FROM "groups" WHERE id = ?`, 2))
}

func TestEngine_EmptyKeyOnlyCellUsesDefaults(t *testing.T) {
	db := testutil.OpenSQLite(t)
	testutil.Registry(t, db, map[string]string{"Tickets": "tickets"})
	testutil.Exec(t, db, `CREATE TABLE tickets (ref TEXT PRIMARY KEY DEFAULT 'pending', note TEXT)`)

	result, err := newEngine(0).Upsert(context.Background(), db, "Tickets", "", batchOf([]string{"ref"}, []string{""}))
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, int64(1), result.RowCount)
	assert.Equal(t, "pending", queryString(t, db, `SELECT ref FROM tickets`))
}

func TestEngine_FailingRowStopsUpload(t *testing.T) {
	db := testutil.OpenSQLite(t)
	testutil.Registry(t, db, map[string]string{"Groups": "groups"})
	testutil.Exec(t, db, `CREATE TABLE "groups" (id INTEGER PRIMARY KEY, group_code TEXT UNIQUE, group_name TEXT NOT NULL)`)

	_, err := newEngine(1).Upsert(context.Background(), db, "Groups", "",
		batchOf([]string{"group_code", "group_name"},
			[]string{"A", "Alpha"},
			[]string{"B", ""},
			[]string{"C", "Gamma"},
		))
	require.Error(t, err)

	e, ok := common.AsError(err)
	require.True(t, ok)
	assert.Equal(t, common.KindDatabase, e.Kind)
	assert.Equal(t, "3", e.Fields["row"])
	assert.Equal(t, "Groups", e.Category)
	assert.Contains(t, e.Error(), "row 3")

	// Rows before the failing one stay written.
	assert.Equal(t, int64(1), testutil.Count(t, db, "groups"))
}

func TestEngine_ManyGroups(t *testing.T) {
	db := testutil.OpenSQLite(t)
	testutil.Registry(t, db, map[string]string{"Groups": "groups"})
	testutil.Exec(t, db, `CREATE TABLE "groups" (id INTEGER PRIMARY KEY, group_code TEXT UNIQUE, group_name TEXT)`)

	var rows [][]string
	for i := 0; i < 7; i++ {
		rows = append(rows, []string{fmt.Sprintf("G%d", i), fmt.Sprintf("Group %d", i)})
	}
	result, err := newEngine(3).Upsert(context.Background(), db, "Groups", "", batchOf([]string{"group_code", "group_name"}, rows...))
	require.NoError(t, err)
	assert.Equal(t, 7, result.Processed)
	assert.Equal(t, int64(7), result.RowCount)
}

func TestEngine_Errors(t *testing.T) {
	db := testutil.OpenSQLite(t)
	testutil.Registry(t, db, map[string]string{"Groups": "groups", "Ghost": "ghost_table", "Pending": ""})
	testutil.Exec(t, db, `CREATE TABLE "groups" (id INTEGER PRIMARY KEY, group_code TEXT)`)
	engine := newEngine(0)
	ctx := context.Background()
	batch := batchOf([]string{"group_code"}, []string{"X"})

	_, err := engine.Upsert(ctx, db, "Nope", "", batch)
	assert.True(t, common.IsKind(err, common.KindCategoryNotFound))

	_, err = engine.Upsert(ctx, db, "Pending", "", batch)
	assert.True(t, common.IsKind(err, common.KindCategoryUnconfigured))

	_, err = engine.Upsert(ctx, db, "Ghost", "", batch)
	assert.True(t, common.IsKind(err, common.KindTableNotFound))
	assert.Equal(t, int64(0), testutil.Count(t, db, "groups"))

	_, err = engine.Upsert(ctx, db, "Groups", "", batchOf([]string{"Unrelated", "Other"}, []string{"1", "2"}))
	assert.True(t, common.IsKind(err, common.KindNoValidFields))
}

func TestEngine_SubcategoryTable(t *testing.T) {
	db := testutil.OpenSQLite(t)
	testutil.Registry(t, db, map[string]string{"Products": "products"})
	testutil.Exec(t, db,
		`INSERT INTO subcategories (name, category, data_table) VALUES ('Local', 'Products', 'products_local')`,
		`CREATE TABLE products (id INTEGER PRIMARY KEY, code TEXT)`,
		`CREATE TABLE products_local (id INTEGER PRIMARY KEY, code TEXT)`,
	)

	result, err := newEngine(0).Upsert(context.Background(), db, "Products", "Local", batchOf([]string{"code"}, []string{"P1"}))
	require.NoError(t, err)
	assert.Equal(t, "products_local", result.TableName)
	assert.Equal(t, int64(1), testutil.Count(t, db, "products_local"))
	assert.Equal(t, int64(0), testutil.Count(t, db, "products"))
}
