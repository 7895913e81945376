package rowstore

import (
	"database/sql"
	"strconv"

	"github.com/bitechdev/TableSpec/pkg/common"
	"github.com/bitechdev/TableSpec/pkg/common/adapters/database"
	"github.com/goccy/go-json"
)

// scanRows reads every row into ordered Rows. Byte slices are returned by
// text-typed columns on some drivers and are exposed as strings. Errors
// raised while iterating, such as a constraint violation of a RETURNING
// statement on PostgreSQL, are classified like driver errors.
func scanRows(rows *sql.Rows) ([]string, []common.Row, error) {
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, common.Wrap(common.KindDatabase, err, "read result columns")
	}

	result := make([]common.Row, 0)
	for rows.Next() {
		raw := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, common.Wrap(common.KindDatabase, err, "scan row")
		}

		for i, v := range raw {
			if b, ok := v.([]byte); ok {
				raw[i] = string(b)
			}
		}
		result = append(result, common.NewRow(columns, raw))
	}
	if err := rows.Err(); err != nil {
		return nil, nil, database.Classify("read rows", err)
	}
	return columns, result, nil
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

// normalizeValue converts decoded JSON into driver-friendly scalars. Numbers
// arrive as json.Number; nested objects and arrays are stored as JSON text.
func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(t)
		if err != nil {
			return nil
		}
		return string(b)
	default:
		return v
	}
}

func normalizePayload(payload map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		out[k] = normalizeValue(v)
	}
	return out
}

// CoerceKey converts an id taken from a URL path into the key column's type.
func CoerceKey(key interface{ IsInteger() bool }, raw string) (interface{}, error) {
	if !key.IsInteger() {
		return raw, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, common.Errorf(common.KindInvalidRequest, "id %q is not a valid integer", raw)
	}
	return n, nil
}
