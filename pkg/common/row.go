package common

import (
	"bytes"

	"github.com/goccy/go-json"
)

// Row is one result row. Its shape comes from the table's columns at read
// time; JSON output keeps the column order.
type Row struct {
	columns []string
	values  map[string]interface{}
}

// NewRow pairs columns with values positionally. Missing values are nil.
func NewRow(columns []string, values []interface{}) Row {
	r := Row{columns: columns, values: make(map[string]interface{}, len(columns))}
	for i, c := range columns {
		if i < len(values) {
			r.values[c] = values[i]
		} else {
			r.values[c] = nil
		}
	}
	return r
}

func (r Row) Columns() []string { return r.columns }

func (r Row) Get(column string) (interface{}, bool) {
	v, ok := r.values[column]
	return v, ok
}

// Map returns the values keyed by column name.
func (r Row) Map() map[string]interface{} {
	out := make(map[string]interface{}, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, c := range r.columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(c)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.values[c])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
