package querybuilder

import (
	"strconv"
	"strings"

	"github.com/bitechdev/TableSpec/pkg/catalog"
	"github.com/bitechdev/TableSpec/pkg/common"
)

const (
	DefaultLimit = 10
	MaxLimit     = 1000
)

// SearchMode selects which columns a search term is matched against.
type SearchMode string

const (
	// SearchByName skips identifier and audit columns.
	SearchByName SearchMode = "name"
	// SearchText matches text-typed columns only.
	SearchText SearchMode = "text"
)

// ParseSearchMode accepts "name" or "text"; anything else is SearchByName.
func ParseSearchMode(s string) SearchMode {
	if strings.EqualFold(strings.TrimSpace(s), string(SearchText)) {
		return SearchText
	}
	return SearchByName
}

// Limits bounds page sizes.
type Limits struct {
	Default int
	Max     int
}

func (l Limits) withDefaults() Limits {
	if l.Default < 1 {
		l.Default = DefaultLimit
	}
	if l.Max < 1 {
		l.Max = MaxLimit
	}
	if l.Default > l.Max {
		l.Default = l.Max
	}
	return l
}

// ParseQuerySpec reads raw request values. Page and limit that are not
// positive integers fall back to 1 and the default limit.
func ParseQuerySpec(search, sortBy, sortOrder, page, limit string, limits Limits) common.QuerySpec {
	limits = limits.withDefaults()

	p, err := strconv.Atoi(strings.TrimSpace(page))
	if err != nil || p < 1 {
		p = 1
	}
	l, err := strconv.Atoi(strings.TrimSpace(limit))
	if err != nil || l < 1 {
		l = limits.Default
	}
	if l > limits.Max {
		l = limits.Max
	}

	return common.QuerySpec{
		Search:    strings.TrimSpace(search),
		SortBy:    strings.TrimSpace(sortBy),
		SortOrder: common.ParseSortOrder(sortOrder),
		Page:      p,
		Limit:     l,
	}
}

// Query is a QuerySpec checked against a ColumnSet.
type Query struct {
	Search     string
	SearchMode SearchMode
	Sort       catalog.Column
	Order      common.SortOrder
	Page       int
	Limit      int
}

// SortInfo reports the effective sort.
func (q Query) SortInfo() common.SortInfo {
	return common.SortInfo{By: q.Sort.Name, Order: q.Order}
}

// Normalize resolves the sort column and clamps paging. An unknown sort
// column falls back to DefaultSort.
func Normalize(cs *catalog.ColumnSet, spec common.QuerySpec, mode SearchMode, limits Limits) Query {
	limits = limits.withDefaults()

	q := Query{
		Search:     strings.TrimSpace(spec.Search),
		SearchMode: mode,
		Order:      spec.SortOrder,
		Page:       spec.Page,
		Limit:      spec.Limit,
	}
	if q.Order != common.SortDesc {
		q.Order = common.SortAsc
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 {
		q.Limit = limits.Default
	}
	if q.Limit > limits.Max {
		q.Limit = limits.Max
	}

	if col, ok := cs.Lookup(spec.SortBy); ok && spec.SortBy != "" {
		q.Sort = col
	} else {
		q.Sort = DefaultSort(cs)
	}
	return q
}

// DefaultSort is the primary key, else a column named id, else the first column.
func DefaultSort(cs *catalog.ColumnSet) catalog.Column {
	if pk, ok := cs.PrimaryKey(); ok {
		return pk
	}
	if col, ok := cs.Lookup("id"); ok {
		return col
	}
	if cols := cs.Columns(); len(cols) > 0 {
		return cols[0]
	}
	return catalog.Column{}
}

// SearchColumns returns the columns a term is matched against. When the mode
// leaves nothing, every column is searched.
func SearchColumns(cs *catalog.ColumnSet, mode SearchMode) []catalog.Column {
	all := cs.Columns()
	var out []catalog.Column
	for _, col := range all {
		if searchable(col, mode) {
			out = append(out, col)
		}
	}
	if len(out) == 0 {
		return all
	}
	return out
}

func searchable(col catalog.Column, mode SearchMode) bool {
	if mode == SearchText {
		return col.IsText()
	}
	name := strings.ToLower(col.Name)
	switch {
	case name == "id", strings.HasSuffix(name, "_id"):
		return false
	case strings.Contains(name, "created"), strings.Contains(name, "updated"):
		return false
	}
	return true
}
