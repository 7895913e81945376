package upsert

import (
	"strconv"
	"strings"

	"github.com/gosimple/slug"
)

// maxIdentifierLength is PostgreSQL's identifier limit in bytes.
const maxIdentifierLength = 63

var reservedNames = map[string]bool{
	"id":         true,
	"created_at": true,
	"updated_at": true,
}

// Field links a sanitized column name to the header it came from. Index is
// the header position, used to read values from each record.
type Field struct {
	Header string
	Index  int
	Name   string
}

// SanitizeHeaders derives one unique SQL-safe name per header, in header
// order. Names already taken get a numeric suffix. isColumn reports whether a
// name is an existing column of the destination table; reserved names that
// are real columns are kept as they are. A nil isColumn treats every name as
// new.
func SanitizeHeaders(headers []string, isColumn func(name string) bool) []Field {
	fields := make([]Field, len(headers))
	taken := make(map[string]bool, len(headers))

	for i, header := range headers {
		name := sanitizeName(header, i+1)
		if reservedNames[name] && (isColumn == nil || !isColumn(name)) {
			name = truncate(name+"_value", maxIdentifierLength)
		}
		if taken[name] {
			for n := 2; ; n++ {
				candidate := withSuffix(name, "_"+strconv.Itoa(n))
				if !taken[candidate] {
					name = candidate
					break
				}
			}
		}
		taken[name] = true
		fields[i] = Field{Header: header, Index: i, Name: name}
	}
	return fields
}

// sanitizeName lower-cases and transliterates header, keeping [a-z0-9_].
// position is the 1-based header position used for empty names. Reserved
// names are left to the caller.
func sanitizeName(header string, position int) string {
	s := slug.Make(header)

	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		ok := (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
		if !ok {
			if !lastUnderscore {
				b.WriteByte('_')
			}
			lastUnderscore = true
			continue
		}
		b.WriteRune(r)
		lastUnderscore = false
	}
	name := strings.Trim(b.String(), "_")

	if name == "" {
		return "column_" + strconv.Itoa(position)
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "c_" + name
	}
	return truncate(name, maxIdentifierLength)
}

func withSuffix(name, suffix string) string {
	return truncate(name, maxIdentifierLength-len(suffix)) + suffix
}

func truncate(name string, n int) string {
	if len(name) <= n {
		return name
	}
	return strings.TrimRight(name[:n], "_")
}
