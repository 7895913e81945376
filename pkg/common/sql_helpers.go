package common

import "strings"

// QuoteIdent quotes a single identifier with double quotes, doubling any
// embedded quote. Both supported dialects accept this form.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteQualified quotes schema and table separately; an empty schema yields
// just the quoted table.
func QuoteQualified(schema, table string) string {
	if schema == "" {
		return QuoteIdent(table)
	}
	return QuoteIdent(schema) + "." + QuoteIdent(table)
}

// SplitTableName splits a table name that may contain schema into separate schema and table
// For example: "public.users" -> ("public", "users")
//
//	"users" -> (defaultSchema, "users")
func SplitTableName(fullTableName, defaultSchema string) (schema, table string) {
	fullTableName = strings.TrimSpace(fullTableName)
	if idx := strings.LastIndex(fullTableName, "."); idx != -1 {
		return fullTableName[:idx], fullTableName[idx+1:]
	}
	return defaultSchema, fullTableName
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// EscapeLike escapes LIKE wildcards so term matches literally with ESCAPE '\'.
func EscapeLike(term string) string {
	return likeEscaper.Replace(term)
}
