package common

import "strings"

// Response is the envelope for every error and for endpoints without a
// dedicated result shape.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
}

type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Detail  string            `json:"detail,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// SortOrder is either ASC or DESC once normalized.
type SortOrder string

const (
	SortAsc  SortOrder = "ASC"
	SortDesc SortOrder = "DESC"
)

// ParseSortOrder accepts asc/desc in any case and falls back to ASC.
func ParseSortOrder(s string) SortOrder {
	if strings.EqualFold(strings.TrimSpace(s), "desc") {
		return SortDesc
	}
	return SortAsc
}

// QuerySpec is the caller-supplied read request before it is checked against
// a table's columns.
type QuerySpec struct {
	Search    string
	SortBy    string
	SortOrder SortOrder
	Page      int
	Limit     int
}

type Pagination struct {
	CurrentPage  int   `json:"currentPage"`
	TotalPages   int   `json:"totalPages"`
	TotalRecords int64 `json:"totalRecords"`
	Limit        int   `json:"limit"`
	HasNext      bool  `json:"hasNext"`
	HasPrev      bool  `json:"hasPrev"`
}

// NewPagination derives page counts from the filtered total. page and limit
// must already be >= 1.
func NewPagination(page, limit int, total int64) Pagination {
	totalPages := 0
	if total > 0 {
		totalPages = int((total + int64(limit) - 1) / int64(limit))
	}
	return Pagination{
		CurrentPage:  page,
		TotalPages:   totalPages,
		TotalRecords: total,
		Limit:        limit,
		HasNext:      page < totalPages,
		HasPrev:      page > 1,
	}
}

// Offset converts a 1-based page into a row offset.
func Offset(page, limit int) int {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}

type SortInfo struct {
	By    string    `json:"by"`
	Order SortOrder `json:"order"`
}

// Page is the paged read envelope.
type Page struct {
	Category   string     `json:"category"`
	TableName  string     `json:"tableName"`
	Columns    []string   `json:"columns"`
	Data       []Row      `json:"data"`
	Pagination Pagination `json:"pagination"`
	Search     string     `json:"search"`
	Sort       SortInfo   `json:"sort"`
}

// ColumnInfo is the client-facing view of a column descriptor.
type ColumnInfo struct {
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	Nullable     bool    `json:"nullable"`
	DefaultValue *string `json:"defaultValue"`
	MaxLength    *int64  `json:"maxLength"`
	Precision    *int64  `json:"precision"`
	Scale        *int64  `json:"scale"`
	PrimaryKey   bool    `json:"primaryKey"`
}

type TableMetadata struct {
	Category  string       `json:"category"`
	TableName string       `json:"tableName"`
	Columns   []ColumnInfo `json:"columns"`
}

// CategoryInfo is one registry entry as listed to clients.
type CategoryInfo struct {
	Name       string `json:"name"`
	DataTable  string `json:"dataTable,omitempty"`
	Configured bool   `json:"configured"`
}
