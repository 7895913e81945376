package tablespec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bitechdev/TableSpec/pkg/category"
	"github.com/bitechdev/TableSpec/pkg/common/adapters/database"
	"github.com/bitechdev/TableSpec/pkg/logger"
	"github.com/bitechdev/TableSpec/pkg/metrics"
	"github.com/bitechdev/TableSpec/pkg/testutil"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type pageBody struct {
	Category   string                   `json:"category"`
	TableName  string                   `json:"tableName"`
	Columns    []string                 `json:"columns"`
	Data       []map[string]interface{} `json:"data"`
	Pagination struct {
		CurrentPage  int   `json:"currentPage"`
		TotalPages   int   `json:"totalPages"`
		TotalRecords int64 `json:"totalRecords"`
		Limit        int   `json:"limit"`
		HasNext      bool  `json:"hasNext"`
		HasPrev      bool  `json:"hasPrev"`
	} `json:"pagination"`
	Sort struct {
		By    string `json:"by"`
		Order string `json:"order"`
	} `json:"sort"`
}

type errorBody struct {
	Success bool `json:"success"`
	Error   struct {
		Code    string            `json:"code"`
		Message string            `json:"message"`
		Fields  map[string]string `json:"fields"`
	} `json:"error"`
}

// setupServer creates a database with a registered Groups category holding
// n rows and returns a server on the given router.
func setupServer(t *testing.T, router string, n int, opts Options) (*httptest.Server, *database.GormAdapter) {
	t.Helper()
	db := testutil.OpenSQLite(t)
	testutil.Registry(t, db, map[string]string{"Groups": "groups", "Pending": ""})
	testutil.Exec(t, db, testutil.GroupsSchema)
	for i := 1; i <= n; i++ {
		testutil.Exec(t, db, fmt.Sprintf(
			`INSERT INTO "groups" (sap_field_name, db_field_name, description) VALUES ('F%02d', 'f%02d', 'Field %d')`, i, i, i))
	}

	opts.Registry = category.DefaultRegistry()
	handler := NewHandler(db, opts)
	srv := httptest.NewServer(NewRouter(router, handler, metrics.NewRegistry()))
	t.Cleanup(srv.Close)
	return srv, db
}

func do(t *testing.T, method, url, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func decodeError(t *testing.T, data []byte) errorBody {
	t.Helper()
	var body errorBody
	require.NoError(t, json.Unmarshal(data, &body), string(data))
	assert.False(t, body.Success)
	return body
}

func TestHandler_ListSecondPage(t *testing.T) {
	for _, router := range []string{"mux", "bunrouter"} {
		t.Run(router, func(t *testing.T) {
			srv, _ := setupServer(t, router, 15, Options{})

			resp, data := do(t, http.MethodGet, srv.URL+"/api/data/Groups?page=2&limit=10", "")
			require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
			assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

			var page pageBody
			require.NoError(t, json.Unmarshal(data, &page))
			assert.Equal(t, "Groups", page.Category)
			assert.Equal(t, "groups", page.TableName)
			assert.Equal(t, []string{"id", "sap_field_name", "db_field_name", "description", "amount", "status", "created_at"}, page.Columns)
			assert.Len(t, page.Data, 5)
			assert.Equal(t, 2, page.Pagination.CurrentPage)
			assert.Equal(t, 2, page.Pagination.TotalPages)
			assert.Equal(t, int64(15), page.Pagination.TotalRecords)
			assert.False(t, page.Pagination.HasNext)
			assert.True(t, page.Pagination.HasPrev)
		})
	}
}

func TestHandler_ListFallbacks(t *testing.T) {
	srv, _ := setupServer(t, "mux", 3, Options{})

	resp, data := do(t, http.MethodGet, srv.URL+"/api/data/Groups?sortBy=nope&sortOrder=sideways&page=x&limit=-4", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var page pageBody
	require.NoError(t, json.Unmarshal(data, &page))
	assert.Equal(t, "id", page.Sort.By)
	assert.Equal(t, "ASC", page.Sort.Order)
	assert.Equal(t, 1, page.Pagination.CurrentPage)
	assert.Equal(t, 10, page.Pagination.Limit)
	assert.Len(t, page.Data, 3)
}

func TestHandler_CategoryErrors(t *testing.T) {
	srv, _ := setupServer(t, "mux", 0, Options{})

	resp, data := do(t, http.MethodGet, srv.URL+"/api/data/Unknown", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "category_not_found", decodeError(t, data).Error.Code)

	resp, data = do(t, http.MethodGet, srv.URL+"/api/data/Pending", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "category_unconfigured", decodeError(t, data).Error.Code)
}

func TestHandler_Columns(t *testing.T) {
	srv, _ := setupServer(t, "mux", 0, Options{})

	resp, data := do(t, http.MethodGet, srv.URL+"/api/data/Groups/columns", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var meta struct {
		Category  string `json:"category"`
		TableName string `json:"tableName"`
		Columns   []struct {
			Name      string `json:"name"`
			Nullable  bool   `json:"nullable"`
			MaxLength *int64 `json:"maxLength"`
		} `json:"columns"`
	}
	require.NoError(t, json.Unmarshal(data, &meta))
	assert.Equal(t, "Groups", meta.Category)
	require.Len(t, meta.Columns, 7)
	assert.Equal(t, "sap_field_name", meta.Columns[1].Name)
	require.NotNil(t, meta.Columns[1].MaxLength)
	assert.Equal(t, int64(40), *meta.Columns[1].MaxLength)
	assert.False(t, meta.Columns[5].Nullable)
}

func TestHandler_CreateUpdateDelete(t *testing.T) {
	srv, db := setupServer(t, "mux", 0, Options{})

	resp, data := do(t, http.MethodPost, srv.URL+"/api/data/Groups",
		`{"sap_field_name":"MATNR","description":"Material","unknown":"dropped"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

	var created map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &created))
	assert.Equal(t, "MATNR", created["sap_field_name"])
	assert.Equal(t, "active", created["status"])
	assert.NotContains(t, created, "unknown")
	id := fmt.Sprint(created["id"])

	resp, data = do(t, http.MethodPut, srv.URL+"/api/data/Groups/"+id, `{"description":"Material number"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var updated map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &updated))
	assert.Equal(t, "Material number", updated["description"])
	assert.Equal(t, "MATNR", updated["sap_field_name"])

	resp, data = do(t, http.MethodDelete, srv.URL+"/api/data/Groups/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	assert.Equal(t, int64(0), testutil.Count(t, db, "groups"))
}

func TestHandler_RecordErrors(t *testing.T) {
	srv, db := setupServer(t, "bunrouter", 3, Options{})

	resp, data := do(t, http.MethodDelete, srv.URL+"/api/data/Groups/999", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "record_not_found", decodeError(t, data).Error.Code)
	assert.Equal(t, int64(3), testutil.Count(t, db, "groups"))

	resp, data = do(t, http.MethodPut, srv.URL+"/api/data/Groups/999", `{"description":"x"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "record_not_found", decodeError(t, data).Error.Code)

	resp, data = do(t, http.MethodPut, srv.URL+"/api/data/Groups/abc", `{"description":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", decodeError(t, data).Error.Code)

	resp, data = do(t, http.MethodPost, srv.URL+"/api/data/Groups", `[1,2]`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_request", decodeError(t, data).Error.Code)

	resp, data = do(t, http.MethodPost, srv.URL+"/api/data/Groups", `{"nothing":"useful"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "no_valid_fields", decodeError(t, data).Error.Code)

	resp, data = do(t, http.MethodPost, srv.URL+"/api/data/Groups", `{"status":null}`)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	body := decodeError(t, data)
	assert.Equal(t, "database_error", body.Error.Code)
	assert.Equal(t, "constraint_violation", body.Error.Fields["class"])
	assert.Equal(t, int64(3), testutil.Count(t, db, "groups"))
}

func uploadRequest(t *testing.T, url, filename string, content []byte, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, url, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHandler_Upload(t *testing.T) {
	srv, db := setupServer(t, "mux", 1, Options{})

	f := excelize.NewFile()
	defer f.Close()
	rows := [][]interface{}{
		{"SAP Field Name", "Description", "Extra"},
		{"F01", "Updated field", "x"},
		{"WERKS", "Plant", "y"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	req := uploadRequest(t, srv.URL+"/api/upload", "groups.xlsx", buf.Bytes(), map[string]string{"category": "Groups"})
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var result struct {
		TableName      string   `json:"tableName"`
		RowCount       int64    `json:"rowCount"`
		Processed      int      `json:"processed"`
		KeyColumn      string   `json:"keyColumn"`
		Mode           string   `json:"mode"`
		IgnoredHeaders []string `json:"ignoredHeaders"`
	}
	require.NoError(t, json.Unmarshal(data, &result), string(data))
	// The primary key is not among the headers, so every row is inserted.
	assert.Equal(t, "groups", result.TableName)
	assert.Equal(t, "insert", result.Mode)
	assert.Equal(t, "", result.KeyColumn)
	assert.Equal(t, int64(3), result.RowCount)
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, []string{"Extra"}, result.IgnoredHeaders)
	assert.Equal(t, int64(3), testutil.Count(t, db, "groups"))
}

func TestHandler_UploadRejects(t *testing.T) {
	srv, _ := setupServer(t, "mux", 0, Options{})

	tests := []struct {
		name     string
		filename string
		fields   map[string]string
		status   int
		code     string
	}{
		{name: "missing category", filename: "a.csv", fields: map[string]string{}, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "missing file", fields: map[string]string{"category": "Groups"}, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "unsupported type", filename: "a.txt", fields: map[string]string{"category": "Groups"}, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "unknown category", filename: "a.csv", fields: map[string]string{"category": "Nope"}, status: http.StatusNotFound, code: "category_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := uploadRequest(t, srv.URL+"/api/upload", tt.filename, []byte("description\nx\n"), tt.fields)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()
			data, err := io.ReadAll(resp.Body)
			require.NoError(t, err)
			assert.Equal(t, tt.status, resp.StatusCode, string(data))
			assert.Equal(t, tt.code, decodeError(t, data).Error.Code)
		})
	}
}

func TestHandler_CategoriesHealthAndMetrics(t *testing.T) {
	srv, _ := setupServer(t, "mux", 0, Options{})

	resp, data := do(t, http.MethodGet, srv.URL+"/api/categories", "")
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var categories []struct {
		Name       string `json:"name"`
		DataTable  string `json:"dataTable"`
		Configured bool   `json:"configured"`
	}
	require.NoError(t, json.Unmarshal(data, &categories))
	require.Len(t, categories, 2)
	assert.Equal(t, "Groups", categories[0].Name)
	assert.True(t, categories[0].Configured)
	assert.False(t, categories[1].Configured)

	resp, _ = do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(RequestIDHeader))

	resp, data = do(t, http.MethodGet, srv.URL+"/metrics", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(data), "tablespec_http_requests_total")
	assert.Contains(t, string(data), `route="/api/categories"`)
}

func TestHandler_RequestIDEchoed(t *testing.T) {
	srv, _ := setupServer(t, "mux", 0, Options{})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "req-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "req-123", resp.Header.Get(RequestIDHeader))
}

func TestHandler_Authenticator(t *testing.T) {
	var seen string
	auth := func(r *http.Request) (string, error) {
		if r.Header.Get("Authorization") != "Bearer good" {
			return "", errors.New("missing token")
		}
		seen = "user-1"
		return seen, nil
	}
	srv, _ := setupServer(t, "bunrouter", 1, Options{Authenticator: auth})

	resp, data := do(t, http.MethodGet, srv.URL+"/api/data/Groups", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "unauthorized", decodeError(t, data).Error.Code)

	resp, _ = do(t, http.MethodGet, srv.URL+"/healthz", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/data/Groups", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer good")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "user-1", seen)
}

func TestHandler_ErrorLogsCarryRequestContext(t *testing.T) {
	auth := func(r *http.Request) (string, error) { return "user-7", nil }
	srv, _ := setupServer(t, "mux", 0, Options{Authenticator: auth})

	core, logs := observer.New(zapcore.WarnLevel)
	previous := logger.Logger
	logger.Logger = zap.New(core).Sugar()
	t.Cleanup(func() { logger.Logger = previous })

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/api/data/Groups/999", nil)
	require.NoError(t, err)
	req.Header.Set(RequestIDHeader, "req-404")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	entries := logs.FilterMessageSnippet("Request rejected").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "req-404", fields["request_id"])
	assert.Equal(t, "Groups", fields["category"])
	assert.Equal(t, "user-7", fields["user_id"])
	assert.Equal(t, "groups", fields["table"])
}
