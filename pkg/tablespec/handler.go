// Package tablespec exposes categories as generic HTTP table resources.
package tablespec

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/bitechdev/TableSpec/pkg/catalog"
	"github.com/bitechdev/TableSpec/pkg/category"
	"github.com/bitechdev/TableSpec/pkg/common"
	"github.com/bitechdev/TableSpec/pkg/logger"
	"github.com/bitechdev/TableSpec/pkg/querybuilder"
	"github.com/bitechdev/TableSpec/pkg/rowstore"
	"github.com/bitechdev/TableSpec/pkg/upsert"
	"github.com/goccy/go-json"
)

// DefaultMaxUploadBytes bounds multipart uploads when no limit is configured.
const DefaultMaxUploadBytes = 32 << 20

// Options configures a Handler.
type Options struct {
	Registry       category.Registry
	DefaultSchema  string
	Limits         querybuilder.Limits
	SearchMode     querybuilder.SearchMode
	BatchSize      int
	MaxUploadBytes int64
	// Authenticator is optional. When nil every request passes through.
	Authenticator Authenticator
}

// Handler serves the table API. Every request runs on one pinned connection.
type Handler struct {
	db           common.Database
	resolver     *category.Resolver
	introspector *catalog.Introspector
	store        *rowstore.Store
	upserter     *upsert.Engine
	limits       querybuilder.Limits
	maxUpload    int64
	authenticate Authenticator
}

// NewHandler creates a new API handler
func NewHandler(db common.Database, opts Options) *Handler {
	resolver := category.NewResolver(opts.Registry)
	introspector := catalog.NewIntrospector(opts.DefaultSchema)
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &Handler{
		db:           db,
		resolver:     resolver,
		introspector: introspector,
		store:        rowstore.New(rowstore.Options{Limits: opts.Limits, SearchMode: opts.SearchMode}),
		upserter:     upsert.NewEngine(resolver, introspector, opts.BatchSize),
		limits:       opts.Limits,
		maxUpload:    maxUpload,
		authenticate: opts.Authenticator,
	}
}

// handlePanic is a helper function to handle panics with stack traces
func (h *Handler) handlePanic(ctx context.Context, w http.ResponseWriter, method string, err interface{}) {
	stack := debug.Stack()
	logger.Errorw(fmt.Sprintf("Panic in %s: %v", method, err), append(requestFields(ctx), "stack", string(stack))...)
	h.sendError(ctx, w, fmt.Errorf("internal server error in %s: %v", method, err))
}

// withTable resolves the category in params, introspects its table and runs
// fn on a single pinned connection.
func (h *Handler) withTable(ctx context.Context, r *http.Request, params map[string]string, fn func(ctx context.Context, db common.Database, cs *catalog.ColumnSet) error) error {
	categoryName := params["category"]
	subcategory := r.URL.Query().Get("subcategory")

	return h.db.WithConnection(ctx, func(db common.Database) error {
		table, err := h.resolver.Resolve(ctx, db, categoryName, subcategory)
		if err != nil {
			return err
		}
		cs, err := h.introspector.Columns(ctx, db, table)
		if err != nil {
			return common.Annotate(err, categoryName, table)
		}
		if err := fn(ctx, db, cs); err != nil {
			return common.Annotate(err, categoryName, cs.QualifiedName())
		}
		return nil
	})
}

// HandleList serves one page of rows of a category.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request, params map[string]string) {
	ctx := WithCategory(r.Context(), params["category"])
	defer func() {
		if err := recover(); err != nil {
			h.handlePanic(ctx, w, "HandleList", err)
		}
	}()

	q := r.URL.Query()
	spec := querybuilder.ParseQuerySpec(q.Get("search"), q.Get("sortBy"), q.Get("sortOrder"), q.Get("page"), q.Get("limit"), h.limits)

	var page *common.Page
	err := h.withTable(ctx, r, params, func(ctx context.Context, db common.Database, cs *catalog.ColumnSet) error {
		var err error
		page, err = h.store.List(ctx, db, cs, spec)
		return err
	})
	if err != nil {
		h.sendError(ctx, w, err)
		return
	}
	page.Category = params["category"]
	h.sendJSON(w, http.StatusOK, page)
}

// HandleColumns serves the column metadata of a category's table.
func (h *Handler) HandleColumns(w http.ResponseWriter, r *http.Request, params map[string]string) {
	ctx := WithCategory(r.Context(), params["category"])
	defer func() {
		if err := recover(); err != nil {
			h.handlePanic(ctx, w, "HandleColumns", err)
		}
	}()

	var meta common.TableMetadata
	err := h.withTable(ctx, r, params, func(ctx context.Context, db common.Database, cs *catalog.ColumnSet) error {
		meta = h.store.Describe(cs)
		return nil
	})
	if err != nil {
		h.sendError(ctx, w, err)
		return
	}
	meta.Category = params["category"]
	h.sendJSON(w, http.StatusOK, meta)
}

// HandleCreate inserts one row and answers 201 with the stored row.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request, params map[string]string) {
	ctx := WithCategory(r.Context(), params["category"])
	defer func() {
		if err := recover(); err != nil {
			h.handlePanic(ctx, w, "HandleCreate", err)
		}
	}()

	payload, err := decodePayload(r)
	if err != nil {
		h.sendError(ctx, w, err)
		return
	}

	var row common.Row
	err = h.withTable(ctx, r, params, func(ctx context.Context, db common.Database, cs *catalog.ColumnSet) error {
		logger.Info("Creating record in %s for category %s", cs.QualifiedName(), params["category"])
		var err error
		row, err = h.store.Insert(ctx, db, cs, payload)
		return err
	})
	if err != nil {
		h.sendError(ctx, w, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, row)
}

// HandleUpdate changes the row addressed by the id path parameter.
func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request, params map[string]string) {
	ctx := WithCategory(r.Context(), params["category"])
	defer func() {
		if err := recover(); err != nil {
			h.handlePanic(ctx, w, "HandleUpdate", err)
		}
	}()

	payload, err := decodePayload(r)
	if err != nil {
		h.sendError(ctx, w, err)
		return
	}

	var row common.Row
	err = h.withTable(ctx, r, params, func(ctx context.Context, db common.Database, cs *catalog.ColumnSet) error {
		logger.Info("Updating record %s in %s", params["id"], cs.QualifiedName())
		var err error
		row, err = h.store.Update(ctx, db, cs, params["id"], payload)
		return err
	})
	if err != nil {
		h.sendError(ctx, w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, row)
}

// HandleDelete removes the row addressed by the id path parameter.
func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request, params map[string]string) {
	ctx := WithCategory(r.Context(), params["category"])
	defer func() {
		if err := recover(); err != nil {
			h.handlePanic(ctx, w, "HandleDelete", err)
		}
	}()

	var row common.Row
	err := h.withTable(ctx, r, params, func(ctx context.Context, db common.Database, cs *catalog.ColumnSet) error {
		logger.Info("Deleting record %s from %s", params["id"], cs.QualifiedName())
		var err error
		row, err = h.store.Delete(ctx, db, cs, params["id"])
		return err
	})
	if err != nil {
		h.sendError(ctx, w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, row)
}

// HandleUpload reads a multipart spreadsheet and upserts it into the
// category's table.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request, params map[string]string) {
	ctx := r.Context()
	defer func() {
		if err := recover(); err != nil {
			h.handlePanic(ctx, w, "HandleUpload", err)
		}
	}()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		h.sendError(ctx, w, common.Wrap(common.KindInvalidRequest, err, "invalid multipart upload"))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	categoryName := strings.TrimSpace(r.FormValue("category"))
	subcategory := strings.TrimSpace(r.FormValue("subcategory"))
	if categoryName == "" {
		h.sendError(ctx, w, common.Errorf(common.KindInvalidRequest, "category is required"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		h.sendError(ctx, w, common.Wrap(common.KindInvalidRequest, err, "file is required"))
		return
	}
	defer file.Close()

	batch, err := upsert.Parse(header.Filename, file, r.FormValue("sheet"))
	if err != nil {
		h.sendError(ctx, w, err)
		return
	}
	logger.Info("Received upload %s (%d bytes, %d rows) for category %s", header.Filename, header.Size, len(batch.Records), categoryName)

	ctx = WithCategory(ctx, categoryName)
	var result *upsert.Result
	err = h.db.WithConnection(ctx, func(db common.Database) error {
		var err error
		result, err = h.upserter.Upsert(ctx, db, categoryName, subcategory, batch)
		return err
	})
	if err != nil {
		h.sendError(ctx, w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, result)
}

// HandleCategories lists the category registry.
func (h *Handler) HandleCategories(w http.ResponseWriter, r *http.Request, params map[string]string) {
	ctx := r.Context()
	defer func() {
		if err := recover(); err != nil {
			h.handlePanic(ctx, w, "HandleCategories", err)
		}
	}()

	var categories []common.CategoryInfo
	err := h.db.WithConnection(ctx, func(db common.Database) error {
		var err error
		categories, err = h.resolver.List(ctx, db)
		return err
	})
	if err != nil {
		h.sendError(ctx, w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, categories)
}

// HandleHealth pings the pool.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request, params map[string]string) {
	if err := h.db.Ping(r.Context()); err != nil {
		logger.Error("Health check failed: %v", err)
		h.sendJSON(w, http.StatusServiceUnavailable, common.Response{
			Success: false,
			Error:   &common.APIError{Code: "unavailable", Message: "database is not reachable"},
		})
		return
	}
	h.sendJSON(w, http.StatusOK, common.Response{Success: true, Data: "ok"})
}

// decodePayload reads a JSON object body. Numbers stay json.Number so that
// integers keep their precision.
func decodePayload(r *http.Request) (map[string]interface{}, error) {
	if r.Body == nil {
		return nil, common.Errorf(common.KindInvalidRequest, "request body is required")
	}
	defer r.Body.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r.Body); err != nil {
		return nil, common.Wrap(common.KindInvalidRequest, err, "failed to read request body")
	}

	dec := json.NewDecoder(&buf)
	dec.UseNumber()
	var payload map[string]interface{}
	if err := dec.Decode(&payload); err != nil {
		return nil, common.Wrap(common.KindInvalidRequest, err, "request body must be a JSON object")
	}
	if payload == nil {
		return nil, common.Errorf(common.KindInvalidRequest, "request body must be a JSON object")
	}
	return payload, nil
}

func (h *Handler) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode response: %v", err)
	}
}

// requestFields are the structured log fields carried by ctx.
func requestFields(ctx context.Context) []interface{} {
	fields := []interface{}{"request_id", GetRequestID(ctx)}
	if category := GetCategory(ctx); category != "" {
		fields = append(fields, "category", category)
	}
	if userID, ok := GetUserID(ctx); ok {
		fields = append(fields, "user_id", userID)
	}
	return fields
}

func (h *Handler) sendError(ctx context.Context, w http.ResponseWriter, err error) {
	e, ok := common.AsError(err)
	if !ok {
		e = common.Wrap(common.KindOther, err, "unexpected failure")
	}

	fields := requestFields(ctx)
	if e.Table != "" {
		fields = append(fields, "table", e.Table)
	}
	status := e.StatusCode()
	if status >= http.StatusInternalServerError {
		logger.Errorw(fmt.Sprintf("Request failed: %+v", err), fields...)
	} else {
		logger.Warnw(fmt.Sprintf("Request rejected: %v", err), fields...)
	}

	apiErr := &common.APIError{
		Code:    e.Kind.String(),
		Message: e.Message,
		Fields:  e.Fields,
	}
	if e.Err != nil {
		apiErr.Detail = e.Err.Error()
	}
	if e.Kind == common.KindOther {
		apiErr.Message = "internal server error"
	}
	h.sendJSON(w, status, common.Response{Success: false, Error: apiErr})
}
