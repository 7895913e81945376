package tablespec

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bunrouter"
)

// Route templates, also used as the metrics route label.
const (
	RouteData       = "/api/data/{category}"
	RouteColumns    = "/api/data/{category}/columns"
	RouteRecord     = "/api/data/{category}/{id}"
	RouteUpload     = "/api/upload"
	RouteCategories = "/api/categories"
	RouteHealth     = "/healthz"
	RouteMetrics    = "/metrics"
)

type endpoint struct {
	method   string
	template string
	bunPath  string
	params   []string
	handle   func(http.ResponseWriter, *http.Request, map[string]string)
	public   bool
}

func (h *Handler) endpoints() []endpoint {
	return []endpoint{
		{http.MethodGet, RouteColumns, "/api/data/:category/columns", []string{"category"}, h.HandleColumns, false},
		{http.MethodGet, RouteData, "/api/data/:category", []string{"category"}, h.HandleList, false},
		{http.MethodPost, RouteData, "/api/data/:category", []string{"category"}, h.HandleCreate, false},
		{http.MethodPut, RouteRecord, "/api/data/:category/:id", []string{"category", "id"}, h.HandleUpdate, false},
		{http.MethodDelete, RouteRecord, "/api/data/:category/:id", []string{"category", "id"}, h.HandleDelete, false},
		{http.MethodPost, RouteUpload, "/api/upload", nil, h.HandleUpload, false},
		{http.MethodGet, RouteCategories, "/api/categories", nil, h.HandleCategories, false},
		{http.MethodGet, RouteHealth, "/healthz", nil, h.HandleHealth, true},
	}
}

func (h *Handler) wrap(e endpoint) func(http.ResponseWriter, *http.Request, map[string]string) {
	if e.public {
		return observe(e.template, e.handle)
	}
	return h.route(e.template, e.handle)
}

// SetupMuxRoutes sets up routes for the TableSpec API with Mux. /metrics is
// served from gatherer when it is non-nil.
func SetupMuxRoutes(muxRouter *mux.Router, handler *Handler, gatherer prometheus.Gatherer) {
	for _, e := range handler.endpoints() {
		fn := handler.wrap(e)
		muxRouter.HandleFunc(e.template, func(w http.ResponseWriter, r *http.Request) {
			fn(w, r, mux.Vars(r))
		}).Methods(e.method)
	}

	if gatherer != nil {
		muxRouter.Handle(RouteMetrics, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

// SetupBunRouterRoutes sets up bunrouter routes for the TableSpec API
func SetupBunRouterRoutes(r *bunrouter.Router, handler *Handler, gatherer prometheus.Gatherer) {
	for _, e := range handler.endpoints() {
		fn := handler.wrap(e)
		names := e.params
		r.Handle(e.method, e.bunPath, func(w http.ResponseWriter, req bunrouter.Request) error {
			params := make(map[string]string, len(names))
			for _, name := range names {
				params[name] = req.Param(name)
			}
			fn(w, req.Request, params)
			return nil
		})
	}

	if gatherer != nil {
		metricsHandler := promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
		r.Handle(http.MethodGet, RouteMetrics, func(w http.ResponseWriter, req bunrouter.Request) error {
			metricsHandler.ServeHTTP(w, req.Request)
			return nil
		})
	}
}

// NewRouter builds the full HTTP handler for the named router ("mux" or
// "bunrouter"), wrapped with recovery and request logging.
func NewRouter(kind string, handler *Handler, gatherer prometheus.Gatherer) http.Handler {
	if kind == "bunrouter" {
		r := bunrouter.New()
		SetupBunRouterRoutes(r, handler, gatherer)
		return Middleware(r)
	}

	r := mux.NewRouter()
	SetupMuxRoutes(r, handler, gatherer)
	return Middleware(r)
}
